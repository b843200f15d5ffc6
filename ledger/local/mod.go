// Package local implements a ledger that runs in the process. It is the
// ledger of the development mode and of the end-to-end tests.
//
// The transactions are applied one at a time. Each one is executed on an
// overlay of the accounts and its writes are committed with the new nonce of
// its identity in a single write of the store, only if the programs accept
// it. An accepted transaction becomes final after a configurable delay.
package local

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/contracts/dao"
	"github.com/privdao/privdao/contracts/token"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/execution/native"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/store/mem"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/internal/tracing"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/xerrors"
)

const (
	defaultLogLimit = 256
	noncePrefix     = "nonce:"
)

var (
	promTxs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "privdao_ledger_transactions_total",
		Help: "total number of submitted transactions per result",
	}, []string{"result"})

	promExec = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "privdao_ledger_execution_seconds",
		Help:    "duration of the execution of a transaction",
		Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
	})
)

func init() {
	privdao.PromCollectors = append(privdao.PromCollectors, promTxs, promExec)
}

// Store is the storage of the accounts. Apply must persist every write of the
// callback or none.
type Store interface {
	store.Readable
	store.Iterable

	Apply(fn func(store.Writable) error) error
}

// Clock is the source of the time of the ledger.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// verifiable is implemented by the transactions that carry a signature.
type verifiable interface {
	Verify() error
}

type record struct {
	status     ledger.TxStatus
	acceptedAt time.Time
}

// Ledger is a ledger in the process.
//
// - implements ledger.Ledger
type Ledger struct {
	sync.Mutex

	store    Store
	exec     execution.Service
	clock    Clock
	finality time.Duration
	logLimit int

	records map[string]*record
	// logs are kept from the oldest to the newest and the records of the
	// transactions are evicted with them.
	logs []ledger.LogEntry
}

// Option is the type of options to create a ledger.
type Option func(*Ledger)

// WithStore sets the storage of the accounts. The default is in memory.
func WithStore(s Store) Option {
	return func(l *Ledger) {
		l.store = s
	}
}

// WithClock sets the clock of the ledger.
func WithClock(c Clock) Option {
	return func(l *Ledger) {
		l.clock = c
	}
}

// WithFinality sets the delay after which an accepted transaction is final.
func WithFinality(d time.Duration) Option {
	return func(l *Ledger) {
		l.finality = d
	}
}

// WithLogLimit sets the number of transaction logs kept.
func WithLogLimit(n int) Option {
	return func(l *Ledger) {
		l.logLimit = n
	}
}

// NewLedger returns a ledger that executes the transactions with the service.
func NewLedger(exec execution.Service, opts ...Option) *Ledger {
	l := &Ledger{
		store:    mem.NewStore(),
		exec:     exec,
		clock:    systemClock{},
		logLimit: defaultLogLimit,
		records:  make(map[string]*record),
	}

	for _, opt := range opts {
		opt(l)
	}

	return l
}

// NewExecution returns the execution service with the voting and the gate
// token programs.
func NewExecution(deriver address.Deriver, tallier mpc.Tallier) *native.Service {
	exec := native.NewExecution()

	dao.RegisterContract(exec, dao.NewContract(deriver, tallier))
	token.RegisterContract(exec, token.NewContract(deriver))

	return exec
}

// GetAccount implements ledger.Reader.
func (l *Ledger) GetAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	err := ctx.Err()
	if err != nil {
		return ledger.Account{}, err
	}

	data, err := l.store.Get(addr[:])
	if err != nil {
		return ledger.Account{}, xerrors.Errorf("store: %v", err)
	}

	if data == nil {
		return ledger.Account{}, ledger.ErrNotFound
	}

	return ledger.Account{Address: addr, Data: data}, nil
}

// ListAccounts implements ledger.Reader.
func (l *Ledger) ListAccounts(ctx context.Context, kind address.Kind) ([]ledger.Account, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	accounts := []ledger.Account{}

	err = l.store.Scan(nil, func(key, value []byte) error {
		if len(key) != address.Size || !address.HasDiscriminator(value, kind) {
			return nil
		}

		addr, err := address.FromBytes(key)
		if err != nil {
			return err
		}

		accounts = append(accounts, ledger.Account{Address: addr, Data: value})

		return nil
	})
	if err != nil {
		return nil, xerrors.Errorf("store: %v", err)
	}

	return accounts, nil
}

// GetNonce implements ledger.Ledger.
func (l *Ledger) GetNonce(ctx context.Context, identity crypto.PublicKey) (uint64, error) {
	err := ctx.Err()
	if err != nil {
		return 0, err
	}

	key, err := nonceKey(identity)
	if err != nil {
		return 0, err
	}

	return l.readNonce(key)
}

// Submit implements ledger.Ledger. The transaction is executed before the
// function returns: a rejection is returned as an error, and an accepted
// transaction is pending until the finality delay has elapsed.
func (l *Ledger) Submit(ctx context.Context, tx txn.Transaction) (string, error) {
	err := ctx.Err()
	if err != nil {
		return "", err
	}

	sig, ok := tx.(verifiable)
	if !ok {
		return "", xerrors.Errorf("unsupported transaction of type '%T'", tx)
	}

	err = sig.Verify()
	if err != nil {
		return "", xerrors.Errorf("invalid transaction: %v", err)
	}

	key, err := nonceKey(tx.GetIdentity())
	if err != nil {
		return "", err
	}

	l.Lock()
	defer l.Unlock()

	expected, err := l.readNonce(key)
	if err != nil {
		return "", err
	}

	if tx.GetNonce() != expected {
		promTxs.WithLabelValues("stale").Inc()

		return "", ledger.NewTransient(ledger.ClassStaleNonce,
			xerrors.Errorf("nonce %d, expected %d", tx.GetNonce(), expected))
	}

	signature := ledger.SignatureOf(tx)
	now := l.clock.Now()
	overlay := mem.NewOverlay(l.store)

	step := execution.Step{
		Current: tx,
		Time:    now,
		Log:     &execution.Log{},
	}

	start := time.Now()
	res, err := l.exec.Execute(overlay, step)
	promExec.Observe(time.Since(start).Seconds())

	if err != nil {
		promTxs.WithLabelValues("invalid").Inc()
		return "", xerrors.Errorf("failed to execute: %v", err)
	}

	if !res.Accepted {
		promTxs.WithLabelValues("rejected").Inc()

		l.record(signature, now, ledger.TxStatus{
			Signature: signature,
			Status:    ledger.StatusFailed,
			Err:       res.Err,
			Logs:      res.Logs,
		})

		privdao.Logger.Debug().
			Str("tx", signature).
			Str(tracing.FlowTag, tracing.FlowOf(ctx)).
			Str("reason", res.Message).
			Msg("transaction rejected")

		return "", xerrors.Errorf("transaction rejected: %w", res.Err)
	}

	nonce := make([]byte, 8)
	binary.LittleEndian.PutUint64(nonce, expected+1)

	err = l.store.Apply(func(w store.Writable) error {
		err := overlay.Commit(w)
		if err != nil {
			return err
		}

		return w.Set(key, nonce)
	})
	if err != nil {
		return "", xerrors.Errorf("failed to commit: %v", err)
	}

	promTxs.WithLabelValues("accepted").Inc()

	l.record(signature, now, ledger.TxStatus{
		Signature: signature,
		Status:    ledger.StatusPending,
		Logs:      res.Logs,
	})

	privdao.Logger.Debug().
		Str("tx", signature).
		Str(tracing.FlowTag, tracing.FlowOf(ctx)).
		Int("writes", overlay.Len()).
		Msg("transaction accepted")

	return signature, nil
}

// GetStatus implements ledger.Ledger.
func (l *Ledger) GetStatus(ctx context.Context, signature string) (ledger.TxStatus, error) {
	err := ctx.Err()
	if err != nil {
		return ledger.TxStatus{}, err
	}

	l.Lock()
	defer l.Unlock()

	rec, found := l.records[signature]
	if !found {
		return ledger.TxStatus{Signature: signature, Status: ledger.StatusUnknown}, nil
	}

	if rec.status.Status == ledger.StatusPending && !l.clock.Now().Before(rec.acceptedAt.Add(l.finality)) {
		rec.status.Status = ledger.StatusFinalized
	}

	status := rec.status
	status.Logs = append([]string{}, rec.status.Logs...)

	return status, nil
}

// GetLogs implements ledger.Ledger.
func (l *Ledger) GetLogs(ctx context.Context, limit int) ([]ledger.LogEntry, error) {
	err := ctx.Err()
	if err != nil {
		return nil, err
	}

	l.Lock()
	defer l.Unlock()

	if limit <= 0 || limit > len(l.logs) {
		limit = len(l.logs)
	}

	entries := make([]ledger.LogEntry, 0, limit)
	for i := len(l.logs) - 1; i >= len(l.logs)-limit; i-- {
		entry := l.logs[i]
		entry.Lines = append([]string{}, entry.Lines...)

		entries = append(entries, entry)
	}

	return entries, nil
}

// record must be called while holding the lock.
func (l *Ledger) record(signature string, now time.Time, status ledger.TxStatus) {
	l.records[signature] = &record{status: status, acceptedAt: now}

	l.logs = append(l.logs, ledger.LogEntry{
		Signature: signature,
		Time:      now,
		Failed:    status.Status == ledger.StatusFailed,
		Lines:     status.Logs,
	})

	for len(l.logs) > l.logLimit {
		delete(l.records, l.logs[0].Signature)
		l.logs = l.logs[1:]
	}
}

func (l *Ledger) readNonce(key []byte) (uint64, error) {
	value, err := l.store.Get(key)
	if err != nil {
		return 0, xerrors.Errorf("store: %v", err)
	}

	if value == nil {
		return 0, nil
	}

	if len(value) != 8 {
		return 0, xerrors.Errorf("corrupted nonce of %d bytes", len(value))
	}

	return binary.LittleEndian.Uint64(value), nil
}

func nonceKey(identity crypto.PublicKey) ([]byte, error) {
	if identity == nil {
		return nil, xerrors.New("missing identity")
	}

	data, err := identity.MarshalBinary()
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal identity: %v", err)
	}

	return append([]byte(noncePrefix), data...), nil
}
