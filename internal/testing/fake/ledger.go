package fake

import (
	"context"
	"sort"
	"sync"

	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
)

// Ledger is a fake implementation of a ledger. Submitted transactions are
// recorded but never executed.
//
// - implements ledger.Ledger
type Ledger struct {
	sync.Mutex

	accounts map[address.Address][]byte

	Nonce     uint64
	Statuses  map[string]ledger.TxStatus
	Logs      []ledger.LogEntry
	Submitted []txn.Transaction

	ErrRead   error
	ErrNonce  error
	ErrStatus error
	ErrLogs   error
	// ErrSubmit is the list of errors returned by the successive calls to
	// Submit. The last one is returned once the list is exhausted.
	ErrSubmit []error
	// OnSubmit is called for every submission that does not fail.
	OnSubmit func(tx txn.Transaction)
}

// NewLedger returns an empty fake ledger.
func NewLedger() *Ledger {
	return &Ledger{
		accounts: make(map[address.Address][]byte),
		Statuses: make(map[string]ledger.TxStatus),
	}
}

// NewBadLedger returns a fake ledger that fails every call.
func NewBadLedger() *Ledger {
	l := NewLedger()
	l.ErrRead = fakeErr
	l.ErrNonce = fakeErr
	l.ErrStatus = fakeErr
	l.ErrLogs = fakeErr
	l.ErrSubmit = []error{fakeErr}

	return l
}

// SetAccount stores the account data.
func (l *Ledger) SetAccount(addr address.Address, data []byte) {
	l.Lock()
	l.accounts[addr] = append([]byte{}, data...)
	l.Unlock()
}

// GetAccount implements ledger.Reader.
func (l *Ledger) GetAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	l.Lock()
	defer l.Unlock()

	if l.ErrRead != nil {
		return ledger.Account{}, l.ErrRead
	}

	data, found := l.accounts[addr]
	if !found {
		return ledger.Account{}, ledger.ErrNotFound
	}

	return ledger.Account{Address: addr, Data: append([]byte{}, data...)}, nil
}

// ListAccounts implements ledger.Reader.
func (l *Ledger) ListAccounts(ctx context.Context, kind address.Kind) ([]ledger.Account, error) {
	l.Lock()
	defer l.Unlock()

	if l.ErrRead != nil {
		return nil, l.ErrRead
	}

	res := []ledger.Account{}
	for addr, data := range l.accounts {
		if address.HasDiscriminator(data, kind) {
			res = append(res, ledger.Account{Address: addr, Data: append([]byte{}, data...)})
		}
	}

	sort.Slice(res, func(i, j int) bool {
		return res[i].Address.String() < res[j].Address.String()
	})

	return res, nil
}

// GetNonce implements ledger.Ledger.
func (l *Ledger) GetNonce(ctx context.Context, identity crypto.PublicKey) (uint64, error) {
	l.Lock()
	defer l.Unlock()

	return l.Nonce, l.ErrNonce
}

// Submit implements ledger.Ledger.
func (l *Ledger) Submit(ctx context.Context, tx txn.Transaction) (string, error) {
	l.Lock()

	if len(l.ErrSubmit) > 0 {
		err := l.ErrSubmit[0]
		if len(l.ErrSubmit) > 1 {
			l.ErrSubmit = l.ErrSubmit[1:]
		}

		if err != nil {
			l.Unlock()
			return "", err
		}
	}

	l.Submitted = append(l.Submitted, tx)
	l.Nonce = tx.GetNonce() + 1
	onSubmit := l.OnSubmit

	l.Unlock()

	if onSubmit != nil {
		onSubmit(tx)
	}

	return ledger.SignatureOf(tx), nil
}

// NumSubmitted returns the number of accepted submissions.
func (l *Ledger) NumSubmitted() int {
	l.Lock()
	defer l.Unlock()

	return len(l.Submitted)
}

// SetStatus sets the status returned for the signature.
func (l *Ledger) SetStatus(status ledger.TxStatus) {
	l.Lock()
	l.Statuses[status.Signature] = status
	l.Unlock()
}

// GetStatus implements ledger.Ledger. An unknown signature is finalized.
func (l *Ledger) GetStatus(ctx context.Context, signature string) (ledger.TxStatus, error) {
	l.Lock()
	defer l.Unlock()

	if l.ErrStatus != nil {
		return ledger.TxStatus{}, l.ErrStatus
	}

	status, found := l.Statuses[signature]
	if !found {
		return ledger.TxStatus{Signature: signature, Status: ledger.StatusFinalized}, nil
	}

	return status, nil
}

// GetLogs implements ledger.Ledger.
func (l *Ledger) GetLogs(ctx context.Context, limit int) ([]ledger.LogEntry, error) {
	l.Lock()
	defer l.Unlock()

	if l.ErrLogs != nil {
		return nil, l.ErrLogs
	}

	logs := l.Logs
	if limit > 0 && len(logs) > limit {
		logs = logs[:limit]
	}

	return append([]ledger.LogEntry{}, logs...), nil
}

// Cluster is a fake implementation of the cluster.
//
// - implements mpc.Cluster
type Cluster struct {
	Call     *Call
	Key      []byte
	Accounts mpc.AccountSet
	// Tamper modifies the context before it is returned.
	Tamper func(*mpc.Context)
	Err    error
}

// NewCluster returns a fake cluster that derives the same key for every
// computation.
func NewCluster() Cluster {
	return Cluster{
		Call: &Call{},
		Key:  make([]byte, mpc.KeySize),
	}
}

// NewBadCluster returns a fake cluster that always fails.
func NewBadCluster() Cluster {
	c := NewCluster()
	c.Err = fakeErr

	return c
}

// DeriveContext implements mpc.Cluster.
func (c Cluster) DeriveContext(ctx context.Context, id mpc.ComputationID, circuit string) (mpc.Context, error) {
	if c.Call != nil {
		c.Call.Add(id, circuit)
	}

	if c.Err != nil {
		return mpc.Context{}, c.Err
	}

	encCtx := mpc.Context{
		ComputationID: id,
		Circuit:       circuit,
		KeyType:       mpc.KeyType,
		Key:           append([]byte{}, c.Key...),
	}

	if c.Tamper != nil {
		c.Tamper(&encCtx)
	}

	return encCtx, nil
}

// RequiredAccounts implements mpc.Cluster.
func (c Cluster) RequiredAccounts(ctx context.Context) (mpc.AccountSet, error) {
	return c.Accounts, c.Err
}
