// Package vote implements the orchestration of a vote, from the checks of the
// preconditions to the finality of the transaction on the ledger.
//
// A flow moves through the states idle, encrypting, submitting, processing
// and ends either confirmed or failed. The reads are retried on transient
// errors. The submission is made again only when the ledger proves that it
// did not apply the transaction. Any other failure after the submission has
// started is reported as indeterminate, because the vote may have been
// recorded.
package vote

import (
	"context"
	"sync"
	"time"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/ballot"
	"github.com/privdao/privdao/contracts/dao"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/internal/tracing"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/retry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

const (
	defaultCallTimeout    = 10 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
	defaultConfirmTimeout = time.Minute
)

var (
	// ErrVoteInFlight is returned when a vote of the same voter on the same
	// proposal is already in progress.
	ErrVoteInFlight = xerrors.New("a vote is already in progress for this proposal")

	// ErrNotCancelable is returned when a flow is canceled after it started
	// to submit the vote.
	ErrNotCancelable = xerrors.New("vote already submitted")
)

var (
	promFlows = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "privdao_vote_flows_total",
		Help: "terminated vote flows, by outcome",
	}, []string{"result"})

	promSteps = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "privdao_vote_step_seconds",
		Help:    "duration of the steps of the vote flows",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"step"})
)

func init() {
	privdao.PromCollectors = append(privdao.PromCollectors, promFlows, promSteps)
}

// Clock is the source of the time of the preconditions.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

type flowKey struct {
	proposal address.Address
	voter    address.Address
}

// Orchestrator runs the vote flows.
type Orchestrator struct {
	sync.Mutex

	deriver        address.Deriver
	ledger         ledger.Ledger
	cluster        mpc.Cluster
	pipeline       *ballot.Pipeline
	encrypter      ballot.Encrypter
	clock          Clock
	policy         retry.Policy
	tracer         opentracing.Tracer
	logger         zerolog.Logger
	callTimeout    time.Duration
	pollInterval   time.Duration
	confirmTimeout time.Duration

	inflight map[flowKey]*Flow
	wg       sync.WaitGroup
}

// Option is the type of option to set some fields of an orchestrator.
type Option func(*Orchestrator)

// WithClock sets the clock of the preconditions.
func WithClock(c Clock) Option {
	return func(o *Orchestrator) {
		o.clock = c
	}
}

// WithPolicy sets the retry policy of the reads.
func WithPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) {
		o.policy = p
	}
}

// WithTracer sets the tracer of the flows.
func WithTracer(t opentracing.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithEncrypter sets the encrypter of the ballots.
func WithEncrypter(e ballot.Encrypter) Option {
	return func(o *Orchestrator) {
		o.encrypter = e
	}
}

// WithCallTimeout sets the timeout of each call to the ledger or the cluster.
func WithCallTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.callTimeout = d
	}
}

// WithPollInterval sets the interval between two reads of the status of a
// submitted vote.
func WithPollInterval(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.pollInterval = d
	}
}

// WithConfirmTimeout sets how long a submitted vote is followed before the
// flow fails as indeterminate.
func WithConfirmTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		o.confirmTimeout = d
	}
}

// NewOrchestrator returns an orchestrator of the votes on the ledger.
func NewOrchestrator(deriver address.Deriver, lgr ledger.Ledger, cluster mpc.Cluster, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deriver:        deriver,
		ledger:         lgr,
		cluster:        cluster,
		pipeline:       ballot.NewPipeline(deriver, lgr, cluster),
		encrypter:      ballot.NewEncrypter(crypto.CryptographicRandomGenerator{}),
		clock:          systemClock{},
		policy:         retry.NewPolicy(),
		tracer:         opentracing.GlobalTracer(),
		logger:         privdao.Logger.With().Str("component", "vote").Logger(),
		callTimeout:    defaultCallTimeout,
		pollInterval:   defaultPollInterval,
		confirmTimeout: defaultConfirmTimeout,
		inflight:       make(map[flowKey]*Flow),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// CastVote starts the flow of the vote of the signer on the proposal and
// returns immediately. The flow can be canceled through the context, or the
// flow, until it starts to submit the vote. It then runs to a terminal
// state whatever happens to the context.
func (o *Orchestrator) CastVote(ctx context.Context, proposal address.Address,
	choice types.Choice, signer crypto.Signer) (*Flow, error) {

	if !choice.Valid() {
		return nil, types.NewError(types.CodeInvalidChoice, "%d", choice)
	}

	voter, err := address.FromPublicKey(signer.GetPublicKey())
	if err != nil {
		return nil, xerrors.Errorf("invalid voter: %v", err)
	}

	key := flowKey{proposal: proposal, voter: voter}

	o.Lock()
	defer o.Unlock()

	_, found := o.inflight[key]
	if found {
		return nil, ErrVoteInFlight
	}

	flow := newFlow(proposal, voter, choice, o.logger)

	// The submission must not depend on the caller once started, while the
	// steps before it follow the context of the caller.
	base := context.WithoutCancel(ctx)
	early, cancel := context.WithCancel(base)
	flow.cancel = cancel

	stop := context.AfterFunc(ctx, func() {
		flow.Cancel()
	})

	o.inflight[key] = flow
	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer cancel()
		defer stop()
		defer o.release(key)

		o.run(early, base, flow, signer)
	}()

	return flow, nil
}

// InFlight returns the number of flows in progress.
func (o *Orchestrator) InFlight() int {
	o.Lock()
	defer o.Unlock()

	return len(o.inflight)
}

// Close waits for the flows in progress.
func (o *Orchestrator) Close() {
	o.wg.Wait()
}

func (o *Orchestrator) release(key flowKey) {
	o.Lock()
	delete(o.inflight, key)
	o.Unlock()
}

func (o *Orchestrator) run(early, base context.Context, flow *Flow, signer crypto.Signer) {
	span := o.tracer.StartSpan("cast_vote")
	span.SetTag(tracing.FlowTag, flow.ID())
	span.SetTag("proposal", flow.proposal.String())
	defer span.Finish()

	early = tracing.WithFlow(early, flow.ID())
	base = tracing.WithFlow(base, flow.ID())

	flow.logger.Info().
		Stringer("proposal", flow.proposal).
		Stringer("voter", flow.voter).
		Msg("vote started")

	err := o.runSteps(early, base, flow, signer, span)
	if err != nil {
		var failure Failure
		if !xerrors.As(err, &failure) {
			failure = Failure{Reason: ReasonRejected, Step: flow.State(), Err: err}
		}

		span.SetTag("error", true)
		span.SetTag("reason", string(failure.Reason))

		flow.fail(failure)
		promFlows.WithLabelValues(string(failure.Reason)).Inc()

		flow.logger.Warn().
			Str("reason", string(failure.Reason)).
			Err(failure.Err).
			Msg("vote failed")

		return
	}

	promFlows.WithLabelValues("confirmed").Inc()

	flow.logger.Info().Str("signature", flow.Signature()).Msg("vote confirmed")
}

func (o *Orchestrator) runSteps(early, base context.Context, flow *Flow, signer crypto.Signer,
	parent opentracing.Span) error {

	err := flow.moveTo(StateEncrypting)
	if err != nil {
		return err
	}

	var tx types.CastVoteTransaction

	err = o.step(parent, StateEncrypting, func() error {
		tx, err = o.prepare(early, flow)
		return err
	})
	if err != nil {
		if flow.isCanceled() {
			return Failure{Reason: ReasonCanceled, Step: StateEncrypting, Err: context.Canceled}
		}

		return err
	}

	err = flow.moveTo(StateSubmitting)
	if err != nil {
		return Failure{Reason: ReasonCanceled, Step: StateEncrypting, Err: err}
	}

	err = o.step(parent, StateSubmitting, func() error {
		return o.submit(base, flow, signer, tx)
	})
	if err != nil {
		return err
	}

	err = flow.moveTo(StateProcessing)
	if err != nil {
		return err
	}

	err = o.step(parent, StateProcessing, func() error {
		return o.confirm(base, flow)
	})
	if err != nil {
		return err
	}

	return flow.moveTo(StateConfirmed)
}

func (o *Orchestrator) step(parent opentracing.Span, state State, fn func() error) error {
	span := o.tracer.StartSpan(state.String(), opentracing.ChildOf(parent.Context()))
	defer span.Finish()

	start := time.Now()
	err := fn()
	promSteps.WithLabelValues(state.String()).Observe(time.Since(start).Seconds())

	if err != nil {
		span.SetTag("error", true)
	}

	return err
}

// prepare checks the preconditions of the vote against the latest state of
// the ledger and encrypts the choice. The ledger checks them again.
func (o *Orchestrator) prepare(ctx context.Context, flow *Flow) (types.CastVoteTransaction, error) {
	var tx types.CastVoteTransaction

	proposal, found, err := fetch[types.Proposal](ctx, o, flow.proposal)
	if err != nil {
		return tx, o.readFailure(err)
	}
	if !found {
		return tx, precondition(types.NewError(types.CodeUnknownProposal, "%v", flow.proposal))
	}

	err = proposal.CheckVotable(o.clock.Now())
	if err != nil {
		return tx, precondition(err)
	}

	record, err := o.deriver.VoteRecord(flow.proposal, flow.voter)
	if err != nil {
		return tx, xerrors.Errorf("vote record address: %v", err)
	}

	_, found, err = fetch[types.VoteRecord](ctx, o, record.Address)
	if err != nil {
		return tx, o.readFailure(err)
	}
	if found {
		return tx, precondition(types.NewError(types.CodeAlreadyVoted, ""))
	}

	delegation, err := o.deriver.Delegation(flow.voter)
	if err != nil {
		return tx, xerrors.Errorf("delegation address: %v", err)
	}

	current, found, err := fetch[types.Delegation](ctx, o, delegation.Address)
	if err != nil {
		return tx, o.readFailure(err)
	}
	if found {
		return tx, precondition(types.NewError(types.CodeActiveDelegation, "delegated to %v", current.Delegate))
	}

	tokenAccount, err := o.checkBalance(ctx, flow.voter, proposal)
	if err != nil {
		return tx, err
	}

	encCtx, err := retry.Get(ctx, o.policy, func(ctx context.Context) (mpc.Context, error) {
		ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		return o.pipeline.ContextFor(ctx, flow.proposal)
	})
	if err != nil {
		return tx, o.readFailure(err)
	}

	accounts, err := retry.Get(ctx, o.policy, func(ctx context.Context) (mpc.AccountSet, error) {
		ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		return o.cluster.RequiredAccounts(ctx)
	})
	if err != nil {
		return tx, o.readFailure(err)
	}

	ciphertext, err := o.encrypter.EncryptChoice(flow.choice, encCtx)
	if err != nil {
		return tx, xerrors.Errorf("failed to encrypt: %w", err)
	}

	tx = types.CastVoteTransaction{
		Proposal:     flow.proposal,
		Ciphertext:   ciphertext,
		TokenAccount: tokenAccount,
		Accounts:     accounts,
	}

	return tx, nil
}

// checkBalance returns the token account of the voter for the gate of the
// proposal, or the zero address when the proposal has no gate.
func (o *Orchestrator) checkBalance(ctx context.Context, voter address.Address,
	proposal types.Proposal) (address.Address, error) {

	if proposal.GateMint.IsZero() {
		return address.Address{}, precondition(proposal.CheckBalance(0))
	}

	derived, err := o.deriver.TokenAccount(voter, proposal.GateMint)
	if err != nil {
		return address.Address{}, xerrors.Errorf("token account address: %v", err)
	}

	account, found, err := fetch[types.TokenAccount](ctx, o, derived.Address)
	if err != nil {
		return address.Address{}, o.readFailure(err)
	}

	balance := uint64(0)
	if found {
		balance = account.Amount
	}

	err = proposal.CheckBalance(balance)
	if err != nil {
		return address.Address{}, precondition(err)
	}

	return derived.Address, nil
}

// submit sends the vote. The same ciphertext is submitted again with a fresh
// nonce only when the ledger proves that it did not apply the transaction.
func (o *Orchestrator) submit(ctx context.Context, flow *Flow, signer crypto.Signer,
	tx types.CastVoteTransaction) error {

	args, err := dao.Args(dao.CmdCastVote, tx)
	if err != nil {
		return xerrors.Errorf("failed to create args: %v", err)
	}

	mgr := signed.NewManager(signer, o.ledger)
	policy := o.policy.With(retry.WithRetryable(ledger.IsNotApplied))
	sent := false

	err = policy.Do(ctx, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		sent = false

		err := mgr.Sync(ctx)
		if err != nil {
			return err
		}

		vote, err := mgr.Make(args...)
		if err != nil {
			return xerrors.Errorf("failed to make tx: %v", err)
		}

		flow.setSignature(ledger.SignatureOf(vote))
		sent = true

		sig, err := o.ledger.Submit(ctx, vote)
		if err != nil {
			flow.logger.Debug().Err(err).Msg("submission failed")
			return err
		}

		flow.setSignature(sig)

		return nil
	})

	switch {
	case err == nil:
		return nil
	case ledger.IsIndeterminate(err) && sent:
		return Failure{Reason: ReasonIndeterminate, Step: StateSubmitting, Err: err}
	case ledger.IsTransient(err):
		// Nothing has been applied.
		return Failure{Reason: ReasonUnavailable, Step: StateSubmitting, Err: err}
	default:
		return Failure{Reason: ReasonRejected, Step: StateSubmitting, Err: err}
	}
}

// confirm follows the status of the submitted vote until it is final.
func (o *Orchestrator) confirm(ctx context.Context, flow *Flow) error {
	ticker := time.NewTicker(o.pollInterval)
	defer ticker.Stop()

	deadline := time.NewTimer(o.confirmTimeout)
	defer deadline.Stop()

	for {
		status, err := o.readStatus(ctx, flow.Signature())
		if err != nil {
			flow.logger.Debug().Err(err).Msg("status unavailable")
		}

		switch status.Status {
		case ledger.StatusFinalized:
			return nil
		case ledger.StatusFailed:
			return Failure{Reason: ReasonRejected, Step: StateProcessing, Err: status.Err}
		}

		select {
		case <-ticker.C:
		case <-deadline.C:
			return Failure{
				Reason: ReasonIndeterminate,
				Step:   StateProcessing,
				Err:    xerrors.Errorf("no finality after %v", o.confirmTimeout),
			}
		}
	}
}

func (o *Orchestrator) readStatus(ctx context.Context, signature string) (ledger.TxStatus, error) {
	ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()

	return o.ledger.GetStatus(ctx, signature)
}

func (o *Orchestrator) readFailure(err error) error {
	_, typed := types.CodeOf(err)
	if typed {
		return precondition(err)
	}

	if ledger.IsTransient(err) {
		return Failure{Reason: ReasonUnavailable, Step: StateEncrypting, Err: err}
	}

	return err
}

func precondition(err error) error {
	if err == nil {
		return nil
	}

	return Failure{Reason: ReasonPrecondition, Step: StateEncrypting, Err: err}
}

func fetch[T types.Account](ctx context.Context, o *Orchestrator, addr address.Address) (T, bool, error) {
	type result struct {
		value T
		found bool
	}

	res, err := retry.Get(ctx, o.policy, func(ctx context.Context) (result, error) {
		ctx, cancel := context.WithTimeout(ctx, o.callTimeout)
		defer cancel()

		value, found, err := ledger.Fetch[T](ctx, o.ledger, addr)

		return result{value: value, found: found}, err
	})

	return res.value, res.found, err
}
