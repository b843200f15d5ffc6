package vote

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/privdao/privdao/contracts/dao"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/contracts/token"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/core/txn/signed"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/ledger/local"
	mpclocal "github.com/privdao/privdao/mpc/local"
	"github.com/privdao/privdao/retry"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/xerrors"
)

var testDeriver = address.NewDeriver(address.Address{1}, address.Address{2})

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestState_String(t *testing.T) {
	require.Equal(t, "idle", StateIdle.String())
	require.Equal(t, "processing", StateProcessing.String())
	require.Equal(t, "failed", StateFailed.String())
	require.Equal(t, "invalid", State(42).String())
}

func TestState_Transitions(t *testing.T) {
	require.True(t, StateIdle.next(StateEncrypting))
	require.True(t, StateEncrypting.next(StateFailed))
	require.True(t, StateProcessing.next(StateConfirmed))
	require.False(t, StateIdle.next(StateSubmitting))
	require.False(t, StateConfirmed.next(StateFailed))
	require.False(t, StateFailed.next(StateFailed))
}

func TestOrchestrator_CastVote(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 3600, 0, address.Address{})

	o := e.orchestrator()
	defer o.Close()

	voter := ed25519.NewSigner()

	flow, err := o.CastVote(context.Background(), proposal, types.ChoiceYes, voter)
	require.NoError(t, err)

	states := collect(flow.Watch())
	require.NoError(t, flow.Wait(context.Background()))

	require.Equal(t, StateConfirmed, flow.State())
	require.Equal(t, StateConfirmed, states[len(states)-1])
	require.Subset(t, []State{StateIdle, StateEncrypting, StateSubmitting, StateProcessing, StateConfirmed}, states)
	require.NotEmpty(t, flow.Signature())
	require.NotEmpty(t, flow.ID())
	require.Equal(t, proposal, flow.Proposal())

	value := e.proposal(proposal)
	require.Equal(t, uint64(1), value.TotalVotes)

	// A watcher of a terminal flow receives the final state only.
	require.Equal(t, []State{StateConfirmed}, collect(flow.Watch()))
	require.Equal(t, ErrNotCancelable, flow.Cancel())

	// The second vote of the same voter is refused before any submission.
	flow, err = o.CastVote(context.Background(), proposal, types.ChoiceNo, voter)
	require.NoError(t, err)

	err = flow.Wait(context.Background())
	requireFailure(t, ReasonPrecondition, types.CodeAlreadyVoted, err)
	require.Empty(t, flow.Signature())
}

func TestOrchestrator_CastVote_InvalidChoice(t *testing.T) {
	o := newEnv(t).orchestrator()

	_, err := o.CastVote(context.Background(), address.Address{}, types.Choice(3), ed25519.NewSigner())
	code, ok := types.CodeOf(err)
	require.True(t, ok)
	require.Equal(t, types.CodeInvalidChoice, code)
}

func TestOrchestrator_CastVote_Preconditions(t *testing.T) {
	e := newEnv(t)

	o := e.orchestrator()
	defer o.Close()

	voter := ed25519.NewSigner()

	// Duration zero: the voting period is over as soon as it starts.
	ended := e.create(1, 0, 0, address.Address{})
	requireFailure(t, ReasonPrecondition, types.CodeVotingEnded, castAndWait(t, o, ended, voter))

	requireFailure(t, ReasonPrecondition, types.CodeUnknownProposal,
		castAndWait(t, o, address.Address{42}, voter))

	// Created but the tally is not initialized.
	created := e.createOnly(2, 3600)
	requireFailure(t, ReasonPrecondition, types.CodeUninitializedState, castAndWait(t, o, created, voter))

	// The delegator cannot vote anymore.
	open := e.create(3, 3600, 0, address.Address{})
	e.submit(voter, dao.CmdDelegate, types.DelegateTransaction{Delegate: address.Address{9}})
	requireFailure(t, ReasonPrecondition, types.CodeActiveDelegation, castAndWait(t, o, open, voter))
}

func TestOrchestrator_CastVote_Gate(t *testing.T) {
	e := newEnv(t)
	mint := e.createMint("gate")
	gated := e.create(1, 3600, 10, mint)

	o := e.orchestrator()
	defer o.Close()

	poor := ed25519.NewSigner()
	requireFailure(t, ReasonPrecondition, types.CodeInsufficientBalance, castAndWait(t, o, gated, poor))

	e.mintTo(mint, poor, 5)
	requireFailure(t, ReasonPrecondition, types.CodeInsufficientBalance, castAndWait(t, o, gated, poor))

	rich := ed25519.NewSigner()
	e.mintTo(mint, rich, 10)
	require.NoError(t, castAndWait(t, o, gated, rich))

	require.Equal(t, uint64(1), e.proposal(gated).TotalVotes)
}

func TestOrchestrator_CastVote_RejectedByLedger(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 60, 0, address.Address{})

	// The view of the client is late: the ledger already ended the vote.
	e.clock.Advance(time.Hour)

	o := e.orchestrator(WithClock(fake.NewClock(e.clock.Now().Add(-time.Hour))))
	defer o.Close()

	err := castAndWait(t, o, proposal, ed25519.NewSigner())
	requireFailure(t, ReasonRejected, types.CodeVotingEnded, err)
}

func TestOrchestrator_CastVote_ResubmitNotApplied(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 3600, 0, address.Address{})

	flaky := &flakyLedger{
		Ledger: e.ledger,
		errs: []error{
			ledger.NewTransient(ledger.ClassStaleNonce, nil),
			ledger.NewTransient(ledger.ClassRateLimited, nil),
		},
	}

	o := NewOrchestrator(testDeriver, flaky, e.cluster, e.options()...)
	defer o.Close()

	require.NoError(t, castAndWait(t, o, proposal, ed25519.NewSigner()))
	require.Equal(t, 3, flaky.calls)
	require.Equal(t, uint64(1), e.proposal(proposal).TotalVotes)
}

func TestOrchestrator_CastVote_Indeterminate(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 3600, 0, address.Address{})

	flaky := &flakyLedger{
		Ledger: e.ledger,
		errs:   []error{ledger.NewTransient(ledger.ClassTimeout, nil)},
	}

	o := NewOrchestrator(testDeriver, flaky, e.cluster, e.options()...)
	defer o.Close()

	err := castAndWait(t, o, proposal, ed25519.NewSigner())

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, ReasonIndeterminate, reason)
	require.True(t, ledger.IsIndeterminate(err))
	require.Equal(t, 1, flaky.calls)
}

func TestOrchestrator_CastVote_NoFinality(t *testing.T) {
	e := newEnv(t, local.WithFinality(time.Hour))
	proposal := e.create(1, 3600, 0, address.Address{})

	o := e.orchestrator(WithConfirmTimeout(20 * time.Millisecond))
	defer o.Close()

	flow, err := o.CastVote(context.Background(), proposal, types.ChoiceAbstain, ed25519.NewSigner())
	require.NoError(t, err)

	err = flow.Wait(context.Background())

	reason, ok := ReasonOf(err)
	require.True(t, ok)
	require.Equal(t, ReasonIndeterminate, reason)
	require.NotEmpty(t, flow.Signature())
	require.EqualError(t, err, "vote indeterminate while processing: no finality after 20ms")
}

func TestOrchestrator_CastVote_InFlight(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 3600, 0, address.Address{})

	blocking := &blockingLedger{Ledger: e.ledger, release: make(chan struct{})}

	o := NewOrchestrator(testDeriver, blocking, e.cluster, e.options()...)
	defer o.Close()

	voter := ed25519.NewSigner()

	flow, err := o.CastVote(context.Background(), proposal, types.ChoiceYes, voter)
	require.NoError(t, err)

	_, err = o.CastVote(context.Background(), proposal, types.ChoiceYes, voter)
	require.Equal(t, ErrVoteInFlight, err)
	require.Equal(t, 1, o.InFlight())

	// Another voter is not serialized with the first one.
	other, err := o.CastVote(context.Background(), proposal, types.ChoiceYes, ed25519.NewSigner())
	require.NoError(t, err)
	require.NoError(t, other.Cancel())

	require.NoError(t, flow.Cancel())
	close(blocking.release)

	requireReason(t, ReasonCanceled, flow.Wait(context.Background()))
	requireReason(t, ReasonCanceled, other.Wait(context.Background()))

	o.Close()
	require.Equal(t, 0, o.InFlight())
	require.Equal(t, uint64(0), e.proposal(proposal).TotalVotes)

	// The pair is released once the flow is terminal.
	flow, err = o.CastVote(context.Background(), proposal, types.ChoiceYes, voter)
	require.NoError(t, err)
	require.NoError(t, flow.Wait(context.Background()))
}

func TestOrchestrator_CastVote_ContextCanceled(t *testing.T) {
	e := newEnv(t)
	proposal := e.create(1, 3600, 0, address.Address{})

	blocking := &blockingLedger{Ledger: e.ledger, release: make(chan struct{})}

	o := NewOrchestrator(testDeriver, blocking, e.cluster, e.options()...)
	defer o.Close()

	ctx, cancel := context.WithCancel(context.Background())

	flow, err := o.CastVote(ctx, proposal, types.ChoiceYes, ed25519.NewSigner())
	require.NoError(t, err)

	cancel()

	requireReason(t, ReasonCanceled, flow.Wait(context.Background()))
	close(blocking.release)
}

func TestOrchestrator_CastVote_Unavailable(t *testing.T) {
	lgr := fake.NewBadLedger()
	lgr.ErrRead = ledger.NewTransient(ledger.ClassUnavailable, fake.GetError())

	o := NewOrchestrator(testDeriver, lgr, fake.NewCluster(),
		WithPolicy(retry.NewPolicy(retry.WithDelays(time.Millisecond, time.Millisecond))))
	defer o.Close()

	err := castAndWait(t, o, address.Address{1}, ed25519.NewSigner())
	requireReason(t, ReasonUnavailable, err)
	require.ErrorIs(t, err, fake.GetError())
	require.Equal(t, 0, lgr.NumSubmitted())
}

func TestFlow_Wait_Context(t *testing.T) {
	flow := newFlow(address.Address{}, address.Address{}, types.ChoiceYes, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Equal(t, context.Canceled, flow.Wait(ctx))
	require.Equal(t, StateIdle, flow.State())
	require.NoError(t, flow.Err())
}

func TestFailure_Error(t *testing.T) {
	err := Failure{Reason: ReasonRejected, Step: StateSubmitting, Err: fake.GetError()}
	require.EqualError(t, err, fake.Err("vote rejected while submitting"))
	require.ErrorIs(t, err, fake.GetError())

	_, ok := ReasonOf(fake.GetError())
	require.False(t, ok)
}

// -----------------------------------------------------------------------------
// Utility functions

type env struct {
	t         *testing.T
	clock     *fake.Clock
	cluster   *mpclocal.Cluster
	ledger    *local.Ledger
	authority ed25519.Signer
}

func newEnv(t *testing.T, opts ...local.Option) *env {
	clock := fake.NewClock(time.Unix(1_700_000_000, 0))
	cluster := mpclocal.NewCluster([]byte("master"))

	opts = append([]local.Option{local.WithClock(clock)}, opts...)

	return &env{
		t:         t,
		clock:     clock,
		cluster:   cluster,
		ledger:    local.NewLedger(local.NewExecution(testDeriver, cluster), opts...),
		authority: ed25519.NewSigner(),
	}
}

func (e *env) options(opts ...Option) []Option {
	return append([]Option{
		WithClock(e.clock),
		WithPollInterval(time.Millisecond),
		WithPolicy(retry.NewPolicy(retry.WithDelays(time.Millisecond, time.Millisecond))),
	}, opts...)
}

func (e *env) orchestrator(opts ...Option) *Orchestrator {
	return NewOrchestrator(testDeriver, e.ledger, e.cluster, e.options(opts...)...)
}

func (e *env) submit(signer ed25519.Signer, cmd dao.Command, tx interface{}) {
	args, err := dao.Args(cmd, tx)
	require.NoError(e.t, err)

	e.submitArgs(signer, args)
}

func (e *env) submitArgs(signer ed25519.Signer, args []txn.Arg) {
	mgr := signed.NewManager(signer, e.ledger)
	require.NoError(e.t, mgr.Sync(context.Background()))

	tx, err := mgr.Make(args...)
	require.NoError(e.t, err)

	_, err = e.ledger.Submit(context.Background(), tx)
	require.NoError(e.t, err)
}

func (e *env) createOnly(id uint64, duration int64) address.Address {
	return e.createWith(types.CreateProposalTransaction{ID: id, Title: "title", Duration: duration})
}

func (e *env) createWith(tx types.CreateProposalTransaction) address.Address {
	e.submit(e.authority, dao.CmdCreateProposal, tx)

	proposal, err := testDeriver.Proposal(tx.ID)
	require.NoError(e.t, err)

	return proposal.Address
}

func (e *env) create(id uint64, duration int64, minBalance uint64, mint address.Address) address.Address {
	proposal := e.createWith(types.CreateProposalTransaction{
		ID:         id,
		Title:      "title",
		Duration:   duration,
		GateMint:   mint,
		MinBalance: minBalance,
	})

	e.submit(e.authority, dao.CmdInitTally, types.InitTallyTransaction{Proposal: proposal})

	return proposal
}

func (e *env) createMint(label string) address.Address {
	args, err := token.Args(token.CmdCreateMint, token.CreateMintTransaction{Label: label})
	require.NoError(e.t, err)

	e.submitArgs(e.authority, args)

	authority, err := address.FromPublicKey(e.authority.GetPublicKey())
	require.NoError(e.t, err)

	mint, err := testDeriver.Mint(authority, label)
	require.NoError(e.t, err)

	return mint.Address
}

func (e *env) mintTo(mint address.Address, owner ed25519.Signer, amount uint64) {
	addr, err := address.FromPublicKey(owner.GetPublicKey())
	require.NoError(e.t, err)

	args, err := token.Args(token.CmdMintTo, token.MintToTransaction{Mint: mint, Owner: addr, Amount: amount})
	require.NoError(e.t, err)

	e.submitArgs(e.authority, args)
}

func (e *env) proposal(addr address.Address) types.Proposal {
	value, found, err := ledger.Fetch[types.Proposal](context.Background(), e.ledger, addr)
	require.NoError(e.t, err)
	require.True(e.t, found)

	return value
}

func castAndWait(t *testing.T, o *Orchestrator, proposal address.Address, signer ed25519.Signer) error {
	flow, err := o.CastVote(context.Background(), proposal, types.ChoiceYes, signer)
	require.NoError(t, err)

	return flow.Wait(context.Background())
}

func collect(ch <-chan State) []State {
	states := []State{}
	for state := range ch {
		states = append(states, state)
	}

	return states
}

func requireReason(t *testing.T, expected Reason, err error) {
	t.Helper()

	reason, ok := ReasonOf(err)
	require.True(t, ok, "not a failure: %v", err)
	require.Equal(t, expected, reason)
}

func requireFailure(t *testing.T, reason Reason, code types.Code, err error) {
	t.Helper()

	requireReason(t, reason, err)

	actual, ok := types.CodeOf(err)
	require.True(t, ok, "not a typed error: %v", err)
	require.Equal(t, code, actual)
}

// flakyLedger fails the first submissions without forwarding them.
type flakyLedger struct {
	ledger.Ledger

	sync.Mutex
	errs  []error
	calls int
}

func (l *flakyLedger) Submit(ctx context.Context, tx txn.Transaction) (string, error) {
	l.Lock()
	l.calls++

	if len(l.errs) > 0 {
		err := l.errs[0]
		l.errs = l.errs[1:]
		l.Unlock()

		return "", xerrors.Errorf("flaky: %w", err)
	}

	l.Unlock()

	return l.Ledger.Submit(ctx, tx)
}

// blockingLedger blocks the reads until it is released.
type blockingLedger struct {
	ledger.Ledger

	release chan struct{}
}

func (l *blockingLedger) GetAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	select {
	case <-l.release:
	case <-ctx.Done():
		return ledger.Account{}, ctx.Err()
	}

	return l.Ledger.GetAccount(ctx, addr)
}
