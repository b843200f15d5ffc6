package vote

import (
	"context"
	"fmt"
	"sync"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"golang.org/x/xerrors"
)

// State is the step of a vote flow.
type State int

const (
	// StateIdle is a flow that has not started.
	StateIdle State = iota
	// StateEncrypting is a flow that checks the preconditions and encrypts the
	// choice.
	StateEncrypting
	// StateSubmitting is a flow that sends the vote to the ledger.
	StateSubmitting
	// StateProcessing is a flow waiting for the finality of the vote.
	StateProcessing
	// StateConfirmed is a vote final on the ledger.
	StateConfirmed
	// StateFailed is a flow that stopped with an error.
	StateFailed
)

var stateNames = [...]string{"idle", "encrypting", "submitting", "processing", "confirmed", "failed"}

// String implements fmt.Stringer.
func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "invalid"
	}

	return stateNames[s]
}

// Terminal returns true when the flow cannot move anymore.
func (s State) Terminal() bool {
	return s == StateConfirmed || s == StateFailed
}

// next returns true when the transition is allowed.
func (s State) next(to State) bool {
	if to == StateFailed {
		return !s.Terminal()
	}

	return to == s+1 && !s.Terminal()
}

// Reason is the family of the failure of a flow.
type Reason string

const (
	// ReasonPrecondition is a vote refused by the checks of the client
	// before anything was sent.
	ReasonPrecondition Reason = "precondition"
	// ReasonRejected is a vote refused by the ledger.
	ReasonRejected Reason = "rejected"
	// ReasonIndeterminate is a vote whose outcome is unknown: the ledger may
	// have applied it despite the error.
	ReasonIndeterminate Reason = "indeterminate"
	// ReasonUnavailable is a flow that could not reach the ledger or the
	// cluster before anything was sent.
	ReasonUnavailable Reason = "unavailable"
	// ReasonCanceled is a flow canceled by the caller.
	ReasonCanceled Reason = "canceled"
)

// Failure is the error of a failed flow.
type Failure struct {
	Reason Reason
	Step   State
	Err    error
}

// Error implements error.
func (f Failure) Error() string {
	return fmt.Sprintf("vote %s while %s: %v", f.Reason, f.Step, f.Err)
}

// Unwrap returns the cause.
func (f Failure) Unwrap() error {
	return f.Err
}

// ReasonOf returns the reason of the failure in the chain of err.
func ReasonOf(err error) (Reason, bool) {
	var f Failure
	if xerrors.As(err, &f) {
		return f.Reason, true
	}

	return "", false
}

// Flow is one vote in progress. It can be observed while it moves through
// the states, and canceled until it submits the vote.
type Flow struct {
	sync.Mutex

	id       xid.ID
	proposal address.Address
	voter    address.Address
	choice   types.Choice
	logger   zerolog.Logger

	state     State
	err       error
	signature string
	watchers  []chan State
	canceled  bool
	cancel    context.CancelFunc
	done      chan struct{}
}

func newFlow(proposal, voter address.Address, choice types.Choice, logger zerolog.Logger) *Flow {
	id := xid.New()

	return &Flow{
		id:       id,
		proposal: proposal,
		voter:    voter,
		choice:   choice,
		logger:   logger.With().Str("flow", id.String()).Logger(),
		state:    StateIdle,
		done:     make(chan struct{}),
	}
}

// ID returns the correlation identifier of the flow.
func (f *Flow) ID() string {
	return f.id.String()
}

// Proposal returns the address of the proposal of the vote.
func (f *Flow) Proposal() address.Address {
	return f.proposal
}

// State returns the current state of the flow.
func (f *Flow) State() State {
	f.Lock()
	defer f.Unlock()

	return f.state
}

// Err returns the failure of the flow, or nil.
func (f *Flow) Err() error {
	f.Lock()
	defer f.Unlock()

	return f.err
}

// Signature returns the signature of the submitted transaction, or an empty
// string before the submission.
func (f *Flow) Signature() string {
	f.Lock()
	defer f.Unlock()

	return f.signature
}

// Watch returns a channel that receives the current state, then every
// following transition. It is closed once the flow reaches a terminal state.
func (f *Flow) Watch() <-chan State {
	f.Lock()
	defer f.Unlock()

	// Each watcher receives at most one value per state.
	ch := make(chan State, len(stateNames))
	ch <- f.state

	if f.state.Terminal() {
		close(ch)
		return ch
	}

	f.watchers = append(f.watchers, ch)

	return ch
}

// Cancel stops the flow if it has not submitted the vote yet, and returns
// ErrNotCancelable otherwise.
func (f *Flow) Cancel() error {
	f.Lock()
	defer f.Unlock()

	if f.state > StateEncrypting {
		return ErrNotCancelable
	}

	f.canceled = true

	if f.cancel != nil {
		f.cancel()
	}

	return nil
}

// Wait blocks until the flow reaches a terminal state and returns its
// failure, or until the context is done.
func (f *Flow) Wait(ctx context.Context) error {
	select {
	case <-f.done:
		return f.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done returns a channel closed when the flow is terminal.
func (f *Flow) Done() <-chan struct{} {
	return f.done
}

// moveTo changes the state of the flow. Entering the submitting state is
// refused when the flow has been canceled.
func (f *Flow) moveTo(to State) error {
	f.Lock()
	defer f.Unlock()

	if to == StateSubmitting && f.canceled {
		return context.Canceled
	}

	if !f.state.next(to) {
		return xerrors.Errorf("invalid transition from %s to %s", f.state, to)
	}

	f.setState(to)

	return nil
}

func (f *Flow) fail(failure Failure) {
	f.Lock()
	defer f.Unlock()

	if f.state.Terminal() {
		return
	}

	f.err = failure
	f.setState(StateFailed)
}

func (f *Flow) setSignature(sig string) {
	f.Lock()
	f.signature = sig
	f.Unlock()
}

func (f *Flow) isCanceled() bool {
	f.Lock()
	defer f.Unlock()

	return f.canceled
}

// setState must be called with the lock.
func (f *Flow) setState(to State) {
	f.state = to

	f.logger.Debug().Stringer("state", to).Msg("vote flow moved")

	for _, ch := range f.watchers {
		ch <- to
	}

	if to.Terminal() {
		for _, ch := range f.watchers {
			close(ch)
		}

		f.watchers = nil
		close(f.done)
	}
}
