package types

import (
	"strings"
	"time"

	"github.com/privdao/privdao/core/address"
)

const (
	// MaxTitleLen is the maximum number of characters of a title.
	MaxTitleLen = 100

	// MaxDescriptionLen is the maximum number of characters of a description.
	MaxDescriptionLen = 500

	// BasisPoints is the scale of the pass threshold.
	BasisPoints = 10_000

	// DefaultThresholdBps is a simple majority of the non-abstain votes.
	DefaultThresholdBps = 5_000
)

// Choice is the plaintext of a ballot.
type Choice uint8

const (
	// ChoiceNo is a vote against the proposal.
	ChoiceNo Choice = 0
	// ChoiceYes is a vote in favor of the proposal.
	ChoiceYes Choice = 1
	// ChoiceAbstain is a counted vote for neither side.
	ChoiceAbstain Choice = 2
)

// Valid returns true for the three defined choices.
func (c Choice) Valid() bool {
	return c <= ChoiceAbstain
}

// String implements fmt.Stringer.
func (c Choice) String() string {
	switch c {
	case ChoiceNo:
		return "no"
	case ChoiceYes:
		return "yes"
	case ChoiceAbstain:
		return "abstain"
	default:
		return "invalid"
	}
}

// ParseChoice returns the choice of the text, case insensitive.
func ParseChoice(text string) (Choice, error) {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "no", "0":
		return ChoiceNo, nil
	case "yes", "1":
		return ChoiceYes, nil
	case "abstain", "2":
		return ChoiceAbstain, nil
	default:
		return 0, NewError(CodeInvalidChoice, "'%s'", text)
	}
}

// Status is the phase of a proposal.
type Status int

const (
	// StatusCreated is a proposal without an initialized tally.
	StatusCreated Status = iota
	// StatusActive is a proposal accepting votes.
	StatusActive
	// StatusEnded is a proposal past its deadline, waiting for the reveal.
	StatusEnded
	// StatusRevealed is a proposal with published results. It is terminal.
	StatusRevealed
)

var statusNames = [...]string{"created", "active", "ended", "revealed"}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "unknown"
	}

	return statusNames[s]
}

// EndsAt returns the deadline of the voting period.
func (p Proposal) EndsAt() time.Time {
	return time.Unix(p.VotingEndsAt, 0)
}

// Status returns the phase of the proposal at the given instant. The status
// is derived and never stored.
func (p Proposal) Status(now time.Time, tallyReady bool) Status {
	switch {
	case p.IsRevealed:
		return StatusRevealed
	case !tallyReady:
		return StatusCreated
	case !p.IsActive || !now.Before(p.EndsAt()):
		return StatusEnded
	default:
		return StatusActive
	}
}

// QuorumMet returns true when the participation reaches the quorum. A zero
// quorum is always met.
func (p Proposal) QuorumMet() bool {
	return p.Quorum == 0 || p.TotalVotes >= p.Quorum
}

// CheckVotable returns nil if a vote is accepted at the given instant.
func (p Proposal) CheckVotable(now time.Time) error {
	if !p.IsActive {
		return NewError(CodeVotingClosed, "")
	}

	if !now.Before(p.EndsAt()) {
		return NewError(CodeVotingEnded, "")
	}

	return nil
}

// CheckRevealable returns nil if the caller can reveal the results at the
// given instant.
func (p Proposal) CheckRevealable(caller address.Address, now time.Time) error {
	if caller != p.Authority {
		return NewError(CodeNotAuthority, "")
	}

	if p.IsRevealed {
		return NewError(CodeAlreadyRevealed, "")
	}

	if !p.IsActive {
		return NewError(CodeVotingClosed, "")
	}

	if now.Before(p.EndsAt()) {
		return NewError(CodeVotingStillActive, "")
	}

	if !p.QuorumMet() {
		return NewError(CodeQuorumNotReached, "%d of %d votes", p.TotalVotes, p.Quorum)
	}

	return nil
}

// CheckBalance returns nil if the balance allows a vote.
func (p Proposal) CheckBalance(balance uint64) error {
	if balance < p.MinBalance {
		return NewError(CodeInsufficientBalance, "%d < %d", balance, p.MinBalance)
	}

	return nil
}

// Winner is the side with the most votes.
type Winner uint8

const (
	// WinnerNo means more votes against.
	WinnerNo Winner = 0
	// WinnerYes means more votes in favor.
	WinnerYes Winner = 1
	// WinnerTie means as many votes on both sides.
	WinnerTie Winner = 2
)

// String implements fmt.Stringer.
func (w Winner) String() string {
	switch w {
	case WinnerNo:
		return "no"
	case WinnerYes:
		return "yes"
	default:
		return "tie"
	}
}

// Outcome is the read-time result of a revealed proposal.
type Outcome struct {
	Winner    Winner
	QuorumMet bool
	Passed    bool
	// YesBps is the share of yes among the non-abstain votes, zero when every
	// vote abstains.
	YesBps uint64
}

// WinnerOf returns the side with the most votes.
func WinnerOf(yes, no uint64) Winner {
	switch {
	case yes > no:
		return WinnerYes
	case no > yes:
		return WinnerNo
	default:
		return WinnerTie
	}
}

// Outcome returns the result of the proposal for the threshold in basis
// points. The pass ratio only counts the non-abstain votes: a proposal where
// every vote abstains does not pass. An unrevealed proposal never passes.
func (p Proposal) Outcome(thresholdBps uint64) Outcome {
	out := Outcome{
		Winner:    WinnerOf(p.YesVotes, p.NoVotes),
		QuorumMet: p.QuorumMet(),
	}

	nonAbstain := p.YesVotes + p.NoVotes
	if nonAbstain > 0 {
		out.YesBps = p.YesVotes * BasisPoints / nonAbstain
	}

	out.Passed = p.IsRevealed && out.QuorumMet && nonAbstain > 0 && out.YesBps >= thresholdBps

	return out
}
