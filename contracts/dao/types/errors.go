package types

import (
	"fmt"

	"golang.org/x/xerrors"
)

// Code identifies a rejection of the voting program. The codes are stable
// strings because they cross the ledger transport.
type Code string

const (
	CodeVotingEnded         Code = "VotingEnded"
	CodeVotingClosed        Code = "VotingClosed"
	CodeVotingStillActive   Code = "VotingStillActive"
	CodeNotAuthority        Code = "NotAuthority"
	CodeAlreadyRevealed     Code = "AlreadyRevealed"
	CodeQuorumNotReached    Code = "QuorumNotReached"
	CodeInsufficientBalance Code = "InsufficientBalance"
	CodeInvalidTokenMint    Code = "InvalidTokenMint"
	CodeInvalidTokenAccount Code = "InvalidTokenAccount"
	CodeActiveDelegation    Code = "ActiveDelegation"
	CodeAlreadyVoted        Code = "AlreadyVoted"
	CodeAlreadyDelegated    Code = "AlreadyDelegated"
	CodeNoDelegation        Code = "NoDelegation"
	CodeSelfDelegation      Code = "SelfDelegation"
	CodeUninitializedState  Code = "UninitializedState"
	CodeAlreadyInitialized  Code = "AlreadyInitialized"
	CodeProposalExists      Code = "ProposalExists"
	CodeTitleTooLong        Code = "TitleTooLong"
	CodeDescriptionTooLong  Code = "DescriptionTooLong"
	CodeInvalidChoice       Code = "InvalidChoice"
	CodeInvalidArgument     Code = "InvalidArgument"
	CodeTallyMismatch       Code = "TallyMismatch"
	CodeUnknownProposal     Code = "UnknownProposal"
)

var messages = map[Code]string{
	CodeVotingEnded:         "voting period has ended",
	CodeVotingClosed:        "voting has been closed",
	CodeVotingStillActive:   "voting period has not ended yet",
	CodeNotAuthority:        "caller is not the proposal authority",
	CodeAlreadyRevealed:     "results are already revealed",
	CodeQuorumNotReached:    "quorum not reached",
	CodeInsufficientBalance: "insufficient token balance to vote",
	CodeInvalidTokenMint:    "token mint does not match gate mint",
	CodeInvalidTokenAccount: "invalid token account for voter",
	CodeActiveDelegation:    "voting power is delegated",
	CodeAlreadyVoted:        "already voted",
	CodeAlreadyDelegated:    "already delegated",
	CodeNoDelegation:        "no active delegation",
	CodeSelfDelegation:      "cannot delegate to oneself",
	CodeUninitializedState:  "tally is not initialized",
	CodeAlreadyInitialized:  "tally is already initialized",
	CodeProposalExists:      "proposal id is already used",
	CodeTitleTooLong:        "title is too long",
	CodeDescriptionTooLong:  "description is too long",
	CodeInvalidChoice:       "invalid vote choice",
	CodeInvalidArgument:     "invalid argument",
	CodeTallyMismatch:       "revealed counts do not match the tally",
	CodeUnknownProposal:     "unknown proposal",
}

// Error is a typed rejection of the voting program.
type Error struct {
	Code   Code
	Detail string
}

// NewError returns an error of the code. The optional detail is formatted
// with the arguments.
func NewError(code Code, format string, args ...interface{}) Error {
	e := Error{Code: code}

	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}

	return e
}

// Error implements error.
func (e Error) Error() string {
	msg, found := messages[e.Code]
	if !found {
		msg = string(e.Code)
	}

	if e.Detail != "" {
		return fmt.Sprintf("%s: %s", msg, e.Detail)
	}

	return msg
}

// Is implements the comparison of xerrors.Is. Two errors are the same when
// they have the same code.
func (e Error) Is(target error) bool {
	other, ok := target.(Error)
	return ok && other.Code == e.Code
}

// CodeOf returns the code of the typed error in the chain of err.
func CodeOf(err error) (Code, bool) {
	var e Error
	if xerrors.As(err, &e) {
		return e.Code, true
	}

	return "", false
}

// Known returns true when the code is part of the taxonomy.
func (c Code) Known() bool {
	_, found := messages[c]
	return found
}
