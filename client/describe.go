package client

import (
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/faucet"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/vote"
	"golang.org/x/xerrors"
)

// MaxDescriptionRunes is the length of the description of an unknown error.
const MaxDescriptionRunes = 120

var codeSentences = map[types.Code]string{
	types.CodeVotingEnded:         "The voting period of this proposal has ended.",
	types.CodeVotingClosed:        "This proposal does not accept votes anymore.",
	types.CodeVotingStillActive:   "The voting period is not over yet, wait for it to end.",
	types.CodeNotAuthority:        "Only the authority of the proposal can do this.",
	types.CodeAlreadyRevealed:     "The results of this proposal are already revealed.",
	types.CodeQuorumNotReached:    "Not enough votes have been cast to reach the quorum.",
	types.CodeInsufficientBalance: "Your token balance is too low to vote, claim tokens from the faucet.",
	types.CodeInvalidTokenMint:    "Your token account does not hold the token of this proposal.",
	types.CodeInvalidTokenAccount: "The token account does not belong to you.",
	types.CodeActiveDelegation:    "You delegated your voting power, revoke the delegation to vote.",
	types.CodeAlreadyVoted:        "You have already voted on this proposal.",
	types.CodeAlreadyDelegated:    "You already delegated your voting power.",
	types.CodeNoDelegation:        "You have no delegation to revoke.",
	types.CodeSelfDelegation:      "You cannot delegate to yourself.",
	types.CodeUninitializedState:  "Voting has not been opened on this proposal yet.",
	types.CodeAlreadyInitialized:  "Voting is already open on this proposal.",
	types.CodeProposalExists:      "A proposal with this id already exists.",
	types.CodeTitleTooLong:        "The title is too long.",
	types.CodeDescriptionTooLong:  "The description is too long.",
	types.CodeInvalidChoice:       "Choose yes, no or abstain.",
	types.CodeInvalidArgument:     "The request is malformed.",
	types.CodeTallyMismatch:       "The revealed results do not match the tally.",
	types.CodeUnknownProposal:     "This proposal does not exist.",
}

var classSentences = map[ledger.Class]string{
	ledger.ClassTimeout:     "The network did not answer in time, try again.",
	ledger.ClassStaleNonce:  "The network state changed, try again.",
	ledger.ClassRateLimited: "Too many requests, wait a moment and try again.",
	ledger.ClassUnavailable: "The network is unreachable, try again later.",
}

// Describe returns one short sentence that tells the user what happened and
// what to do. An unknown error is shown verbatim, truncated.
func Describe(err error) string {
	if err == nil {
		return ""
	}

	reason, isFailure := vote.ReasonOf(err)
	if isFailure && reason == vote.ReasonIndeterminate {
		return "Your vote may have been recorded, check the proposal before voting again."
	}
	if isFailure && reason == vote.ReasonCanceled {
		return "The vote was canceled before it was sent."
	}

	code, typed := types.CodeOf(err)
	if typed {
		sentence, found := codeSentences[code]
		if found {
			return sentence
		}
	}

	switch {
	case xerrors.Is(err, vote.ErrVoteInFlight):
		return "A vote on this proposal is already in progress."
	case xerrors.Is(err, faucet.ErrRateLimited):
		return "You claimed tokens too often, try again later."
	case xerrors.Is(err, ErrNoIdentity):
		return "Select an identity first."
	case xerrors.Is(err, ledger.ErrNotFound):
		return "The account does not exist."
	}

	class, transient := ledger.ClassOf(err)
	if transient {
		return classSentences[class]
	}

	return truncate(err.Error(), MaxDescriptionRunes)
}

func truncate(text string, max int) string {
	runes := []rune(text)
	if len(runes) <= max {
		return text
	}

	return string(runes[:max-1]) + "…"
}
