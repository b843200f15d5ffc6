// Package activity builds the feed of the recent activity of the programs
// from the logs of the ledger.
package activity

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/ledger"
)

// Kind is the category of an item of the feed.
type Kind string

const (
	// KindVote is a vote cast.
	KindVote Kind = "vote"
	// KindProposal is a proposal created, or its tally initialized.
	KindProposal Kind = "proposal"
	// KindReveal is the publication of the results of a proposal.
	KindReveal Kind = "reveal"
	// KindDelegation is a delegation created or revoked.
	KindDelegation Kind = "delegation"
	// KindUnrecognized is a line that does not belong to the feed.
	KindUnrecognized Kind = "unrecognized"
)

var kindsByName = map[string]Kind{
	types.EventVoteCast:          KindVote,
	types.EventProposalCreated:   KindProposal,
	types.EventTallyInitialized:  KindProposal,
	types.EventResultsRevealed:   KindReveal,
	types.EventDelegationCreated: KindDelegation,
	types.EventDelegationRevoked: KindDelegation,

	"CastVote":         KindVote,
	"CreateProposal":   KindProposal,
	"InitTally":        KindProposal,
	"RevealResults":    KindReveal,
	"Delegate":         KindDelegation,
	"RevokeDelegation": KindDelegation,
}

// Item is one entry of the feed.
type Item struct {
	Kind      Kind
	Signature string
	Time      time.Time
	Age       string
	Proposal  string
	Actor     string
	Summary   string
}

// Classify returns the kind of the log line. Both the event lines and the
// instruction lines are recognized.
func Classify(line string) Kind {
	var name string

	switch {
	case strings.HasPrefix(line, types.DataPrefix):
		event, err := types.ParseEvent(line)
		if err != nil {
			return KindUnrecognized
		}

		name = event.Name
	case strings.HasPrefix(line, types.InstructionPrefix):
		name = strings.TrimSpace(strings.TrimPrefix(line, types.InstructionPrefix))
	default:
		return KindUnrecognized
	}

	kind, found := kindsByName[name]
	if !found {
		return KindUnrecognized
	}

	return kind
}

// Build returns the feed of the log entries, the most recent first. An entry
// of a failed transaction, or without any recognized line, is skipped.
func Build(entries []ledger.LogEntry, now time.Time) []Item {
	items := make([]Item, 0, len(entries))

	for _, entry := range entries {
		if entry.Failed {
			continue
		}

		item, ok := itemOf(entry)
		if !ok {
			continue
		}

		item.Age = Age(now.Sub(entry.Time))
		items = append(items, item)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Time.After(items[j].Time)
	})

	return items
}

func itemOf(entry ledger.LogEntry) (Item, bool) {
	item := Item{
		Kind:      KindUnrecognized,
		Signature: entry.Signature,
		Time:      entry.Time,
	}

	for _, line := range entry.Lines {
		kind := Classify(line)
		if kind == KindUnrecognized {
			continue
		}

		// The event carries the details while the instruction only names
		// the operation.
		event, err := types.ParseEvent(line)
		if err == nil {
			item.Kind = kind
			describe(&item, event)

			return item, true
		}

		if item.Kind == KindUnrecognized {
			item.Kind = kind
			item.Summary = summaries[kind]
		}
	}

	return item, item.Kind != KindUnrecognized
}

var summaries = map[Kind]string{
	KindVote:       "Vote cast",
	KindProposal:   "Proposal created",
	KindReveal:     "Results revealed",
	KindDelegation: "Delegation updated",
}

func describe(item *Item, event types.Event) {
	item.Proposal = event.Get("proposal")

	switch event.Name {
	case types.EventVoteCast:
		item.Actor = event.Get("voter")
		item.Summary = fmt.Sprintf("Vote cast on %s (%s votes)", short(item.Proposal), event.Get("total"))
	case types.EventProposalCreated:
		item.Actor = event.Get("authority")
		item.Summary = fmt.Sprintf("Proposal #%s created", event.Get("id"))
	case types.EventTallyInitialized:
		item.Summary = fmt.Sprintf("Voting opened on %s", short(item.Proposal))
	case types.EventResultsRevealed:
		item.Summary = fmt.Sprintf("Results of %s revealed: %s yes, %s no, %s abstain",
			short(item.Proposal), event.Get("yes"), event.Get("no"), event.Get("abstain"))
	case types.EventDelegationCreated:
		item.Actor = event.Get("delegator")
		item.Summary = fmt.Sprintf("%s delegated to %s", short(item.Actor), short(event.Get("delegate")))
	case types.EventDelegationRevoked:
		item.Actor = event.Get("delegator")
		item.Summary = fmt.Sprintf("%s revoked the delegation", short(item.Actor))
	}
}

// Age returns the relative label of a duration.
func Age(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d/time.Minute))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d/time.Hour))
	default:
		return fmt.Sprintf("%dd ago", int(d/(24*time.Hour)))
	}
}

func short(text string) string {
	if len(text) <= 8 {
		return text
	}

	return text[:4] + ".." + text[len(text)-4:]
}
