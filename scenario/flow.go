package scenario

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/privdao/privdao/activity"
	"github.com/privdao/privdao/client"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/retry"
	"github.com/privdao/privdao/vote"
	"golang.org/x/xerrors"
)

const (
	// DefaultDuration is the voting period of the proposal of the full flow.
	DefaultDuration = 5 * time.Second

	activityLimit = 50
)

var choiceNames = map[types.Choice]string{
	types.ChoiceNo:      "no",
	types.ChoiceYes:     "yes",
	types.ChoiceAbstain: "abstain",
}

// FullFlow returns the script that runs a complete vote: the setup, the
// creation of a proposal gated by the token, one vote per voter, the refusal
// of a second vote and of an early reveal, the reveal after the deadline and
// the activity feed.
func FullFlow(env Env, state *State) *Script {
	env = env.withDefaults()

	if env.Duration == 0 {
		env.Duration = DefaultDuration
	}

	script := NewScript("fullflow")
	addSetup(script, env, state)

	c := client.NewClient(env.Deriver, env.Ledger,
		client.WithClock(env.Clock),
		client.WithPolicy(env.Policy),
		client.WithRevealer(env.Revealer),
	)

	script.Add("create the proposal", func(ctx context.Context, out io.Writer) error {
		err := c.SetIdentity(env.Authority)
		if err != nil {
			return err
		}

		proposal, err := c.CreateProposal(ctx, types.CreateProposalTransaction{
			Title:       fmt.Sprintf("Full flow %s", env.Clock.Now().UTC().Format(time.RFC3339)),
			Description: "Created by the full flow script.",
			Duration:    int64(env.Duration / time.Second),
			GateMint:    state.Mint,
			MinBalance:  env.Amount,
			Quorum:      uint64(len(env.Voters)),
		})
		if err != nil {
			return xerrors.Errorf("%s: %v", client.Describe(err), err)
		}

		state.Proposal = proposal

		fmt.Fprintf(out, "proposal: %v\n", proposal)
		fmt.Fprintf(out, "quorum: %d, voting ends in %s\n", len(env.Voters), env.Duration)

		return nil
	})

	votes := vote.NewOrchestrator(env.Deriver, env.Ledger, env.Cluster,
		vote.WithClock(env.Clock),
		vote.WithPolicy(env.Policy),
		vote.WithPollInterval(env.PollInterval),
	)

	script.Add(fmt.Sprintf("cast %d vote(s)", len(env.Voters)), func(ctx context.Context, out io.Writer) error {
		for i, voter := range env.Voters {
			choice := types.Choice(i % 3)

			flow, err := votes.CastVote(ctx, state.Proposal, choice, voter)
			if err != nil {
				return err
			}

			err = flow.Wait(ctx)
			if err != nil {
				return xerrors.Errorf("%s: %v", client.Describe(err), err)
			}

			switch choice {
			case types.ChoiceYes:
				state.Expected.Yes++
			case types.ChoiceNo:
				state.Expected.No++
			default:
				state.Expected.Abstain++
			}

			fmt.Fprintf(out, "flow %s: %s, confirmed as %s\n", flow.ID(), choiceNames[choice], flow.Signature())
		}

		return nil
	})

	script.Add("refuse a second vote", func(ctx context.Context, out io.Writer) error {
		if len(env.Voters) == 0 {
			fmt.Fprintln(out, "no voter, skipped")
			return nil
		}

		flow, err := votes.CastVote(ctx, state.Proposal, types.ChoiceYes, env.Voters[0])
		if err != nil {
			return err
		}

		err = flow.Wait(ctx)
		if err == nil {
			return xerrors.New("the second vote was accepted")
		}

		code, ok := types.CodeOf(err)
		if !ok || code != types.CodeAlreadyVoted {
			return xerrors.Errorf("unexpected error: %v", err)
		}

		fmt.Fprintf(out, "refused: %s\n", client.Describe(err))

		return nil
	})

	script.Add("refuse an early reveal", func(ctx context.Context, out io.Writer) error {
		view, err := c.Proposal(ctx, state.Proposal)
		if err != nil {
			return err
		}

		if !env.Clock.Now().Before(time.Unix(view.Proposal.VotingEndsAt, 0)) {
			fmt.Fprintln(out, "deadline already passed, skipped")
			return nil
		}

		_, err = c.Reveal(ctx, state.Proposal)
		if err == nil {
			return xerrors.New("the reveal was accepted before the deadline")
		}

		code, ok := types.CodeOf(err)
		if !ok || code != types.CodeVotingStillActive {
			return xerrors.Errorf("unexpected error: %v", err)
		}

		fmt.Fprintf(out, "refused: %s\n", client.Describe(err))

		return nil
	})

	script.Add("wait for the end of the vote", func(ctx context.Context, out io.Writer) error {
		view, err := c.Proposal(ctx, state.Proposal)
		if err != nil {
			return err
		}

		remaining := time.Unix(view.Proposal.VotingEndsAt, 0).Sub(env.Clock.Now())
		if remaining <= 0 {
			fmt.Fprintln(out, "voting already ended")
			return nil
		}

		// The deadline has a precision of one second.
		remaining += time.Second

		fmt.Fprintf(out, "waiting %s\n", remaining.Round(time.Millisecond))

		return env.Sleep(ctx, remaining)
	})

	script.Add("reveal the results", func(ctx context.Context, out io.Writer) error {
		view, err := c.Reveal(ctx, state.Proposal)
		if err != nil {
			return xerrors.Errorf("%s: %v", client.Describe(err), err)
		}

		state.Results = view

		p := view.Proposal
		if p.YesVotes != state.Expected.Yes || p.NoVotes != state.Expected.No ||
			p.AbstainVotes != state.Expected.Abstain {

			return xerrors.Errorf("revealed %d/%d/%d, expected %d/%d/%d",
				p.YesVotes, p.NoVotes, p.AbstainVotes,
				state.Expected.Yes, state.Expected.No, state.Expected.Abstain)
		}

		fmt.Fprintf(out, "yes=%d no=%d abstain=%d total=%d\n",
			p.YesVotes, p.NoVotes, p.AbstainVotes, p.TotalVotes)
		fmt.Fprintf(out, "winner: %v, passed: %t\n", view.Outcome.Winner, view.Outcome.Passed)

		return nil
	})

	script.Add("read the activity", func(ctx context.Context, out io.Writer) error {
		defer votes.Close()

		logs, err := retry.Get(ctx, env.Policy, func(ctx context.Context) ([]ledger.LogEntry, error) {
			return env.Ledger.GetLogs(ctx, activityLimit)
		})
		if err != nil {
			return xerrors.Errorf("failed to read the logs: %v", err)
		}

		counts := make(map[activity.Kind]int)
		for _, item := range activity.Build(logs, env.Clock.Now()) {
			counts[item.Kind]++
		}

		if counts[activity.KindVote] < len(env.Voters) {
			return xerrors.Errorf("%d vote(s) in the feed, expected %d",
				counts[activity.KindVote], len(env.Voters))
		}

		fmt.Fprintf(out, "%d proposal(s), %d vote(s), %d reveal(s)\n",
			counts[activity.KindProposal], counts[activity.KindVote], counts[activity.KindReveal])

		return nil
	})

	return script
}

// Identities returns the addresses of the voters, in order.
func (env Env) Identities() ([]address.Address, error) {
	identities := make([]address.Address, len(env.Voters))

	for i, voter := range env.Voters {
		addr, err := address.FromPublicKey(voter.GetPublicKey())
		if err != nil {
			return nil, xerrors.Errorf("invalid voter: %v", err)
		}

		identities[i] = addr
	}

	return identities, nil
}
