package scenario

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/privdao/privdao/client"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/faucet"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/retry"
	"golang.org/x/xerrors"
)

const (
	// DefaultLabel is the label of the gate token created by the setup.
	DefaultLabel = "gate"

	// DefaultAmount is the number of gate tokens given to every voter.
	DefaultAmount = 1_000_000

	defaultPollInterval = 200 * time.Millisecond
	defaultFinality     = 30 * time.Second
)

// Env is the environment the scripts run against. The authority creates the
// gate token and the proposal, and the voters receive the tokens and vote.
type Env struct {
	Deriver   address.Deriver
	Ledger    ledger.Ledger
	Cluster   mpc.Cluster
	Revealer  client.Revealer
	Authority crypto.Signer
	Voters    []crypto.Signer

	Label    string
	Amount   uint64
	Duration time.Duration

	Policy       retry.Policy
	Clock        client.Clock
	PollInterval time.Duration

	// Sleep waits for the duration. It lets the tests move their clock
	// instead of waiting.
	Sleep func(ctx context.Context, d time.Duration) error
}

// State is what the steps of a script learn and hand over to the next ones.
type State struct {
	Mint     address.Address
	Proposal address.Address
	Expected mpc.Counts
	Results  client.ProposalView
}

// Setup returns the script that creates the gate token and funds the voters.
func Setup(env Env, state *State) *Script {
	env = env.withDefaults()

	script := NewScript("setup")
	addSetup(script, env, state)

	return script
}

func addSetup(script *Script, env Env, state *State) {
	script.Add("reach the ledger", func(ctx context.Context, out io.Writer) error {
		logs, err := retry.Get(ctx, env.Policy, func(ctx context.Context) ([]ledger.LogEntry, error) {
			return env.Ledger.GetLogs(ctx, 1)
		})
		if err != nil {
			return xerrors.Errorf("failed to read the logs: %v", err)
		}

		if len(logs) > 0 {
			fmt.Fprintf(out, "last transaction: %s\n", logs[0].Signature)
		} else {
			fmt.Fprintln(out, "no transaction yet")
		}

		return nil
	})

	script.Add("reach the cluster", func(ctx context.Context, out io.Writer) error {
		accounts, err := retry.Get(ctx, env.Policy, func(ctx context.Context) (mpc.AccountSet, error) {
			return env.Cluster.RequiredAccounts(ctx)
		})
		if err != nil {
			return xerrors.Errorf("failed to read the accounts: %v", err)
		}

		fmt.Fprintf(out, "%d required account(s)\n", len(accounts))

		return nil
	})

	script.Add("create the gate token", func(ctx context.Context, out io.Writer) error {
		mint, err := faucet.CreateMint(ctx, env.Ledger, env.Deriver, env.Authority, env.Label)
		if err != nil {
			return err
		}

		state.Mint = mint

		fmt.Fprintf(out, "mint: %v\n", mint)

		return nil
	})

	script.Add(fmt.Sprintf("fund %d voter(s)", len(env.Voters)), func(ctx context.Context, out io.Writer) error {
		owners, err := env.Identities()
		if err != nil {
			return err
		}

		minter := faucet.NewTokenMinter(env.Ledger, env.Authority, state.Mint)

		for _, owner := range owners {
			sig, err := minter.Mint(ctx, owner, env.Amount)
			if err != nil {
				return xerrors.Errorf("failed to mint to %v: %v", owner, err)
			}

			err = waitFinal(ctx, env, sig)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "%v: +%d (%s)\n", owner, env.Amount, sig)
		}

		return nil
	})

	script.Add("check the balances", func(ctx context.Context, out io.Writer) error {
		owners, err := env.Identities()
		if err != nil {
			return err
		}

		for _, owner := range owners {
			derived, err := env.Deriver.TokenAccount(owner, state.Mint)
			if err != nil {
				return xerrors.Errorf("token account address: %v", err)
			}

			account, found, err := ledger.Fetch[types.TokenAccount](ctx, env.Ledger, derived.Address)
			if err != nil {
				return err
			}

			if !found || account.Amount < env.Amount {
				return xerrors.Errorf("%v holds %d tokens, expected at least %d",
					owner, account.Amount, env.Amount)
			}

			fmt.Fprintf(out, "%v: %d\n", owner, account.Amount)
		}

		return nil
	})
}

// waitFinal polls the status of the transaction until it is final.
func waitFinal(ctx context.Context, env Env, sig string) error {
	ctx, cancel := context.WithTimeout(ctx, defaultFinality)
	defer cancel()

	for {
		status, err := retry.Get(ctx, env.Policy, func(ctx context.Context) (ledger.TxStatus, error) {
			return env.Ledger.GetStatus(ctx, sig)
		})
		if err != nil {
			return xerrors.Errorf("failed to read the status of %s: %v", sig, err)
		}

		switch status.Status {
		case ledger.StatusFinalized:
			return nil
		case ledger.StatusFailed:
			return xerrors.Errorf("transaction %s failed: %v", sig, status.Err)
		}

		err = env.Sleep(ctx, env.PollInterval)
		if err != nil {
			return xerrors.Errorf("transaction %s is not final: %v", sig, err)
		}
	}
}

func (env Env) withDefaults() Env {
	if env.Label == "" {
		env.Label = DefaultLabel
	}

	if env.Amount == 0 {
		env.Amount = DefaultAmount
	}

	if env.Policy.MaxAttempts() == 0 {
		env.Policy = retry.NewPolicy()
	}

	if env.Clock == nil {
		env.Clock = systemClock{}
	}

	if env.PollInterval == 0 {
		env.PollInterval = defaultPollInterval
	}

	if env.Sleep == nil {
		env.Sleep = sleep
	}

	return env
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
