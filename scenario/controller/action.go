package controller

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/client"
	clientctl "github.com/privdao/privdao/client/controller"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/crypto/loader"
	faucetctl "github.com/privdao/privdao/faucet/controller"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/scenario"
	"golang.org/x/xerrors"
)

const defaultVoters = 3

// setupAction runs the setup script with the identities of the keys folder.
//
// - implements node.ActionTemplate
type setupAction struct{}

// Execute implements node.ActionTemplate.
func (setupAction) Execute(ctx node.Context) error {
	env, cfg, err := makeEnv(ctx)
	if err != nil {
		return err
	}

	for _, name := range ctx.Flags.StringSlice("voter") {
		signer, err := loadOrCreate(cfg, name)
		if err != nil {
			return err
		}

		env.Voters = append(env.Voters, signer)
	}

	return scenario.Setup(env, &scenario.State{}).Run(context.Background(), ctx.Out)
}

// fullFlowAction runs the full flow with fresh voters.
//
// - implements node.ActionTemplate
type fullFlowAction struct{}

// Execute implements node.ActionTemplate.
func (fullFlowAction) Execute(ctx node.Context) error {
	env, _, err := makeEnv(ctx)
	if err != nil {
		return err
	}

	num := ctx.Flags.Int("voters")
	if num < 1 {
		return xerrors.Errorf("invalid number of voters: %d", num)
	}

	env.Voters = make([]crypto.Signer, num)
	for i := range env.Voters {
		env.Voters[i] = ed25519.NewSigner()
	}

	env.Duration = ctx.Flags.Duration("duration")

	return scenario.FullFlow(env, &scenario.State{}).Run(context.Background(), ctx.Out)
}

// makeEnv returns the environment of the daemon. The authority is the one of
// the faucet so that both share the gate token.
func makeEnv(ctx node.Context) (scenario.Env, config.Config, error) {
	var env scenario.Env
	var cfg config.Config

	err := ctx.Injector.Resolve(&cfg)
	if err != nil {
		return env, cfg, xerrors.Errorf("injector: %v", err)
	}

	var deriver address.Deriver

	err = ctx.Injector.Resolve(&deriver)
	if err != nil {
		return env, cfg, xerrors.Errorf("injector: %v", err)
	}

	var lgr ledger.Ledger

	err = ctx.Injector.Resolve(&lgr)
	if err != nil {
		return env, cfg, xerrors.Errorf("injector: %v", err)
	}

	var cluster mpc.Cluster

	err = ctx.Injector.Resolve(&cluster)
	if err != nil {
		return env, cfg, xerrors.Errorf("injector: %v", err)
	}

	data, err := loader.NewFileLoader(filepath.Join(cfg.DataDir, faucetctl.KeyFile)).
		LoadOrCreate(ed25519.Generator{})
	if err != nil {
		return env, cfg, xerrors.Errorf("authority key: %v", err)
	}

	authority, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return env, cfg, xerrors.Errorf("authority key: %v", err)
	}

	env = scenario.Env{
		Deriver:      deriver,
		Ledger:       lgr,
		Cluster:      cluster,
		Authority:    authority,
		Label:        ctx.Flags.String("label"),
		Amount:       cfg.Faucet.Amount,
		Policy:       cfg.Policy(),
		PollInterval: cfg.PollInterval,
	}

	revealer, ok := cluster.(client.Revealer)
	if ok {
		env.Revealer = revealer
	}

	var clock client.Clock

	err = ctx.Injector.Resolve(&clock)
	if err == nil {
		env.Clock = clock
	}

	return env, cfg, nil
}

func loadOrCreate(cfg config.Config, name string) (crypto.Signer, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return nil, xerrors.Errorf("invalid identity name '%s'", name)
	}

	path := filepath.Join(cfg.DataDir, clientctl.KeysDir, name+".key")

	data, err := loader.NewFileLoader(path).LoadOrCreate(ed25519.Generator{})
	if err != nil {
		return nil, xerrors.Errorf("identity '%s': %v", name, err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("identity '%s': %v", name, err)
	}

	return signer, nil
}
