package controller

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/faucet"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/ledger/local"
	mpclocal "github.com/privdao/privdao/mpc/local"
	"github.com/stretchr/testify/require"
)

func TestStartAction_Execute(t *testing.T) {
	ctx, cfg := prepContext(t)

	out := new(bytes.Buffer)
	ctx.Out = out
	ctx.Flags = node.FlagSet{"label": defaultLabel}

	err := startAction{}.Execute(ctx)
	require.NoError(t, err)
	require.FileExists(t, filepath.Join(cfg.DataDir, KeyFile))

	var srv *service
	require.NoError(t, ctx.Injector.Resolve(&srv))
	require.Equal(t, "faucet of the mint "+srv.mint.String()+" on "+srv.proxy.GetAddr().String(),
		out.String())

	defer NewController().OnStop(ctx.Injector)

	err = startAction{}.Execute(ctx)
	require.EqualError(t, err, "faucet already started on "+srv.proxy.GetAddr().String())

	recipient, err := address.FromPublicKey(ed25519.NewSigner().GetPublicKey())
	require.NoError(t, err)

	out.Reset()
	ctx.Flags = node.FlagSet{
		"recipient": recipient.String(),
		"endpoint":  "http://" + srv.proxy.GetAddr().String(),
	}

	err = claimAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Contains(t, out.String(), "received 1000000 tokens of "+srv.mint.String())

	var lgr ledger.Ledger
	require.NoError(t, ctx.Injector.Resolve(&lgr))

	var deriver address.Deriver
	require.NoError(t, ctx.Injector.Resolve(&deriver))

	derived, err := deriver.TokenAccount(recipient, srv.mint)
	require.NoError(t, err)

	account, found, err := ledger.Fetch[types.TokenAccount](context.Background(), lgr, derived.Address)
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, uint64(faucet.DefaultAmount), account.Amount)
}

func TestStartAction_SameMintAfterRestart(t *testing.T) {
	ctx, _ := prepContext(t)

	ctx.Flags = node.FlagSet{"label": defaultLabel}

	require.NoError(t, startAction{}.Execute(ctx))

	var first *service
	require.NoError(t, ctx.Injector.Resolve(&first))
	require.NoError(t, NewController().OnStop(ctx.Injector))

	require.Eventually(t, func() bool { return first.proxy.GetAddr() == nil },
		startTimeout, pollDelay)

	require.NoError(t, startAction{}.Execute(ctx))

	var second *service
	require.NoError(t, ctx.Injector.Resolve(&second))
	require.Equal(t, first.mint, second.mint)

	require.NoError(t, NewController().OnStop(ctx.Injector))
}

func TestStartAction_Failures(t *testing.T) {
	ctx := node.Context{
		Injector: node.NewInjector(),
		Flags:    node.FlagSet{},
		Out:      new(bytes.Buffer),
	}

	err := startAction{}.Execute(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'config.Config'")

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ctx.Injector.Inject(cfg)

	err = startAction{}.Execute(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'address.Deriver'")

	deriver, err := cfg.Deriver()
	require.NoError(t, err)
	ctx.Injector.Inject(deriver)

	err = startAction{}.Execute(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'ledger.Ledger'")

	ctx.Injector.Inject(fake.NewBadLedger())

	err = startAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), fake.GetError().Error())
}

func TestClaimAction_Failures(t *testing.T) {
	ctx := node.Context{
		Injector: node.NewInjector(),
		Flags:    node.FlagSet{"recipient": "abc"},
		Out:      new(bytes.Buffer),
	}

	err := claimAction{}.Execute(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'config.Config'")

	cfg := config.Default()
	ctx.Injector.Inject(cfg)

	err = claimAction{}.Execute(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid recipient: ")

	ctx.Flags = node.FlagSet{
		"recipient": address.Address{1}.String(),
		"endpoint":  "http://127.0.0.1:1",
	}

	err = claimAction{}.Execute(ctx)
	require.Error(t, err)
	require.True(t, ledger.IsTransient(err))
}

// -----------------------------------------------------------------------------
// Utility functions

const pollDelay = 10 * time.Millisecond

func prepContext(t *testing.T) (node.Context, config.Config) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Faucet.Listen = "127.0.0.1:0"

	deriver, err := cfg.Deriver()
	require.NoError(t, err)

	cluster := mpclocal.NewCluster([]byte("master"))

	ctx := node.Context{
		Injector: node.NewInjector(),
		Flags:    node.FlagSet{},
		Out:      new(bytes.Buffer),
	}

	ctx.Injector.Inject(cfg)
	ctx.Injector.Inject(deriver)
	ctx.Injector.Inject(local.NewLedger(local.NewExecution(deriver, cluster)))

	return ctx, cfg
}
