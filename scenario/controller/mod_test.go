package controller

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	clientctl "github.com/privdao/privdao/client/controller"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/privdao/privdao/ledger/local"
	mpclocal "github.com/privdao/privdao/mpc/local"
	"github.com/stretchr/testify/require"
)

func TestMinimal_SetCommands(t *testing.T) {
	builder := &fakeBuilder{}

	NewController().SetCommands(builder)
	require.Equal(t, []string{"setup", "fullflow"}, builder.names)

	require.NoError(t, NewController().OnStart(nil, nil))
	require.NoError(t, NewController().OnStop(nil))
}

func TestSetupAction_Execute(t *testing.T) {
	ctx, cfg := prepContext(t)

	out := new(bytes.Buffer)
	ctx.Out = out
	ctx.Flags = node.FlagSet{
		"label": "gate",
		"voter": []interface{}{"alice", "bob"},
	}

	err := setupAction{}.Execute(ctx)
	require.NoError(t, err, out.String())
	require.Contains(t, out.String(), "[3/5] create the gate token ... ok")
	require.Contains(t, out.String(), "[4/5] fund 2 voter(s) ... ok")
	require.FileExists(t, filepath.Join(cfg.DataDir, clientctl.KeysDir, "alice.key"))
	require.FileExists(t, filepath.Join(cfg.DataDir, clientctl.KeysDir, "bob.key"))

	ctx.Flags = node.FlagSet{"voter": []interface{}{"../alice"}}

	err = setupAction{}.Execute(ctx)
	require.EqualError(t, err, "invalid identity name '../alice'")
}

func TestFullFlowAction_Execute(t *testing.T) {
	ctx, _ := prepContext(t)

	ctx.Flags = node.FlagSet{"voters": 0}

	err := fullFlowAction{}.Execute(ctx)
	require.EqualError(t, err, "invalid number of voters: 0")
}

func TestMakeEnv_Failures(t *testing.T) {
	ctx := node.Context{
		Injector: node.NewInjector(),
		Flags:    node.FlagSet{},
		Out:      new(bytes.Buffer),
	}

	_, _, err := makeEnv(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'config.Config'")

	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	ctx.Injector.Inject(cfg)

	_, _, err = makeEnv(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'address.Deriver'")

	deriver, err := cfg.Deriver()
	require.NoError(t, err)
	ctx.Injector.Inject(deriver)

	_, _, err = makeEnv(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'ledger.Ledger'")

	ctx.Injector.Inject(fake.NewLedger())

	_, _, err = makeEnv(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'mpc.Cluster'")

	ctx.Injector.Inject(fake.NewCluster())

	env, _, err := makeEnv(ctx)
	require.NoError(t, err)
	require.Nil(t, env.Revealer)
	require.NotNil(t, env.Authority)
}

// -----------------------------------------------------------------------------
// Utility functions

func prepContext(t *testing.T) (node.Context, config.Config) {
	cfg := config.Default()
	cfg.DataDir = t.TempDir()

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
	ctx.Injector.Inject(cluster)

	return ctx, cfg
}

type fakeCommand struct {
	cli.CommandBuilder
}

func (fakeCommand) SetDescription(string) {}

func (fakeCommand) SetFlags(...cli.Flag) {}

func (fakeCommand) SetAction(cli.Action) {}

type fakeBuilder struct {
	node.Builder
	names []string
}

func (b *fakeBuilder) SetCommand(name string) cli.CommandBuilder {
	b.names = append(b.names, name)
	return fakeCommand{}
}

func (b *fakeBuilder) MakeAction(node.ActionTemplate) cli.Action {
	return nil
}
