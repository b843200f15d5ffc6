package controller

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/ledger"
	ledgerhttp "github.com/privdao/privdao/ledger/http"
	"github.com/privdao/privdao/ledger/local"
	"github.com/privdao/privdao/mpc"
	mpchttp "github.com/privdao/privdao/mpc/http"
	mpclocal "github.com/privdao/privdao/mpc/local"
	"github.com/privdao/privdao/proxy"
	proxyhttp "github.com/privdao/privdao/proxy/http"
	"github.com/stretchr/testify/require"
)

func TestMinimal_OnStart_Local(t *testing.T) {
	inj, cfg := prepInjector(t)

	ctrl := NewController()

	err := ctrl.OnStart(node.FlagSet{}, inj)
	require.NoError(t, err)

	defer ctrl.OnStop(inj)

	var lgr ledger.Ledger
	require.NoError(t, inj.Resolve(&lgr))
	require.IsType(t, &local.Ledger{}, lgr)

	var cluster mpc.Cluster
	require.NoError(t, inj.Resolve(&cluster))
	require.IsType(t, &mpclocal.Cluster{}, cluster)

	accounts, err := cluster.RequiredAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	require.Equal(t, config.DefaultClusterID, accounts[0].String())

	require.FileExists(t, filepath.Join(cfg.DataDir, LedgerFile))
	require.FileExists(t, filepath.Join(cfg.DataDir, MasterFile))
}

func TestMinimal_OnStart_Restart(t *testing.T) {
	inj, cfg := prepInjector(t)

	ctrl := NewController()
	require.NoError(t, ctrl.OnStart(node.FlagSet{}, inj))
	require.NoError(t, ctrl.OnStop(inj))

	master, err := os.ReadFile(filepath.Join(cfg.DataDir, MasterFile))
	require.NoError(t, err)

	require.NoError(t, ctrl.OnStart(node.FlagSet{}, inj))
	require.NoError(t, ctrl.OnStop(inj))

	again, err := os.ReadFile(filepath.Join(cfg.DataDir, MasterFile))
	require.NoError(t, err)
	require.Equal(t, master, again)

	// Stopping twice is harmless.
	require.NoError(t, ctrl.OnStop(inj))
}

func TestMinimal_OnStart_Remote(t *testing.T) {
	inj, cfg := prepInjector(t)

	cfg.Endpoint = "http://127.0.0.1:8080"
	inj.Inject(cfg)

	err := NewController().OnStart(node.FlagSet{}, inj)
	require.NoError(t, err)

	var lgr ledger.Ledger
	require.NoError(t, inj.Resolve(&lgr))
	require.IsType(t, &ledgerhttp.Client{}, lgr)

	var cluster mpc.Cluster
	require.NoError(t, inj.Resolve(&cluster))
	require.IsType(t, &mpchttp.Client{}, cluster)

	require.NoFileExists(t, filepath.Join(cfg.DataDir, LedgerFile))
}

func TestMinimal_OnStart_RemoteDevMode(t *testing.T) {
	inj, cfg := prepInjector(t)

	cfg.Endpoint = "http://127.0.0.1:8080"
	cfg.DevMode = true
	inj.Inject(cfg)

	err := NewController().OnStart(node.FlagSet{}, inj)
	require.NoError(t, err)

	var cluster mpc.Cluster
	require.NoError(t, inj.Resolve(&cluster))
	require.IsType(t, &mpclocal.Cluster{}, cluster)
}

func TestMinimal_OnStart_Failures(t *testing.T) {
	ctrl := NewController()

	inj := node.NewInjector()

	err := ctrl.OnStart(node.FlagSet{}, inj)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'config.Config'")

	cfg := config.Default()
	inj.Inject(cfg)

	err = ctrl.OnStart(node.FlagSet{}, inj)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'address.Deriver'")

	deriver, err := cfg.Deriver()
	require.NoError(t, err)
	inj.Inject(deriver)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	cfg.DataDir = filepath.Join(file, "data")
	inj.Inject(cfg)

	err = ctrl.OnStart(node.FlagSet{}, inj)
	require.Error(t, err)
	require.Contains(t, err.Error(), "data dir: ")
}

func TestServeAction_Execute(t *testing.T) {
	inj, _ := prepInjector(t)

	ctrl := NewController()
	require.NoError(t, ctrl.OnStart(node.FlagSet{}, inj))

	defer ctrl.OnStop(inj)

	out := new(bytes.Buffer)
	ctx := node.Context{
		Injector: inj,
		Flags:    node.FlagSet{},
		Out:      out,
	}

	err := serveAction{}.Execute(ctx)
	require.EqualError(t, err,
		"failed to resolve the proxy: couldn't find dependency for 'proxy.Proxy'")

	srv := proxyhttp.NewHTTP("127.0.0.1:0")
	addr, err := proxy.Serve(srv, time.Second)
	require.NoError(t, err)

	defer srv.Stop()

	inj.Inject(srv)

	err = serveAction{}.Execute(ctx)
	require.NoError(t, err)
	require.Equal(t, "serving the ledger on "+addr.String(), out.String())

	url := "http://" + addr.String()

	logs, err := ledgerhttp.NewClient(url).GetLogs(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, logs)

	accounts, err := mpchttp.NewClient(url).RequiredAccounts(context.Background())
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

func TestServeAction_Remote(t *testing.T) {
	inj := node.NewInjector()
	inj.Inject(ledgerhttp.NewClient("http://127.0.0.1:8080"))
	inj.Inject(mpchttp.NewClient("http://127.0.0.1:8080"))

	ctx := node.Context{
		Injector: inj,
		Flags:    node.FlagSet{},
		Out:      new(bytes.Buffer),
	}

	err := serveAction{}.Execute(ctx)
	require.EqualError(t, err, "the ledger of the daemon is remote")

	ctx.Injector = node.NewInjector()

	err = serveAction{}.Execute(ctx)
	require.EqualError(t, err,
		"injector: couldn't find dependency for 'ledger.Ledger'")
}

// -----------------------------------------------------------------------------
// Utility functions

func prepInjector(t *testing.T) (node.Injector, config.Config) {
	cfg := config.Default()
	cfg.DataDir = filepath.Join(t.TempDir(), "data")

	deriver, err := cfg.Deriver()
	require.NoError(t, err)

	inj := node.NewInjector()
	inj.Inject(cfg)
	inj.Inject(deriver)

	return inj, cfg
}
