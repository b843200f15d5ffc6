// Package controller implements the controller that provides the ledger and
// the cluster to the daemon.
//
// Without an endpoint in the settings, the daemon runs the development
// ledger in the process. Its accounts are kept in a bbolt database and the
// master secret of its cluster in a file, both in the data folder. With an
// endpoint, the daemon is a client of a remote ledger and cluster.
package controller

import (
	"os"
	"path/filepath"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/store/kv"
	"github.com/privdao/privdao/crypto/loader"
	"github.com/privdao/privdao/ledger"
	ledgerhttp "github.com/privdao/privdao/ledger/http"
	"github.com/privdao/privdao/ledger/local"
	"github.com/privdao/privdao/mpc"
	mpchttp "github.com/privdao/privdao/mpc/http"
	mpclocal "github.com/privdao/privdao/mpc/local"
	"golang.org/x/xerrors"
)

const (
	// LedgerFile is the name of the database of the development ledger.
	LedgerFile = "ledger.db"

	// MasterFile is the name of the file of the master secret of the
	// development cluster.
	MasterFile = "cluster.key"
)

var accountsBucket = []byte("accounts")

// NewController returns the controller of the ledger.
func NewController() node.Initializer {
	return &minimal{}
}

// minimal is the initializer of the ledger and the cluster.
//
// - implements node.Initializer
type minimal struct {
	db kv.DB
}

// SetCommands implements node.Initializer.
func (m *minimal) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("ledger")
	cmd.SetDescription("development ledger")

	sub := cmd.SetSubCommand("serve")
	sub.SetDescription("serve the development ledger and its cluster on the proxy")
	sub.SetAction(builder.MakeAction(serveAction{}))
}

// OnStart implements node.Initializer. It injects the ledger and the cluster
// of the settings.
func (m *minimal) OnStart(flags cli.Flags, inj node.Injector) error {
	var cfg config.Config

	err := inj.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var deriver address.Deriver

	err = inj.Resolve(&deriver)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	if cfg.Endpoint != "" {
		return m.startRemote(cfg, inj)
	}

	err = os.MkdirAll(cfg.DataDir, 0700)
	if err != nil {
		return xerrors.Errorf("data dir: %v", err)
	}

	cluster, err := loadCluster(cfg)
	if err != nil {
		return err
	}

	db, err := kv.New(filepath.Join(cfg.DataDir, LedgerFile))
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	store, err := kv.NewBucketStore(db, accountsBucket)
	if err != nil {
		db.Close()
		return xerrors.Errorf("store: %v", err)
	}

	lgr := local.NewLedger(local.NewExecution(deriver, cluster), local.WithStore(store))

	m.db = db

	inj.Inject(lgr)
	inj.Inject(cluster)

	privdao.Logger.Info().Str("data", cfg.DataDir).Msg("development ledger is ready")

	return nil
}

// OnStop implements node.Initializer. It closes the database of the
// development ledger.
func (m *minimal) OnStop(node.Injector) error {
	if m.db == nil {
		return nil
	}

	err := m.db.Close()
	if err != nil {
		return xerrors.Errorf("failed to close db: %v", err)
	}

	m.db = nil

	return nil
}

// startRemote injects the clients of the remote ledger and cluster. In the
// development mode, the cluster is the one of the data folder, which must be
// shared with the process that serves the ledger.
func (m *minimal) startRemote(cfg config.Config, inj node.Injector) error {
	inj.Inject(ledgerhttp.NewClient(cfg.Endpoint))

	if cfg.DevMode {
		cluster, err := loadCluster(cfg)
		if err != nil {
			return err
		}

		inj.Inject(cluster)
	} else {
		endpoint := cfg.ClusterEndpoint
		if endpoint == "" {
			endpoint = cfg.Endpoint
		}

		inj.Inject(mpchttp.NewClient(endpoint))
	}

	privdao.Logger.Info().Str("endpoint", cfg.Endpoint).Msg("remote ledger")

	return nil
}

func loadCluster(cfg config.Config) (*mpclocal.Cluster, error) {
	id, err := cfg.Cluster()
	if err != nil {
		return nil, xerrors.Errorf("invalid config: %v", err)
	}

	master, err := loader.NewFileLoader(filepath.Join(cfg.DataDir, MasterFile)).
		LoadOrCreate(mpclocal.Generator{})
	if err != nil {
		return nil, xerrors.Errorf("cluster master: %v", err)
	}

	return mpclocal.NewCluster(master, mpclocal.WithAccounts(id)), nil
}

// resolve returns the ledger and the cluster of the daemon.
func resolve(inj node.Injector) (ledger.Ledger, mpc.Cluster, error) {
	var lgr ledger.Ledger

	err := inj.Resolve(&lgr)
	if err != nil {
		return nil, nil, xerrors.Errorf("injector: %v", err)
	}

	var cluster mpc.Cluster

	err = inj.Resolve(&cluster)
	if err != nil {
		return nil, nil, xerrors.Errorf("injector: %v", err)
	}

	return lgr, cluster, nil
}
