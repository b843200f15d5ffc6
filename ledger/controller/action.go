package controller

import (
	"fmt"

	"github.com/privdao/privdao/cli/node"
	ledgerhttp "github.com/privdao/privdao/ledger/http"
	"github.com/privdao/privdao/ledger/local"
	mpchttp "github.com/privdao/privdao/mpc/http"
	"github.com/privdao/privdao/proxy"
	"golang.org/x/xerrors"
)

// serveAction registers the handlers of the development ledger and of its
// cluster on the proxy of the daemon.
//
// - implements node.ActionTemplate
type serveAction struct{}

// Execute implements node.ActionTemplate.
func (serveAction) Execute(ctx node.Context) error {
	lgr, cluster, err := resolve(ctx.Injector)
	if err != nil {
		return err
	}

	_, isLocal := lgr.(*local.Ledger)
	if !isLocal {
		return xerrors.New("the ledger of the daemon is remote")
	}

	var p proxy.Proxy

	err = ctx.Injector.Resolve(&p)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	ledgerhttp.RegisterHandlers(p, lgr)
	mpchttp.RegisterHandlers(p, cluster)

	fmt.Fprintf(ctx.Out, "serving the ledger on %s", p.GetAddr())

	return nil
}
