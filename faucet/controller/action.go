package controller

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/crypto/loader"
	"github.com/privdao/privdao/faucet"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/proxy"
	proxyhttp "github.com/privdao/privdao/proxy/http"
	"golang.org/x/xerrors"
)

var startTimeout = 10 * time.Second

// startAction creates the gate token of the faucet authority and serves the
// claims.
//
// - implements node.ActionTemplate
type startAction struct{}

// Execute implements node.ActionTemplate.
func (startAction) Execute(ctx node.Context) error {
	var running *service

	err := ctx.Injector.Resolve(&running)
	if err == nil && running.proxy.GetAddr() != nil {
		return xerrors.Errorf("faucet already started on %s", running.proxy.GetAddr())
	}

	var cfg config.Config

	err = ctx.Injector.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var deriver address.Deriver

	err = ctx.Injector.Resolve(&deriver)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var lgr ledger.Ledger

	err = ctx.Injector.Resolve(&lgr)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	data, err := loader.NewFileLoader(filepath.Join(cfg.DataDir, KeyFile)).
		LoadOrCreate(ed25519.Generator{})
	if err != nil {
		return xerrors.Errorf("authority key: %v", err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return xerrors.Errorf("authority key: %v", err)
	}

	callCtx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()

	mint, err := faucet.CreateMint(callCtx, lgr, deriver, signer, ctx.Flags.String("label"))
	if err != nil {
		return err
	}

	listen := ctx.Flags.String("listen")
	if listen == "" {
		listen = cfg.Faucet.Listen
	}

	srv := proxyhttp.NewHTTP(listen,
		proxyhttp.WithAllowedOrigins(ctx.Flags.StringSlice("allowed-origins")...))

	limiter := faucet.NewLimiter(cfg.Faucet.Window, cfg.Faucet.MaxClaims)
	minter := faucet.NewTokenMinter(lgr, signer, mint)

	faucet.NewServer(limiter, minter, deriver, cfg.Faucet.Amount).RegisterHandlers(srv)

	addr, err := proxy.Serve(srv, startTimeout)
	if err != nil {
		return err
	}

	ctx.Injector.Inject(&service{proxy: srv, mint: mint})

	fmt.Fprintf(ctx.Out, "faucet of the mint %s on %s", mint, addr)

	return nil
}

// claimAction asks tokens to a faucet for a recipient.
//
// - implements node.ActionTemplate
type claimAction struct{}

// Execute implements node.ActionTemplate.
func (claimAction) Execute(ctx node.Context) error {
	var cfg config.Config

	err := ctx.Injector.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	recipient, err := address.Parse(ctx.Flags.String("recipient"))
	if err != nil {
		return xerrors.Errorf("invalid recipient: %v", err)
	}

	endpoint := ctx.Flags.String("endpoint")
	if endpoint == "" {
		endpoint = cfg.FaucetEndpoint
	}
	if endpoint == "" {
		endpoint = "http://" + cfg.Faucet.Listen
	}

	callCtx, cancel := context.WithTimeout(context.Background(), cfg.CallTimeout)
	defer cancel()

	res, err := faucet.NewClient(endpoint).Claim(callCtx, recipient)
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Out, "received %d tokens of %s in %s (%s)", res.Amount, res.Mint, res.TokenAccount, res.TxSignature)

	return nil
}
