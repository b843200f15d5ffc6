// Package main implements the privdao daemon and its commands.
//
// Without an endpoint in the settings, the daemon runs the development ledger
// and its cluster in the process.
//
//	privdao start
//	privdao dao keygen --name alice
//	privdao setup --voter alice
//	privdao dao proposal create --key alice --title "Raise the budget"
//	privdao dao vote --key alice --proposal XX --choice yes
//	privdao fullflow --voters 3 --duration 10s
//
// A command exits with a non-zero status when it fails.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/privdao/privdao/cli/node"
	client "github.com/privdao/privdao/client/controller"
	settings "github.com/privdao/privdao/config/controller"
	faucet "github.com/privdao/privdao/faucet/controller"
	ledger "github.com/privdao/privdao/ledger/controller"
	proxy "github.com/privdao/privdao/proxy/http/controller"
	scenario "github.com/privdao/privdao/scenario/controller"
)

type config struct {
	Channel chan os.Signal
	Writer  io.Writer
}

func main() {
	err := run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	return runWithCfg(args, config{Writer: os.Stdout})
}

func runWithCfg(args []string, cfg config) error {
	builder := node.NewBuilderWithCfg(
		cfg.Channel,
		cfg.Writer,
		settings.NewController(),
		ledger.NewController(),
		proxy.NewController(),
		client.NewController(),
		faucet.NewController(),
		scenario.NewController(),
	)

	app := builder.Build()

	return app.Run(args)
}
