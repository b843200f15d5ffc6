// Package controller implements the commands of the faucet of the
// development network.
package controller

import (
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/proxy"
)

const (
	// KeyFile is the name of the file of the key of the faucet authority.
	KeyFile = "faucet.key"

	defaultLabel = "gate"
)

// NewController returns the controller of the faucet.
func NewController() node.Initializer {
	return minimal{}
}

// minimal is the initializer of the faucet commands. The faucet itself is
// started on demand.
//
// - implements node.Initializer
type minimal struct{}

// SetCommands implements node.Initializer.
func (minimal) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("faucet")
	cmd.SetDescription("faucet of the gate tokens")

	sub := cmd.SetSubCommand("start")
	sub.SetDescription("create the gate token and serve the claims")
	sub.SetFlags(
		cli.StringFlag{
			Name:  "listen",
			Usage: "address of the faucet, the settings are used when empty",
		},
		cli.StringFlag{
			Name:  "label",
			Usage: "label of the class of gate tokens",
			Value: defaultLabel,
		},
		cli.StringSliceFlag{
			Name:  "allowed-origins",
			Usage: "origins allowed to send cross-origin requests",
		},
	)
	sub.SetAction(builder.MakeAction(startAction{}))

	sub = cmd.SetSubCommand("claim")
	sub.SetDescription("claim gate tokens from a faucet")
	sub.SetFlags(
		cli.StringFlag{
			Name:     "recipient",
			Usage:    "address of the recipient of the tokens",
			Required: true,
		},
		cli.StringFlag{
			Name:  "endpoint",
			Usage: "URL of the faucet, the settings are used when empty",
		},
	)
	sub.SetAction(builder.MakeAction(claimAction{}))
}

// OnStart implements node.Initializer.
func (minimal) OnStart(cli.Flags, node.Injector) error {
	return nil
}

// OnStop implements node.Initializer. It stops the faucet when it runs.
func (minimal) OnStop(inj node.Injector) error {
	var srv *service

	err := inj.Resolve(&srv)
	if err == nil {
		srv.proxy.Stop()
	}

	return nil
}

// service is a running faucet.
type service struct {
	proxy proxy.Proxy
	mint  address.Address
}
