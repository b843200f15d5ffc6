// Package controller implements the commands of the scripted runs: the setup
// of the gate token and the full voting flow used to check a deployment.
//
// Both scripts print one line per step and return an error, hence a non-zero
// exit status, at the first step that fails.
package controller

import (
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/scenario"
)

// NewController returns the controller of the scripts.
func NewController() node.Initializer {
	return minimal{}
}

// minimal is the initializer of the scripts. They only use the components of
// the other controllers.
//
// - implements node.Initializer
type minimal struct{}

// SetCommands implements node.Initializer.
func (minimal) SetCommands(builder node.Builder) {
	labelFlag := cli.StringFlag{
		Name:  "label",
		Usage: "label of the class of gate tokens",
		Value: scenario.DefaultLabel,
	}

	cmd := builder.SetCommand("setup")
	cmd.SetDescription("create the gate token and fund the voters")
	cmd.SetFlags(
		labelFlag,
		cli.StringSliceFlag{
			Name:  "voter",
			Usage: "name of an identity of the keys folder to fund, created if missing",
		},
	)
	cmd.SetAction(builder.MakeAction(setupAction{}))

	cmd = builder.SetCommand("fullflow")
	cmd.SetDescription("run a complete vote with fresh voters")
	cmd.SetFlags(
		labelFlag,
		cli.IntFlag{
			Name:  "voters",
			Usage: "number of voters",
			Value: defaultVoters,
		},
		cli.DurationFlag{
			Name:  "duration",
			Usage: "voting period of the proposal",
			Value: scenario.DefaultDuration,
		},
	)
	cmd.SetAction(builder.MakeAction(fullFlowAction{}))
}

// OnStart implements node.Initializer.
func (minimal) OnStart(cli.Flags, node.Injector) error {
	return nil
}

// OnStop implements node.Initializer.
func (minimal) OnStop(node.Injector) error {
	return nil
}
