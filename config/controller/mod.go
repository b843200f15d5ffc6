// Package controller implements the controller that loads the settings of the
// daemon and injects them for the other controllers.
package controller

import (
	"fmt"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	"golang.org/x/xerrors"
	"gopkg.in/yaml.v2"
)

// NewController returns the controller of the settings. It must be the first
// controller of the daemon.
func NewController() node.Initializer {
	return settings{}
}

// settings loads the configuration when the daemon starts.
//
// - implements node.Initializer
type settings struct{}

// SetCommands implements node.Initializer.
func (settings) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("config")
	cmd.SetDescription("settings of the daemon")

	sub := cmd.SetSubCommand("show")
	sub.SetDescription("print the settings in use")
	sub.SetAction(builder.MakeAction(showAction{}))
}

// OnStart implements node.Initializer. It loads the settings from the file of
// the flags and the environment, and injects them with the deriver of the
// program addresses.
func (settings) OnStart(flags cli.Flags, inj node.Injector) error {
	cfg, err := config.Load(flags.Path(node.ConfigFileFlag))
	if err != nil {
		return err
	}

	privdao.SetLevel(cfg.LogLevel)

	deriver, err := cfg.Deriver()
	if err != nil {
		return xerrors.Errorf("invalid config: %v", err)
	}

	inj.Inject(cfg)
	inj.Inject(deriver)

	privdao.Logger.Debug().
		Str("endpoint", cfg.Endpoint).
		Bool("dev", cfg.DevMode).
		Str("data", cfg.DataDir).
		Msg("settings loaded")

	return nil
}

// OnStop implements node.Initializer.
func (settings) OnStop(node.Injector) error {
	return nil
}

// showAction prints the settings of the daemon as YAML.
//
// - implements node.ActionTemplate
type showAction struct{}

// Execute implements node.ActionTemplate.
func (showAction) Execute(ctx node.Context) error {
	var cfg config.Config

	err := ctx.Injector.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return xerrors.Errorf("failed to encode config: %v", err)
	}

	fmt.Fprint(ctx.Out, string(data))

	return nil
}
