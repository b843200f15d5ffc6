// Package controller implements the commands of the HTTP proxy of the daemon.
//
// The metrics endpoint starts with the daemon when the settings give it an
// address. The proxy of the services is started on demand.
package controller

import (
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/proxy"
	"github.com/privdao/privdao/proxy/http"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"
)

const (
	defaultAddr = "127.0.0.1:8080"
	defaultProm = "/metrics"
)

// NewController returns a new controller of the proxy.
func NewController() node.Initializer {
	return &minimal{}
}

// minimal is an initializer with the minimum set of commands. It creates and
// injects the proxy of the services when asked to.
//
// - implements node.Initializer
type minimal struct {
	metrics proxy.Proxy
}

// SetCommands implements node.Initializer.
func (m *minimal) SetCommands(builder node.Builder) {
	cmd := builder.SetCommand("proxy")
	cmd.SetDescription("HTTP server of the services")

	sub := cmd.SetSubCommand("start")
	sub.SetDescription("start the proxy http server")
	sub.SetFlags(
		cli.StringFlag{
			Name:  "clientaddr",
			Usage: "the address of the http client",
			Value: defaultAddr,
		},
		cli.StringSliceFlag{
			Name:  "allowed-origins",
			Usage: "origins allowed to send cross-origin requests",
		},
	)
	sub.SetAction(builder.MakeAction(startAction{}))

	sub = cmd.SetSubCommand("prom")
	sub.SetDescription("registers the collectors and starts a prometheus handler")
	sub.SetFlags(cli.StringFlag{
		Name:  "path",
		Usage: "the handler path",
		Value: defaultProm,
	})
	sub.SetAction(builder.MakeAction(promAction{}))
}

// OnStart implements node.Initializer. It starts the metrics endpoint when the
// settings have its address.
func (m *minimal) OnStart(flags cli.Flags, inj node.Injector) error {
	var cfg config.Config

	err := inj.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	if cfg.Metrics.Listen == "" {
		return nil
	}

	registerCollectors()

	srv := proxyFac(cfg.Metrics.Listen)
	srv.RegisterHandler(defaultProm, promhttp.Handler().ServeHTTP)

	addr, err := proxy.Serve(srv, startTimeout)
	if err != nil {
		return xerrors.Errorf("metrics: %v", err)
	}

	privdao.Logger.Info().Str("addr", addr.String()).Msg("metrics are served")

	m.metrics = srv

	return nil
}

// OnStop implements node.Initializer. It stops the http servers.
func (m *minimal) OnStop(inj node.Injector) error {
	var p *http.HTTP

	err := inj.Resolve(&p)
	if err == nil {
		p.Stop()
	}

	if m.metrics != nil {
		m.metrics.Stop()
	}

	return nil
}
