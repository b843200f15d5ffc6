package controller

import (
	"fmt"
	"time"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/proxy"
	"github.com/privdao/privdao/proxy/http"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/xerrors"
)

var startTimeout = 10 * time.Second

var proxyFac = func(addr string, origins ...string) proxy.Proxy {
	return http.NewHTTP(addr, http.WithAllowedOrigins(origins...))
}

type startAction struct{}

// Execute implements node.ActionTemplate. It starts and injects the proxy http
// server.
func (a startAction) Execute(ctx node.Context) error {
	var running proxy.Proxy

	err := ctx.Injector.Resolve(&running)
	if err == nil && running.GetAddr() != nil {
		return xerrors.Errorf("proxy already started on %s", running.GetAddr())
	}

	srv := proxyFac(ctx.Flags.String("clientaddr"), ctx.Flags.StringSlice("allowed-origins")...)

	addr, err := proxy.Serve(srv, startTimeout)
	if err != nil {
		return err
	}

	ctx.Injector.Inject(srv)

	fmt.Fprintf(ctx.Out, "started proxy server on %s", addr)

	return nil
}

type promAction struct{}

// Execute implements node.ActionTemplate. It registers the Prometheus handler.
func (a promAction) Execute(ctx node.Context) error {
	var p proxy.Proxy

	err := ctx.Injector.Resolve(&p)
	if err != nil {
		return xerrors.Errorf("failed to resolve the proxy: %v", err)
	}

	registerCollectors()

	path := ctx.Flags.String("path")

	p.RegisterHandler(path, promhttp.Handler().ServeHTTP)
	fmt.Fprintf(ctx.Out, "registered prometheus service on %q", path)

	return nil
}

// registerCollectors registers the collectors of the packages once. A
// collector that is already registered is skipped.
func registerCollectors() {
	for _, c := range privdao.PromCollectors {
		err := prometheus.DefaultRegisterer.Register(c)
		if err == nil {
			continue
		}

		var already prometheus.AlreadyRegisteredError
		if !xerrors.As(err, &already) {
			privdao.Logger.Warn().Err(err).Msg("failed to register collector")
		}
	}
}
