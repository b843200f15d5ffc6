// Package tracing provides the tracers of the vote flows.
package tracing

import (
	"context"
	"io"
	"sync"

	opentracing "github.com/opentracing/opentracing-go"
	_ "github.com/uber/jaeger-client-go"
	jaegercfg "github.com/uber/jaeger-client-go/config"
	"golang.org/x/xerrors"
)

type key int

// FlowKey is the key used to carry the identifier of a vote flow in a
// `context.Context`.
const FlowKey key = iota

var (
	// FlowTag is the span tag used for the identifier of a vote flow.
	FlowTag = "flow"
	// UndefinedFlow is the default FlowTag value used if no FlowKey is present
	// in the context.
	UndefinedFlow = "__UNDEFINED_FLOW__"
	// FlowHeader is the HTTP header that carries the identifier of a vote
	// flow to a remote ledger.
	FlowHeader = "X-Privdao-Flow"
)

type tracerCatalog struct {
	sync.Mutex
	tracerByService map[string]closableTracer
}

type closableTracer struct {
	tracer opentracing.Tracer
	closer io.Closer
}

var catalog = tracerCatalog{
	tracerByService: make(map[string]closableTracer),
}

// WithFlow returns a context carrying the flow identifier.
func WithFlow(ctx context.Context, flow string) context.Context {
	return context.WithValue(ctx, FlowKey, flow)
}

// FlowOf returns the flow identifier of the context, or UndefinedFlow.
func FlowOf(ctx context.Context) string {
	flow, ok := ctx.Value(FlowKey).(string)
	if !ok {
		return UndefinedFlow
	}

	return flow
}

// GetTracer returns an `opentracing.Tracer` instance for the given service.
// The jaeger configuration is read from the environment. Since the tracers
// are cached, it returns an existing one if it has been initialized before.
func GetTracer(service string) (opentracing.Tracer, error) {
	catalog.Lock()
	defer catalog.Unlock()

	tc, ok := catalog.tracerByService[service]
	if ok {
		return tc.tracer, nil
	}

	cfg, err := jaegercfg.FromEnv()
	if err != nil {
		return nil, xerrors.Errorf("error parsing jaeger configuration from environment: %v", err)
	}

	cfg.ServiceName = service
	tracer, closer, err := cfg.NewTracer()
	if err != nil {
		return nil, xerrors.Errorf("error creating new tracer: %v", err)
	}

	catalog.tracerByService[service] = closableTracer{
		tracer: tracer,
		closer: closer,
	}

	return tracer, nil
}

// CloseAll closes all the tracer instances.
func CloseAll() error {
	catalog.Lock()
	defer catalog.Unlock()

	for service, tc := range catalog.tracerByService {
		err := tc.closer.Close()
		if err != nil {
			return xerrors.Errorf("failed to close tracer of %s: %v", service, err)
		}

		delete(catalog.tracerByService, service)
	}

	return nil
}
