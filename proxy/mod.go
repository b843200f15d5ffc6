// Package proxy defines the HTTP servers that expose the services of the
// process: the ledger of the development mode, the cluster and the faucet.
package proxy

import (
	"net"
	"net/http"
	"time"

	"golang.org/x/xerrors"
)

const pollDelay = 20 * time.Millisecond

// Proxy defines the primitives of an HTTP server that handles client side
// requests.
type Proxy interface {
	// Listen starts the server. This call is blocking until Stop is called.
	Listen() error

	// Stop stops the server.
	Stop()

	// GetAddr returns the address the server listens on, or nil if it is not
	// listening.
	GetAddr() net.Addr

	// RegisterHandler registers a handler for the path and the methods. Any
	// method is accepted when none is given.
	RegisterHandler(path string, handler http.HandlerFunc, methods ...string)
}

// Serve starts the proxy in the background and returns once it listens, or
// with the error of the listener. It gives up after the timeout.
func Serve(p Proxy, timeout time.Duration) (net.Addr, error) {
	errs := make(chan error, 1)

	go func() {
		errs <- p.Listen()
	}()

	deadline := time.After(timeout)

	for {
		addr := p.GetAddr()
		if addr != nil {
			return addr, nil
		}

		select {
		case err := <-errs:
			if err == nil {
				err = xerrors.New("server stopped")
			}

			return nil, xerrors.Errorf("failed to start proxy server: %v", err)
		case <-deadline:
			p.Stop()
			return nil, xerrors.Errorf("failed to start proxy server: no address after %v", timeout)
		case <-time.After(pollDelay):
		}
	}
}
