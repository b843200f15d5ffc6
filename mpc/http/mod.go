// Package http implements the JSON transport of the cluster requests of the
// voters.
package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/proxy"
	proxyhttp "github.com/privdao/privdao/proxy/http"
	"golang.org/x/xerrors"
)

const (
	contextsPath = "/mpc/contexts"
	accountsPath = "/mpc/accounts"
	revealsPath  = "/mpc/reveals"

	maxBodySize    = 1 << 16
	defaultTimeout = 10 * time.Second
)

// ContextRequestJSON is the request of an encryption context.
type ContextRequestJSON struct {
	ComputationID mpc.ComputationID `json:"computation_id"`
	Circuit       string            `json:"circuit"`
}

// ContextJSON is the message of an encryption context.
type ContextJSON struct {
	ComputationID mpc.ComputationID `json:"computation_id"`
	Circuit       string            `json:"circuit"`
	KeyType       string            `json:"key_type"`
	Key           []byte            `json:"key"`
}

// AccountsJSON is the message of the accounts a vote must reference.
type AccountsJSON struct {
	Accounts []address.Address `json:"accounts"`
}

// RevealRequestJSON is the request to open the accumulator of a tally.
type RevealRequestJSON struct {
	ComputationID mpc.ComputationID `json:"computation_id"`
	Accumulator   []byte            `json:"accumulator"`
}

// CountsJSON is the message of the counts of an opened accumulator.
type CountsJSON struct {
	Yes     uint64 `json:"yes"`
	No      uint64 `json:"no"`
	Abstain uint64 `json:"abstain"`
}

// ErrorJSON is the body of a failed request.
type ErrorJSON struct {
	Message string `json:"message"`
}

// RegisterHandlers registers the handlers of the cluster on the proxy. The
// reveals are served only when the cluster can open the accumulators.
func RegisterHandlers(p proxy.Proxy, cluster mpc.Cluster) {
	h := handler{cluster: cluster}

	p.RegisterHandler(contextsPath, h.deriveContext, http.MethodPost)
	p.RegisterHandler(accountsPath, h.requiredAccounts, http.MethodGet)

	r, ok := cluster.(revealer)
	if ok {
		h.revealer = r
		p.RegisterHandler(revealsPath, h.reveal, http.MethodPost)
	}
}

type revealer interface {
	Reveal(id mpc.ComputationID, acc []byte) (mpc.Counts, error)
}

type handler struct {
	cluster  mpc.Cluster
	revealer revealer
}

func (h handler) deriveContext(w http.ResponseWriter, r *http.Request) {
	var req ContextRequestJSON

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorJSON{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	ctx, err := h.cluster.DeriveContext(r.Context(), req.ComputationID, req.Circuit)
	if err != nil {
		writeJSON(w, r, http.StatusUnprocessableEntity, ErrorJSON{Message: err.Error()})
		return
	}

	writeJSON(w, r, http.StatusOK, ContextJSON{
		ComputationID: ctx.ComputationID,
		Circuit:       ctx.Circuit,
		KeyType:       ctx.KeyType,
		Key:           ctx.Key,
	})
}

func (h handler) requiredAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.cluster.RequiredAccounts(r.Context())
	if err != nil {
		writeJSON(w, r, http.StatusInternalServerError, ErrorJSON{Message: err.Error()})
		return
	}

	writeJSON(w, r, http.StatusOK, AccountsJSON{Accounts: accounts})
}

func (h handler) reveal(w http.ResponseWriter, r *http.Request) {
	var req RevealRequestJSON

	err := json.NewDecoder(io.LimitReader(r.Body, maxBodySize)).Decode(&req)
	if err != nil {
		writeJSON(w, r, http.StatusBadRequest, ErrorJSON{Message: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	counts, err := h.revealer.Reveal(req.ComputationID, req.Accumulator)
	if err != nil {
		writeJSON(w, r, http.StatusUnprocessableEntity, ErrorJSON{Message: err.Error()})
		return
	}

	writeJSON(w, r, http.StatusOK, CountsJSON{
		Yes:     counts.Yes,
		No:      counts.No,
		Abstain: counts.Abstain,
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(value)
	if err != nil {
		privdao.Logger.Warn().
			Str("requestID", proxyhttp.RequestID(r.Context())).
			Err(err).
			Msg("failed to write response")
	}
}

// Client is a cluster reached through its JSON transport. The failures to
// reach the cluster are transient errors.
//
// - implements mpc.Cluster
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client of the cluster at the base URL.
func NewClient(base string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}
}

// DeriveContext implements mpc.Cluster.
func (c *Client) DeriveContext(ctx context.Context, id mpc.ComputationID, circuit string) (mpc.Context, error) {
	body, err := json.Marshal(ContextRequestJSON{ComputationID: id, Circuit: circuit})
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("failed to encode request: %v", err)
	}

	var res ContextJSON

	err = c.do(ctx, http.MethodPost, contextsPath, body, &res)
	if err != nil {
		return mpc.Context{}, xerrors.Errorf("failed to derive context: %w", err)
	}

	return mpc.Context{
		ComputationID: res.ComputationID,
		Circuit:       res.Circuit,
		KeyType:       res.KeyType,
		Key:           res.Key,
	}, nil
}

// RequiredAccounts implements mpc.Cluster.
func (c *Client) RequiredAccounts(ctx context.Context) (mpc.AccountSet, error) {
	var res AccountsJSON

	err := c.do(ctx, http.MethodGet, accountsPath, nil, &res)
	if err != nil {
		return nil, xerrors.Errorf("failed to get accounts: %w", err)
	}

	return res.Accounts, nil
}

// Reveal opens the accumulator of a tally. It fails when the cluster does not
// serve the reveals.
//
// - implements client.Revealer
func (c *Client) Reveal(id mpc.ComputationID, acc []byte) (mpc.Counts, error) {
	body, err := json.Marshal(RevealRequestJSON{ComputationID: id, Accumulator: acc})
	if err != nil {
		return mpc.Counts{}, xerrors.Errorf("failed to encode request: %v", err)
	}

	var res CountsJSON

	err = c.do(context.Background(), http.MethodPost, revealsPath, body, &res)
	if err != nil {
		return mpc.Counts{}, xerrors.Errorf("failed to reveal: %w", err)
	}

	return mpc.Counts{Yes: res.Yes, No: res.No, Abstain: res.Abstain}, nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return xerrors.Errorf("failed to create request: %v", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		var netErr net.Error

		switch {
		case xerrors.Is(err, context.Canceled):
			return err
		case xerrors.Is(err, context.DeadlineExceeded),
			xerrors.As(err, &netErr) && netErr.Timeout():
			return ledger.NewTransient(ledger.ClassTimeout, err)
		default:
			return ledger.NewTransient(ledger.ClassUnavailable, err)
		}
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return ledger.NewTransient(ledger.ClassUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		var msg ErrorJSON
		_ = json.Unmarshal(data, &msg)

		if msg.Message == "" {
			msg.Message = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return ledger.NewTransient(ledger.ClassRateLimited, xerrors.New(msg.Message))
		case resp.StatusCode >= http.StatusInternalServerError:
			return ledger.NewTransient(ledger.ClassUnavailable, xerrors.New(msg.Message))
		default:
			return xerrors.New(msg.Message)
		}
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return xerrors.Errorf("failed to decode response: %v", err)
	}

	return nil
}
