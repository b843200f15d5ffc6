package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/internal/tracing"
	"github.com/privdao/privdao/ledger"
	sjson "github.com/privdao/privdao/serde/json"
	"golang.org/x/xerrors"
)

const defaultTimeout = 10 * time.Second

// Client is a ledger reached through its JSON transport.
//
// - implements ledger.Ledger
type Client struct {
	base   string
	client *http.Client
}

// ClientOption is the type of option to set some fields of a client.
type ClientOption func(*Client)

// WithHTTPClient sets the HTTP client used to reach the ledger.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.client = c
	}
}

// NewClient returns a client of the ledger at the base URL.
func NewClient(base string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: defaultTimeout},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// GetAccount implements ledger.Reader.
func (c *Client) GetAccount(ctx context.Context, addr address.Address) (ledger.Account, error) {
	var res AccountJSON

	err := c.do(ctx, http.MethodGet, "/accounts/"+addr.String(), nil, &res)
	if err != nil {
		return ledger.Account{}, xerrors.Errorf("failed to get account %v: %w", addr, err)
	}

	return ledger.Account{Address: res.Address, Data: res.Data}, nil
}

// ListAccounts implements ledger.Reader.
func (c *Client) ListAccounts(ctx context.Context, kind address.Kind) ([]ledger.Account, error) {
	var res []AccountJSON

	path := accountsPath + "?kind=" + url.QueryEscape(string(kind))

	err := c.do(ctx, http.MethodGet, path, nil, &res)
	if err != nil {
		return nil, xerrors.Errorf("failed to list %s: %w", kind, err)
	}

	accounts := make([]ledger.Account, len(res))
	for i, account := range res {
		accounts[i] = ledger.Account{Address: account.Address, Data: account.Data}
	}

	return accounts, nil
}

// GetNonce implements ledger.Ledger.
func (c *Client) GetNonce(ctx context.Context, identity crypto.PublicKey) (uint64, error) {
	text, err := identity.MarshalText()
	if err != nil {
		return 0, xerrors.Errorf("failed to marshal identity: %v", err)
	}

	var res NonceJSON

	err = c.do(ctx, http.MethodGet, "/nonces/"+string(text), nil, &res)
	if err != nil {
		return 0, xerrors.Errorf("failed to get nonce: %w", err)
	}

	return res.Nonce, nil
}

// Submit implements ledger.Ledger.
func (c *Client) Submit(ctx context.Context, tx txn.Transaction) (string, error) {
	data, err := tx.Serialize(sjson.NewContext())
	if err != nil {
		return "", xerrors.Errorf("failed to serialize tx: %v", err)
	}

	var res SubmitJSON

	err = c.do(ctx, http.MethodPost, transactionsPath, data, &res)
	if err != nil {
		return "", err
	}

	return res.Signature, nil
}

// GetStatus implements ledger.Ledger.
func (c *Client) GetStatus(ctx context.Context, signature string) (ledger.TxStatus, error) {
	var res StatusJSON

	err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(signature), nil, &res)
	if err != nil {
		return ledger.TxStatus{}, xerrors.Errorf("failed to get status: %w", err)
	}

	status, found := statuses[res.Status]
	if !found {
		return ledger.TxStatus{}, xerrors.Errorf("unknown status '%s'", res.Status)
	}

	txs := ledger.TxStatus{
		Signature: res.Signature,
		Status:    status,
		Logs:      res.Logs,
	}

	if res.Error != nil {
		txs.Err = decodeError(res.Error)
	}

	return txs, nil
}

// GetLogs implements ledger.Ledger.
func (c *Client) GetLogs(ctx context.Context, limit int) ([]ledger.LogEntry, error) {
	var res []LogEntryJSON

	err := c.do(ctx, http.MethodGet, logsPath+"?limit="+strconv.Itoa(limit), nil, &res)
	if err != nil {
		return nil, xerrors.Errorf("failed to get logs: %w", err)
	}

	entries := make([]ledger.LogEntry, len(res))
	for i, entry := range res {
		entries[i] = ledger.LogEntry{
			Signature: entry.Signature,
			Time:      entry.Time,
			Failed:    entry.Failed,
			Lines:     entry.Lines,
		}
	}

	return entries, nil
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

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	flow := tracing.FlowOf(ctx)
	if flow != tracing.UndefinedFlow {
		req.Header.Set(tracing.FlowHeader, flow)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return transportError(err)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return ledger.NewTransient(ledger.ClassUnavailable,
			xerrors.Errorf("failed to read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		return responseError(resp.StatusCode, data)
	}

	err = json.Unmarshal(data, out)
	if err != nil {
		return xerrors.Errorf("failed to decode response: %v", err)
	}

	return nil
}

// transportError maps the failure to reach the ledger to its transient class.
func transportError(err error) error {
	var netErr net.Error

	switch {
	case xerrors.Is(err, context.Canceled):
		return err
	case xerrors.Is(err, context.DeadlineExceeded):
		return ledger.NewTransient(ledger.ClassTimeout, err)
	case xerrors.As(err, &netErr) && netErr.Timeout():
		return ledger.NewTransient(ledger.ClassTimeout, err)
	default:
		return ledger.NewTransient(ledger.ClassUnavailable, err)
	}
}

func responseError(status int, data []byte) error {
	var msg ErrorJSON

	err := json.Unmarshal(data, &msg)
	if err != nil || msg.Message == "" {
		msg.Message = fmt.Sprintf("unexpected status %d", status)
	}

	switch {
	case status == http.StatusNotFound:
		return xerrors.Errorf("%s: %w", msg.Message, ledger.ErrNotFound)
	case status == http.StatusTooManyRequests:
		return ledger.NewTransient(ledger.ClassRateLimited, xerrors.New(msg.Message))
	case status == http.StatusConflict && msg.Class != "":
		return ledger.NewTransient(ledger.Class(msg.Class), xerrors.New(msg.Message))
	case status == http.StatusUnprocessableEntity && msg.Code != "":
		return xerrors.Errorf("transaction rejected: %w", decodeError(&msg))
	case status >= http.StatusInternalServerError:
		return ledger.NewTransient(ledger.ClassUnavailable, xerrors.New(msg.Message))
	default:
		return xerrors.Errorf("request failed (%d): %s", status, msg.Message)
	}
}

func decodeError(msg *ErrorJSON) error {
	if msg.Code != "" {
		return types.Error{Code: types.Code(msg.Code), Detail: msg.Detail}
	}

	if msg.Class != "" {
		return ledger.NewTransient(ledger.Class(msg.Class), xerrors.New(msg.Message))
	}

	return xerrors.New(msg.Message)
}
