package faucet

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/ledger"
	"golang.org/x/xerrors"
)

// ErrRateLimited is returned when the faucet refuses a claim because the
// identity claimed too often.
var ErrRateLimited = xerrors.New("faucet rate limit reached")

// Client claims tokens from a faucet.
type Client struct {
	base   string
	client *http.Client
}

// NewClient returns a client of the faucet at the base URL.
func NewClient(base string) *Client {
	return &Client{
		base:   strings.TrimRight(base, "/"),
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Claim asks tokens for the recipient.
func (c *Client) Claim(ctx context.Context, recipient address.Address) (ClaimResponse, error) {
	body, err := json.Marshal(ClaimRequest{WalletAddress: recipient.String()})
	if err != nil {
		return ClaimResponse{}, xerrors.Errorf("failed to encode request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+Path, bytes.NewReader(body))
	if err != nil {
		return ClaimResponse{}, xerrors.Errorf("failed to create request: %v", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return ClaimResponse{}, ledger.NewTransient(ledger.ClassUnavailable, err)
	}

	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return ClaimResponse{}, xerrors.Errorf("failed to read response: %v", err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		var msg ErrorResponse
		_ = json.Unmarshal(data, &msg)

		return ClaimResponse{}, xerrors.Errorf("%w (retry in %v)", ErrRateLimited,
			time.Duration(msg.RetryAfter)*time.Second)
	default:
		var msg ErrorResponse
		_ = json.Unmarshal(data, &msg)

		if msg.Error == "" {
			msg.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		}

		return ClaimResponse{}, xerrors.Errorf("claim failed: %s", msg.Error)
	}

	var res ClaimResponse

	err = json.Unmarshal(data, &res)
	if err == nil {
		err = validate.Struct(res)
	}
	if err != nil {
		return ClaimResponse{}, xerrors.Errorf("invalid response: %v", err)
	}

	return res, nil
}
