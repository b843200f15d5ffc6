// Package http implements the JSON transport of the ledger: the handlers that
// expose a ledger on a proxy, and the client that consumes them.
//
// A rejection by a program crosses the transport as its error code, so that
// the client returns the same typed error as the ledger. The infrastructure
// failures are returned as the transient errors of the ledger package.
package http

import (
	"time"

	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/ledger"
)

const (
	accountsPath     = "/accounts"
	accountPath      = "/accounts/{address}"
	noncePath        = "/nonces/{identity}"
	transactionsPath = "/transactions"
	transactionPath  = "/transactions/{signature}"
	logsPath         = "/logs"
)

// AccountJSON is the message of an account.
type AccountJSON struct {
	Address address.Address `json:"address"`
	Data    []byte          `json:"data"`
}

// NonceJSON is the message of the nonce of an identity.
type NonceJSON struct {
	Nonce uint64 `json:"nonce"`
}

// SubmitJSON is the response to an accepted transaction.
type SubmitJSON struct {
	Signature string `json:"signature"`
}

// StatusJSON is the message of the state of a transaction.
type StatusJSON struct {
	Signature string   `json:"signature"`
	Status    string   `json:"status"`
	Error     *ErrorJSON `json:"error,omitempty"`
	Logs      []string `json:"logs"`
}

// LogEntryJSON is the message of the log of a transaction.
type LogEntryJSON struct {
	Signature string    `json:"signature"`
	Time      time.Time `json:"time"`
	Failed    bool      `json:"failed"`
	Lines     []string  `json:"lines"`
}

// ErrorJSON is the body of a failed request. The code is set for a
// rejection by a program, the class for a transient failure.
type ErrorJSON struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Detail  string `json:"detail,omitempty"`
	Class   string `json:"class,omitempty"`
}

var statuses = map[string]ledger.Status{
	ledger.StatusUnknown.String():   ledger.StatusUnknown,
	ledger.StatusPending.String():   ledger.StatusPending,
	ledger.StatusFinalized.String(): ledger.StatusFinalized,
	ledger.StatusFailed.String():    ledger.StatusFailed,
}
