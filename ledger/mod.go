// Package ledger defines the primitives the client consumes from the public
// ledger: reading accounts, submitting signed transactions, following their
// finality and reading the recent program logs.
//
// The ledger is the single serialization point of the protocol. Transactions
// are applied all-or-nothing, in the order the ledger accepts them.
package ledger

import (
	"context"
	"time"

	"github.com/mr-tron/base58"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/crypto"
)

// Account is the raw content of an account.
type Account struct {
	Address address.Address
	Data    []byte
}

// Status is the finality state of a transaction.
type Status int

const (
	// StatusUnknown is a transaction the ledger has never seen.
	StatusUnknown Status = iota
	// StatusPending is a transaction accepted but not final yet.
	StatusPending
	// StatusFinalized is a final transaction.
	StatusFinalized
	// StatusFailed is a transaction rejected by a program.
	StatusFailed
)

var statusNames = [...]string{"unknown", "pending", "finalized", "failed"}

// String implements fmt.Stringer.
func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return "invalid"
	}

	return statusNames[s]
}

// TxStatus is the state of a submitted transaction.
type TxStatus struct {
	Signature string
	Status    Status
	Err       error
	Logs      []string
}

// LogEntry is the log of one transaction.
type LogEntry struct {
	Signature string
	Time      time.Time
	Failed    bool
	Lines     []string
}

// Reader provides the read primitives on the accounts.
type Reader interface {
	// GetAccount returns the account at the address, or ErrNotFound.
	GetAccount(ctx context.Context, addr address.Address) (Account, error)

	// ListAccounts returns every account of the kind, in address order.
	ListAccounts(ctx context.Context, kind address.Kind) ([]Account, error)
}

// Ledger provides the primitives of the public ledger.
type Ledger interface {
	Reader

	// GetNonce returns the next nonce expected for the identity.
	GetNonce(ctx context.Context, identity crypto.PublicKey) (uint64, error)

	// Submit sends the transaction. A rejection by the program is returned
	// immediately as an error. The returned signature allows to follow the
	// finality of an accepted transaction.
	Submit(ctx context.Context, tx txn.Transaction) (string, error)

	// GetStatus returns the state of the transaction with the signature.
	GetStatus(ctx context.Context, signature string) (TxStatus, error)

	// GetLogs returns the logs of the most recent transactions, the newest
	// first. Limit bounds the number of entries.
	GetLogs(ctx context.Context, limit int) ([]LogEntry, error)
}

// SignatureOf returns the textual identifier of a transaction.
func SignatureOf(tx txn.Transaction) string {
	return base58.Encode(tx.GetID())
}
