// Package txn defines the abstraction of transactions.
//
// A transaction is the input of a program on the ledger. It is uniquely
// identifiable via a digest and it is ordered by the nonce that acts as the
// sequence number of its identity. A ledger rejects a transaction whose nonce
// is not the next one of the identity.
package txn

import (
	"context"

	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/serde"
)

// Transaction is what triggers a program execution by passing it as part of
// the input.
type Transaction interface {
	serde.Message

	// GetID returns the unique identifier for the transaction.
	GetID() []byte

	// GetNonce returns the nonce of the transaction which corresponds to the
	// sequence number of a unique identity.
	GetNonce() uint64

	// GetIdentity returns the identity that created the transaction.
	GetIdentity() crypto.PublicKey

	// GetArg is a getter for the arguments of the transaction.
	GetArg(key string) []byte
}

// Factory is the definition of a factory to deserialize transaction messages.
type Factory interface {
	TransactionOf(serde.Context, []byte) (Transaction, error)
}

// Arg is a generic argument that can be stored in a transaction.
type Arg struct {
	Key   string
	Value []byte
}

// Manager is a manager to create transactions. It keeps track of the nonce
// of its identity.
type Manager interface {
	Make(args ...Arg) (Transaction, error)

	Sync(ctx context.Context) error
}
