// Package mpc defines the contract with the multi-party computation cluster
// that tallies the encrypted votes.
//
// The client only asks the cluster for the encryption context of a tally and
// for the accounts a vote must reference. The program asks it to create,
// update and open the tally accumulators. The accumulators are opaque bytes
// for everybody but the cluster.
package mpc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/privdao/privdao/core/address"
	"golang.org/x/xerrors"
)

const (
	// CircuitName identifies the aggregation logic of the votes.
	CircuitName = "vote_tally"

	// KeyType is the mode where every ballot is encrypted individually and
	// summed by the cluster.
	KeyType = "individually_encrypted_cluster_summed"

	// KeySize is the length of a derived key.
	KeySize = 32
)

// ComputationID binds an encryption context to exactly one tally.
type ComputationID [32]byte

// ComputationIDOf returns the identifier of the computation of the tally for
// the circuit.
func ComputationIDOf(tally address.Address, circuit string) ComputationID {
	h := sha256.New()
	h.Write([]byte("computation"))
	h.Write(tally[:])
	h.Write([]byte(circuit))

	var id ComputationID
	copy(id[:], h.Sum(nil))

	return id
}

// IsZero returns true when the identifier is not set.
func (id ComputationID) IsZero() bool {
	return id == ComputationID{}
}

// String implements fmt.Stringer.
func (id ComputationID) String() string {
	return hex.EncodeToString(id[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ComputationID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ComputationID) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return xerrors.Errorf("invalid computation id: %v", err)
	}

	if len(data) != len(id) {
		return xerrors.Errorf("invalid computation id length %d", len(data))
	}

	copy(id[:], data)

	return nil
}

// Context is the encryption context of a tally. It is derived on demand and
// never persisted.
type Context struct {
	ComputationID ComputationID
	Circuit       string
	KeyType       string
	Key           []byte
}

// AccountSet is the list of accounts a vote transaction must reference.
type AccountSet []address.Address

// Counts are the aggregated votes of a tally.
type Counts struct {
	Yes     uint64
	No      uint64
	Abstain uint64
}

// Total returns the number of votes.
func (c Counts) Total() uint64 {
	return c.Yes + c.No + c.Abstain
}

// Cluster is the interface of the cluster seen from the voter.
type Cluster interface {
	// DeriveContext returns the encryption context of the computation.
	DeriveContext(ctx context.Context, id ComputationID, circuit string) (Context, error)

	// RequiredAccounts returns the accounts a vote must reference.
	RequiredAccounts(ctx context.Context) (AccountSet, error)
}

// Tallier is the interface of the cluster seen from the program.
type Tallier interface {
	// InitTally returns the empty accumulator of the computation.
	InitTally(id ComputationID) ([]byte, error)

	// Accumulate returns the accumulator updated with the encrypted ballot.
	// A ballot that does not open under the context of the computation is
	// rejected.
	Accumulate(id ComputationID, acc []byte, ciphertext []byte) ([]byte, error)

	// Reveal returns the counts of the accumulator.
	Reveal(id ComputationID, acc []byte) (Counts, error)
}
