// Package types defines the data model of the voting program: the accounts,
// the transactions, the events, the typed errors and the lifecycle rules of
// a proposal. The rules are shared by the program, which enforces them, and
// by the client, which mirrors them to fail early.
package types

import (
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/serde"
	"github.com/privdao/privdao/serde/registry"
	"golang.org/x/xerrors"
)

// SchemaVersion is the version of the account layout. An account of another
// version does not decode.
const SchemaVersion byte = 1

var accountFormats = registry.NewSimpleRegistry()

// RegisterAccountFormat registers the engine for the provided format.
func RegisterAccountFormat(f serde.Format, e serde.FormatEngine) {
	accountFormats.Register(f, e)
}

// Account is the data model of an account owned by a program.
type Account interface {
	serde.Message

	// Kind returns the kind of account, which determines its discriminator.
	Kind() address.Kind
}

// Proposal is one governance question.
//
// - implements types.Account
type Proposal struct {
	ID           uint64          `json:"id"`
	Authority    address.Address `json:"authority"`
	Title        string          `json:"title"`
	Description  string          `json:"description"`
	CreatedAt    int64           `json:"createdAt"`
	VotingEndsAt int64           `json:"votingEndsAt"`
	GateMint     address.Address `json:"gateMint"`
	MinBalance   uint64          `json:"minBalance"`
	Quorum       uint64          `json:"quorum"`
	IsActive     bool            `json:"isActive"`
	IsRevealed   bool            `json:"isRevealed"`
	YesVotes     uint64          `json:"yesVotes"`
	NoVotes      uint64          `json:"noVotes"`
	AbstainVotes uint64          `json:"abstainVotes"`
	TotalVotes   uint64          `json:"totalVotes"`
	Bump         uint8           `json:"bump"`
}

// Kind implements types.Account.
func (p Proposal) Kind() address.Kind {
	return address.KindProposal
}

// Serialize implements serde.Message.
func (p Proposal) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, p)
}

// Tally is the accumulator of the encrypted votes of a proposal.
//
// - implements types.Account
type Tally struct {
	Proposal      address.Address   `json:"proposal"`
	ComputationID mpc.ComputationID `json:"computationId"`
	Accumulator   []byte            `json:"accumulator"`
	Bump          uint8             `json:"bump"`
}

// Kind implements types.Account.
func (t Tally) Kind() address.Kind {
	return address.KindTally
}

// Serialize implements serde.Message.
func (t Tally) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, t)
}

// Ready returns true when the tally is bound to a computation.
func (t Tally) Ready() bool {
	return !t.ComputationID.IsZero()
}

// VoteRecord proves that the voter has voted on the proposal.
//
// - implements types.Account
type VoteRecord struct {
	Proposal   address.Address `json:"proposal"`
	Voter      address.Address `json:"voter"`
	VotedAt    int64           `json:"votedAt"`
	Ciphertext []byte          `json:"ciphertext"`
	Bump       uint8           `json:"bump"`
}

// Kind implements types.Account.
func (r VoteRecord) Kind() address.Kind {
	return address.KindVoteRecord
}

// Serialize implements serde.Message.
func (r VoteRecord) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, r)
}

// Delegation is the power of attorney of a delegator.
//
// - implements types.Account
type Delegation struct {
	Delegator address.Address `json:"delegator"`
	Delegate  address.Address `json:"delegate"`
	CreatedAt int64           `json:"createdAt"`
	Bump      uint8           `json:"bump"`
}

// Kind implements types.Account.
func (d Delegation) Kind() address.Kind {
	return address.KindDelegation
}

// Serialize implements serde.Message.
func (d Delegation) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, d)
}

// Mint is a class of gate tokens.
//
// - implements types.Account
type Mint struct {
	Authority address.Address `json:"authority"`
	Label     string          `json:"label"`
	Supply    uint64          `json:"supply"`
	Bump      uint8           `json:"bump"`
}

// Kind implements types.Account.
func (m Mint) Kind() address.Kind {
	return address.KindMint
}

// Serialize implements serde.Message.
func (m Mint) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, m)
}

// TokenAccount holds the gate tokens of a mint for an owner.
//
// - implements types.Account
type TokenAccount struct {
	Owner  address.Address `json:"owner"`
	Mint   address.Address `json:"mint"`
	Amount uint64          `json:"amount"`
	Bump   uint8           `json:"bump"`
}

// Kind implements types.Account.
func (a TokenAccount) Kind() address.Kind {
	return address.KindTokenAccount
}

// Serialize implements serde.Message.
func (a TokenAccount) Serialize(ctx serde.Context) ([]byte, error) {
	return serialize(ctx, a)
}

func serialize(ctx serde.Context, account Account) ([]byte, error) {
	format := accountFormats.Get(ctx.GetFormat())

	data, err := format.Encode(ctx, account)
	if err != nil {
		return nil, xerrors.Errorf("couldn't encode %s: %v", account.Kind(), err)
	}

	return data, nil
}

// AccountFactory deserializes the accounts.
//
// - implements serde.Factory
type AccountFactory struct{}

// NewAccountFactory returns a new factory.
func NewAccountFactory() AccountFactory {
	return AccountFactory{}
}

// Deserialize implements serde.Factory.
func (f AccountFactory) Deserialize(ctx serde.Context, data []byte) (serde.Message, error) {
	return f.AccountOf(ctx, data)
}

// AccountOf returns the account of the data, or an error if the data is not
// a well-formed account of a known kind and of the current version.
func (f AccountFactory) AccountOf(ctx serde.Context, data []byte) (Account, error) {
	format := accountFormats.Get(ctx.GetFormat())

	msg, err := format.Decode(ctx, data)
	if err != nil {
		return nil, xerrors.Errorf("couldn't decode account: %v", err)
	}

	account, ok := msg.(Account)
	if !ok {
		return nil, xerrors.Errorf("invalid account of type '%T'", msg)
	}

	return account, nil
}

// Decode returns the account of the data when it has the expected type.
func Decode[T Account](ctx serde.Context, data []byte) (T, error) {
	var zero T

	account, err := NewAccountFactory().AccountOf(ctx, data)
	if err != nil {
		return zero, err
	}

	typed, ok := account.(T)
	if !ok {
		return zero, xerrors.Errorf("expected %s account, got %s", zero.Kind(), account.Kind())
	}

	return typed, nil
}
