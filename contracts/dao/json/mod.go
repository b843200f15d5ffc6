// Package json implements the layout of the program accounts: the 8 bytes
// discriminator of the kind, one byte of schema version, then the strict
// JSON document of the account.
package json

import (
	"bytes"

	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/serde"
	"golang.org/x/xerrors"
)

func init() {
	types.RegisterAccountFormat(serde.FormatJSON, accountFormat{})
}

const headerSize = address.DiscriminatorSize + 1

// accountFormat is the engine to encode and decode the accounts.
//
// - implements serde.FormatEngine
type accountFormat struct{}

// Encode implements serde.FormatEngine.
func (f accountFormat) Encode(ctx serde.Context, msg serde.Message) ([]byte, error) {
	account, ok := msg.(types.Account)
	if !ok {
		return nil, xerrors.Errorf("unsupported message of type '%T'", msg)
	}

	body, err := ctx.Marshal(account)
	if err != nil {
		return nil, xerrors.Errorf("couldn't marshal: %v", err)
	}

	d := account.Kind().Discriminator()

	data := make([]byte, 0, headerSize+len(body))
	data = append(data, d[:]...)
	data = append(data, types.SchemaVersion)
	data = append(data, body...)

	return data, nil
}

// Decode implements serde.FormatEngine. An unknown discriminator, another
// version or any field that the schema does not define is an error.
func (f accountFormat) Decode(ctx serde.Context, data []byte) (serde.Message, error) {
	if len(data) < headerSize {
		return nil, xerrors.Errorf("account too short (%d bytes)", len(data))
	}

	version := data[address.DiscriminatorSize]
	if version != types.SchemaVersion {
		return nil, xerrors.Errorf("unsupported schema version %d", version)
	}

	body := data[headerSize:]

	switch {
	case match(data, address.KindProposal):
		return decode[types.Proposal](ctx, body)
	case match(data, address.KindTally):
		return decode[types.Tally](ctx, body)
	case match(data, address.KindVoteRecord):
		return decode[types.VoteRecord](ctx, body)
	case match(data, address.KindDelegation):
		return decode[types.Delegation](ctx, body)
	case match(data, address.KindMint):
		return decode[types.Mint](ctx, body)
	case match(data, address.KindTokenAccount):
		return decode[types.TokenAccount](ctx, body)
	default:
		return nil, xerrors.Errorf("unknown discriminator %x", data[:address.DiscriminatorSize])
	}
}

func match(data []byte, kind address.Kind) bool {
	d := kind.Discriminator()
	return bytes.Equal(data[:address.DiscriminatorSize], d[:])
}

func decode[T types.Account](ctx serde.Context, body []byte) (serde.Message, error) {
	var account T

	err := ctx.Unmarshal(body, &account)
	if err != nil {
		return nil, xerrors.Errorf("couldn't unmarshal %s: %v", account.Kind(), err)
	}

	return account, nil
}
