// Package address derives the deterministic addresses of the program
// accounts.
//
// An account address is the SHA-256 digest of its seeds, a bump byte, the
// program identifier and a fixed marker. The bump is searched downward from
// 255 until the digest is not a point of the Ed25519 curve, so that no private
// key exists for the address. The same seeds always yield the same address,
// which is what makes a second creation of the same account collide.
package address

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"

	"github.com/mr-tron/base58"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/crypto/ed25519"
	"golang.org/x/xerrors"
)

const (
	// Size is the length in bytes of an address.
	Size = 32

	// MaxSeedLen is the maximum length of a single seed.
	MaxSeedLen = 32

	// MaxSeeds is the maximum number of seeds, bump included.
	MaxSeeds = 16

	// DiscriminatorSize is the length of the account type tag.
	DiscriminatorSize = 8

	pdaMarker = "ProgramDerivedAddress"
)

// ErrSeedFormat is returned when the seeds cannot be used for a derivation.
var ErrSeedFormat = xerrors.New("malformed seeds")

// errNoBump is returned in the improbable case where every bump produces an
// address on the curve.
var errNoBump = xerrors.New("unable to find a viable bump")

// Address is the identifier of an account or of an identity.
type Address [Size]byte

// FromBytes returns the address of the 32 bytes.
func FromBytes(data []byte) (Address, error) {
	var addr Address

	if len(data) != Size {
		return addr, xerrors.Errorf("invalid address length %d", len(data))
	}

	copy(addr[:], data)

	return addr, nil
}

// Parse returns the address of the base58 text.
func Parse(text string) (Address, error) {
	data, err := base58.Decode(text)
	if err != nil {
		return Address{}, xerrors.Errorf("invalid base58 '%s': %v", text, err)
	}

	return FromBytes(data)
}

// MustParse is like Parse but panics on malformed text.
func MustParse(text string) Address {
	addr, err := Parse(text)
	if err != nil {
		panic(err)
	}

	return addr
}

// FromPublicKey returns the address of an identity.
func FromPublicKey(pk crypto.PublicKey) (Address, error) {
	data, err := pk.MarshalBinary()
	if err != nil {
		return Address{}, xerrors.Errorf("failed to marshal public key: %v", err)
	}

	return FromBytes(data)
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	return append([]byte{}, a[:]...)
}

// IsZero returns true for the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// String implements fmt.Stringer. It returns the base58 encoding.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// MarshalText implements encoding.TextMarshaler.
func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (a *Address) UnmarshalText(text []byte) error {
	addr, err := Parse(string(text))
	if err != nil {
		return err
	}

	*a = addr

	return nil
}

// Discriminator is the 8 bytes tag that prefixes the data of an account and
// identifies its type.
type Discriminator [DiscriminatorSize]byte

// DiscriminatorOf returns the tag of the account type name.
func DiscriminatorOf(name string) Discriminator {
	var d Discriminator

	digest := sha256.Sum256([]byte("account:" + name))
	copy(d[:], digest[:DiscriminatorSize])

	return d
}

// Kind is the type of an account owned by a program.
type Kind string

const (
	// KindProposal is the kind of the proposal accounts.
	KindProposal Kind = "Proposal"
	// KindTally is the kind of the tally accounts.
	KindTally Kind = "Tally"
	// KindVoteRecord is the kind of the vote record accounts.
	KindVoteRecord Kind = "VoteRecord"
	// KindDelegation is the kind of the delegation accounts.
	KindDelegation Kind = "Delegation"
	// KindTokenAccount is the kind of the gate token accounts.
	KindTokenAccount Kind = "TokenAccount"
	// KindMint is the kind of the gate token classes.
	KindMint Kind = "Mint"
)

// Discriminator returns the tag of the kind.
func (k Kind) Discriminator() Discriminator {
	return DiscriminatorOf(string(k))
}

// Derived is the result of a derivation.
type Derived struct {
	Address       Address
	Bump          uint8
	Discriminator Discriminator
}

// Create returns the address of the seeds for the program. The last seed is
// usually the bump. It fails when the address falls on the curve.
func Create(seeds [][]byte, program Address) (Address, error) {
	if len(seeds) > MaxSeeds {
		return Address{}, xerrors.Errorf("too many seeds (%d): %w", len(seeds), ErrSeedFormat)
	}

	h := sha256.New()
	for i, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return Address{}, xerrors.Errorf("seed #%d has %d bytes: %w", i, len(seed), ErrSeedFormat)
		}

		h.Write(seed)
	}

	h.Write(program[:])
	h.Write([]byte(pdaMarker))

	digest := h.Sum(nil)

	if ed25519.OnCurve(digest) {
		return Address{}, xerrors.New("address is on the curve")
	}

	return FromBytes(digest)
}

// Find searches the first bump, starting from 255, that produces an address
// off the curve.
func Find(seeds [][]byte, program Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Address{}, 0, xerrors.Errorf("too many seeds (%d): %w", len(seeds), ErrSeedFormat)
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}

		addr, err := Create(withBump, program)
		if xerrors.Is(err, ErrSeedFormat) {
			return Address{}, 0, err
		}

		if err == nil {
			return addr, uint8(bump), nil
		}
	}

	return Address{}, 0, errNoBump
}

// Deriver derives the addresses of the accounts of the voting program and of
// the gate token program.
type Deriver struct {
	program      Address
	tokenProgram Address
}

// NewDeriver returns a deriver for the programs.
func NewDeriver(program, tokenProgram Address) Deriver {
	return Deriver{
		program:      program,
		tokenProgram: tokenProgram,
	}
}

// Program returns the identifier of the voting program.
func (d Deriver) Program() Address {
	return d.program
}

// TokenProgram returns the identifier of the gate token program.
func (d Deriver) TokenProgram() Address {
	return d.tokenProgram
}

// Derive returns the address of the kind for the seeds under the voting
// program.
func (d Deriver) Derive(kind Kind, seeds ...[]byte) (Derived, error) {
	return derive(d.program, kind, seeds...)
}

// Proposal returns the address of the proposal with the identifier.
func (d Deriver) Proposal(id uint64) (Derived, error) {
	buffer := make([]byte, 8)
	binary.LittleEndian.PutUint64(buffer, id)

	return d.Derive(KindProposal, []byte("proposal"), buffer)
}

// Tally returns the address of the tally of the proposal.
func (d Deriver) Tally(proposal Address) (Derived, error) {
	return d.Derive(KindTally, []byte("tally"), proposal[:])
}

// VoteRecord returns the address of the record proving the voter has voted on
// the proposal.
func (d Deriver) VoteRecord(proposal, voter Address) (Derived, error) {
	return d.Derive(KindVoteRecord, []byte("vote_record"), proposal[:], voter[:])
}

// Delegation returns the address of the delegation of the delegator.
func (d Deriver) Delegation(delegator Address) (Derived, error) {
	return d.Derive(KindDelegation, []byte("delegation"), delegator[:])
}

// TokenAccount returns the address of the account holding the gate tokens of
// the mint for the owner, under the token program.
func (d Deriver) TokenAccount(owner, mint Address) (Derived, error) {
	return derive(d.tokenProgram, KindTokenAccount, []byte("token"), owner[:], mint[:])
}

// Mint returns the address of the token class with the label created by the
// authority, under the token program.
func (d Deriver) Mint(authority Address, label string) (Derived, error) {
	return derive(d.tokenProgram, KindMint, []byte("mint"), authority[:], []byte(label))
}

func derive(program Address, kind Kind, seeds ...[]byte) (Derived, error) {
	addr, bump, err := Find(seeds, program)
	if err != nil {
		return Derived{}, xerrors.Errorf("failed to derive %s: %w", kind, err)
	}

	d := Derived{
		Address:       addr,
		Bump:          bump,
		Discriminator: kind.Discriminator(),
	}

	return d, nil
}

// HasDiscriminator returns true when the account data starts with the tag of
// the kind.
func HasDiscriminator(data []byte, kind Kind) bool {
	d := kind.Discriminator()
	return bytes.HasPrefix(data, d[:])
}
