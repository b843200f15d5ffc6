// Package local implements a cluster that runs in the process, for the
// development mode and the tests.
//
// The cluster holds a master secret. The key of a computation is derived from
// it with HKDF-SHA256, salted with the computation id and bound to the
// circuit and the key type. A tally accumulator is the three counters sealed
// under a key that only the cluster derives: the program stores opaque bytes
// and never learns the split of the votes before the reveal.
package local

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"io"
	"sync"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/ballot"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/mpc"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
	"golang.org/x/xerrors"
)

const (
	accumulatorInfo = "privdao-accumulator"
	accumulatorSize = 24
)

// Cluster is an in-process cluster.
//
// - implements mpc.Cluster
// - implements mpc.Tallier
type Cluster struct {
	sync.Mutex

	master   []byte
	rand     io.Reader
	accounts mpc.AccountSet
	derived  int
}

// Option is the type of options to create a cluster.
type Option func(*Cluster)

// WithRandom sets the source of the nonces of the accumulators.
func WithRandom(r io.Reader) Option {
	return func(c *Cluster) {
		c.rand = r
	}
}

// WithAccounts sets the accounts a vote must reference.
func WithAccounts(accounts ...address.Address) Option {
	return func(c *Cluster) {
		c.accounts = accounts
	}
}

// NewCluster returns a cluster using the master secret.
func NewCluster(master []byte, opts ...Option) *Cluster {
	c := &Cluster{
		master: append([]byte{}, master...),
		rand:   crypto.CryptographicRandomGenerator{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// DeriveContext implements mpc.Cluster.
func (c *Cluster) DeriveContext(ctx context.Context, id mpc.ComputationID, circuit string) (mpc.Context, error) {
	err := ctx.Err()
	if err != nil {
		return mpc.Context{}, err
	}

	if id.IsZero() {
		return mpc.Context{}, types.NewError(types.CodeUninitializedState, "missing computation id")
	}

	if circuit != mpc.CircuitName {
		return mpc.Context{}, xerrors.Errorf("unknown circuit '%s'", circuit)
	}

	key, err := c.deriveKey(id, circuit+"/"+mpc.KeyType)
	if err != nil {
		return mpc.Context{}, err
	}

	c.Lock()
	c.derived++
	c.Unlock()

	encCtx := mpc.Context{
		ComputationID: id,
		Circuit:       circuit,
		KeyType:       mpc.KeyType,
		Key:           key,
	}

	return encCtx, nil
}

// RequiredAccounts implements mpc.Cluster.
func (c *Cluster) RequiredAccounts(ctx context.Context) (mpc.AccountSet, error) {
	return append(mpc.AccountSet{}, c.accounts...), ctx.Err()
}

// Derived returns the number of contexts derived so far.
func (c *Cluster) Derived() int {
	c.Lock()
	defer c.Unlock()

	return c.derived
}

// InitTally implements mpc.Tallier.
func (c *Cluster) InitTally(id mpc.ComputationID) ([]byte, error) {
	return c.seal(id, mpc.Counts{})
}

// Accumulate implements mpc.Tallier. The ballot is opened with the context of
// the computation and its choice is added to the counters.
func (c *Cluster) Accumulate(id mpc.ComputationID, acc []byte, ciphertext []byte) ([]byte, error) {
	encCtx, err := c.DeriveContext(context.Background(), id, mpc.CircuitName)
	if err != nil {
		return nil, err
	}

	choice, err := ballot.Open(ciphertext, encCtx)
	if err != nil {
		return nil, xerrors.Errorf("invalid ballot: %w", err)
	}

	counts, err := c.open(id, acc)
	if err != nil {
		return nil, err
	}

	switch choice {
	case types.ChoiceYes:
		counts.Yes++
	case types.ChoiceNo:
		counts.No++
	default:
		counts.Abstain++
	}

	return c.seal(id, counts)
}

// Reveal implements mpc.Tallier.
func (c *Cluster) Reveal(id mpc.ComputationID, acc []byte) (mpc.Counts, error) {
	counts, err := c.open(id, acc)
	if err != nil {
		return mpc.Counts{}, err
	}

	privdao.Logger.Info().
		Str("computation", id.String()).
		Uint64("total", counts.Total()).
		Msg("tally revealed")

	return counts, nil
}

func (c *Cluster) deriveKey(id mpc.ComputationID, info string) ([]byte, error) {
	kdf := hkdf.New(sha256.New, c.master, id[:], []byte(info))

	key := make([]byte, chacha20poly1305.KeySize)

	_, err := io.ReadFull(kdf, key)
	if err != nil {
		return nil, xerrors.Errorf("hkdf read failed: %v", err)
	}

	return key, nil
}

func (c *Cluster) seal(id mpc.ComputationID, counts mpc.Counts) ([]byte, error) {
	key, err := c.deriveKey(id, accumulatorInfo)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, xerrors.Errorf("failed to create cipher: %v", err)
	}

	plaintext := make([]byte, accumulatorSize)
	binary.LittleEndian.PutUint64(plaintext[0:], counts.Yes)
	binary.LittleEndian.PutUint64(plaintext[8:], counts.No)
	binary.LittleEndian.PutUint64(plaintext[16:], counts.Abstain)

	nonce := make([]byte, aead.NonceSize())

	_, err = io.ReadFull(c.rand, nonce)
	if err != nil {
		return nil, xerrors.Errorf("failed to generate nonce: %v", err)
	}

	return aead.Seal(nonce, nonce, plaintext, id[:]), nil
}

func (c *Cluster) open(id mpc.ComputationID, acc []byte) (mpc.Counts, error) {
	key, err := c.deriveKey(id, accumulatorInfo)
	if err != nil {
		return mpc.Counts{}, err
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return mpc.Counts{}, xerrors.Errorf("failed to create cipher: %v", err)
	}

	if len(acc) < aead.NonceSize() {
		return mpc.Counts{}, xerrors.New("accumulator too short")
	}

	plaintext, err := aead.Open(nil, acc[:aead.NonceSize()], acc[aead.NonceSize():], id[:])
	if err != nil {
		return mpc.Counts{}, xerrors.Errorf("corrupted accumulator: %v", err)
	}

	if len(plaintext) != accumulatorSize {
		return mpc.Counts{}, xerrors.Errorf("invalid accumulator length %d", len(plaintext))
	}

	counts := mpc.Counts{
		Yes:     binary.LittleEndian.Uint64(plaintext[0:]),
		No:      binary.LittleEndian.Uint64(plaintext[8:]),
		Abstain: binary.LittleEndian.Uint64(plaintext[16:]),
	}

	return counts, nil
}

// MasterSize is the length of a generated master secret.
const MasterSize = 32

// Generator generates random master secrets for a key loader.
type Generator struct{}

// Generate returns a new master secret.
func (Generator) Generate() ([]byte, error) {
	master := make([]byte, MasterSize)

	_, err := io.ReadFull(crypto.CryptographicRandomGenerator{}, master)
	if err != nil {
		return nil, xerrors.Errorf("failed to read random: %v", err)
	}

	return master, nil
}
