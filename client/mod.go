// Package client implements the session of a user of the voting program: the
// listings of the proposals, the state of the active identity and the
// operations of the authorities.
//
// The state of the session is reset whenever the active identity changes:
// the balance cache is emptied and the hidden proposals of the new identity
// are loaded.
package client

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/privdao/privdao"
	_ "github.com/privdao/privdao/contracts/dao/json"
	"github.com/privdao/privdao/contracts/dao/types"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/store/kv"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/retry"
	"github.com/privdao/privdao/serde"
	"github.com/privdao/privdao/serde/json"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"
)

const (
	defaultCacheSize   = 128
	defaultCallTimeout = 10 * time.Second
)

// ErrNoIdentity is returned by the operations that need an active identity.
var ErrNoIdentity = xerrors.New("no active identity")

// Clock is the source of the time of the derived statuses.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Revealer opens the accumulator of a tally.
type Revealer interface {
	Reveal(id mpc.ComputationID, acc []byte) (mpc.Counts, error)
}

// ProposalView is a proposal with the state derived for the session.
type ProposalView struct {
	Address    address.Address
	Proposal   types.Proposal
	TallyReady bool
	Status     types.Status
	Outcome    types.Outcome
	Hidden     bool
}

// Client is the session of a user.
type Client struct {
	sync.Mutex

	deriver      address.Deriver
	ledger       ledger.Ledger
	revealer     Revealer
	clock        Clock
	policy       retry.Policy
	callTimeout  time.Duration
	thresholdBps uint64
	logger       zerolog.Logger
	serdeCtx     serde.Context

	signer   crypto.Signer
	identity address.Address
	balances *lru.Cache
	group    singleflight.Group
	hidden   *hiddenSet
}

// Option is the type of option to set some fields of a client.
type Option func(*Client)

// WithClock sets the clock of the derived statuses.
func WithClock(c Clock) Option {
	return func(cl *Client) {
		cl.clock = c
	}
}

// WithPolicy sets the retry policy of the reads.
func WithPolicy(p retry.Policy) Option {
	return func(cl *Client) {
		cl.policy = p
	}
}

// WithCallTimeout sets the timeout of each call to the ledger.
func WithCallTimeout(d time.Duration) Option {
	return func(cl *Client) {
		cl.callTimeout = d
	}
}

// WithThreshold sets the pass threshold of the outcomes, in basis points.
func WithThreshold(bps uint64) Option {
	return func(cl *Client) {
		cl.thresholdBps = bps
	}
}

// WithRevealer sets the cluster that opens the tallies for the reveals.
func WithRevealer(r Revealer) Option {
	return func(cl *Client) {
		cl.revealer = r
	}
}

// WithHiddenStore sets the database where the hidden proposals persist.
func WithHiddenStore(db kv.DB) Option {
	return func(cl *Client) {
		cl.hidden = newHiddenSet(db)
	}
}

// NewClient returns a session without an identity.
func NewClient(deriver address.Deriver, lgr ledger.Ledger, opts ...Option) *Client {
	cache, err := lru.New(defaultCacheSize)
	if err != nil {
		// Only a non-positive size fails.
		panic(err)
	}

	c := &Client{
		deriver:      deriver,
		ledger:       lgr,
		clock:        systemClock{},
		policy:       retry.NewPolicy(),
		callTimeout:  defaultCallTimeout,
		thresholdBps: types.DefaultThresholdBps,
		logger:       privdao.Logger.With().Str("component", "client").Logger(),
		serdeCtx:     json.NewContext(),
		balances:     cache,
		hidden:       newHiddenSet(nil),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// SetIdentity changes the active identity. The balance cache is emptied and
// the hidden proposals of the identity are loaded.
func (c *Client) SetIdentity(signer crypto.Signer) error {
	identity, err := address.FromPublicKey(signer.GetPublicKey())
	if err != nil {
		return xerrors.Errorf("invalid identity: %v", err)
	}

	c.Lock()
	defer c.Unlock()

	err = c.hidden.load(identity)
	if err != nil {
		return xerrors.Errorf("failed to load hidden proposals: %v", err)
	}

	c.signer = signer
	c.identity = identity
	c.balances.Purge()

	c.logger.Info().Stringer("identity", identity).Msg("identity changed")

	return nil
}

// Identity returns the address of the active identity.
func (c *Client) Identity() (address.Address, bool) {
	c.Lock()
	defer c.Unlock()

	return c.identity, c.signer != nil
}

func (c *Client) session() (crypto.Signer, address.Address, error) {
	c.Lock()
	defer c.Unlock()

	if c.signer == nil {
		return nil, address.Address{}, ErrNoIdentity
	}

	return c.signer, c.identity, nil
}

// ListProposals returns every proposal of the program ordered by id. An
// account that does not decode is skipped.
func (c *Client) ListProposals(ctx context.Context) ([]ProposalView, error) {
	var proposals, tallies []ledger.Account

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		proposals, err = c.list(gctx, address.KindProposal)
		return err
	})

	g.Go(func() error {
		var err error
		tallies, err = c.list(gctx, address.KindTally)
		return err
	})

	err := g.Wait()
	if err != nil {
		return nil, err
	}

	ready := make(map[address.Address]bool, len(tallies))

	for _, account := range tallies {
		tally, err := types.Decode[types.Tally](c.serdeCtx, account.Data)
		if err != nil {
			c.logger.Warn().Stringer("address", account.Address).Err(err).Msg("skipping tally")
			continue
		}

		ready[tally.Proposal] = tally.Ready()
	}

	views := make([]ProposalView, 0, len(proposals))

	for _, account := range proposals {
		proposal, err := types.Decode[types.Proposal](c.serdeCtx, account.Data)
		if err != nil {
			c.logger.Warn().Stringer("address", account.Address).Err(err).Msg("skipping proposal")
			continue
		}

		views = append(views, c.viewOf(account.Address, proposal, ready[account.Address]))
	}

	sort.Slice(views, func(i, j int) bool {
		return views[i].Proposal.ID < views[j].Proposal.ID
	})

	return views, nil
}

// Proposal returns the latest state of the proposal.
func (c *Client) Proposal(ctx context.Context, addr address.Address) (ProposalView, error) {
	tallyAddr, err := c.deriver.Tally(addr)
	if err != nil {
		return ProposalView{}, xerrors.Errorf("tally address: %v", err)
	}

	var proposal types.Proposal
	var tally types.Tally
	var found, tallyFound bool

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		proposal, found, err = fetch[types.Proposal](gctx, c, addr)
		return err
	})

	g.Go(func() error {
		var err error
		tally, tallyFound, err = fetch[types.Tally](gctx, c, tallyAddr.Address)
		return err
	})

	err = g.Wait()
	if err != nil {
		return ProposalView{}, err
	}

	if !found {
		return ProposalView{}, types.NewError(types.CodeUnknownProposal, "%v", addr)
	}

	return c.viewOf(addr, proposal, tallyFound && tally.Ready()), nil
}

// HasVoted returns true when the active identity has voted on the proposal.
func (c *Client) HasVoted(ctx context.Context, proposal address.Address) (bool, error) {
	_, identity, err := c.session()
	if err != nil {
		return false, err
	}

	record, err := c.deriver.VoteRecord(proposal, identity)
	if err != nil {
		return false, xerrors.Errorf("vote record address: %v", err)
	}

	_, found, err := fetch[types.VoteRecord](ctx, c, record.Address)

	return found, err
}

// Delegation returns the delegation of the active identity, if any.
func (c *Client) Delegation(ctx context.Context) (types.Delegation, bool, error) {
	_, identity, err := c.session()
	if err != nil {
		return types.Delegation{}, false, err
	}

	derived, err := c.deriver.Delegation(identity)
	if err != nil {
		return types.Delegation{}, false, xerrors.Errorf("delegation address: %v", err)
	}

	return fetch[types.Delegation](ctx, c, derived.Address)
}

// Balance returns the balance of the active identity in the class of tokens.
// The balances are cached until the identity changes, and concurrent reads
// of the same balance share one call to the ledger.
func (c *Client) Balance(ctx context.Context, mint address.Address) (uint64, error) {
	_, identity, err := c.session()
	if err != nil {
		return 0, err
	}

	if mint.IsZero() {
		return 0, nil
	}

	key := identity.String() + "/" + mint.String()

	cached, found := c.balances.Get(key)
	if found {
		return cached.(uint64), nil
	}

	value, err, _ := c.group.Do(key, func() (interface{}, error) {
		derived, err := c.deriver.TokenAccount(identity, mint)
		if err != nil {
			return nil, xerrors.Errorf("token account address: %v", err)
		}

		account, found, err := fetch[types.TokenAccount](ctx, c, derived.Address)
		if err != nil {
			return nil, err
		}

		balance := uint64(0)
		if found {
			balance = account.Amount
		}

		c.Lock()
		// The identity may have changed during the read.
		if c.identity == identity {
			c.balances.Add(key, balance)
		}
		c.Unlock()

		return balance, nil
	})
	if err != nil {
		return 0, err
	}

	return value.(uint64), nil
}

// InvalidateBalance drops the cached balance of the class of tokens.
func (c *Client) InvalidateBalance(mint address.Address) {
	c.Lock()
	defer c.Unlock()

	c.balances.Remove(c.identity.String() + "/" + mint.String())
}

// Hide hides the proposal for the active identity.
func (c *Client) Hide(proposal address.Address) error {
	c.Lock()
	defer c.Unlock()

	if c.signer == nil {
		return ErrNoIdentity
	}

	return c.hidden.add(c.identity, proposal)
}

// Unhide shows again the proposal for the active identity.
func (c *Client) Unhide(proposal address.Address) error {
	c.Lock()
	defer c.Unlock()

	if c.signer == nil {
		return ErrNoIdentity
	}

	return c.hidden.remove(c.identity, proposal)
}

// Hidden returns the proposals hidden by the active identity.
func (c *Client) Hidden() []address.Address {
	c.Lock()
	defer c.Unlock()

	return c.hidden.list()
}

func (c *Client) viewOf(addr address.Address, proposal types.Proposal, tallyReady bool) ProposalView {
	c.Lock()
	hidden := c.hidden.has(addr)
	c.Unlock()

	return ProposalView{
		Address:    addr,
		Proposal:   proposal,
		TallyReady: tallyReady,
		Status:     proposal.Status(c.clock.Now(), tallyReady),
		Outcome:    proposal.Outcome(c.thresholdBps),
		Hidden:     hidden,
	}
}

func (c *Client) list(ctx context.Context, kind address.Kind) ([]ledger.Account, error) {
	return retry.Get(ctx, c.policy, func(ctx context.Context) ([]ledger.Account, error) {
		ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		return c.ledger.ListAccounts(ctx, kind)
	})
}

func fetch[T types.Account](ctx context.Context, c *Client, addr address.Address) (T, bool, error) {
	type result struct {
		value T
		found bool
	}

	res, err := retry.Get(ctx, c.policy, func(ctx context.Context) (result, error) {
		ctx, cancel := context.WithTimeout(ctx, c.callTimeout)
		defer cancel()

		value, found, err := ledger.Fetch[T](ctx, c.ledger, addr)

		return result{value: value, found: found}, err
	})

	return res.value, res.found, err
}
