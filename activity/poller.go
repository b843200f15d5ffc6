package activity

import (
	"context"
	"sync"
	"time"

	"github.com/privdao/privdao"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/retry"
	"github.com/rs/zerolog"
)

const (
	defaultInterval = 10 * time.Second
	defaultLimit    = 50
)

// Clock is the source of the time of the relative ages.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time {
	return time.Now()
}

// Poller refreshes the feed at a regular interval.
type Poller struct {
	sync.Mutex

	ledger   ledger.Ledger
	policy   retry.Policy
	clock    Clock
	interval time.Duration
	limit    int
	logger   zerolog.Logger
	feed     []Item
	onUpdate func([]Item)
}

// PollerOption is the type of option to set some fields of a poller.
type PollerOption func(*Poller)

// WithInterval sets the interval between two refreshes.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		p.interval = d
	}
}

// WithLimit sets the number of log entries read at each refresh.
func WithLimit(n int) PollerOption {
	return func(p *Poller) {
		p.limit = n
	}
}

// WithClock sets the clock of the relative ages.
func WithClock(c Clock) PollerOption {
	return func(p *Poller) {
		p.clock = c
	}
}

// WithPolicy sets the retry policy of the reads of the logs.
func WithPolicy(policy retry.Policy) PollerOption {
	return func(p *Poller) {
		p.policy = policy
	}
}

// WithUpdate sets a function called with the feed after each refresh.
func WithUpdate(fn func([]Item)) PollerOption {
	return func(p *Poller) {
		p.onUpdate = fn
	}
}

// NewPoller returns a poller of the logs of the ledger.
func NewPoller(lgr ledger.Ledger, opts ...PollerOption) *Poller {
	p := &Poller{
		ledger:   lgr,
		policy:   retry.NewPolicy(),
		clock:    systemClock{},
		interval: defaultInterval,
		limit:    defaultLimit,
		logger:   privdao.Logger.With().Str("component", "activity").Logger(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// Feed returns the feed of the last refresh.
func (p *Poller) Feed() []Item {
	p.Lock()
	defer p.Unlock()

	return append([]Item{}, p.feed...)
}

// Refresh reads the logs and builds the feed once.
func (p *Poller) Refresh(ctx context.Context) ([]Item, error) {
	entries, err := retry.Get(ctx, p.policy, func(ctx context.Context) ([]ledger.LogEntry, error) {
		return p.ledger.GetLogs(ctx, p.limit)
	})
	if err != nil {
		return nil, err
	}

	feed := Build(entries, p.clock.Now())

	p.Lock()
	p.feed = feed
	p.Unlock()

	if p.onUpdate != nil {
		p.onUpdate(feed)
	}

	return feed, nil
}

// Run refreshes the feed until the context is done. A failed refresh keeps
// the previous feed.
func (p *Poller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		_, err := p.Refresh(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Warn().Err(err).Msg("failed to refresh the feed")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
