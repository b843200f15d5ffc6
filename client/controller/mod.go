// Package controller implements the commands of the voters and of the
// authorities of the proposals.
//
// The identities are ed25519 keys stored in the keys folder of the data
// folder, and a command names the one it acts for with the key flag. The
// daemon holds one session that switches to the identity of each command.
package controller

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/opentracing/opentracing-go"
	"github.com/privdao/privdao"
	"github.com/privdao/privdao/activity"
	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/cli/node"
	"github.com/privdao/privdao/client"
	"github.com/privdao/privdao/config"
	"github.com/privdao/privdao/core/address"
	"github.com/privdao/privdao/core/store/kv"
	"github.com/privdao/privdao/crypto"
	"github.com/privdao/privdao/crypto/ed25519"
	"github.com/privdao/privdao/crypto/loader"
	"github.com/privdao/privdao/internal/tracing"
	"github.com/privdao/privdao/ledger"
	"github.com/privdao/privdao/mpc"
	"github.com/privdao/privdao/vote"
	"golang.org/x/xerrors"
)

const (
	// ClientFile is the name of the database of the session.
	ClientFile = "client.db"

	// KeysDir is the name of the folder of the identities.
	KeysDir = "keys"

	keyExt = ".key"

	tracerService = "privdao-vote"
)

// NewController returns the controller of the voting commands.
func NewController() node.Initializer {
	return minimal{}
}

// minimal is the initializer of the session of the daemon.
//
// - implements node.Initializer
type minimal struct{}

// SetCommands implements node.Initializer.
func (minimal) SetCommands(builder node.Builder) {
	keyFlag := cli.StringFlag{
		Name:     "key",
		Usage:    "name of the identity in the keys folder",
		Required: true,
	}

	proposalFlag := cli.StringFlag{
		Name:     "proposal",
		Usage:    "address of the proposal",
		Required: true,
	}

	cmd := builder.SetCommand("dao")
	cmd.SetDescription("confidential voting on the proposals")

	sub := cmd.SetSubCommand("keygen")
	sub.SetDescription("create an identity")
	sub.SetFlags(cli.StringFlag{
		Name:     "name",
		Usage:    "name of the identity",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(keygenAction{}))

	sub = cmd.SetSubCommand("identity")
	sub.SetDescription("show an identity and its delegation")
	sub.SetFlags(keyFlag)
	sub.SetAction(builder.MakeAction(identityAction{}))

	sub = cmd.SetSubCommand("balance")
	sub.SetDescription("show the gate token balance of an identity")
	sub.SetFlags(keyFlag, cli.StringFlag{
		Name:  "mint",
		Usage: "class of tokens, the gate of the settings when empty",
	})
	sub.SetAction(builder.MakeAction(balanceAction{}))

	sub = cmd.SetSubCommand("proposal")
	sub.SetDescription("proposals of the program")

	list := sub.SetSubCommand("list")
	list.SetDescription("list the proposals")
	list.SetFlags(
		cli.StringFlag{
			Name:  "key",
			Usage: "name of the identity whose hidden proposals are skipped",
		},
		cli.BoolFlag{
			Name:  "all",
			Usage: "include the hidden proposals",
		},
	)
	list.SetAction(builder.MakeAction(listAction{}))

	show := sub.SetSubCommand("show")
	show.SetDescription("show a proposal")
	show.SetFlags(proposalFlag, cli.StringFlag{
		Name:  "key",
		Usage: "name of the identity whose vote is looked up",
	})
	show.SetAction(builder.MakeAction(showAction{}))

	create := sub.SetSubCommand("create")
	create.SetDescription("create a proposal and open its voting")
	create.SetFlags(
		keyFlag,
		cli.StringFlag{
			Name:     "title",
			Usage:    "title of the proposal",
			Required: true,
		},
		cli.StringFlag{
			Name:  "description",
			Usage: "description of the proposal",
		},
		cli.DurationFlag{
			Name:  "duration",
			Usage: "length of the voting period",
			Value: defaultDuration,
		},
		cli.IntFlag{
			Name:  "id",
			Usage: "identifier of the proposal, the next free one when zero",
		},
		cli.StringFlag{
			Name:  "gate-mint",
			Usage: "class of tokens required to vote, the gate of the settings when empty",
		},
		cli.IntFlag{
			Name:  "min-balance",
			Usage: "balance of gate tokens required to vote",
		},
		cli.IntFlag{
			Name:  "quorum",
			Usage: "number of votes required to reveal the results",
		},
	)
	create.SetAction(builder.MakeAction(createAction{}))

	reveal := sub.SetSubCommand("reveal")
	reveal.SetDescription("reveal the results of an ended proposal")
	reveal.SetFlags(keyFlag, proposalFlag)
	reveal.SetAction(builder.MakeAction(revealAction{}))

	hide := sub.SetSubCommand("hide")
	hide.SetDescription("hide a proposal from the listings of an identity")
	hide.SetFlags(keyFlag, proposalFlag)
	hide.SetAction(builder.MakeAction(hideAction{hide: true}))

	unhide := sub.SetSubCommand("unhide")
	unhide.SetDescription("show a hidden proposal again")
	unhide.SetFlags(keyFlag, proposalFlag)
	unhide.SetAction(builder.MakeAction(hideAction{hide: false}))

	sub = cmd.SetSubCommand("vote")
	sub.SetDescription("cast an encrypted vote")
	sub.SetFlags(
		keyFlag,
		proposalFlag,
		cli.StringFlag{
			Name:     "choice",
			Usage:    "yes, no or abstain",
			Required: true,
		},
		cli.DurationFlag{
			Name:  "timeout",
			Usage: "maximum time to wait for the confirmation",
			Value: defaultVoteTimeout,
		},
	)
	sub.SetAction(builder.MakeAction(voteAction{}))

	sub = cmd.SetSubCommand("delegate")
	sub.SetDescription("delegate the voting power of an identity")
	sub.SetFlags(keyFlag, cli.StringFlag{
		Name:     "to",
		Usage:    "address of the delegate",
		Required: true,
	})
	sub.SetAction(builder.MakeAction(delegateAction{}))

	sub = cmd.SetSubCommand("revoke")
	sub.SetDescription("revoke the delegation of an identity")
	sub.SetFlags(keyFlag)
	sub.SetAction(builder.MakeAction(revokeAction{}))

	sub = cmd.SetSubCommand("activity")
	sub.SetDescription("show the recent activity of the program")
	sub.SetFlags(cli.IntFlag{
		Name:  "limit",
		Usage: "maximum number of items",
		Value: defaultActivityLimit,
	})
	sub.SetAction(builder.MakeAction(activityAction{}))
}

// OnStart implements node.Initializer. It creates and injects the session of
// the daemon and starts the activity poller.
func (minimal) OnStart(flags cli.Flags, inj node.Injector) error {
	var cfg config.Config

	err := inj.Resolve(&cfg)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var deriver address.Deriver

	err = inj.Resolve(&deriver)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var lgr ledger.Ledger

	err = inj.Resolve(&lgr)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	var cluster mpc.Cluster

	err = inj.Resolve(&cluster)
	if err != nil {
		return xerrors.Errorf("injector: %v", err)
	}

	err = os.MkdirAll(cfg.DataDir, 0700)
	if err != nil {
		return xerrors.Errorf("data dir: %v", err)
	}

	db, err := kv.New(filepath.Join(cfg.DataDir, ClientFile))
	if err != nil {
		return xerrors.Errorf("db: %v", err)
	}

	opts := []client.Option{
		client.WithPolicy(cfg.Policy()),
		client.WithCallTimeout(cfg.CallTimeout),
		client.WithThreshold(cfg.ThresholdBps),
		client.WithHiddenStore(db),
	}

	voteOpts := []vote.Option{
		vote.WithPolicy(cfg.Policy()),
		vote.WithCallTimeout(cfg.CallTimeout),
		vote.WithPollInterval(cfg.PollInterval),
		vote.WithTracer(newTracer()),
	}

	revealer, ok := cluster.(client.Revealer)
	if ok {
		opts = append(opts, client.WithRevealer(revealer))
	}

	// The session follows the clock of the ledger when it runs in the
	// process with its own.
	var clock client.Clock

	err = inj.Resolve(&clock)
	if err == nil {
		opts = append(opts, client.WithClock(clock))
		voteOpts = append(voteOpts, vote.WithClock(clock))
	}

	votes := vote.NewOrchestrator(deriver, lgr, cluster, voteOpts...)

	ctx, cancel := context.WithCancel(context.Background())

	s := &session{
		cfg:     cfg,
		deriver: deriver,
		client:  client.NewClient(deriver, lgr, opts...),
		votes:   votes,
		feed: activity.NewPoller(lgr,
			activity.WithInterval(cfg.PollInterval),
			activity.WithPolicy(cfg.Policy()),
		),
		db:     db,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(s.done)

		err := s.feed.Run(ctx)
		if err != nil && !xerrors.Is(err, context.Canceled) {
			privdao.Logger.Warn().Err(err).Msg("activity poller stopped")
		}
	}()

	inj.Inject(s)

	return nil
}

// OnStop implements node.Initializer. It waits for the votes in progress and
// closes the database of the session.
func (minimal) OnStop(inj node.Injector) error {
	var s *session

	err := inj.Resolve(&s)
	if err != nil {
		return nil
	}

	return s.close()
}

// session is the state of the daemon shared by the voting commands. The
// commands are serialized because the active identity is global to the
// session.
type session struct {
	sync.Mutex

	cfg     config.Config
	deriver address.Deriver
	client  *client.Client
	votes   *vote.Orchestrator
	feed    *activity.Poller
	db      kv.DB
	cancel  context.CancelFunc
	done    chan struct{}
	closed  bool
}

// use switches the session to the identity stored under the name.
func (s *session) use(name string) (crypto.Signer, error) {
	signer, err := loadSigner(s.cfg, name)
	if err != nil {
		return nil, err
	}

	current, ok := s.client.Identity()

	identity, err := address.FromPublicKey(signer.GetPublicKey())
	if err != nil {
		return nil, xerrors.Errorf("invalid identity: %v", err)
	}

	if ok && current == identity {
		return signer, nil
	}

	err = s.client.SetIdentity(signer)
	if err != nil {
		return nil, err
	}

	return signer, nil
}

func (s *session) close() error {
	s.Lock()
	defer s.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	s.cancel()
	<-s.done

	s.votes.Close()

	err := tracing.CloseAll()
	if err != nil {
		privdao.Logger.Warn().Err(err).Msg("failed to close tracers")
	}

	err = s.db.Close()
	if err != nil {
		return xerrors.Errorf("failed to close db: %v", err)
	}

	return nil
}

// keyPath returns the path of the key of the identity. The name must not be
// a path.
func keyPath(cfg config.Config, name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", xerrors.Errorf("invalid identity name '%s'", name)
	}

	return filepath.Join(cfg.DataDir, KeysDir, name+keyExt), nil
}

func loadSigner(cfg config.Config, name string) (crypto.Signer, error) {
	path, err := keyPath(cfg, name)
	if err != nil {
		return nil, err
	}

	data, err := loader.NewFileLoader(path).Load()
	if err != nil {
		return nil, xerrors.Errorf("unknown identity '%s': %v", name, err)
	}

	signer, err := ed25519.NewSignerFromBytes(data)
	if err != nil {
		return nil, xerrors.Errorf("identity '%s': %v", name, err)
	}

	return signer, nil
}

// newTracer returns the jaeger tracer when an agent is configured in the
// environment, or the global one.
func newTracer() opentracing.Tracer {
	if os.Getenv("JAEGER_AGENT_HOST") == "" && os.Getenv("JAEGER_ENDPOINT") == "" {
		return opentracing.GlobalTracer()
	}

	tracer, err := tracing.GetTracer(tracerService)
	if err != nil {
		privdao.Logger.Warn().Err(err).Msg("tracing disabled")
		return opentracing.GlobalTracer()
	}

	return tracer
}
