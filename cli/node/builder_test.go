package node

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/privdao/privdao/cli"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/stretchr/testify/require"
	urfave "github.com/urfave/cli/v2"
	"golang.org/x/xerrors"
)

func TestCLIBuilder_SetStartFlags(t *testing.T) {
	builder := NewBuilder()

	builder.SetStartFlags(cli.StringFlag{}, cli.IntFlag{})
	require.Len(t, builder.startFlags, 2)
}

func TestCLIBuilder_Start(t *testing.T) {
	calls := &fake.Call{}
	dir := filepath.Join(t.TempDir(), "daemon")

	builder := newTestBuilder(fakeInitializer{calls: calls}, fakeInitializer{calls: calls})
	builder.sigs <- syscall.SIGTERM

	err := builder.start(FlagSet{ConfigFlag: dir})
	require.NoError(t, err)
	require.Equal(t, 4, calls.Len())
	require.Equal(t, "start", calls.Get(0, 0))
	require.Equal(t, "stop", calls.Get(3, 0))

	_, err = os.Stat(dir)
	require.NoError(t, err)

	builder.daemonFactory = fakeFactory{err: xerrors.New("oops")}
	err = builder.start(FlagSet{})
	require.EqualError(t, err, "couldn't make daemon: oops")

	builder.daemonFactory = fakeFactory{errDaemon: xerrors.New("oops")}
	err = builder.start(FlagSet{})
	require.EqualError(t, err, "couldn't start the daemon: oops")

	builder = newTestBuilder(fakeInitializer{err: xerrors.New("oops")})
	err = builder.start(FlagSet{})
	require.EqualError(t, err, "couldn't run the controller: oops")

	builder = newTestBuilder(fakeInitializer{errStop: xerrors.New("oops")})
	builder.sigs <- syscall.SIGTERM

	err = builder.start(FlagSet{})
	require.EqualError(t, err, "couldn't stop controller: oops")
}

func TestCLIBuilder_Start_BadPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0600))

	builder := newTestBuilder()

	err := builder.start(FlagSet{ConfigFlag: filepath.Join(file, "daemon")})
	require.Error(t, err)
	require.Contains(t, err.Error(), "couldn't make path: ")
}

func TestCLIBuilder_MakeAction(t *testing.T) {
	calls := &fake.Call{}

	builder := newTestBuilder()
	builder.daemonFactory = fakeFactory{calls: calls}

	cmd := builder.SetCommand("proposal")
	sub := cmd.SetSubCommand("create")
	sub.SetFlags(
		cli.StringFlag{Name: "title"},
		cli.IntFlag{Name: "quorum", Value: 2},
		cli.BoolFlag{Name: "wait"},
		cli.StringSliceFlag{Name: "member"},
	)
	sub.SetAction(builder.MakeAction(fakeAction{}))

	err := builder.Build().Run([]string{"privdao", "--config", "dir",
		"proposal", "create", "--title", "budget", "--wait", "--member", "a"})
	require.NoError(t, err)

	require.Equal(t, 1, calls.Len())

	data := calls.Get(0, 0).([]byte)
	require.Equal(t, []byte{0x0, 0x0}, data[:2])

	fset := make(FlagSet)
	require.NoError(t, json.Unmarshal(data[2:], &fset))

	require.Equal(t, "dir", fset.Path(ConfigFlag))
	require.Equal(t, "", fset.String(ConfigFileFlag))
	require.Equal(t, "budget", fset.String("title"))
	require.Equal(t, 2, fset.Int("quorum"))
	require.True(t, fset.Bool("wait"))
	require.Equal(t, []string{"a"}, fset.StringSlice("member"))

	builder.daemonFactory = fakeFactory{err: xerrors.New("oops")}
	err = builder.MakeAction(fakeAction{})(FlagSet{})
	require.EqualError(t, err, "couldn't make client: oops")

	builder.daemonFactory = fakeFactory{errClient: xerrors.New("oops")}
	err = builder.MakeAction(fakeAction{})(FlagSet{})
	require.EqualError(t, err, "oops")
}

func TestCLIBuilder_Build(t *testing.T) {
	builder := newTestBuilder(fakeInitializer{})

	cmd := builder.SetCommand("another")
	cmd.SetAction(func(cli.Flags) error {
		return nil
	})

	app := builder.Build().(*urfave.App)

	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}

	require.Equal(t, []string{"another", "fake", "start", "help"}, names)
	require.Equal(t, ConfigFlag, app.Flags[0].Names()[0])
	require.Equal(t, ConfigFileFlag, app.Flags[1].Names()[0])
}

func TestCLIBuilder_Daemon(t *testing.T) {
	sigs := make(chan os.Signal, 1)

	app := NewBuilderWithCfg(sigs, nil, fakeInitializer{}).Build()

	// The CLI process builds the same actions as the daemon.
	out := new(bytes.Buffer)
	cmd := NewBuilderWithCfg(make(chan os.Signal, 1), out, fakeInitializer{}).Build()

	dir, err := os.MkdirTemp("", "privdao")
	require.NoError(t, err)

	defer os.RemoveAll(dir)

	done := make(chan error, 1)
	go func() {
		done <- app.Run([]string{"privdao", "--config", dir, "start"})
	}()

	// The command is sent until the daemon is listening.
	require.Eventually(t, func() bool {
		return cmd.Run([]string{"privdao", "--config", dir, "fake"}) == nil
	}, 5*time.Second, 10*time.Millisecond)

	require.Contains(t, out.String(), "deadbeef")

	sigs <- syscall.SIGTERM
	require.NoError(t, <-done)
}

// -----------------------------------------------------------------------------
// Utility functions

func newTestBuilder(inits ...Initializer) *CLIBuilder {
	builder := NewBuilderWithCfg(make(chan os.Signal, 1), new(bytes.Buffer), inits...)
	builder.daemonFactory = fakeFactory{}

	return builder
}
