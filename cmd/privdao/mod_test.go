package main

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/privdao/privdao/cli/node"
	"github.com/stretchr/testify/require"
)

func TestPrivdao_FullFlow(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("PRIVDAO_DATA_DIR", filepath.Join(dir, "data"))
	t.Setenv("PRIVDAO_POLL_INTERVAL", "20ms")

	sigs := make(chan os.Signal)
	wg := sync.WaitGroup{}
	wg.Add(1)

	go func() {
		defer wg.Done()

		err := runWithCfg([]string{os.Args[0], "--config", dir, "start"},
			config{Channel: sigs, Writer: io.Discard})
		require.NoError(t, err)
	}()

	defer func() {
		// Simulate a Ctrl+C
		close(sigs)
		wg.Wait()
	}()

	waitDaemon(t, dir)

	out := new(bytes.Buffer)
	cfg := config{Writer: out}

	err := runWithCfg([]string{os.Args[0], "--config", dir, "setup", "--voter", "alice"}, cfg)
	require.NoError(t, err, out.String())
	require.Contains(t, out.String(), "setup: done in")

	out.Reset()

	err = runWithCfg([]string{os.Args[0], "--config", dir,
		"fullflow", "--voters", "2", "--duration", "1s"}, cfg)
	require.NoError(t, err, out.String())
	require.Contains(t, out.String(), "[11/12] reveal the results ... ok")
	require.Contains(t, out.String(), "fullflow: done in")

	out.Reset()

	err = runWithCfg([]string{os.Args[0], "--config", dir, "fullflow", "--voters", "0"}, cfg)
	require.Error(t, err)
}

// -----------------------------------------------------------------------------
// Utility functions

func waitDaemon(t *testing.T, dir string) {
	num := 50
	path := filepath.Join(dir, node.SocketName)

	for i := 0; i < num; i++ {
		_, err := os.Stat(path)
		if !os.IsNotExist(err) {
			conn, err := net.Dial("unix", path)
			if err == nil {
				conn.Close()
				return
			}
		}

		time.Sleep(30 * time.Millisecond)
	}

	t.Fatal("timeout")
}
