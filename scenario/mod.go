// Package scenario implements the scripted runs against a ledger and its
// cluster: the setup of a gate token and the full voting flow used to check a
// deployment.
//
// A script is a sequence of numbered steps. Every step is reported on one
// line, followed by its details, and the script stops at the first failure.
package scenario

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/privdao/privdao"
	"golang.org/x/xerrors"
)

// StepFunc is the body of a step. The details written to the writer are
// printed after the status of the step.
type StepFunc func(ctx context.Context, out io.Writer) error

type step struct {
	name string
	fn   StepFunc
}

// Script is a sequence of steps run in order.
type Script struct {
	name  string
	steps []step
}

// NewScript returns an empty script.
func NewScript(name string) *Script {
	return &Script{name: name}
}

// Add appends a step to the script.
func (s *Script) Add(name string, fn StepFunc) {
	s.steps = append(s.steps, step{name: name, fn: fn})
}

// Len returns the number of steps.
func (s *Script) Len() int {
	return len(s.steps)
}

// Run runs the steps and writes the log to the writer. It returns the error
// of the first step that fails, and the following steps are skipped.
func (s *Script) Run(ctx context.Context, out io.Writer) error {
	fmt.Fprintf(out, "%s: %d steps\n", s.name, len(s.steps))

	start := time.Now()

	for i, st := range s.steps {
		fmt.Fprintf(out, "[%d/%d] %s ... ", i+1, len(s.steps), st.name)

		details := new(bytes.Buffer)
		begin := time.Now()

		err := st.fn(ctx, details)
		if err != nil {
			fmt.Fprintln(out, "FAILED")
			indent(out, details)
			fmt.Fprintf(out, "      error: %v\n", err)

			privdao.Logger.Warn().
				Str("script", s.name).
				Int("step", i+1).
				Err(err).
				Msg("step failed")

			return xerrors.Errorf("step %d (%s) failed: %v", i+1, st.name, err)
		}

		fmt.Fprintf(out, "ok (%s)\n", time.Since(begin).Round(time.Millisecond))
		indent(out, details)
	}

	fmt.Fprintf(out, "%s: done in %s\n", s.name, time.Since(start).Round(time.Millisecond))

	return nil
}

func indent(out io.Writer, details *bytes.Buffer) {
	scanner := bufio.NewScanner(details)
	for scanner.Scan() {
		fmt.Fprintf(out, "      %s\n", scanner.Text())
	}
}
