// Package execution defines the service that applies a transaction to the
// accounts of the ledger.
package execution

import (
	"time"

	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn"
)

// Step is the input of an execution.
type Step struct {
	// Current is the transaction to apply.
	Current txn.Transaction

	// Time is the clock of the ledger when the transaction is applied.
	Time time.Time

	// Log collects the lines a program emits during the execution.
	Log *Log
}

// Log is the list of lines emitted by the programs during one execution. A
// nil log discards the lines.
type Log struct {
	lines []string
}

// Add appends a line to the log.
func (l *Log) Add(line string) {
	if l == nil {
		return
	}

	l.lines = append(l.lines, line)
}

// Lines returns the lines in the emission order.
func (l *Log) Lines() []string {
	if l == nil {
		return nil
	}

	return append([]string{}, l.lines...)
}

// Result is the result of a transaction execution.
type Result struct {
	// Accepted is the success state of the transaction.
	Accepted bool

	// Message gives a chance to the execution to explain why a transaction
	// has failed.
	Message string

	// Err is the error that rejected the transaction, if any. It keeps the
	// type of the error for the callers in the same process.
	Err error

	// Logs are the lines emitted by the programs.
	Logs []string
}

// Service is the execution service that defines the primitives to execute a
// transaction.
type Service interface {
	// Execute must apply the transaction to the snapshot and return the
	// result of it.
	Execute(snap store.IterableSnapshot, step Step) (Result, error)
}
