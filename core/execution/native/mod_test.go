package native

import (
	"testing"

	"github.com/privdao/privdao/core/execution"
	"github.com/privdao/privdao/core/store"
	"github.com/privdao/privdao/core/txn"
	"github.com/privdao/privdao/internal/testing/fake"
	"github.com/stretchr/testify/require"
)

func TestService_Execute(t *testing.T) {
	srvc := NewExecution()
	srvc.Set("abc", fakeExec{})
	srvc.Set("bad", fakeExec{err: fake.GetError()})

	step := execution.Step{}
	step.Current = fakeTx{contract: "abc"}

	res, err := srvc.Execute(nil, step)
	require.NoError(t, err)
	require.True(t, res.Accepted)
	require.Equal(t, []string{
		"Program abc invoke",
		"Program log: hello",
		"Program abc success",
	}, res.Logs)

	step.Current = fakeTx{contract: "bad"}
	res, err = srvc.Execute(nil, step)
	require.NoError(t, err)
	require.False(t, res.Accepted)
	require.Equal(t, fake.GetError().Error(), res.Message)
	require.Equal(t, fake.GetError(), res.Err)
	require.Equal(t, "Program bad failed: fake error", res.Logs[2])

	step.Current = fakeTx{contract: "none"}
	_, err = srvc.Execute(nil, step)
	require.EqualError(t, err, "unknown contract 'none'")
}

func TestLog_Nil(t *testing.T) {
	var log *execution.Log

	log.Add("discarded")
	require.Nil(t, log.Lines())
}

// -----------------------------------------------------------------------------
// Utility functions

type fakeExec struct {
	err error
}

func (e fakeExec) Execute(_ store.IterableSnapshot, step execution.Step) error {
	step.Log.Add("Program log: hello")

	return e.err
}

type fakeTx struct {
	txn.Transaction
	contract string
}

func (tx fakeTx) GetArg(key string) []byte {
	return []byte(tx.contract)
}
