package registry

import (
	"testing"

	"github.com/privdao/privdao/serde"
	"github.com/stretchr/testify/require"
)

func TestSimpleRegistry_Get(t *testing.T) {
	reg := NewSimpleRegistry()

	engine := reg.Get(serde.FormatJSON)
	_, err := engine.Encode(nil, nil)
	require.EqualError(t, err, "format 'JSON' is not implemented")

	_, err = engine.Decode(nil, nil)
	require.EqualError(t, err, "format 'JSON' is not implemented")

	reg.Register(serde.FormatJSON, fakeEngine{})
	require.IsType(t, fakeEngine{}, reg.Get(serde.FormatJSON))
}

type fakeEngine struct {
	serde.FormatEngine
}
