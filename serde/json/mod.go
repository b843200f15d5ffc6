// Package json implements the JSON context. Decoding is strict: a field that
// the destination does not define is an error rather than being dropped.
package json

import (
	"bytes"
	"encoding/json"

	"github.com/privdao/privdao/serde"
	"golang.org/x/xerrors"
)

// jsonContext is a context to marshal and unmarshal in JSON format.
//
// - implements serde.Context
type jsonContext struct{}

// NewContext returns a JSON context.
func NewContext() serde.Context {
	return jsonContext{}
}

// GetFormat implements serde.Context. It returns the JSON format name.
func (ctx jsonContext) GetFormat() serde.Format {
	return serde.FormatJSON
}

// Marshal implements serde.Context.
func (ctx jsonContext) Marshal(m interface{}) ([]byte, error) {
	return json.Marshal(m)
}

// Unmarshal implements serde.Context. Unknown fields and trailing data are
// rejected.
func (ctx jsonContext) Unmarshal(data []byte, m interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	err := dec.Decode(m)
	if err != nil {
		return err
	}

	if dec.More() {
		return xerrors.New("trailing data after JSON value")
	}

	return nil
}
