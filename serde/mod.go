// Package serde defines the primitives to serialize and deserialize (serde)
// the data models of the ledger accounts and of the wire messages.
//
// A data model implements Message and looks up the engine of the format
// requested by the context in a registry. The engines live in a sub-package
// so that the data models do not depend on a specific encoding.
package serde

// Format is the identifier of a serialization format.
type Format string

const (
	// FormatJSON is the identifier of the JSON format.
	FormatJSON Format = "JSON"
)

// Message is the interface a data model implements to be serialized.
type Message interface {
	// Serialize returns the bytes of the message in the format of the
	// context.
	Serialize(ctx Context) ([]byte, error)
}

// Factory is the interface to implement to instantiate a data model from its
// serialized form.
type Factory interface {
	// Deserialize returns the message of the data, or an error if the data is
	// malformed.
	Deserialize(ctx Context, data []byte) (Message, error)
}

// FormatEngine is the interface a format implements to encode and decode the
// messages of a package.
type FormatEngine interface {
	// Encode returns the bytes of the message.
	Encode(ctx Context, message Message) ([]byte, error)

	// Decode returns the message of the data.
	Decode(ctx Context, data []byte) (Message, error)
}

// Context is the context passed to the serialization and deserialization
// requests.
type Context interface {
	// GetFormat returns the name of the format for this context.
	GetFormat() Format

	// Marshal returns the bytes of the value according to the format.
	Marshal(value interface{}) ([]byte, error)

	// Unmarshal populates the value with the data according to the format. It
	// must fail on any field that the value does not define.
	Unmarshal(data []byte, value interface{}) error
}
