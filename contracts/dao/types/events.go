package types

import (
	"fmt"
	"strings"

	"golang.org/x/xerrors"
)

const (
	// LogPrefix starts the lines written by a program.
	LogPrefix = "Program log: "

	// InstructionPrefix starts the line that names the instruction.
	InstructionPrefix = LogPrefix + "Instruction: "

	// DataPrefix starts the line of an event.
	DataPrefix = "Program data: "
)

// Names of the events emitted by the programs.
const (
	EventProposalCreated   = "ProposalCreated"
	EventTallyInitialized  = "TallyInitialized"
	EventVoteCast          = "VoteCast"
	EventResultsRevealed   = "ResultsRevealed"
	EventDelegationCreated = "DelegationCreated"
	EventDelegationRevoked = "DelegationRevoked"
	EventTokensMinted      = "TokensMinted"
)

// Field is a key/value pair of an event.
type Field struct {
	Key   string
	Value string
}

// Event is a structured line emitted by a program.
type Event struct {
	Name   string
	Fields []Field
}

// NewEvent returns an event with the key/value pairs. The pairs are read two
// by two.
func NewEvent(name string, kv ...interface{}) Event {
	e := Event{Name: name}

	for i := 0; i+1 < len(kv); i += 2 {
		e.Fields = append(e.Fields, Field{
			Key:   fmt.Sprint(kv[i]),
			Value: fmt.Sprint(kv[i+1]),
		})
	}

	return e
}

// Get returns the value of the key, or an empty string.
func (e Event) Get(key string) string {
	for _, f := range e.Fields {
		if f.Key == key {
			return f.Value
		}
	}

	return ""
}

// Line returns the log line of the event.
func (e Event) Line() string {
	var b strings.Builder

	b.WriteString(DataPrefix)
	b.WriteString(e.Name)

	for _, f := range e.Fields {
		fmt.Fprintf(&b, " %s=%s", f.Key, f.Value)
	}

	return b.String()
}

// InstructionLine returns the log line that names the instruction.
func InstructionLine(name string) string {
	return InstructionPrefix + name
}

// ParseEvent returns the event of a data line. A value must not contain a
// space.
func ParseEvent(line string) (Event, error) {
	if !strings.HasPrefix(line, DataPrefix) {
		return Event{}, xerrors.Errorf("not an event line")
	}

	tokens := strings.Fields(strings.TrimPrefix(line, DataPrefix))
	if len(tokens) == 0 {
		return Event{}, xerrors.New("missing event name")
	}

	e := Event{Name: tokens[0]}

	for _, token := range tokens[1:] {
		key, value, found := strings.Cut(token, "=")
		if !found || key == "" {
			return Event{}, xerrors.Errorf("malformed field '%s'", token)
		}

		e.Fields = append(e.Fields, Field{Key: key, Value: value})
	}

	return e, nil
}
