package ingestion

import (
	"InsureLedger/internal/event"
	"InsureLedger/internal/state"
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const (
	// CommandSubjectPrefix precedes the operation name on inbound subjects.
	CommandSubjectPrefix = "insure.commands."
	// EventSubjectPrefix precedes the event type on outbound subjects.
	EventSubjectPrefix = "insure.ledger.events."
)

// CommandSubject returns the inbound subject for a command type.
func CommandSubject(et event.EventType) string {
	return CommandSubjectPrefix + et.Operation()
}

// ParseRawEvent converts a NATS message into a typed command. The
// operation is the last subject token.
func ParseRawEvent(raw RawEvent) (event.Event, error) {
	op, ok := strings.CutPrefix(raw.Subject, CommandSubjectPrefix)
	if !ok || op == "" || strings.Contains(op, ".") {
		return nil, fmt.Errorf("%w: subject %q is not a command subject", state.ErrInvalidArgument, raw.Subject)
	}
	return ParseCommand(op, raw.Data)
}

// ParseCommand decodes a JSON body for the named operation. Unknown fields
// are rejected and every command must carry a request_id, which doubles as
// its idempotency key.
func ParseCommand(op string, data []byte) (event.Event, error) {
	et, err := event.ParseOperation(op)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidArgument, err)
	}
	evt, err := event.New(et)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", state.ErrInvalidArgument, err)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(evt); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", state.ErrInvalidArgument, et, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: parse %s: trailing data", state.ErrInvalidArgument, et)
	}

	if evt.IdempotencyKey() == uuid.Nil.String() {
		return nil, fmt.Errorf("%w: %s: request_id is required", state.ErrInvalidArgument, et)
	}
	return evt, nil
}
