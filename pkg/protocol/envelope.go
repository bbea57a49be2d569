// Package protocol defines the chat envelope and how it is framed on a stream.
package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrMalformedEnvelope is returned when a record cannot be parsed into an Envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// Record field names.
const (
	FieldText      = "text"
	FieldTimestamp = "timestamp"
)

// Format selects the record encoding.
type Format int

const (
	// FormatJSON encodes the record as a JSON object.
	FormatJSON Format = iota
	// FormatProto encodes the record as a binary google.protobuf.Struct.
	FormatProto
)

// String returns the string representation of Format
func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "proto"
	default:
		return "unknown"
	}
}

// ParseFormat maps a format name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "proto", "protobuf":
		return FormatProto, nil
	default:
		return FormatJSON, fmt.Errorf("unknown envelope format %q", s)
	}
}

// Envelope is one chat record: the text and the time it was captured,
// in seconds since the Unix epoch.
type Envelope struct {
	Text      string
	Timestamp float64
}

// New creates an envelope stamped with at.
func New(text string, at time.Time) Envelope {
	return Envelope{
		Text:      text,
		Timestamp: float64(at.UnixNano()) / float64(time.Second),
	}
}

// Time returns the timestamp as a time.Time.
func (e Envelope) Time() time.Time {
	sec, frac := math.Modf(e.Timestamp)
	return time.Unix(int64(sec), int64(frac*float64(time.Second)))
}

// Marshal encodes the envelope as one complete record.
func (e Envelope) Marshal(f Format) ([]byte, error) {
	msg, err := e.toProto()
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	var data []byte
	switch f {
	case FormatJSON:
		data, err = protojson.Marshal(msg)
	case FormatProto:
		data, err = proto.MarshalOptions{Deterministic: true}.Marshal(msg)
	default:
		return nil, fmt.Errorf("failed to encode envelope: unknown format %d", f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}
	return data, nil
}

// protoTag is the first byte of every binary record: field 1 of a Struct,
// length-delimited.
const protoTag = 0x0a

// Unmarshal parses one record. The format is detected from the first byte:
// binary records always start with protoTag and JSON records are objects,
// optionally preceded by whitespace.
func Unmarshal(data []byte) (Envelope, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return Envelope{}, fmt.Errorf("%w: empty record", ErrMalformedEnvelope)
	}

	msg := &structpb.Struct{}
	var err error
	switch {
	case data[0] == protoTag:
		err = proto.Unmarshal(data, msg)
		if err != nil && trimmed[0] == '{' {
			msg.Reset()
			err = protojson.Unmarshal(trimmed, msg)
		}
	case trimmed[0] == '{':
		err = protojson.Unmarshal(trimmed, msg)
	default:
		err = proto.Unmarshal(data, msg)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	var e Envelope
	if err := e.fromProto(msg); err != nil {
		return Envelope{}, err
	}
	return e, nil
}

// toProto converts the envelope to its Struct record.
func (e Envelope) toProto() (*structpb.Struct, error) {
	if math.IsNaN(e.Timestamp) || math.IsInf(e.Timestamp, 0) {
		return nil, fmt.Errorf("timestamp %v is not a finite number", e.Timestamp)
	}
	return structpb.NewStruct(map[string]any{
		FieldText:      e.Text,
		FieldTimestamp: e.Timestamp,
	})
}

// fromProto populates the envelope from a Struct record.
// Unknown fields are ignored so newer senders stay readable.
func (e *Envelope) fromProto(msg *structpb.Struct) error {
	fields := msg.GetFields()

	text, ok := fields[FieldText].GetKind().(*structpb.Value_StringValue)
	if !ok {
		return fmt.Errorf("%w: field %q missing or not a string", ErrMalformedEnvelope, FieldText)
	}
	ts, ok := fields[FieldTimestamp].GetKind().(*structpb.Value_NumberValue)
	if !ok {
		return fmt.Errorf("%w: field %q missing or not a number", ErrMalformedEnvelope, FieldTimestamp)
	}

	e.Text = text.StringValue
	e.Timestamp = ts.NumberValue
	return nil
}
