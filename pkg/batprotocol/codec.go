package batprotocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/batsched/batsched/internal/common/edcerrors"
)

type Format int

const (
	FormatBinary Format = iota
	FormatJSON
)

// Initialization flags of a decision component, as passed by the kernel.
const (
	FlagFormatBinary uint32 = 0x1
	FlagFormatJSON   uint32 = 0x2
)

func (f Format) String() string {
	switch f {
	case FormatBinary:
		return "binary"
	case FormatJSON:
		return "json"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

func (f Format) Flags() uint32 {
	if f == FormatJSON {
		return FlagFormatJSON
	}
	return FlagFormatBinary
}

// FormatFromFlags returns the format selected by initialization flags.
// Exactly one format flag must be set and no other flag is known.
func FormatFromFlags(flags uint32) (Format, error) {
	switch flags {
	case FlagFormatBinary:
		return FormatBinary, nil
	case FlagFormatJSON:
		return FormatJSON, nil
	default:
		return 0, errors.Errorf("invalid initialization flags %#x", flags)
	}
}

func ParseFormat(s string) (Format, error) {
	switch s {
	case "binary":
		return FormatBinary, nil
	case "json":
		return FormatJSON, nil
	default:
		return 0, errors.Errorf("unknown format %q; valid formats are binary and json", s)
	}
}

type direction int

const (
	// Kernel to decision component.
	toEDC direction = iota
	// Decision component to kernel.
	toKernel
)

func (d direction) listKey() string {
	if d == toKernel {
		return "decisions"
	}
	return "events"
}

var payloadFactories = map[direction]map[EventType]func() Payload{
	toEDC: {
		EventTypeBatsimHello:            func() Payload { return &BatsimHello{} },
		EventTypeSimulationBegins:       func() Payload { return &SimulationBegins{} },
		EventTypeJobSubmitted:           func() Payload { return &JobSubmitted{} },
		EventTypeJobCompleted:           func() Payload { return &JobCompleted{} },
		EventTypeJobsKilled:             func() Payload { return &JobsKilled{} },
		EventTypeProbeDataEmitted:       func() Payload { return &ProbeDataEmitted{} },
		EventTypeAllStaticJobsSubmitted: func() Payload { return &AllStaticJobsSubmitted{} },
		EventTypeUnknownExternal:        func() Payload { return &UnknownExternal{} },
		EventTypeKillJobs:               func() Payload { return &KillJobs{} },
	},
	toKernel: {
		EventTypeEDCHello:    func() Payload { return &EDCHello{} },
		EventTypeRejectJob:   func() Payload { return &RejectJob{} },
		EventTypeExecuteJob:  func() Payload { return &ExecuteJob{} },
		EventTypeKillJobs:    func() Payload { return &KillJobs{} },
		EventTypeCreateProbe: func() Payload { return &CreateProbe{} },
		EventTypeStopProbe:   func() Payload { return &StopProbe{} },
	},
}

type rawEvent struct {
	Timestamp *float64        `json:"timestamp"`
	Type      EventType       `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

type rawMessage struct {
	Now       *float64   `json:"now"`
	Events    []rawEvent `json:"events,omitempty"`
	Decisions []rawEvent `json:"decisions,omitempty"`
}

// Codec converts messages to and from their wire representation.
// The kernel side uses EncodeEvents and DecodeDecisions, the decision component side uses
// DecodeEvents and EncodeDecisions.
type Codec struct {
	format Format
}

func NewCodec(format Format) *Codec {
	return &Codec{format: format}
}

func (c *Codec) Format() Format {
	return c.format
}

// DecodeEvents decodes a message sent by the kernel.
func (c *Codec) DecodeEvents(data []byte) (*Message, error) {
	return c.decode(data, toEDC)
}

// EncodeDecisions encodes a message sent by a decision component.
func (c *Codec) EncodeDecisions(msg *Message) ([]byte, error) {
	return c.encode(msg, toKernel)
}

// EncodeEvents encodes a message sent by the kernel.
func (c *Codec) EncodeEvents(msg *Message) ([]byte, error) {
	return c.encode(msg, toEDC)
}

// DecodeDecisions decodes a message sent by a decision component.
func (c *Codec) DecodeDecisions(data []byte) (*Message, error) {
	return c.decode(data, toKernel)
}

func (c *Codec) decode(data []byte, dir direction) (*Message, error) {
	if len(data) == 0 {
		return nil, edcerrors.NewProtocolViolation("empty message")
	}
	document := data
	if c.format == FormatBinary {
		var err error
		document, err = binaryToJSON(data)
		if err != nil {
			return nil, edcerrors.NewProtocolViolation("cannot decode binary message: %s", err)
		}
	}

	decoder := json.NewDecoder(bytes.NewReader(document))
	decoder.DisallowUnknownFields()
	var raw rawMessage
	if err := decoder.Decode(&raw); err != nil {
		return nil, edcerrors.NewProtocolViolation("malformed message: %s", err)
	}
	if _, err := decoder.Token(); err != io.EOF {
		return nil, edcerrors.NewProtocolViolation("trailing data after message")
	}
	if raw.Now == nil {
		return nil, edcerrors.NewProtocolViolation("message has no now")
	}
	rawEvents := raw.Events
	if dir == toKernel {
		if raw.Events != nil {
			return nil, edcerrors.NewProtocolViolation("decision message contains events")
		}
		rawEvents = raw.Decisions
	} else if raw.Decisions != nil {
		return nil, edcerrors.NewProtocolViolation("event message contains decisions")
	}

	msg := &Message{Now: *raw.Now, Events: make([]Event, 0, len(rawEvents))}
	for i, rawEvent := range rawEvents {
		violation := func(format string, args ...any) error {
			return errors.WithStack(&edcerrors.ErrProtocolViolation{
				EventIndex: i,
				EventType:  string(rawEvent.Type),
				Message:    fmt.Sprintf(format, args...),
			})
		}
		if rawEvent.Timestamp == nil {
			return nil, violation("missing timestamp")
		}
		factory, ok := payloadFactories[dir][rawEvent.Type]
		if !ok {
			return nil, violation("unexpected %s type", dir.itemName())
		}
		payload := factory()
		if len(rawEvent.Payload) > 0 && !bytes.Equal(rawEvent.Payload, []byte("null")) {
			if err := json.Unmarshal(rawEvent.Payload, payload); err != nil {
				return nil, violation("malformed payload: %s", err)
			}
		}
		if checkable, ok := payload.(checkable); ok {
			if err := checkable.check(); err != nil {
				return nil, violation("%s", err)
			}
		}
		msg.Events = append(msg.Events, Event{Timestamp: *rawEvent.Timestamp, Payload: payload})
	}
	if err := CheckOrdering(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func (d direction) itemName() string {
	if d == toKernel {
		return "decision"
	}
	return "event"
}

func (c *Codec) encode(msg *Message, dir direction) ([]byte, error) {
	if err := CheckOrdering(msg); err != nil {
		return nil, err
	}
	now := msg.Now
	raw := rawMessage{Now: &now}
	rawEvents := make([]rawEvent, 0, len(msg.Events))
	for i, event := range msg.Events {
		if event.Payload == nil {
			return nil, errors.WithStack(&edcerrors.ErrProtocolViolation{EventIndex: i, Message: "nil payload"})
		}
		if _, ok := payloadFactories[dir][event.Type()]; !ok {
			return nil, errors.WithStack(&edcerrors.ErrProtocolViolation{
				EventIndex: i,
				EventType:  string(event.Type()),
				Message:    fmt.Sprintf("cannot be sent as %s", dir.itemName()),
			})
		}
		payload, err := json.Marshal(event.Payload)
		if err != nil {
			return nil, errors.Wrapf(err, "cannot encode %s %d", dir.itemName(), i)
		}
		timestamp := event.Timestamp
		rawEvents = append(rawEvents, rawEvent{Timestamp: &timestamp, Type: event.Type(), Payload: payload})
	}
	if dir == toKernel {
		raw.Decisions = rawEvents
	} else {
		raw.Events = rawEvents
	}
	document, err := json.Marshal(raw)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if c.format == FormatBinary {
		return jsonToBinary(document)
	}
	return document, nil
}

// CheckOrdering returns an *edcerrors.ErrProtocolViolation if the events of msg go back in time or happen after msg.Now.
func CheckOrdering(msg *Message) error {
	for i, event := range msg.Events {
		if event.Timestamp > msg.Now {
			return errors.WithStack(&edcerrors.ErrProtocolViolation{
				EventIndex: i,
				EventType:  string(event.Type()),
				Message:    fmt.Sprintf("timestamp %g is after now %g", event.Timestamp, msg.Now),
			})
		}
		if i > 0 && event.Timestamp < msg.Events[i-1].Timestamp {
			return errors.WithStack(&edcerrors.ErrProtocolViolation{
				EventIndex: i,
				EventType:  string(event.Type()),
				Message:    fmt.Sprintf("timestamp %g is before timestamp %g of the previous event", event.Timestamp, msg.Events[i-1].Timestamp),
			})
		}
	}
	return nil
}
