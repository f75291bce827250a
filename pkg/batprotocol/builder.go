package batprotocol

import (
	"github.com/pkg/errors"

	"github.com/batsched/batsched/pkg/intervalset"
)

// MessageBuilder accumulates the events of one message.
// Events are stamped with the builder's current time, which starts at the now of the message being answered
// and may only move forward.
type MessageBuilder struct {
	start   float64
	current float64
	events  []Event
}

func NewMessageBuilder() *MessageBuilder {
	return &MessageBuilder{}
}

// Clear drops all pending events and resets the current time to now.
func (b *MessageBuilder) Clear(now float64) {
	b.start = now
	b.current = now
	b.events = nil
}

func (b *MessageBuilder) CurrentTime() float64 {
	return b.current
}

// SetCurrentTime moves the current time forward, so that subsequent events happen later.
func (b *MessageBuilder) SetCurrentTime(t float64) error {
	if t < b.current {
		return errors.Errorf("cannot move current time back from %g to %g", b.current, t)
	}
	b.current = t
	return nil
}

func (b *MessageBuilder) Len() int {
	return len(b.events)
}

func (b *MessageBuilder) Add(payload Payload) {
	b.events = append(b.events, Event{Timestamp: b.current, Payload: payload})
}

func (b *MessageBuilder) AddEDCHello(name, version, commit string, features Features) {
	b.Add(NewEDCHello(name, version, commit, features))
}

func (b *MessageBuilder) AddRejectJob(jobId string) {
	b.Add(&RejectJob{JobId: jobId})
}

// AddExecuteJob adds an ExecuteJob on hosts, with executors placed by a predefined strategy.
func (b *MessageBuilder) AddExecuteJob(jobId string, hosts intervalset.Set, strategy PredefinedStrategy) {
	b.Add(&ExecuteJob{
		JobId: jobId,
		Allocation: Allocation{
			HostAllocation: hosts.String(),
			ExecutorPlacement: ExecutorPlacement{
				Type:     PlacementTypePredefinedStrategy,
				Strategy: strategy,
			},
		},
	})
}

func (b *MessageBuilder) AddKillJobs(jobIds ...string) {
	b.Add(&KillJobs{JobIds: jobIds})
}

func (b *MessageBuilder) AddCreateProbe(probe *CreateProbe) {
	b.Add(probe)
}

func (b *MessageBuilder) AddStopProbe(probeId string) {
	b.Add(&StopProbe{ProbeId: probeId})
}

// Finish returns the message holding all pending events and clears the builder.
// The message's now is the later of now and the current time; now may not be before the time the builder was cleared at.
func (b *MessageBuilder) Finish(now float64) (*Message, error) {
	if now < b.start {
		return nil, errors.Errorf("cannot finish message at %g, before its start at %g", now, b.start)
	}
	if b.current > now {
		now = b.current
	}
	msg := &Message{Now: now, Events: b.events}
	if msg.Events == nil {
		msg.Events = []Event{}
	}
	b.Clear(now)
	return msg, nil
}
