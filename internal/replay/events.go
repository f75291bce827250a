package replay

import "github.com/batsched/batsched/pkg/batprotocol"

// Event is something happening to the replayed platform at a given simulated time.
type Event struct {
	time float64
	// Events with equal time happen in the order they were pushed.
	sequenceNumber int
	payload        eventPayload
}

// eventPayload is implemented by notification, decision, probeSample and jobEnd.
type eventPayload interface {
	isEventPayload()
}

// notification is an event the decision component must be told about.
type notification struct {
	batprotocol.Payload
}

// decision is a decision taking effect at the event's time.
type decision struct {
	batprotocol.Payload
}

// probeSample is the periodic trigger of a probe.
type probeSample struct {
	probeId string
}

// jobEnd is the end of a job's execution. It is ignored if the job was killed first.
type jobEnd struct {
	jobId string
}

func (notification) isEventPayload() {}
func (decision) isEventPayload()     {}
func (probeSample) isEventPayload()  {}
func (jobEnd) isEventPayload()       {}

// EventLog is a min-heap of events by time, then sequence number. Use it through container/heap.
type EventLog []Event

func (el EventLog) Len() int { return len(el) }

func (el EventLog) Less(i, j int) bool {
	if el[i].time != el[j].time {
		return el[i].time < el[j].time
	}
	return el[i].sequenceNumber < el[j].sequenceNumber
}

func (el EventLog) Swap(i, j int) { el[i], el[j] = el[j], el[i] }

func (el *EventLog) Push(x any) {
	*el = append(*el, x.(Event))
}

func (el *EventLog) Pop() any {
	n := len(*el)
	event := (*el)[n-1]
	(*el)[n-1] = Event{}
	*el = (*el)[:n-1]
	return event
}

// onlyProbeSamples returns true if no event other than probe samples is pending.
// Probe samples reschedule themselves, so such a log never empties on its own.
func (el EventLog) onlyProbeSamples() bool {
	for _, event := range el {
		if _, ok := event.payload.(probeSample); !ok {
			return false
		}
	}
	return true
}
