package bridge

import (
	"kbridge/internal/events"
	"kbridge/internal/telemetry"
)

// translator maps the client's telemetry event stream onto the metrics
// store. One translator is attached per resource id; events tagged for
// a different resource are ignored so that bridges sharing a process
// never leak counts into each other.
type translator struct {
	resource string
	sink     *telemetry.Store
}

func (t *translator) handle(ev events.Event, _ map[string]string) {
	if ev.Meta["resource_id"] != t.resource {
		return
	}
	switch ev.Name {
	case events.Dropped:
		t.sink.CounterAdd(t.resource, events.Dropped, ev.Value)
	case events.DroppedQueueFull:
		t.sink.CounterAdd(t.resource, events.DroppedQueueFull, ev.Value)
		// the emitter always pairs dropped_queue_full with a duplicate
		// dropped event; subtract it back out or drops double-report
		t.sink.CounterAdd(t.resource, events.Dropped, -ev.Value)
	case events.Queuing:
		t.sink.GaugeSet(t.resource, events.Queuing, ev.Meta["partition"], ev.Value)
	case events.Inflight:
		t.sink.GaugeSet(t.resource, events.Inflight, ev.Meta["partition"], ev.Value)
	case events.Retried:
		t.sink.CounterAdd(t.resource, events.Retried, ev.Value)
	case events.Failed:
		t.sink.CounterAdd(t.resource, events.Failed, ev.Value)
	case events.RetriedFailed:
		t.sink.CounterAdd(t.resource, events.RetriedFailed, ev.Value)
	case events.RetriedSuccess:
		t.sink.CounterAdd(t.resource, events.RetriedSuccess, ev.Value)
	case events.Success:
		t.sink.CounterAdd(t.resource, events.Success, ev.Value)
	default:
		// future vendor events pass through silently
	}
}
