package broker

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	diskqueue "github.com/nsqio/go-diskqueue"

	"kbridge/internal/buffer"
	"kbridge/internal/events"
	"kbridge/internal/logging"
)

const maxDiskRecordBytes = 64 << 20

// ackBox rides along in ProducerMessage.Metadata so the delivery
// outcome can be routed back to the caller and the byte accounting
// released.
type ackBox struct {
	fn    AckFunc
	bytes int64
}

type saramaProducer struct {
	id    string
	topic string
	ap    sarama.AsyncProducer
	plan  buffer.Plan
	emit  func(events.Event)

	dq diskqueue.Interface

	queuedBytes atomic.Int64
	queuedRecs  atomic.Int64

	// sendMu fences send against stop: stop takes the write side
	// before closing done, so no send can pass the done check and then
	// push into a producer that is already shutting down.
	sendMu   sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	drainWG  sync.WaitGroup
	ioWG     sync.WaitGroup
}

func (sp *saramaProducer) Topic() string { return sp.topic }

func newSaramaProducer(id, topic string, ap sarama.AsyncProducer, plan buffer.Plan, emit func(events.Event)) (*saramaProducer, error) {
	sp := &saramaProducer{
		id:    id,
		topic: topic,
		ap:    ap,
		plan:  plan,
		emit:  emit,
		done:  make(chan struct{}),
	}

	if plan.Dir != "" {
		if err := os.MkdirAll(plan.Dir, 0o750); err != nil {
			_ = ap.Close()
			return nil, fmt.Errorf("broker: buffer dir: %w", err)
		}
		sp.dq = diskqueue.New("records", plan.Dir, plan.SegmentBytes,
			0, maxDiskRecordBytes, 2500, 2*time.Second, dqLog(id))
		sp.drainWG.Add(1)
		go sp.drainLoop()
	}

	sp.ioWG.Add(2)
	go sp.successLoop()
	go sp.errorLoop()
	return sp, nil
}

func (sp *saramaProducer) send(rec Record, ack AckFunc) error {
	sp.sendMu.RLock()
	defer sp.sendMu.RUnlock()

	select {
	case <-sp.done:
		return ErrStopped
	default:
	}

	size := int64(len(rec.Key) + len(rec.Value))
	switch sp.plan.Mode {
	case buffer.ModeDisk:
		return sp.offload(rec)
	case buffer.ModeHybrid:
		if sp.overBudget(size) {
			return sp.offload(rec)
		}
		sp.enqueue(rec, ack, size)
	default: // memory
		if sp.overBudget(size) {
			if sp.plan.DropWhenFull {
				sp.emitCount(events.DroppedQueueFull, 1)
				// the emitter pairs every queue-full drop with a
				// duplicate dropped event; subscribers correct for it
				sp.emitCount(events.Dropped, 1)
				return nil
			}
			return ErrBufferFull
		}
		sp.enqueue(rec, ack, size)
	}
	return nil
}

func (sp *saramaProducer) enqueue(rec Record, ack AckFunc, size int64) {
	msg := &sarama.ProducerMessage{
		Topic:    sp.topic,
		Value:    sarama.ByteEncoder(rec.Value),
		Metadata: &ackBox{fn: ack, bytes: size},
	}
	if len(rec.Key) > 0 {
		msg.Key = sarama.ByteEncoder(rec.Key)
	}
	if rec.Timestamp > 0 {
		msg.Timestamp = time.UnixMilli(rec.Timestamp)
	}
	sp.queuedBytes.Add(size)
	sp.emitGauge(events.Queuing, sp.queuedRecs.Add(1), "-1")
	sp.ap.Input() <- msg
}

// offload persists the record before it becomes eligible for send.
// Records routed through the disk queue carry no ack callback; their
// delivery outcome still reaches the telemetry stream. In hybrid mode
// a spilled record re-enters through drainLoop and may be reordered
// relative to records that stayed on the memory path; ordering within
// the disk queue itself is preserved.
func (sp *saramaProducer) offload(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if err := sp.dq.Put(data); err != nil {
		sp.emitCount(events.Dropped, 1)
		return err
	}
	sp.emitGauge(events.Queuing, sp.queuedRecs.Load()+sp.dq.Depth(), "-1")
	return nil
}

func (sp *saramaProducer) overBudget(size int64) bool {
	return sp.plan.PerPartitionLimit > 0 &&
		sp.queuedBytes.Load()+size > sp.plan.PerPartitionLimit
}

func (sp *saramaProducer) drainLoop() {
	defer sp.drainWG.Done()
	for {
		select {
		case <-sp.done:
			return
		case data := <-sp.dq.ReadChan():
			var rec Record
			if err := json.Unmarshal(data, &rec); err != nil {
				logging.L().Warn("discarding undecodable buffered record",
					"resource", sp.id, "error", err)
				sp.emitCount(events.Dropped, 1)
				continue
			}
			sp.enqueue(rec, nil, int64(len(rec.Key)+len(rec.Value)))
		}
	}
}

func (sp *saramaProducer) successLoop() {
	defer sp.ioWG.Done()
	for msg := range sp.ap.Successes() {
		part := strconv.Itoa(int(msg.Partition))
		n := sp.release(msg.Metadata)
		sp.emitCountPart(events.Success, 1, part)
		sp.emitGauge(events.Inflight, n, part)
		if box, ok := msg.Metadata.(*ackBox); ok && box.fn != nil {
			box.fn(msg.Partition, msg.Offset, nil)
		}
	}
}

func (sp *saramaProducer) errorLoop() {
	defer sp.ioWG.Done()
	for perr := range sp.ap.Errors() {
		sp.release(perr.Msg.Metadata)
		sp.emitCount(events.Failed, 1)
		if box, ok := perr.Msg.Metadata.(*ackBox); ok && box.fn != nil {
			box.fn(-1, -1, perr.Err)
		}
	}
}

func (sp *saramaProducer) release(meta any) int64 {
	if box, ok := meta.(*ackBox); ok {
		sp.queuedBytes.Add(-box.bytes)
	}
	return sp.queuedRecs.Add(-1)
}

func (sp *saramaProducer) stop() error {
	var err error
	sp.stopOnce.Do(func() {
		sp.sendMu.Lock()
		close(sp.done)
		sp.sendMu.Unlock()
		sp.drainWG.Wait()
		if sp.dq != nil {
			err = sp.dq.Close()
		}
		if cerr := sp.ap.Close(); cerr != nil {
			err = errors.Join(err, cerr)
		}
		sp.ioWG.Wait()
	})
	return err
}

func (sp *saramaProducer) meta(partition string) map[string]string {
	m := map[string]string{"resource_id": sp.id}
	if partition != "" {
		m["partition"] = partition
	}
	return m
}

func (sp *saramaProducer) emitCount(name string, v int64) {
	sp.emit(events.Event{Name: name, Value: v, Meta: sp.meta("")})
}

func (sp *saramaProducer) emitCountPart(name string, v int64, partition string) {
	sp.emit(events.Event{Name: name, Value: v, Meta: sp.meta(partition)})
}

func (sp *saramaProducer) emitGauge(name string, v int64, partition string) {
	sp.emit(events.Event{Name: name, Value: v, Meta: sp.meta(partition)})
}

func dqLog(resource string) diskqueue.AppLogFunc {
	return func(lvl diskqueue.LogLevel, f string, args ...interface{}) {
		msg := fmt.Sprintf(f, args...)
		l := logging.L().With("resource", resource)
		switch lvl {
		case diskqueue.DEBUG:
			l.Debug(msg)
		case diskqueue.WARN:
			l.Warn(msg)
		case diskqueue.ERROR, diskqueue.FATAL:
			l.Error(msg)
		default:
			l.Info(msg)
		}
	}
}
