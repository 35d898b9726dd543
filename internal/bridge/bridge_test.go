package bridge

import (
	"errors"
	"sync"
	"testing"
	"time"

	"kbridge/internal/broker"
	"kbridge/internal/buffer"
	"kbridge/internal/config"
	"kbridge/internal/endpoint"
	"kbridge/internal/events"
	"kbridge/internal/telemetry"
	"kbridge/internal/template"
)

// fakePool records create/destroy call pairs so tests can verify the
// triple is torn down exactly once.
type fakePool struct {
	mu sync.Mutex

	// when set, EnsureClient blocks until a token arrives; lets tests
	// hold a start mid-sequence
	clientHold chan struct{}

	failClient   error
	failProducer error
	sendErr      error
	connected    bool

	clientStarts   int
	clientStops    int
	producerStarts int
	producerStops  int

	lastClientCfg broker.ClientConfig
	lastPlan      buffer.Plan
	sent          []broker.Record
}

type fakeClient struct{ id string }

func (c *fakeClient) ID() string { return c.id }

type fakeProducer struct{ topic string }

func (p *fakeProducer) Topic() string { return p.topic }

func (f *fakePool) EnsureClient(id string, _ []endpoint.Endpoint, cfg broker.ClientConfig) (broker.Client, error) {
	if f.clientHold != nil {
		<-f.clientHold
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failClient != nil {
		return nil, f.failClient
	}
	f.clientStarts++
	f.lastClientCfg = cfg
	return &fakeClient{id: id}, nil
}

func (f *fakePool) EnsureProducer(_ broker.Client, topic string, cfg broker.ProducerConfig) (broker.Producer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failProducer != nil {
		return nil, f.failProducer
	}
	f.producerStarts++
	f.lastPlan = cfg.Plan
	return &fakeProducer{topic: topic}, nil
}

func (f *fakePool) Send(_ broker.Producer, rec broker.Record, ack broker.AckFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, rec)
	if ack != nil {
		ack(0, int64(len(f.sent)), nil)
	}
	return nil
}

func (f *fakePool) StopProducer(broker.Producer) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.producerStops++
	return nil
}

func (f *fakePool) StopClient(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clientStops++
	return nil
}

func (f *fakePool) Connected(broker.Client) (bool, error) {
	return f.connected, nil
}

func validCfg() config.Bridge {
	return config.Bridge{
		Servers: "b1.example.com:9092",
		Producer: &config.Producer{
			Topic:    "events",
			Template: &config.MessageTemplate{Value: "${temp}"},
			Buffer:   config.Buffer{Mode: "memory", PerPartitionLimit: 1000},
		},
	}
}

func newTestManager(pool broker.Pool) (*Manager, *events.Registry) {
	reg := events.NewRegistry()
	return NewManager(pool, reg, telemetry.NewStore(nil), "data"), reg
}

func TestStart_MissingProducerConfig(t *testing.T) {
	pool := &fakePool{}
	m, reg := newTestManager(pool)

	cfg := validCfg()
	cfg.Producer = nil
	_, err := m.Start("b1:nodeA", cfg)
	if !errors.Is(err, ErrMissingProducerConfig) {
		t.Fatalf("want ErrMissingProducerConfig, got %v", err)
	}
	if pool.clientStarts != 0 {
		t.Fatal("no client may be created before config validation")
	}
	if reg.Attached(handlerID("b1:nodeA")) {
		t.Fatal("no telemetry subscription may be left behind")
	}
}

func TestStart_MissingMessageTemplate(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	cfg := validCfg()
	cfg.Producer.Template = nil
	if _, err := m.Start("b1", cfg); !errors.Is(err, ErrMissingMessageTemplate) {
		t.Fatalf("want ErrMissingMessageTemplate, got %v", err)
	}
}

func TestStartStop_LeavesNothingBehind(t *testing.T) {
	pool := &fakePool{}
	m, reg := newTestManager(pool)

	inst, err := m.Start("b1:nodeA", validCfg())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !reg.Attached(handlerID("b1:nodeA")) {
		t.Fatal("telemetry subscription missing after start")
	}

	if err := m.Stop(inst); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if pool.producerStops != 1 || pool.clientStops != 1 {
		t.Fatalf("teardown counts: producer=%d client=%d", pool.producerStops, pool.clientStops)
	}
	if reg.Attached(handlerID("b1:nodeA")) {
		t.Fatal("telemetry subscription survived stop")
	}

	// idempotent
	if err := m.Stop(inst); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if pool.producerStops != 1 || pool.clientStops != 1 {
		t.Fatal("second stop must not tear down again")
	}
}

func TestStart_ProducerFailureTearsDownClient(t *testing.T) {
	pool := &fakePool{failProducer: errors.New("boom")}
	m, reg := newTestManager(pool)

	_, err := m.Start("b1", validCfg())
	if !errors.Is(err, ErrProducerStart) {
		t.Fatalf("want ErrProducerStart, got %v", err)
	}
	if pool.clientStops != 1 {
		t.Fatalf("client torn down %d times, want exactly 1", pool.clientStops)
	}
	if reg.Attached(handlerID("b1")) {
		t.Fatal("telemetry subscription survived failed start")
	}
}

func TestStart_ClientFailure(t *testing.T) {
	pool := &fakePool{failClient: errors.New("no route")}
	m, reg := newTestManager(pool)

	if _, err := m.Start("b1", validCfg()); !errors.Is(err, ErrClientStart) {
		t.Fatalf("want ErrClientStart, got %v", err)
	}
	if reg.Attached(handlerID("b1")) {
		t.Fatal("telemetry subscription survived failed start")
	}
}

func TestStart_BadEndpointsFailTheStart(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	cfg := validCfg()
	cfg.Servers = "host:notaport"
	if _, err := m.Start("b1", cfg); !errors.Is(err, ErrClientStart) {
		t.Fatalf("want ErrClientStart, got %v", err)
	}
	if pool.clientStarts != 0 {
		t.Fatal("client created from unparseable endpoints")
	}
}

func TestStart_TemplateSyntaxTearsEverythingDown(t *testing.T) {
	pool := &fakePool{}
	m, reg := newTestManager(pool)

	cfg := validCfg()
	cfg.Producer.Template = &config.MessageTemplate{Value: "${broken"}
	_, err := m.Start("b1", cfg)
	if !errors.Is(err, template.ErrSyntax) {
		t.Fatalf("want ErrSyntax, got %v", err)
	}
	if pool.producerStops != 1 || pool.clientStops != 1 {
		t.Fatalf("teardown counts: producer=%d client=%d", pool.producerStops, pool.clientStops)
	}
	if reg.Attached(handlerID("b1")) {
		t.Fatal("telemetry subscription survived failed start")
	}
}

func TestStart_OverLiveIDStopsPrevious(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	first, err := m.Start("b1", validCfg())
	if err != nil {
		t.Fatalf("first Start: %v", err)
	}
	second, err := m.Start("b1", validCfg())
	if err != nil {
		t.Fatalf("second Start: %v", err)
	}
	if pool.producerStops != 1 || pool.clientStops != 1 {
		t.Fatalf("previous triple not torn down: producer=%d client=%d", pool.producerStops, pool.clientStops)
	}
	if first == second {
		t.Fatal("expected a fresh instance")
	}
	if err := m.Send(first, map[string]any{"temp": 1}, nil); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("stale instance must reject sends, got %v", err)
	}
}

func TestStart_ConcurrentSameIDKeepsOneTriple(t *testing.T) {
	pool := &fakePool{clientHold: make(chan struct{})}
	m, _ := newTestManager(pool)

	var wg sync.WaitGroup
	insts := make([]*Instance, 2)
	for i := range insts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := m.Start("b1", validCfg())
			if err != nil {
				t.Errorf("Start %d: %v", i, err)
			}
			insts[i] = inst
		}(i)
	}
	// release the starts one at a time; the second must not enter the
	// sequence until the first has committed its triple
	pool.clientHold <- struct{}{}
	pool.clientHold <- struct{}{}
	wg.Wait()

	pool.mu.Lock()
	starts, stops := pool.producerStarts, pool.producerStops
	cstarts, cstops := pool.clientStarts, pool.clientStops
	pool.mu.Unlock()
	if starts-stops != 1 || cstarts-cstops != 1 {
		t.Fatalf("net triples: producers=%d clients=%d", starts-stops, cstarts-cstops)
	}

	stale := 0
	for _, inst := range insts {
		if err := m.Send(inst, map[string]any{"temp": 1}, nil); errors.Is(err, ErrNotStarted) {
			stale++
		}
	}
	if stale != 1 {
		t.Fatalf("want exactly one superseded instance, got %d", stale)
	}
}

func TestStop_ForgetsTelemetrySeries(t *testing.T) {
	pool := &fakePool{}
	reg := events.NewRegistry()
	sink := telemetry.NewStore(nil)
	m := NewManager(pool, reg, sink, "data")

	inst, err := m.Start("b1", validCfg())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	reg.Dispatch(events.Event{Name: events.Success, Value: 3,
		Meta: map[string]string{"resource_id": "b1"}})
	if got := sink.Counter("b1", events.Success); got != 3 {
		t.Fatalf("success = %d, want 3", got)
	}

	if err := m.Stop(inst); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := sink.Counter("b1", events.Success); got != 0 {
		t.Fatalf("series survived stop: success = %d", got)
	}
}

func TestSend_RendersRecord(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	inst, err := m.Start("b1", validCfg())
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	before := time.Now().UnixMilli()
	if err := m.Send(inst, map[string]any{"temp": 42}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(pool.sent) != 1 {
		t.Fatalf("sent %d records", len(pool.sent))
	}
	rec := pool.sent[0]
	if string(rec.Value) != "42" {
		t.Fatalf("value = %q", rec.Value)
	}
	if rec.Timestamp < before {
		t.Fatalf("fallback timestamp %d predates send", rec.Timestamp)
	}
}

func TestSend_SurfacesDeliveryFailure(t *testing.T) {
	pool := &fakePool{sendErr: broker.ErrBufferFull}
	m, _ := newTestManager(pool)

	inst, _ := m.Start("b1", validCfg())
	if err := m.Send(inst, map[string]any{}, nil); !errors.Is(err, broker.ErrBufferFull) {
		t.Fatalf("want ErrBufferFull, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	pool := &fakePool{connected: true}
	m, _ := newTestManager(pool)

	inst, _ := m.Start("b1", validCfg())
	if st, err := m.Status(inst); err != nil || st != Connected {
		t.Fatalf("Status = %v, %v", st, err)
	}

	pool.connected = false
	if st, _ := m.Status(inst); st != Disconnected {
		t.Fatalf("Status = %v, want Disconnected", st)
	}

	_ = m.Stop(inst)
	if _, err := m.Status(inst); !errors.Is(err, ErrNotStarted) {
		t.Fatalf("stopped instance: want ErrNotStarted, got %v", err)
	}
}

func TestStopAll(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	if _, err := m.Start("b1", validCfg()); err != nil {
		t.Fatalf("Start b1: %v", err)
	}
	if _, err := m.Start("b2", validCfg()); err != nil {
		t.Fatalf("Start b2: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if pool.clientStops != 2 || pool.producerStops != 2 {
		t.Fatalf("teardown counts: producer=%d client=%d", pool.producerStops, pool.clientStops)
	}
}

func TestStart_BufferPlanReachesPool(t *testing.T) {
	pool := &fakePool{}
	m, _ := newTestManager(pool)

	cfg := validCfg()
	cfg.Producer.Buffer = config.Buffer{Mode: "disk", PerPartitionLimit: 1000, SegmentBytes: 500}
	if _, err := m.Start("b1:nodeA", cfg); err != nil {
		t.Fatalf("Start: %v", err)
	}
	plan := pool.lastPlan
	if plan.Offload || plan.Dir != buffer.InstanceDir("data", "b1:nodeA") {
		t.Fatalf("disk plan: %+v", plan)
	}
	if plan.SegmentBytes != 500 {
		t.Fatalf("segment bytes: %d", plan.SegmentBytes)
	}
}
