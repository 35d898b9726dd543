// Package bridge owns the producer bridge lifecycle: it turns a
// resolved configuration into a {client, producer, telemetry
// subscription} triple and guarantees the triple lives and dies as a
// unit.
package bridge

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"kbridge/internal/auth"
	"kbridge/internal/broker"
	"kbridge/internal/buffer"
	"kbridge/internal/config"
	"kbridge/internal/endpoint"
	"kbridge/internal/events"
	"kbridge/internal/logging"
	"kbridge/internal/telemetry"
	"kbridge/internal/template"
)

type Status int

const (
	Disconnected Status = iota
	Connected
)

func (s Status) String() string {
	if s == Connected {
		return "connected"
	}
	return "disconnected"
}

// Instance is the runtime state of one started bridge. It must not
// outlive its client/producer handles.
type Instance struct {
	id       string
	client   broker.Client
	producer broker.Producer
	tmpl     *template.Compiled
	topic    string
	stopped  atomic.Bool
}

func (i *Instance) ID() string { return i.id }

// Manager starts and stops bridges. At most one live triple exists per
// resource id; starting over a live id tears the previous one down
// first.
type Manager struct {
	pool     broker.Pool
	registry *events.Registry
	sink     *telemetry.Store
	dataDir  string

	// startMu serializes whole start sequences; mu alone only guards
	// the live map. Two concurrent starts of the same id would
	// otherwise both pass take() and leave two triples running.
	startMu sync.Mutex

	mu   sync.Mutex
	live map[string]*Instance
}

func NewManager(pool broker.Pool, registry *events.Registry, sink *telemetry.Store, dataDir string) *Manager {
	return &Manager{
		pool:     pool,
		registry: registry,
		sink:     sink,
		dataDir:  dataDir,
		live:     make(map[string]*Instance),
	}
}

func handlerID(resource string) string { return "kbridge:telemetry:" + resource }

// Start builds the client/producer topology for id. On any failure the
// resources created so far are torn down before the error returns; no
// partially started state is observable.
func (m *Manager) Start(id string, cfg config.Bridge) (*Instance, error) {
	if cfg.Producer == nil {
		return nil, fmt.Errorf("%w (resource %s)", ErrMissingProducerConfig, id)
	}
	if cfg.Producer.Template == nil {
		return nil, fmt.Errorf("%w (resource %s)", ErrMissingMessageTemplate, id)
	}

	m.startMu.Lock()
	defer m.startMu.Unlock()

	if prev := m.take(id); prev != nil {
		if err := m.Stop(prev); err != nil {
			logging.L().Warn("teardown of previous instance reported failures",
				"resource", id, "error", err)
		}
	}

	// Idempotent: a leftover subscription under the same key is reused.
	tr := &translator{resource: id, sink: m.sink}
	m.registry.Attach(handlerID(id), events.ProducerEvents(), tr.handle,
		map[string]string{"resource_id": id})

	fail := func(step error, cause error) (*Instance, error) {
		m.registry.Detach(handlerID(id))
		logging.L().Error("bridge start failed",
			"resource", id, "error", cause)
		return nil, errors.Join(step, cause)
	}

	eps, err := endpoint.Resolve(cfg.Servers)
	if err != nil {
		return fail(ErrClientStart, err)
	}
	creds, err := auth.ResolveCredentials(cfg.Auth)
	if err != nil {
		return fail(ErrClientStart, err)
	}

	ccfg := broker.ClientConfig{
		ConnectTimeout:    cfg.ConnectTimeout,
		MetadataTimeout:   cfg.MetadataTimeout,
		MetadataRefresh:   cfg.Producer.PartitionRefresh,
		SocketOpts:        endpoint.ResolveSocketOptions(cfg.SocketOpts),
		Credentials:       creds,
		TLS:               auth.ResolveTLS(cfg.TLS),
		RequiredAcks:      cfg.Producer.RequiredAcks,
		Compression:       cfg.Producer.Compression,
		PartitionStrategy: cfg.Producer.PartitionStrategy,
		MaxBatchBytes:     cfg.Producer.MaxBatchBytes,
		MaxInflight:       cfg.Producer.MaxInflight,
	}
	client, err := m.pool.EnsureClient(id, eps, ccfg)
	if err != nil {
		return fail(ErrClientStart, err)
	}

	plan, err := buffer.Select(cfg.Producer.Buffer, buffer.InstanceDir(m.dataDir, id))
	if err != nil {
		m.stopClientLogged(id)
		return fail(ErrProducerStart, err)
	}
	producer, err := m.pool.EnsureProducer(client, cfg.Producer.Topic, broker.ProducerConfig{Plan: plan})
	if err != nil {
		// without this the next start attempt would reuse a client
		// built from the stale configuration
		m.stopClientLogged(id)
		return fail(ErrProducerStart, err)
	}

	tmpl, err := template.Compile(*cfg.Producer.Template)
	if err != nil {
		if perr := m.pool.StopProducer(producer); perr != nil {
			logging.L().Warn("producer teardown failed", "resource", id, "error", perr)
		}
		m.stopClientLogged(id)
		return fail(nil, err)
	}

	inst := &Instance{
		id:       id,
		client:   client,
		producer: producer,
		tmpl:     tmpl,
		topic:    cfg.Producer.Topic,
	}
	m.mu.Lock()
	m.live[id] = inst
	m.mu.Unlock()

	logging.L().Info("bridge started", "resource", id, "topic", inst.topic,
		"buffer_mode", string(plan.Mode))
	return inst, nil
}

// Stop tears down producer, client, and telemetry subscription in
// order, then drops the resource's metric series so a dead bridge
// leaves no stale exposition behind. Each step is guarded: a failure
// is logged and collected but never prevents the remaining steps.
// Idempotent.
func (m *Manager) Stop(inst *Instance) error {
	if inst == nil || !inst.stopped.CompareAndSwap(false, true) {
		return nil
	}

	var errs []error
	if err := m.pool.StopProducer(inst.producer); err != nil {
		logging.L().Warn("producer teardown failed", "resource", inst.id, "error", err)
		errs = append(errs, err)
	}
	if err := m.pool.StopClient(inst.id); err != nil {
		logging.L().Warn("client teardown failed", "resource", inst.id, "error", err)
		errs = append(errs, err)
	}
	m.registry.Detach(handlerID(inst.id))
	m.sink.Forget(inst.id)

	m.mu.Lock()
	if m.live[inst.id] == inst {
		delete(m.live, inst.id)
	}
	m.mu.Unlock()

	logging.L().Info("bridge stopped", "resource", inst.id)
	return errors.Join(errs...)
}

// Send renders the event through the compiled template and forwards the
// record. The ack callback is a hook point only; metrics derive from
// the telemetry stream, so the default callback does nothing.
func (m *Manager) Send(inst *Instance, ev map[string]any, ack broker.AckFunc) error {
	if inst == nil || inst.stopped.Load() {
		return ErrNotStarted
	}
	r := inst.tmpl.Render(ev)
	return m.pool.Send(inst.producer, broker.Record{
		Key:       r.Key,
		Value:     r.Value,
		Timestamp: r.Timestamp,
	}, ack)
}

// Status probes connectivity. Internal inconsistencies surface as
// errors, never as a silent Disconnected.
func (m *Manager) Status(inst *Instance) (Status, error) {
	if inst == nil || inst.stopped.Load() {
		return Disconnected, ErrNotStarted
	}
	ok, err := m.pool.Connected(inst.client)
	if err != nil {
		return Disconnected, err
	}
	if ok {
		return Connected, nil
	}
	return Disconnected, nil
}

// StopAll stops every live instance; teardown failures are aggregated.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	insts := make([]*Instance, 0, len(m.live))
	for _, inst := range m.live {
		insts = append(insts, inst)
	}
	m.mu.Unlock()

	var errs []error
	for _, inst := range insts {
		if err := m.Stop(inst); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) take(id string) *Instance {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst := m.live[id]
	delete(m.live, id)
	return inst
}

func (m *Manager) stopClientLogged(id string) {
	if err := m.pool.StopClient(id); err != nil {
		logging.L().Warn("client teardown failed", "resource", id, "error", err)
	}
}
