package engine

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"kbridge/internal/bridge"
	"kbridge/internal/broker"
	"kbridge/internal/config"
	"kbridge/internal/events"
	"kbridge/internal/logging"
	"kbridge/internal/telemetry"
)

type Config struct {
	DescriptorPath string
	MetricsPort    int
}

// Bootstrap wires registry, metrics store, broker pool and manager,
// then starts every bridge the descriptor lists. A bridge that fails to
// start is logged and skipped; the supervisor retries on its own terms.
func Bootstrap(cfg Config) (*Engine, error) {
	desc, err := config.LoadDescriptor(cfg.DescriptorPath)
	if err != nil {
		return nil, fmt.Errorf("descriptor: %w", err)
	}

	registry := events.NewRegistry()
	store := telemetry.NewStore(prometheus.DefaultRegisterer)
	pool := broker.NewSaramaPool(registry)
	mgr := bridge.NewManager(pool, registry, store, desc.DataDir)

	for _, ref := range desc.Bridges {
		bc, err := config.LoadBridge(ref.Config)
		if err != nil {
			logging.L().Error("bridge config", "resource", ref.ID, "error", err)
			continue
		}
		if _, err := mgr.Start(ref.ID, bc); err != nil {
			logging.L().Error("bridge start", "resource", ref.ID, "error", err)
		}
	}

	telemetry.Expose(cfg.MetricsPort)

	return &Engine{mgr: mgr}, nil
}
