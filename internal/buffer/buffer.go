// Package buffer maps the buffering mode config onto a concrete queue
// strategy for the producer.
package buffer

import (
	"errors"
	"fmt"
	"path/filepath"

	"kbridge/internal/config"
)

var ErrUnknownMode = errors.New("buffer: unknown mode")

type Mode string

const (
	ModeMemory Mode = "memory"
	ModeDisk   Mode = "disk"
	ModeHybrid Mode = "hybrid"
)

// Plan is the resolved queue strategy. Offload and Dir are uniquely
// determined by the mode:
//
//	memory => offload=false, no dir
//	disk   => offload=false, dir set (every record hits disk first)
//	hybrid => offload=true,  dir set (spill to disk past the memory bound)
type Plan struct {
	Mode              Mode
	Offload           bool
	Dir               string
	PerPartitionLimit int64
	SegmentBytes      int64
	DropWhenFull      bool
}

func Select(cfg config.Buffer, instanceDir string) (Plan, error) {
	p := Plan{
		PerPartitionLimit: cfg.PerPartitionLimit,
		SegmentBytes:      cfg.SegmentBytes,
	}
	switch Mode(cfg.Mode) {
	case ModeMemory:
		p.Mode = ModeMemory
		p.DropWhenFull = cfg.MemoryOverloadProtection
	case ModeDisk:
		p.Mode = ModeDisk
		p.Dir = instanceDir
	case ModeHybrid:
		p.Mode = ModeHybrid
		p.Offload = true
		p.Dir = instanceDir
	default:
		return Plan{}, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}
	return p, nil
}

// InstanceDir derives the on-disk queue location from the client id.
// Deterministic, so a restarted bridge picks up the same queue and can
// recover records buffered by the previous run.
func InstanceDir(dataDir, clientID string) string {
	return filepath.Join(dataDir, "kafka", clientID)
}
