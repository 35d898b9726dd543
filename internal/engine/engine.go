package engine

import (
	"context"

	"kbridge/internal/bridge"
)

type Engine struct {
	mgr *bridge.Manager
}

func (e *Engine) Manager() *bridge.Manager { return e.mgr }

// Run blocks until ctx is cancelled, then tears every bridge down.
func (e *Engine) Run(ctx context.Context) error {
	<-ctx.Done()
	return e.mgr.StopAll()
}
