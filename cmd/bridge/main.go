package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"kbridge/internal/engine"
	"kbridge/internal/logging"
)

func main() {
	descriptor := flag.String("bridges", "bridges.yml", "bridges descriptor file")
	metricsPort := flag.Int("metrics-port", 9100, "prometheus /metrics port")
	flag.Parse()

	logging.InitFromEnv()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := engine.Bootstrap(engine.Config{
		DescriptorPath: *descriptor,
		MetricsPort:    *metricsPort,
	})
	if err != nil {
		log.Fatalf("bootstrap: %v", err)
	}

	if err := e.Run(ctx); err != nil {
		log.Fatalf("shutdown: %v", err)
	}
}
