// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command rhizomedb starts a local-first rhizomedb server: the delta
// log, query/projection engine and federation peer behind an HTTP+
// websocket API.
//
// Usage:
//
//	go run ./cmd/rhizomedb
//	go run ./cmd/rhizomedb -port 9090 -storage badger -data-dir ./data
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"

	"github.com/rhizomedb/rhizomedb/internal/engine"
	"github.com/rhizomedb/rhizomedb/internal/federation"
	"github.com/rhizomedb/rhizomedb/internal/schema"
	"github.com/rhizomedb/rhizomedb/internal/storage"
	"github.com/rhizomedb/rhizomedb/internal/storage/badgerkv"
	"github.com/rhizomedb/rhizomedb/internal/storage/memory"
	"github.com/rhizomedb/rhizomedb/pkg/logging"
)

func main() {
	port := flag.Int("port", 8080, "port to listen on")
	debug := flag.Bool("debug", false, "enable debug mode (verbose logging, gin debug mode)")
	storageKind := flag.String("storage", "memory", "storage backend: memory or badger")
	dataDir := flag.String("data-dir", "./data", "badger data directory (storage=badger only)")
	systemID := flag.String("system-id", "rhizomedb", "this node's federation system id")
	flag.Parse()

	level := logging.LevelInfo
	if *debug {
		level = logging.LevelDebug
	}
	log := logging.New(logging.Config{Level: level, Service: "rhizomedb"})

	shutdownTelemetry, err := setupTelemetry(context.Background(), *systemID)
	if err != nil {
		log.Error("telemetry setup failed", "error", err.Error())
		os.Exit(1)
	}
	defer shutdownTelemetry(context.Background())

	adapter, closeStorage, err := openStorage(*storageKind, *dataDir, log)
	if err != nil {
		log.Error("storage setup failed", "error", err.Error())
		os.Exit(1)
	}
	defer closeStorage()

	registry := schema.NewRegistry()

	eng, err := engine.New(engine.Config{Storage: adapter, Registry: registry, Log: log})
	if err != nil {
		log.Error("engine setup failed", "error", err.Error())
		os.Exit(1)
	}
	if err := eng.Restore(context.Background()); err != nil {
		log.Error("restoring engine state from storage failed", "error", err.Error())
		os.Exit(1)
	}

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("rhizomedb"))
	if *debug {
		router.Use(gin.Logger())
	}

	registerRoutes(router, eng, log)

	router.GET("/v1/federation/ws", federation.UpgradeHandler(func(ctx context.Context, t federation.Transport) {
		handleFederationLink(ctx, t, eng, *systemID, log)
	}))

	addr := fmt.Sprintf(":%d", *port)
	srv := &http.Server{Addr: addr, Handler: router}

	go func() {
		log.Info("rhizomedb server starting", "address", addr, "storage", *storageKind)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server failed", "error", err.Error())
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down rhizomedb server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("graceful shutdown failed", "error", err.Error())
	}
}

// openStorage constructs the configured storage.Adapter and returns a
// cleanup function that closes it.
func openStorage(kind, dataDir string, log *logging.Logger) (adapter storage.Adapter, cleanup func(), err error) {
	switch kind {
	case "memory":
		a := memory.New()
		return a, func() { _ = a.Close() }, nil
	case "badger":
		cfg := badgerkv.DefaultConfig()
		cfg.Path = dataDir
		a, err := badgerkv.Open(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("opening badger storage at %q: %w", dataDir, err)
		}
		log.Info("badger storage opened", "path", dataDir)
		return a, func() { _ = a.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q (want memory or badger)", kind)
	}
}

// setupTelemetry wires a minimal OTel SDK: stdout trace and metric
// exporters, matching the teacher's local-dev telemetry posture (no
// OTLP collector assumed running).
func setupTelemetry(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx, resource.WithAttributes(
		semconv.ServiceName(serviceName),
	))
	if err != nil {
		return nil, fmt.Errorf("building otel resource: %w", err)
	}

	traceExporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, fmt.Errorf("building stdout trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(traceExporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	metricExporter, err := stdoutmetric.New()
	if err != nil {
		return nil, fmt.Errorf("building stdout metric exporter: %w", err)
	}
	mp := metric.NewMeterProvider(
		metric.WithReader(metric.NewPeriodicReader(metricExporter, metric.WithInterval(time.Minute))),
		metric.WithResource(res),
	)
	otel.SetMeterProvider(mp)

	return func(shutdownCtx context.Context) error {
		if err := tp.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return mp.Shutdown(shutdownCtx)
	}, nil
}
