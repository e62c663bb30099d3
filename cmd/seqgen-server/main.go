// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package main runs the sequence service.
//
// It builds the configured store, installs the uniqueness constraints and
// SEQUENCE records named in the configuration, then serves:
//   - the HTTP API (/next, /id) on -http_addr
//   - Prometheus metrics on -metrics_addr
//   - optionally, the store itself over gRPC on -grpc_addr, so other
//     instances can run with -store=remote against it
//
// Every flag defaults to its SEQGEN_* environment variable.
package main

import (
	"context"
	"errors"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"seqgen"
	"seqgen/internal/config"
	"seqgen/internal/sequencer/api"
	"seqgen/internal/sequencer/core"
	"seqgen/internal/sequencer/persistence"
	"seqgen/internal/sequencer/remote"
	"seqgen/internal/sequencer/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	flag.StringVar(&cfg.Store.Kind, "store", cfg.Store.Kind, "Store backend: bolt|pebble|redis|postgres|remote")
	flag.StringVar(&cfg.Store.BoltPath, "bolt_path", cfg.Store.BoltPath, "bbolt database file")
	flag.StringVar(&cfg.Store.PebbleDir, "pebble_dir", cfg.Store.PebbleDir, "pebble directory; empty keeps data in memory")
	flag.StringVar(&cfg.Store.RedisAddr, "redis_addr", cfg.Store.RedisAddr, "Redis address")
	flag.StringVar(&cfg.Store.PostgresDSN, "postgres_dsn", cfg.Store.PostgresDSN, "PostgreSQL connection string")
	flag.StringVar(&cfg.Store.RemoteAddr, "remote_addr", cfg.Store.RemoteAddr, "Address of a seqgen-server started with -grpc_addr")
	flag.StringVar(&cfg.Server.HTTPAddr, "http_addr", cfg.Server.HTTPAddr, "HTTP listen address")
	flag.StringVar(&cfg.Server.GRPCAddr, "grpc_addr", cfg.Server.GRPCAddr, "If non-empty, serve the store to remote instances on this address")
	flag.StringVar(&cfg.Server.MetricsAddr, "metrics_addr", cfg.Server.MetricsAddr, "If non-empty, expose Prometheus /metrics on this address")
	flag.IntVar(&cfg.Service.TemplateCacheSize, "template_cache_size", cfg.Service.TemplateCacheSize, "Rendered templates kept per strategy")
	flag.DurationVar(&cfg.Service.CallTimeout, "call_timeout", cfg.Service.CallTimeout, "Timeout for store calls without a caller deadline")
	flag.StringVar(&cfg.Service.Sequences, "sequences", cfg.Service.Sequences, "SEQUENCE records to create at startup, as name[=initial],...")
	optimistic := flag.Bool("optimistic", false, "Allocate with compare-and-swap instead of statement batches (bolt, pebble, redis)")
	flag.Parse()
	if err := cfg.Validate(); err != nil {
		logrus.WithError(err).Fatal("invalid configuration")
	}

	logger := cfg.Logging.NewLogger()
	log := logger.WithField("component", "seqgen_server")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, err := persistence.BuildBackend(ctx, persistence.Options{
		Store:       cfg.Store.Kind,
		BoltPath:    cfg.Store.BoltPath,
		PebbleDir:   cfg.Store.PebbleDir,
		RedisAddr:   cfg.Store.RedisAddr,
		PostgresDSN: cfg.Store.PostgresDSN,
		RemoteAddr:  cfg.Store.RemoteAddr,
	})
	if err != nil {
		log.WithError(err).Fatal("could not open store")
	}
	defer func() {
		if err := backend.Close(); err != nil {
			log.WithError(err).Warn("closing store")
		}
	}()

	var journalProducer persistence.KafkaProducer = persistence.LoggingKafkaProducer{Log: logger.WithField("component", "journal")}
	if len(cfg.Kafka.Brokers) > 0 {
		p := persistence.NewKafkaGoProducer(cfg.Kafka.Brokers)
		defer p.Close()
		journalProducer = p
	}

	svc, err := core.NewService(backend.Store, backend.Dialect,
		core.WithLogger(logger),
		core.WithMetrics(metrics),
		core.WithJournal(persistence.NewKafkaJournal(journalProducer, cfg.Kafka.Topic)),
		core.WithTemplateCacheSize(cfg.Service.TemplateCacheSize),
		core.WithCallTimeout(cfg.Service.CallTimeout),
	)
	if err != nil {
		log.WithError(err).Fatal("could not build service")
	}
	if err := bootstrap(ctx, svc, cfg.Service); err != nil {
		log.WithError(err).Fatal("bootstrap failed")
	}

	var valuer core.NextValuer = svc
	if *optimistic {
		if backend.CAS == nil {
			log.Fatalf("store %s does not support -optimistic", cfg.Store.Kind)
		}
		valuer = core.NewOptimisticGenerator(backend.CAS,
			core.WithOptimisticLogger(logger),
			core.WithOptimisticMetrics(metrics))
	}

	apiServer, err := api.NewServer(valuer, logger)
	if err != nil {
		log.WithError(err).Fatal("could not build API server")
	}
	httpServer := apiServer.NewHTTPServer(cfg.Server.HTTPAddr)
	go func() {
		log.WithField("addr", cfg.Server.HTTPAddr).Info("sequence API listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = telemetry.NewServer(cfg.Server.MetricsAddr, reg)
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server failed")
			}
		}()
	}

	var remoteServer *remote.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.WithError(err).Fatal("could not listen for remote store clients")
		}
		remoteServer = remote.NewServer(backend.Store, backend.Dialect.Name(),
			remote.WithServerLogger(logger),
			remote.WithServerMetrics(metrics))
		go func() {
			if err := remoteServer.Serve(lis); err != nil {
				log.WithError(err).Error("remote store server failed")
			}
		}()
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("HTTP shutdown")
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if remoteServer != nil {
		remoteServer.Stop()
	}
	log.Info("server stopped")
}

// bootstrap installs the constraints of the configured table groupings and
// the SEQUENCE grouping, then creates the configured SEQUENCE records.
func bootstrap(ctx context.Context, svc *core.Service, cfg config.ServiceConfig) error {
	seqs, initial, err := config.ParseSequences(cfg.Sequences)
	if err != nil {
		return err
	}
	keys := make([]seqgen.Key, 0, len(cfg.TableGroupings)+len(seqs))
	for _, g := range cfg.TableGroupings {
		keys = append(keys, seqgen.TableKey(g, "bootstrap"))
	}
	keys = append(keys, seqs...)
	if err := svc.CreateConstraints(ctx, keys); err != nil {
		return err
	}
	return svc.CreateSequenceRecords(ctx, seqs, initial)
}
