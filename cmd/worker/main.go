/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// The worker binary runs one inference worker process: it wires the engine
// backend, publisher and handler for the configured disaggregation mode and
// serves the streaming generate endpoint.
package main

import (
	"flag"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/aschilling-nv/dynamo/pkg/client"
	"github.com/aschilling-nv/dynamo/pkg/config"
	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/metrics"
	"github.com/aschilling-nv/dynamo/pkg/publisher"
	"github.com/aschilling-nv/dynamo/pkg/server"
	"github.com/aschilling-nv/dynamo/pkg/version"
	"github.com/aschilling-nv/dynamo/pkg/worker"
)

var supportedBackends = []string{"sglang", "trtllm"}

func main() {
	engineEndpoint := flag.String("engine-endpoint", "http://localhost:30000", "the base URL of the local engine process")
	engineBackend := flag.String("engine-backend", "sglang", "the engine backend payload format. Supported: "+strings.Join(supportedBackends, ", "))

	opts := zap.Options{}
	opts.BindFlags(flag.CommandLine) // optional to allow zap logging control via CLI
	flag.Parse()

	logger := zap.New(zap.UseFlagOptions(&opts))
	log.SetLogger(logger)

	ctx := ctrl.SetupSignalHandler()
	ctx = log.IntoContext(ctx, logger)

	logger.Info("Worker starting", "Built on", version.BuildRef, "From Git SHA", version.CommitSHA)

	cfg := config.NewConfig(logger)
	cfg.LoadConfig()

	var decoder engine.SnapshotDecoder
	switch *engineBackend {
	case "sglang":
		decoder = engine.SGLangDecoder()
	case "trtllm":
		decoder = engine.TRTLLMDecoder()
	default:
		logger.Info("Error: --engine-backend must be one of: " + strings.Join(supportedBackends, ", "))
		os.Exit(1)
	}
	eng := engine.NewEngine(engine.NewHTTPBackend(*engineEndpoint), decoder)

	registry := prometheus.NewRegistry()
	for _, collector := range metrics.GetCollectors() {
		if err := registry.Register(collector); err != nil {
			logger.Error(err, "failed to register collector")
			os.Exit(1)
		}
	}

	var pub publisher.Publisher
	switch cfg.Publisher {
	case config.PublisherRedis:
		pub = publisher.NewRedis(cfg.RedisAddr, cfg.RedisStream)
	case config.PublisherPrometheus:
		pub = publisher.NewPrometheus(registry)
	default:
		pub = publisher.Nop{}
	}

	handlerConfig := worker.Config{
		Engine: eng,
		DefaultSamplingParams: &engine.SamplingParams{
			Temperature: cfg.DefaultTemperature,
			TopP:        cfg.DefaultTopP,
			TopK:        cfg.DefaultTopK,
			MaxTokens:   cfg.DefaultMaxTokens,
		},
		Publisher:         pub,
		Mode:              worker.DisaggregationMode(cfg.Mode),
		Strategy:          worker.DisaggregationStrategy(cfg.Strategy),
		ServedModelName:   cfg.ServedModelName,
		BootstrapHost:     cfg.BootstrapHost,
		BootstrapPort:     cfg.BootstrapPort,
		SkipTokenizerInit: cfg.SkipTokenizerInit,
	}

	var srv *server.Server
	switch worker.DisaggregationMode(cfg.Mode) {
	case worker.ModePrefill:
		handler, err := worker.NewPrefillHandler(handlerConfig)
		if err != nil {
			logger.Error(err, "failed to create prefill handler")
			os.Exit(1)
		}
		defer handler.Close() //nolint:errcheck
		srv = server.NewPrefillServer(cfg.Port, handler)

	case worker.ModeAggregated, worker.ModeDecode:
		if worker.DisaggregationMode(cfg.Mode) == worker.ModeDecode {
			prefillClient, err := client.NewHTTP(cfg.PrefillEndpoints)
			if err != nil {
				logger.Error(err, "failed to create prefill client")
				os.Exit(1)
			}
			handlerConfig.PrefillClient = prefillClient
		}
		handler, err := worker.NewDecodeHandler(handlerConfig)
		if err != nil {
			logger.Error(err, "failed to create decode handler")
			os.Exit(1)
		}
		defer handler.Close() //nolint:errcheck
		srv = server.NewDecodeServer(cfg.Port, handler)

	default:
		logger.Info("Error: unsupported serving mode", "mode", cfg.Mode)
		os.Exit(1)
	}

	if err := srv.Start(ctx); err != nil {
		logger.Error(err, "worker server failed")
		os.Exit(1)
	}
}
