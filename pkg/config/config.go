/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package config provides the worker configuration.
// Current version reads configuration from environment variables.
package config

import (
	"os"
	"strings"

	"github.com/go-logr/logr"
	"sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/env"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"
)

const (
	modeEnvKey              = "DYNAMO_SERVING_MODE"
	strategyEnvKey          = "DYNAMO_DISAGGREGATION_STRATEGY"
	portEnvKey              = "DYNAMO_WORKER_PORT"
	servedModelNameEnvKey   = "DYNAMO_SERVED_MODEL_NAME"
	skipTokenizerInitEnvKey = "DYNAMO_SKIP_TOKENIZER_INIT"
	bootstrapHostEnvKey     = "DYNAMO_BOOTSTRAP_HOST"
	bootstrapPortEnvKey     = "DYNAMO_BOOTSTRAP_PORT"
	prefillEndpointsEnvKey  = "DYNAMO_PREFILL_ENDPOINTS"

	temperatureEnvKey = "DYNAMO_DEFAULT_TEMPERATURE"
	topPEnvKey        = "DYNAMO_DEFAULT_TOP_P"
	topKEnvKey        = "DYNAMO_DEFAULT_TOP_K"
	maxTokensEnvKey   = "DYNAMO_DEFAULT_MAX_TOKENS"

	publisherEnvKey   = "DYNAMO_PUBLISHER"
	redisAddrEnvKey   = "DYNAMO_REDIS_ADDR"
	redisStreamEnvKey = "DYNAMO_REDIS_STREAM"

	defaultMode          = "prefill_and_decode"
	defaultStrategy      = "decode_first"
	defaultPort          = 8000
	defaultBootstrapPort = 8998
	defaultMaxTokens     = 1024
	defaultRedisStream   = "dynamo:kv_perf"
)

// Publisher selection values.
const (
	PublisherNone       = "none"
	PublisherPrometheus = "prometheus"
	PublisherRedis      = "redis"
)

// Config contains the worker configuration, loaded from environment
// variables.
type Config struct {
	logger logr.Logger

	Mode     string
	Strategy string
	Port     int

	ServedModelName   string
	SkipTokenizerInit bool

	BootstrapHost string
	BootstrapPort int

	PrefillEndpoints []string

	DefaultTemperature float64
	DefaultTopP        float64
	DefaultTopK        int
	DefaultMaxTokens   int

	Publisher   string
	RedisAddr   string
	RedisStream string
}

// NewConfig creates a new instance of Config.
func NewConfig(logger logr.Logger) *Config {
	return &Config{
		logger:           logger,
		Mode:             defaultMode,
		Strategy:         defaultStrategy,
		Port:             defaultPort,
		BootstrapPort:    defaultBootstrapPort,
		DefaultMaxTokens: defaultMaxTokens,
		Publisher:        PublisherPrometheus,
		RedisStream:      defaultRedisStream,
	}
}

// getEnvString is the string counterpart of env.GetEnvInt; the env util
// package only ships numeric helpers.
func getEnvString(key, defaultVal string, logger logr.Logger) string {
	val, exists := os.LookupEnv(key)
	if !exists {
		logger.V(logutil.VERBOSE).Info("Environment variable not set, using default value",
			"key", key, "defaultValue", defaultVal)
		return defaultVal
	}
	logger.V(logutil.VERBOSE).Info("Successfully loaded environment variable",
		"key", key, "value", val)
	return val
}

// LoadConfig loads configuration from environment variables.
func (c *Config) LoadConfig() {
	c.Mode = getEnvString(modeEnvKey, defaultMode, c.logger)
	c.Strategy = getEnvString(strategyEnvKey, defaultStrategy, c.logger)
	c.Port = env.GetEnvInt(portEnvKey, defaultPort, c.logger)

	c.ServedModelName = getEnvString(servedModelNameEnvKey, "", c.logger)
	c.SkipTokenizerInit = getEnvString(skipTokenizerInitEnvKey, "false", c.logger) == "true"

	c.BootstrapHost = getEnvString(bootstrapHostEnvKey, "", c.logger)
	c.BootstrapPort = env.GetEnvInt(bootstrapPortEnvKey, defaultBootstrapPort, c.logger)

	if endpoints := getEnvString(prefillEndpointsEnvKey, "", c.logger); endpoints != "" {
		for _, endpoint := range strings.Split(endpoints, ",") {
			if endpoint = strings.TrimSpace(endpoint); endpoint != "" {
				c.PrefillEndpoints = append(c.PrefillEndpoints, endpoint)
			}
		}
	}

	c.DefaultTemperature = env.GetEnvFloat(temperatureEnvKey, 1.0, c.logger)
	c.DefaultTopP = env.GetEnvFloat(topPEnvKey, 1.0, c.logger)
	c.DefaultTopK = env.GetEnvInt(topKEnvKey, 0, c.logger)
	c.DefaultMaxTokens = env.GetEnvInt(maxTokensEnvKey, defaultMaxTokens, c.logger)

	c.Publisher = getEnvString(publisherEnvKey, PublisherPrometheus, c.logger)
	c.RedisAddr = getEnvString(redisAddrEnvKey, "", c.logger)
	c.RedisStream = getEnvString(redisStreamEnvKey, defaultRedisStream, c.logger)
}
