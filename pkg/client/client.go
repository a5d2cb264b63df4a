/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package client reaches paired workers over the streaming HTTP transport.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/worker"
)

const (
	generatePath           = "/generate"
	requestHeaderRequestID = "x-request-id"
)

// HTTP is a worker.PrefillClient speaking the NDJSON streaming protocol.
// One request is sent per rendezvous; only the first streamed record is
// read, the prefill side runs the cache-producing call detached.
type HTTP struct {
	endpoints []string
	clients   *lru.Cache[string, *http.Client]
	samplerFn func(n int) int // allow test override
}

var _ worker.PrefillClient = (*HTTP)(nil)

// NewHTTP creates a client for the given prefill endpoints. With more than
// one endpoint, a random one is sampled per request.
func NewHTTP(endpoints []string) (*HTTP, error) {
	if len(endpoints) == 0 {
		return nil, errors.New("at least one prefill endpoint is required")
	}
	cache, _ := lru.New[string, *http.Client](16) // nolint:all
	return &HTTP{
		endpoints: endpoints,
		clients:   cache,
		samplerFn: rand.Intn,
	}, nil
}

// Generate implements worker.PrefillClient.
func (c *HTTP) Generate(ctx context.Context, dreq *protocol.DisaggRequest, rc worker.Context) (*protocol.BootstrapInfo, error) {
	endpoint := c.endpoints[c.samplerFn(len(c.endpoints))]
	logger := log.FromContext(ctx).WithValues("prefillEndpoint", endpoint)

	body, err := json.Marshal(dreq)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal prefill request: %w", err)
	}

	// A stop or kill must also release a rendezvous blocked on the network.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if rc != nil {
		go func() {
			select {
			case <-rc.StoppedOrKilled():
				cancel()
			case <-rctx.Done():
			}
		}()
	}

	req, err := http.NewRequestWithContext(rctx, http.MethodPost, c.endpointURL(endpoint), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build prefill request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if rc != nil {
		req.Header.Set(requestHeaderRequestID, rc.ID())
	}

	resp, err := c.clientFor(endpoint).Do(req)
	if err != nil {
		return nil, fmt.Errorf("prefill request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) // nolint:errcheck
		return nil, fmt.Errorf("prefill worker returned status %d: %s", resp.StatusCode, string(msg))
	}

	line, err := bufio.NewReader(resp.Body).ReadBytes('\n')
	if len(line) == 0 {
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read prefill stream: %w", err)
		}
		// Stream ended without a single record.
		return nil, nil
	}

	var chunk protocol.ResponseChunk
	if err := json.Unmarshal(line, &chunk); err != nil {
		return nil, fmt.Errorf("failed to decode prefill stream record: %w", err)
	}
	if chunk.Bootstrap == nil {
		logger.V(logutil.DEBUG).Info("prefill stream record carried no bootstrap info")
		return nil, nil
	}

	logger.V(logutil.DEBUG).Info("received bootstrap info",
		"host", chunk.Bootstrap.Host, "port", chunk.Bootstrap.Port)
	return chunk.Bootstrap, nil
}

func (c *HTTP) endpointURL(endpoint string) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "http://" + endpoint
	}
	return endpoint + generatePath
}

// clientFor returns the cached per-endpoint HTTP client, creating it on
// first use.
func (c *HTTP) clientFor(endpoint string) *http.Client {
	if client, ok := c.clients.Get(endpoint); ok {
		return client
	}
	client := &http.Client{}
	c.clients.Add(endpoint, client)
	return client
}
