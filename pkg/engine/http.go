/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/aschilling-nv/dynamo/pkg/disagg"
)

// HTTPBackend reaches an engine process over its local streaming HTTP
// endpoint: one POST per call, one JSON payload per response line.
type HTTPBackend struct {
	baseURL string
	client  *http.Client
}

// NewHTTPBackend creates a raw backend for the engine at baseURL.
func NewHTTPBackend(baseURL string) *HTTPBackend {
	return &HTTPBackend{baseURL: baseURL, client: &http.Client{}}
}

// Generate implements Backend.
func (b *HTTPBackend) Generate(ctx context.Context, req *GenerateRequest) (RawStream, error) {
	body, err := json.Marshal(b.wireRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal engine request: %w", err)
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/generate", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build engine request: %w", err)
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(hreq)
	if err != nil {
		return nil, fmt.Errorf("engine request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024)) // nolint:errcheck
		resp.Body.Close()                                     //nolint:errcheck
		return nil, fmt.Errorf("engine returned status %d: %s", resp.StatusCode, string(msg))
	}

	return &lineStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// Abort implements Backend.
func (b *HTTPBackend) Abort(ctx context.Context, requestID string) error {
	body, err := json.Marshal(map[string]any{"request_id": requestID})
	if err != nil {
		return err
	}
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+"/abort_request", bytes.NewReader(body))
	if err != nil {
		return err
	}
	hreq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(hreq)
	if err != nil {
		return fmt.Errorf("abort request failed: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("abort request returned status %d", resp.StatusCode)
	}
	return nil
}

func (b *HTTPBackend) wireRequest(req *GenerateRequest) map[string]any {
	wire := map[string]any{
		"streaming": req.Streaming,
	}
	switch {
	case req.TokenIDs != nil:
		wire["token_ids"] = req.TokenIDs
	case req.Prompt != "":
		wire["prompt"] = req.Prompt
	default:
		wire["messages"] = req.Messages
	}
	if req.SamplingParams != nil {
		wire["sampling_params"] = req.SamplingParams.ToMap()
	}
	if req.Disagg != nil {
		wire["disaggregated_params"] = disagg.Encode(req.Disagg)
	}
	if req.BootstrapHost != "" {
		wire["bootstrap_host"] = req.BootstrapHost
		wire["bootstrap_port"] = req.BootstrapPort
		wire["bootstrap_room"] = req.BootstrapRoom
	}
	return wire
}

// lineStream yields one raw payload per response line.
type lineStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *lineStream) Recv(ctx context.Context) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		s.body.Close() //nolint:errcheck
		return nil, err
	}
	for {
		line, err := s.reader.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			return json.RawMessage(bytes.TrimSpace(line)), nil
		}
		if err != nil {
			s.body.Close() //nolint:errcheck
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("failed to read engine stream: %w", err)
		}
	}
}
