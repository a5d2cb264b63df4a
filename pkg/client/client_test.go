/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package client

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/worker"
)

func TestNewHTTPRequiresEndpoints(t *testing.T) {
	_, err := NewHTTP(nil)
	assert.Error(t, err)
}

func TestGenerateReadsBootstrapInfo(t *testing.T) {
	var dreq protocol.DisaggRequest
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/generate", r.URL.Path)
		gotRequestID = r.Header.Get("x-request-id")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&dreq))

		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = io.WriteString(w, `{"bootstrap":{"bootstrap_host":"10.0.0.1","bootstrap_port":8998,"bootstrap_room":42}}`+"\n")
	}))
	defer srv.Close()

	c, err := NewHTTP([]string{srv.URL})
	require.NoError(t, err)

	info, err := c.Generate(context.Background(), &protocol.DisaggRequest{
		Request:        &protocol.Request{ID: "r1", TokenIDs: []int{1, 2}},
		SamplingParams: map[string]any{"max_tokens": 8},
	}, worker.NewContext("ctx-1"))
	require.NoError(t, err)

	require.NotNil(t, info)
	assert.Equal(t, "10.0.0.1", info.Host)
	assert.Equal(t, 8998, info.Port)
	assert.Equal(t, int64(42), info.Room)

	assert.Equal(t, "ctx-1", gotRequestID)
	require.NotNil(t, dreq.Request)
	assert.Equal(t, "r1", dreq.Request.ID)
	assert.Equal(t, 8.0, dreq.SamplingParams["max_tokens"])
}

func TestGenerateWithoutBootstrapRecord(t *testing.T) {
	t.Run("empty stream", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		c, err := NewHTTP([]string{srv.URL})
		require.NoError(t, err)

		info, err := c.Generate(context.Background(), &protocol.DisaggRequest{}, worker.NewContext("ctx-1"))
		require.NoError(t, err)
		assert.Nil(t, info)
	})

	t.Run("record without bootstrap", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, `{"token_ids":[4]}`+"\n")
		}))
		defer srv.Close()

		c, err := NewHTTP([]string{srv.URL})
		require.NoError(t, err)

		info, err := c.Generate(context.Background(), &protocol.DisaggRequest{}, worker.NewContext("ctx-1"))
		require.NoError(t, err)
		assert.Nil(t, info)
	})
}

func TestGenerateSurfacesErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "prefill overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewHTTP([]string{srv.URL})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), &protocol.DisaggRequest{}, worker.NewContext("ctx-1"))
	require.ErrorContains(t, err, "503")
	assert.ErrorContains(t, err, "prefill overloaded")
}

func TestGenerateSamplesConfiguredEndpoints(t *testing.T) {
	var hits [2]int
	handler := func(i int) http.HandlerFunc {
		return func(w http.ResponseWriter, _ *http.Request) {
			hits[i]++
			_, _ = io.WriteString(w, `{"bootstrap":{"bootstrap_host":"h","bootstrap_port":1,"bootstrap_room":1}}`+"\n")
		}
	}
	srv0 := httptest.NewServer(handler(0))
	defer srv0.Close()
	srv1 := httptest.NewServer(handler(1))
	defer srv1.Close()

	c, err := NewHTTP([]string{srv0.URL, srv1.URL})
	require.NoError(t, err)
	c.samplerFn = func(int) int { return 1 }

	_, err = c.Generate(context.Background(), &protocol.DisaggRequest{}, worker.NewContext("ctx-1"))
	require.NoError(t, err)
	assert.Equal(t, 0, hits[0])
	assert.Equal(t, 1, hits[1])
}

func TestGenerateCancelledByKill(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := NewHTTP([]string{srv.URL})
	require.NoError(t, err)

	rc := worker.NewContext("ctx-1")
	done := make(chan error, 1)
	go func() {
		_, err := c.Generate(context.Background(), &protocol.DisaggRequest{}, rc)
		done <- err
	}()

	rc.Kill()
	assert.Error(t, <-done, "a kill must release the blocked rendezvous")
}
