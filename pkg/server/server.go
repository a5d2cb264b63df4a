/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package server adapts a worker handler onto the streaming HTTP transport:
// one POST /generate per request, one JSON record per line in the response.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"
	logutil "sigs.k8s.io/gateway-api-inference-extension/pkg/epp/util/logging"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
	"github.com/aschilling-nv/dynamo/pkg/worker"
)

const (
	// GeneratePath is the streaming generation endpoint.
	GeneratePath = "/generate"

	requestHeaderRequestID = "x-request-id"

	shutdownTimeout = 5 * time.Second
)

// ErrorResponse is the JSON error body written on request failures.
type ErrorResponse struct {
	Object  string `json:"object"`
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    int    `json:"code"`
}

// Server exposes one worker handler over HTTP.
type Server struct {
	logger  logr.Logger
	port    int
	decode  *worker.DecodeHandler
	prefill *worker.PrefillHandler
}

// NewDecodeServer serves an aggregated or decode handler.
func NewDecodeServer(port int, handler *worker.DecodeHandler) *Server {
	return &Server{port: port, decode: handler}
}

// NewPrefillServer serves a prefill handler.
func NewPrefillServer(port int, handler *worker.PrefillHandler) *Server {
	return &Server{port: port, prefill: handler}
}

// Start runs the HTTP server until the context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.logger = log.FromContext(ctx).WithName(fmt.Sprintf("worker server on port %d", s.port))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST "+GeneratePath, s.generateHandler)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", s.port), Handler: mux}

	grp, ctx := errgroup.WithContext(ctx)
	grp.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	grp.Go(func() error {
		s.logger.Info("listening")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	return grp.Wait()
}

func (s *Server) generateHandler(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(requestHeaderRequestID)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	logger := s.logger.WithValues("requestID", requestID)
	ctx := log.IntoContext(r.Context(), logger)

	// Client disconnect surfaces as a kill on the request context.
	rc := worker.FromContext(r.Context(), requestID)

	stream, err := s.dispatch(ctx, r, rc)
	if err != nil {
		s.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	for {
		chunk, err := stream.Recv()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				logger.Error(err, "generation stream failed")
				// Headers are gone; the best we can do is a terminal error
				// record before closing the stream.
				_ = enc.Encode(&protocol.ResponseChunk{FinishReason: protocol.FinishReasonError}) // nolint:errcheck
			}
			return
		}
		if err := enc.Encode(chunk); err != nil {
			logger.V(logutil.DEBUG).Info("client went away", "err", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) dispatch(ctx context.Context, r *http.Request, rc worker.Context) (worker.ResponseStream, error) {
	defer r.Body.Close() //nolint:errcheck

	if s.prefill != nil {
		var dreq protocol.DisaggRequest
		if err := json.NewDecoder(r.Body).Decode(&dreq); err != nil {
			return nil, fmt.Errorf("%w: %s", worker.ErrInvalidRequest, err)
		}
		return s.prefill.Generate(ctx, &dreq, rc)
	}

	var req protocol.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: %s", worker.ErrInvalidRequest, err)
	}
	return s.decode.Generate(ctx, &req, rc)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	response := ErrorResponse{
		Object:  "error",
		Message: err.Error(),
		Type:    "InternalServerError",
		Code:    http.StatusInternalServerError,
	}
	if errors.Is(err, worker.ErrInvalidRequest) {
		response.Type = "BadRequestError"
		response.Code = http.StatusBadRequest
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(response.Code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error(err, "failed to send error response to client")
	}
}
