/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package engine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/aschilling-nv/dynamo/pkg/disagg"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// RawStream yields backend-native JSON payloads for one call.
type RawStream interface {
	Recv(ctx context.Context) (json.RawMessage, error)
}

// Backend is the raw connection to an engine process. Payload shapes differ
// per backend; a SnapshotDecoder normalizes them.
type Backend interface {
	Generate(ctx context.Context, req *GenerateRequest) (RawStream, error)
	Abort(ctx context.Context, requestID string) error
}

// SnapshotDecoder turns one backend-native payload into a Snapshot.
type SnapshotDecoder interface {
	Decode(raw json.RawMessage) (*Snapshot, error)
}

// NewEngine composes a raw backend with its payload decoder.
func NewEngine(backend Backend, decoder SnapshotDecoder) Engine {
	return &decodedEngine{backend: backend, decoder: decoder}
}

type decodedEngine struct {
	backend Backend
	decoder SnapshotDecoder
}

func (e *decodedEngine) Generate(ctx context.Context, req *GenerateRequest) (ResultStream, error) {
	raw, err := e.backend.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	return &decodedStream{raw: raw, decoder: e.decoder}, nil
}

func (e *decodedEngine) Abort(ctx context.Context, requestID string) error {
	return e.backend.Abort(ctx, requestID)
}

type decodedStream struct {
	raw     RawStream
	decoder SnapshotDecoder
}

func (s *decodedStream) Recv(ctx context.Context) (*Snapshot, error) {
	raw, err := s.raw.Recv(ctx)
	if err != nil {
		return nil, err
	}
	return s.decoder.Decode(raw)
}

// sglangPayload is the per-iteration result shape of SGLang-style backends:
// cumulative text / output ids plus a meta block with the engine request id
// and an optional structured finish reason.
type sglangPayload struct {
	Text      string `json:"text"`
	OutputIDs *[]int `json:"output_ids"`
	Index     int    `json:"index"`
	MetaInfo  struct {
		ID           string `json:"id"`
		FinishReason *struct {
			Type string `json:"type"`
		} `json:"finish_reason"`
	} `json:"meta_info"`
}

// SGLangDecoder decodes SGLang-style payloads.
func SGLangDecoder() SnapshotDecoder { return sglangDecoder{} }

type sglangDecoder struct{}

func (sglangDecoder) Decode(raw json.RawMessage) (*Snapshot, error) {
	var payload sglangPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode sglang payload: %w", err)
	}

	out := Output{Text: payload.Text}
	if payload.OutputIDs != nil {
		out.TokenIDs = *payload.OutputIDs
	}

	snap := &Snapshot{
		RequestID: payload.MetaInfo.ID,
		Outputs:   []Output{out},
	}
	if fr := payload.MetaInfo.FinishReason; fr != nil {
		snap.Outputs[0].FinishReason = fr.Type
		snap.Finished = true
	}
	return snap, nil
}

// trtllmPayload is the per-iteration result shape of TensorRT-LLM-style
// backends: an explicit finished flag plus zero or more typed outputs.
type trtllmPayload struct {
	RequestID string `json:"request_id"`
	Finished  bool   `json:"finished"`
	Outputs   []struct {
		TokenIDs           []int                         `json:"token_ids"`
		Text               string                        `json:"text"`
		FinishReason       string                        `json:"finish_reason"`
		StopReason         string                        `json:"stop_reason"`
		Disagg             *protocol.DisaggregatedParams `json:"disaggregated_params"`
		RequestPerfMetrics *struct {
			TimingMetrics struct {
				KvCacheSize          int64   `json:"kv_cache_size"`
				KvCacheTransferStart float64 `json:"kv_cache_transfer_start"`
				KvCacheTransferEnd   float64 `json:"kv_cache_transfer_end"`
				FirstTokenTime       float64 `json:"first_token_time"`
			} `json:"timing_metrics"`
		} `json:"request_perf_metrics"`
	} `json:"outputs"`
}

// TRTLLMDecoder decodes TensorRT-LLM-style payloads.
func TRTLLMDecoder() SnapshotDecoder { return trtllmDecoder{} }

type trtllmDecoder struct{}

func (trtllmDecoder) Decode(raw json.RawMessage) (*Snapshot, error) {
	var payload trtllmPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode trtllm payload: %w", err)
	}

	snap := &Snapshot{
		RequestID: payload.RequestID,
		Finished:  payload.Finished,
	}
	for _, o := range payload.Outputs {
		out := Output{
			TokenIDs:     o.TokenIDs,
			Text:         o.Text,
			FinishReason: o.FinishReason,
			StopReason:   o.StopReason,
		}
		if o.Disagg != nil {
			params, err := disagg.Decode(o.Disagg)
			if err != nil {
				return nil, fmt.Errorf("failed to decode output disaggregated params: %w", err)
			}
			out.Disagg = params
		}
		if pm := o.RequestPerfMetrics; pm != nil {
			out.PerfMetrics = &RequestPerfMetrics{
				KvCacheSize:     pm.TimingMetrics.KvCacheSize,
				KvTransferStart: pm.TimingMetrics.KvCacheTransferStart,
				KvTransferEnd:   pm.TimingMetrics.KvCacheTransferEnd,
				FirstTokenTime:  pm.TimingMetrics.FirstTokenTime,
			}
		}
		snap.Outputs = append(snap.Outputs, out)
	}
	return snap, nil
}
