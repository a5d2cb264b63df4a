/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package protocol defines the wire records exchanged between the frontend
// router, worker handlers and paired prefill/decode workers.
package protocol

// Request type tags carried in DisaggregatedParams.
const (
	RequestTypeContextOnly    = "context_only"
	RequestTypeGenerationOnly = "generation_only"
)

// Finish reasons surfaced on response chunks.
const (
	FinishReasonStop   = "stop"
	FinishReasonLength = "length"
	FinishReasonError  = "error"
)

// Message is a single chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SamplingOptions are the caller-supplied sampling overrides. Pointer fields
// distinguish "absent" from an explicit zero value; absent fields keep the
// handler's defaults.
type SamplingOptions struct {
	Temperature *float64 `json:"temperature,omitempty"`
	TopP        *float64 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
}

// StopConditions control when generation terminates.
type StopConditions struct {
	MaxTokens *int     `json:"max_tokens,omitempty"`
	MinTokens *int     `json:"min_tokens,omitempty"`
	Stop      []string `json:"stop,omitempty"`
	IgnoreEOS *bool    `json:"ignore_eos,omitempty"`
}

// DisaggregatedParams is the encoded form of the disaggregation metadata
// carried between the prefill and decode stages. The opaque state is
// base64-encoded while in flight; see the disagg package for the codec.
type DisaggregatedParams struct {
	RequestType        string `json:"request_type,omitempty"`
	CtxRequestID       *int   `json:"ctx_request_id,omitempty"`
	FirstGenTokens     []int  `json:"first_gen_tokens,omitempty"`
	EncodedOpaqueState string `json:"opaque_state,omitempty"`
}

// EmbeddedContent is an optional multimodal payload attached to a request.
type EmbeddedContent struct {
	ContentType string `json:"content_type"`
	Data        []byte `json:"data,omitempty"`
	URL         string `json:"url,omitempty"`
}

// Request describes one generation job. Exactly one of TokenIDs, Prompt or
// Messages carries the input. Immutable once dispatched.
type Request struct {
	ID              string               `json:"id,omitempty"`
	Model           string               `json:"model,omitempty"`
	TokenIDs        []int                `json:"token_ids,omitempty"`
	Prompt          string               `json:"prompt,omitempty"`
	Messages        []Message            `json:"messages,omitempty"`
	SamplingOptions SamplingOptions      `json:"sampling_options"`
	StopConditions  StopConditions       `json:"stop_conditions"`
	Embedded        *EmbeddedContent     `json:"embedded_content,omitempty"`
	Disagg          *DisaggregatedParams `json:"disaggregated_params,omitempty"`
}

// RequestID returns the caller-supplied request identifier, or a stand-in
// when the caller omitted one.
func (r *Request) RequestID() string {
	if r.ID != "" {
		return r.ID
	}
	return "unknown-id"
}

// ModelName returns the requested model name, or a stand-in.
func (r *Request) ModelName() string {
	if r.Model != "" {
		return r.Model
	}
	return "unknown_model"
}

// BootstrapInfo is the rendezvous descriptor a prefill worker hands to its
// paired decode worker before any KV transfer begins. Room is a random
// non-negative 63-bit value unique per logical request.
type BootstrapInfo struct {
	Host string `json:"bootstrap_host"`
	Port int    `json:"bootstrap_port"`
	Room int64  `json:"bootstrap_room"`
}

// DisaggRequest is the wire form of the paired-handler call: the original
// request plus the sampling parameters the decode side already derived.
type DisaggRequest struct {
	Request        *Request       `json:"request"`
	SamplingParams map[string]any `json:"sampling_params,omitempty"`
}

// Delta is the incremental content of one chat-completion chunk.
type Delta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content"`
}

// Choice is one entry of a chat-completion chunk.
type Choice struct {
	Index        int    `json:"index"`
	Delta        Delta  `json:"delta"`
	FinishReason string `json:"finish_reason,omitempty"`
}

// ChatCompletionChunk is the OpenAI-style envelope used in text mode.
type ChatCompletionChunk struct {
	ID      string   `json:"id"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Model   string   `json:"model"`
	Object  string   `json:"object"`
}

// ResponseChunk is one unit of streamed output. Token mode populates
// TokenIDs; text mode populates Chat. Bootstrap is set only on the first item
// of a prefill handler's stream, Disagg only on prefill-stage data chunks.
type ResponseChunk struct {
	TokenIDs     []int                `json:"token_ids,omitempty"`
	Chat         *ChatCompletionChunk `json:"chat,omitempty"`
	FinishReason string               `json:"finish_reason,omitempty"`
	StopReason   string               `json:"stop_reason,omitempty"`
	CtxRequestID *int                 `json:"ctx_request_id,omitempty"`
	Disagg       *DisaggregatedParams `json:"disaggregated_params,omitempty"`
	Bootstrap    *BootstrapInfo       `json:"bootstrap,omitempty"`
}

// KvPerfStats is the KV transfer record handed to the publisher.
type KvPerfStats struct {
	TransferLatency float64 `json:"transfer_latency"`
}
