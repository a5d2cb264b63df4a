/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package disagg holds the disaggregated-serving parameter object and its
// wire codec. The engine-facing form carries the opaque KV transfer state as
// raw bytes; the wire form base64-encodes it so it survives JSON transport
// between the prefill and decode stages.
package disagg

import (
	"encoding/base64"
	"fmt"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// Params is the engine-facing disaggregation metadata. RequestType tags the
// request as context_only (prefill) or generation_only (decode);
// CtxRequestID correlates a decode request back to the prefill call that
// produced its KV cache.
type Params struct {
	RequestType    string
	CtxRequestID   *int
	FirstGenTokens []int
	OpaqueState    []byte
}

// Encode converts engine-facing params into the wire form.
func Encode(p *Params) *protocol.DisaggregatedParams {
	if p == nil {
		return nil
	}
	out := &protocol.DisaggregatedParams{
		RequestType:    p.RequestType,
		CtxRequestID:   p.CtxRequestID,
		FirstGenTokens: p.FirstGenTokens,
	}
	if len(p.OpaqueState) > 0 {
		out.EncodedOpaqueState = base64.StdEncoding.EncodeToString(p.OpaqueState)
	}
	return out
}

// Decode converts wire-form params back into the engine-facing form.
func Decode(p *protocol.DisaggregatedParams) (*Params, error) {
	if p == nil {
		return nil, nil
	}
	out := &Params{
		RequestType:    p.RequestType,
		CtxRequestID:   p.CtxRequestID,
		FirstGenTokens: p.FirstGenTokens,
	}
	if p.EncodedOpaqueState != "" {
		state, err := base64.StdEncoding.DecodeString(p.EncodedOpaqueState)
		if err != nil {
			return nil, fmt.Errorf("failed to decode opaque state: %w", err)
		}
		out.OpaqueState = state
	}
	return out, nil
}
