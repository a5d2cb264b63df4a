/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

func newPrefillForTest(t *testing.T, eng *fakeEngine) *PrefillHandler {
	t.Helper()
	h, err := NewPrefillHandler(Config{
		Engine:            eng,
		Mode:              ModePrefill,
		SkipTokenizerInit: true,
		BootstrapHost:     "10.0.0.1",
		BootstrapPort:     8998,
	})
	require.NoError(t, err)
	h.roomFn = func() int64 { return 42 }
	return h
}

func TestNewPrefillHandlerRejectsOtherModes(t *testing.T) {
	_, err := NewPrefillHandler(Config{Engine: &fakeEngine{}, Mode: ModeAggregated})
	assert.Error(t, err)
}

func TestPrefillYieldsBootstrapFirstAndOnly(t *testing.T) {
	eng := &fakeEngine{snapshots: []*engine.Snapshot{
		{RequestID: "engine-1", Finished: true, Outputs: []engine.Output{{TokenIDs: []int{4}}}},
	}}
	h := newPrefillForTest(t, eng)

	dreq := &protocol.DisaggRequest{
		Request:        &protocol.Request{ID: "r1", TokenIDs: []int{1, 2, 3}},
		SamplingParams: map[string]any{"temperature": 0.5, "max_tokens": float64(128)},
	}
	stream, err := h.Generate(context.Background(), dreq, NewContext("ctx-1"))
	require.NoError(t, err)

	chunk, err := stream.Recv()
	require.NoError(t, err)
	require.NotNil(t, chunk.Bootstrap)
	assert.Equal(t, "10.0.0.1", chunk.Bootstrap.Host)
	assert.Equal(t, 8998, chunk.Bootstrap.Port)
	assert.Equal(t, int64(42), chunk.Bootstrap.Room)

	_, err = stream.Recv()
	assert.Equal(t, io.EOF, err, "the bootstrap descriptor is the only observable item")

	require.NoError(t, h.Close())

	genReq := eng.lastRequest()
	require.NotNil(t, genReq)
	assert.Equal(t, 1, genReq.SamplingParams.MaxTokens, "prefill never generates past the first token")
	assert.Equal(t, 0.5, genReq.SamplingParams.Temperature)
	assert.False(t, genReq.Streaming)
	require.NotNil(t, genReq.Disagg)
	assert.Equal(t, protocol.RequestTypeContextOnly, genReq.Disagg.RequestType)
	assert.Equal(t, "10.0.0.1", genReq.BootstrapHost)
	assert.Equal(t, int64(42), genReq.BootstrapRoom)
}

func TestPrefillRejectsCallerDisaggParams(t *testing.T) {
	h := newPrefillForTest(t, &fakeEngine{})

	dreq := &protocol.DisaggRequest{
		Request: &protocol.Request{
			ID:       "r1",
			TokenIDs: []int{1},
			Disagg:   &protocol.DisaggregatedParams{RequestType: protocol.RequestTypeGenerationOnly},
		},
	}
	_, err := h.Generate(context.Background(), dreq, NewContext("ctx-1"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPrefillRejectsMissingRequest(t *testing.T) {
	h := newPrefillForTest(t, &fakeEngine{})

	_, err := h.Generate(context.Background(), nil, NewContext("ctx-1"))
	require.ErrorIs(t, err, ErrInvalidRequest)

	_, err = h.Generate(context.Background(), &protocol.DisaggRequest{}, NewContext("ctx-1"))
	require.ErrorIs(t, err, ErrInvalidRequest)
}

func TestPrefillBackgroundSurvivesCallerCancellation(t *testing.T) {
	eng := &fakeEngine{snapshots: []*engine.Snapshot{
		{RequestID: "engine-1", Finished: true, Outputs: []engine.Output{{TokenIDs: []int{4}}}},
	}}
	h := newPrefillForTest(t, eng)

	ctx, cancel := context.WithCancel(context.Background())
	dreq := &protocol.DisaggRequest{Request: &protocol.Request{ID: "r1", TokenIDs: []int{1}}}
	stream, err := h.Generate(ctx, dreq, NewContext("ctx-1"))
	require.NoError(t, err)
	// The transport request ends as soon as the bootstrap info is read.
	cancel()

	_, err = stream.Recv()
	require.NoError(t, err)
	require.NoError(t, h.Close())

	assert.NotNil(t, eng.lastRequest(), "the detached engine call must still run")
}

func TestPrefillCancellationAbortsEngineRequest(t *testing.T) {
	eng := &fakeEngine{snapshots: []*engine.Snapshot{
		{RequestID: "engine-7", Outputs: []engine.Output{{TokenIDs: []int{4}}}},
		{RequestID: "engine-7", Finished: true, Outputs: []engine.Output{{TokenIDs: []int{4}}}},
	}}
	h := newPrefillForTest(t, eng)

	rc := NewContext("ctx-1")
	rc.Stop()

	dreq := &protocol.DisaggRequest{Request: &protocol.Request{ID: "r1", TokenIDs: []int{1}}}
	_, err := h.Generate(context.Background(), dreq, rc)
	require.NoError(t, err)
	require.NoError(t, h.Close())

	assert.Equal(t, []string{"engine-7"}, eng.abortedIDs())
}

func TestPrefillDefaultRoomIsNonNegative(t *testing.T) {
	h, err := NewPrefillHandler(Config{Engine: &fakeEngine{}, Mode: ModePrefill})
	require.NoError(t, err)
	for i := 0; i < 64; i++ {
		assert.GreaterOrEqual(t, h.roomFn(), int64(0))
	}
}

func TestMergeWireSampling(t *testing.T) {
	h := newPrefillForTest(t, &fakeEngine{})
	h.defaults = &engine.SamplingParams{Temperature: 1.0, TopP: 0.9, MaxTokens: 64}

	params := h.mergeWireSampling(map[string]any{
		"temperature": 0.2,
		"top_k":       float64(40), // JSON numbers arrive as float64
		"min_tokens":  float64(2),
		"ignore_eos":  true,
	})
	assert.Equal(t, 0.2, params.Temperature)
	assert.Equal(t, 0.9, params.TopP, "absent keys keep the defaults")
	assert.Equal(t, 40, params.TopK)
	assert.Equal(t, 64, params.MaxTokens)
	assert.Equal(t, 2, params.MinTokens)
	assert.True(t, params.IgnoreEOS)

	assert.Equal(t, 1.0, h.defaults.Temperature, "defaults must not be mutated")
}

func TestMergeWireSamplingStop(t *testing.T) {
	h := newPrefillForTest(t, &fakeEngine{})
	h.defaults = &engine.SamplingParams{Stop: []string{"default"}}

	// A JSON round trip of SamplingParams.ToMap turns the stop list into
	// []any of strings.
	params := h.mergeWireSampling(map[string]any{"stop": []any{"###", "\n\n"}})
	assert.Equal(t, []string{"###", "\n\n"}, params.Stop)

	params = h.mergeWireSampling(map[string]any{"stop": []string{"<|end|>"}})
	assert.Equal(t, []string{"<|end|>"}, params.Stop)

	params = h.mergeWireSampling(map[string]any{})
	assert.Equal(t, []string{"default"}, params.Stop, "absent key keeps the default")

	params = h.mergeWireSampling(map[string]any{"stop": []any{"ok", 7}})
	assert.Equal(t, []string{"default"}, params.Stop, "non-string entries reject the list")
}
