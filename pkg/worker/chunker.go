/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"fmt"
	"time"

	"github.com/aschilling-nv/dynamo/pkg/disagg"
	"github.com/aschilling-nv/dynamo/pkg/engine"
	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// chunker converts the engine's cumulative snapshots into incremental
// response chunks. Implementations keep per-request emission state; the
// concatenation of all emitted deltas equals the final cumulative value and
// no content is ever re-emitted.
type chunker interface {
	chunk(snap *engine.Snapshot) (*protocol.ResponseChunk, error)

	// flush returns a delta chunk for content the terminal snapshot carries
	// that has not been emitted yet, or false when nothing is pending.
	flush(snap *engine.Snapshot) (*protocol.ResponseChunk, bool)

	// final produces the terminal chunk carrying the given finish reason.
	final(snap *engine.Snapshot, reason string) *protocol.ResponseChunk
}

// tokenChunker emits the newly produced token-id suffix of each snapshot.
type tokenChunker struct {
	emitted       int
	includeDisagg bool // prefill mode attaches the encoded params for the paired decode call
}

func (c *tokenChunker) chunk(snap *engine.Snapshot) (*protocol.ResponseChunk, error) {
	out := snap.Outputs[0]
	if out.TokenIDs == nil {
		return nil, fmt.Errorf("%w: missing token_ids in engine response", ErrMalformedEngineOutput)
	}

	chunk := &protocol.ResponseChunk{
		TokenIDs:     out.TokenIDs[c.emitted:],
		FinishReason: out.FinishReason,
		StopReason:   out.StopReason,
	}
	c.emitted = len(out.TokenIDs)

	if c.includeDisagg && out.Disagg != nil {
		chunk.Disagg = disagg.Encode(out.Disagg)
	}
	return chunk, nil
}

func (c *tokenChunker) flush(snap *engine.Snapshot) (*protocol.ResponseChunk, bool) {
	if len(snap.Outputs) == 0 {
		return nil, false
	}
	out := snap.Outputs[0]
	if len(out.TokenIDs) <= c.emitted {
		return nil, false
	}
	chunk := &protocol.ResponseChunk{TokenIDs: out.TokenIDs[c.emitted:]}
	c.emitted = len(out.TokenIDs)
	return chunk, true
}

func (c *tokenChunker) final(_ *engine.Snapshot, reason string) *protocol.ResponseChunk {
	return &protocol.ResponseChunk{TokenIDs: []int{}, FinishReason: reason}
}

// textChunker emits the newly produced text suffix of each snapshot wrapped
// in a chat-completion-chunk envelope.
type textChunker struct {
	model   string
	emitted int
	created int64 // monotonically non-decreasing across chunks

	nowFn func() int64 // test override
}

func newTextChunker(model string) *textChunker {
	return &textChunker{model: model, nowFn: func() int64 { return time.Now().Unix() }}
}

func (c *textChunker) chunk(snap *engine.Snapshot) (*protocol.ResponseChunk, error) {
	out := snap.Outputs[0]
	delta := out.Text[c.emitted:]
	c.emitted = len(out.Text)

	return &protocol.ResponseChunk{
		Chat:         c.envelope(snap.RequestID, delta, out.FinishReason),
		FinishReason: out.FinishReason,
		StopReason:   out.StopReason,
	}, nil
}

func (c *textChunker) flush(snap *engine.Snapshot) (*protocol.ResponseChunk, bool) {
	if len(snap.Outputs) == 0 {
		return nil, false
	}
	out := snap.Outputs[0]
	if len(out.Text) <= c.emitted {
		return nil, false
	}
	delta := out.Text[c.emitted:]
	c.emitted = len(out.Text)
	return &protocol.ResponseChunk{Chat: c.envelope(snap.RequestID, delta, "")}, true
}

func (c *textChunker) final(snap *engine.Snapshot, reason string) *protocol.ResponseChunk {
	return &protocol.ResponseChunk{
		Chat:         c.envelope(snap.RequestID, "", reason),
		FinishReason: reason,
	}
}

func (c *textChunker) envelope(id, delta, finishReason string) *protocol.ChatCompletionChunk {
	if now := c.nowFn(); now > c.created {
		c.created = now
	}
	return &protocol.ChatCompletionChunk{
		ID:      id,
		Created: c.created,
		Choices: []protocol.Choice{{
			Index:        0,
			Delta:        protocol.Delta{Role: "assistant", Content: delta},
			FinishReason: finishReason,
		}},
		Model:  c.model,
		Object: "chat.completion.chunk",
	}
}
