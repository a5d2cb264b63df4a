/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import (
	"io"

	"github.com/aschilling-nv/dynamo/pkg/protocol"
)

// ResponseStream is the ordered, finite, non-restartable sequence of chunks
// produced for one request. Recv returns io.EOF after the last chunk, or the
// error that terminated generation. Not safe for concurrent Recv.
type ResponseStream interface {
	Recv() (*protocol.ResponseChunk, error)
}

// chunkStream is the producer side of a ResponseStream. The generating
// goroutine sends chunks and closes the stream exactly once; the consumer
// drains through Recv.
type chunkStream struct {
	ch  chan *protocol.ResponseChunk
	err error // written before close(ch), read only after ch is drained
}

func newChunkStream(buffer int) *chunkStream {
	return &chunkStream{ch: make(chan *protocol.ResponseChunk, buffer)}
}

func (s *chunkStream) send(chunk *protocol.ResponseChunk) {
	s.ch <- chunk
}

// close ends the stream. A nil err surfaces as io.EOF to the consumer.
func (s *chunkStream) close(err error) {
	s.err = err
	close(s.ch)
}

// emitter returns the producer-side emit function. Sends give up once the
// request's context signals stop or kill, so an abandoned consumer cannot
// strand the generating goroutine.
func (s *chunkStream) emitter(rc Context) func(*protocol.ResponseChunk) {
	return func(chunk *protocol.ResponseChunk) {
		if rc == nil {
			s.ch <- chunk
			return
		}
		select {
		case s.ch <- chunk:
		case <-rc.StoppedOrKilled():
		}
	}
}

// Recv implements ResponseStream.
func (s *chunkStream) Recv() (*protocol.ResponseChunk, error) {
	chunk, ok := <-s.ch
	if !ok {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	return chunk, nil
}
