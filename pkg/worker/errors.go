/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

package worker

import "errors"

var (
	// ErrInvalidRequest indicates caller misuse: a mode/parameter combination
	// the handler rejects before any engine call is issued.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrMissingBootstrapInfo indicates the paired prefill handler's stream
	// ended without producing a rendezvous descriptor. Fatal for the
	// request, never retried at this layer.
	ErrMissingBootstrapInfo = errors.New("no bootstrap info received from prefill worker")

	// ErrMalformedEngineOutput indicates the engine violated its output
	// contract (e.g. a snapshot without its token sequence).
	ErrMalformedEngineOutput = errors.New("malformed engine output")
)
