/*
 * SPDX-FileCopyrightText: Copyright (c) 2025 NVIDIA CORPORATION & AFFILIATES. All rights reserved.
 * SPDX-License-Identifier: Apache-2.0
 */

// Package logitsproc holds the deterministic logits processor attached to
// sampling parameters when the test env toggle is set. It is not part of the
// production contract.
package logitsproc

import (
	"math"

	"github.com/aschilling-nv/dynamo/pkg/engine"
)

// TestProcessor returns a processor that collapses the distribution onto the
// lowest token id, making generated output deterministic for end-to-end
// tests.
func TestProcessor() engine.LogitsProcessor {
	return func(_ []int, logits []float32) {
		for i := range logits {
			logits[i] = float32(math.Inf(-1))
		}
		if len(logits) > 0 {
			logits[0] = 0
		}
	}
}
