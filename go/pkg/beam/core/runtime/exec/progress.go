// Licensed to the Apache Software Foundation (ASF) under one or more
// contributor license agreements.  See the NOTICE file distributed with
// this work for additional information regarding copyright ownership.
// The ASF licenses this file to You under the Apache License, Version 2.0
// (the "License"); you may not use this file except in compliance with
// the License.  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package exec

import (
	"bytes"
	"encoding/binary"
	"math"
)

// Progress is a (work-completed, work-remaining) pair, both non-negative
// reals, per spec.md §3.
type Progress struct {
	Completed float64
	Remaining float64
}

// ScaleAcrossWindows scales a single window's (completed, remaining)
// progress across the element's total window count, per spec.md §4.7:
//
//	completed_now   = windowIndex + completed/(completed+remaining)
//	scaledCompleted = completed_now
//	scaledRemaining = totalWindows - completed_now
//
// windowIndex is the 0-based index of the window currently being
// processed (TransformRunner.windowCurrentIndex) and totalWindows is
// windowStopIndex.
func ScaleAcrossWindows(windowIndex, totalWindows int, local Progress) Progress {
	denom := local.Completed + local.Remaining
	frac := 0.0
	if denom > 0 {
		frac = local.Completed / denom
	}
	completedNow := float64(windowIndex) + frac
	return Progress{
		Completed: completedNow,
		Remaining: float64(totalWindows) - completedNow,
	}
}

// ProgressReporter computes (work-completed, work-remaining) for the
// element currently being processed by a TransformRunner, scaled across
// its windows. It holds no state of its own: all inputs are read from the
// runner under the split lock by the caller (TransformRunner.GetProgress).
type ProgressReporter struct{}

// Report computes the scaled Progress for a tracker that optionally
// implements HasProgress, given the current window index and stop index.
// If tracker is nil or doesn't implement HasProgress, local progress
// defaults to (0, 1) -- "no work observed yet, full window remaining" --
// matching spec.md §4.7's tracker.HasProgress fallback.
func (ProgressReporter) Report(tracker RestrictionTracker, windowIndex, stopIndex int) Progress {
	local := Progress{Completed: 0, Remaining: 1}
	if hp, ok := tracker.(HasProgress); ok {
		c, r := hp.GetProgress()
		local = Progress{Completed: c, Remaining: r}
	}
	return ScaleAcrossWindows(windowIndex, stopIndex, local)
}

// ReportDelegate computes scaled Progress from a DownstreamSplitter
// instead of a typed tracker, per spec.md §4.5 ("or from downstream's
// numeric progress").
func (ProgressReporter) ReportDelegate(delegate DownstreamSplitter, windowIndex, stopIndex int) Progress {
	c, r := delegate.Progress()
	return ScaleAcrossWindows(windowIndex, stopIndex, Progress{Completed: c, Remaining: r})
}

// EncodeProgress encodes a single float64 as the wire-compatible
// single-element IEEE-754 double sequence spec.md §4.7 calls for.
func EncodeProgress(v float64) []byte {
	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, math.Float64bits(v))
	return buf.Bytes()
}

// DecodeProgress is the inverse of EncodeProgress, used by tests and by
// any future downstream re-decoder.
func DecodeProgress(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, errInvalidProgressEncoding
	}
	bits := binary.BigEndian.Uint64(b)
	return math.Float64frombits(bits), nil
}

var errInvalidProgressEncoding = progressEncodingError{}

type progressEncodingError struct{}

func (progressEncodingError) Error() string { return "exec: progress encoding must be exactly 8 bytes" }
