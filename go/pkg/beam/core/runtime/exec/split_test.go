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
	"testing"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// fixedWindow is a minimal concrete Window for split tests, distinct per
// index so windows compare unequal unless they're literally the same one.
type fixedWindow struct{ idx int }

func (w fixedWindow) MaxTimestamp() mtime.Time { return mtime.FromMilliseconds(int64(w.idx) * 1000) }
func (w fixedWindow) Equals(other Window) bool {
	o, ok := other.(fixedWindow)
	return ok && o.idx == w.idx
}

func fiveWindows() []Window {
	return []Window{fixedWindow{0}, fixedWindow{1}, fixedWindow{2}, fixedWindow{3}, fixedWindow{4}}
}

// TestComputeSplitCaseA exercises a split requested far enough into the
// remainder that it lands beyond the current window: no element-level
// split occurs, and the residual claims whole windows.
func TestComputeSplitCaseA(t *testing.T) {
	windows := fiveWindows()
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10, claimed: 10})

	in := SplitInput{
		Element:            "elem",
		Windows:            windows,
		Tracker:            tracker,
		Fraction:           0.9,
		CurrentWindowIndex: 1,
		StopWindowIndex:    5,
	}

	results, ok := ComputeSplit(in)
	if !ok {
		t.Fatalf("expected ComputeSplit to succeed")
	}
	if results.Windowed.PrimarySplit != nil || results.Windowed.ResidualSplit != nil {
		t.Errorf("Case A must not produce an element-level split, got primary=%v residual=%v", results.Windowed.PrimarySplit, results.Windowed.ResidualSplit)
	}
	if results.NewStopWindowIndex <= in.CurrentWindowIndex {
		t.Errorf("new stop index %d must stay strictly after the current window %d", results.NewStopWindowIndex, in.CurrentWindowIndex)
	}
	if results.Windowed.ResidualUnprocessedWindows == nil {
		t.Fatalf("expected a residual of unprocessed windows")
	}
	assertWindowUnion(t, in.StopWindowIndex, results)
}

// TestComputeSplitCaseB exercises a split fraction small enough to land
// inside the current window, producing an element-level primary/residual
// split via the restriction tracker.
func TestComputeSplitCaseB(t *testing.T) {
	windows := fiveWindows()
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10, claimed: 2})

	in := SplitInput{
		Element:            "elem",
		Windows:            windows,
		Tracker:            tracker,
		Fraction:           0.1,
		CurrentWindowIndex: 1,
		StopWindowIndex:    5,
	}

	results, ok := ComputeSplit(in)
	if !ok {
		t.Fatalf("expected ComputeSplit to succeed")
	}
	if results.Windowed.PrimarySplit == nil || results.Windowed.ResidualSplit == nil {
		t.Fatalf("Case B must produce an element-level split, got primary=%v residual=%v", results.Windowed.PrimarySplit, results.Windowed.ResidualSplit)
	}
	if results.NewStopWindowIndex != in.CurrentWindowIndex+1 {
		t.Errorf("new stop index = %d, want %d (current window becomes the last live one)", results.NewStopWindowIndex, in.CurrentWindowIndex+1)
	}
	assertWindowUnion(t, in.StopWindowIndex, results)
}

// TestComputeSplitOnLastWindow exercises the only-element-split path when
// the current window is the last live one.
func TestComputeSplitOnLastWindow(t *testing.T) {
	windows := fiveWindows()
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10, claimed: 2})

	in := SplitInput{
		Element:            "elem",
		Windows:            windows,
		Tracker:            tracker,
		Fraction:           0.5,
		CurrentWindowIndex: 4,
		StopWindowIndex:    5,
	}

	results, ok := ComputeSplit(in)
	if !ok {
		t.Fatalf("expected ComputeSplit to succeed on the last window")
	}
	if results.Windowed.ResidualUnprocessedWindows != nil {
		t.Errorf("on the last window there should be no unprocessed-windows residual, got %v", results.Windowed.ResidualUnprocessedWindows)
	}
	if results.Windowed.PrimarySplit == nil || results.Windowed.ResidualSplit == nil {
		t.Fatalf("expected an element-level split on the last window")
	}
	assertWindowUnion(t, in.StopWindowIndex, results)
}

// assertWindowUnion checks the invariant from spec.md §8 by walking the
// actual Windows slices each root carries, rather than deriving a count
// from index arithmetic: every window in [0, stopWindowIndex) must appear
// in exactly one of PrimaryFullyProcessedWindows/PrimarySplit/
// ResidualUnprocessedWindows, and no window outside that range may appear
// anywhere. ResidualSplit never contributes a new window to the union --
// an element-level split divides the restriction within the current
// window, not the window itself, so ResidualSplit must name exactly the
// same window(s) as PrimarySplit.
func assertWindowUnion(t *testing.T, stopIdx int, results SplitResultsWithStopIndex) {
	t.Helper()

	covered := map[int]int{}
	add := func(wv *WindowedValue) {
		if wv == nil {
			return
		}
		for _, w := range wv.Windows {
			fw, ok := w.(fixedWindow)
			if !ok {
				t.Fatalf("window %v is not a fixedWindow", w)
			}
			covered[fw.idx]++
		}
	}
	add(results.Windowed.PrimaryFullyProcessedWindows)
	add(results.Windowed.PrimarySplit)
	add(results.Windowed.ResidualUnprocessedWindows)

	if results.Windowed.PrimarySplit != nil {
		if len(results.Windowed.ResidualSplit.Windows) != len(results.Windowed.PrimarySplit.Windows) {
			t.Fatalf("ResidualSplit has %d windows, PrimarySplit has %d; they must name the same window(s)",
				len(results.Windowed.ResidualSplit.Windows), len(results.Windowed.PrimarySplit.Windows))
		}
		for i, w := range results.Windowed.ResidualSplit.Windows {
			if !w.Equals(results.Windowed.PrimarySplit.Windows[i]) {
				t.Errorf("ResidualSplit window %v != PrimarySplit window %v", w, results.Windowed.PrimarySplit.Windows[i])
			}
		}
	}

	for i := 0; i < stopIdx; i++ {
		if covered[i] != 1 {
			t.Errorf("window %d covered %d times, want exactly 1", i, covered[i])
		}
	}
	for idx, count := range covered {
		if idx >= stopIdx && count > 0 {
			t.Errorf("window %d lies outside [0,%d) but is covered %d time(s)", idx, stopIdx, count)
		}
	}
}

func TestEncodeDecodeProgressRoundTrip(t *testing.T) {
	for _, v := range []float64{0, 0.5, 1, 0.333333} {
		enc := EncodeProgress(v)
		if len(enc) != 8 {
			t.Fatalf("EncodeProgress(%v) produced %d bytes, want 8", v, len(enc))
		}
		dec, err := DecodeProgress(enc)
		if err != nil {
			t.Fatalf("DecodeProgress: %v", err)
		}
		if dec != v {
			t.Errorf("round trip %v -> %v", v, dec)
		}
	}
}

func TestDecodeProgressRejectsWrongLength(t *testing.T) {
	if _, err := DecodeProgress([]byte{1, 2, 3}); err == nil {
		t.Errorf("expected an error decoding a non-8-byte progress encoding")
	}
}

func TestScaleAcrossWindows(t *testing.T) {
	got := ScaleAcrossWindows(2, 5, Progress{Completed: 0.5, Remaining: 0.5})
	if got.Completed != 2.5 {
		t.Errorf("Completed = %v, want 2.5", got.Completed)
	}
	if got.Remaining != 2.5 {
		t.Errorf("Remaining = %v, want 2.5", got.Remaining)
	}
}
