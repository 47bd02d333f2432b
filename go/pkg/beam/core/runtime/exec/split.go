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
	"math"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// WindowedSplitResult is the four-root shape spec.md §3 and §6 describe:
// the windows already fully processed, the split primary/residual of the
// currently active window (if an element-level split happened), and the
// windows not yet begun at all. Exactly the roots that apply to a given
// split are non-nil; the rest are absent, never zero-valued placeholders.
type WindowedSplitResult struct {
	PrimaryFullyProcessedWindows *WindowedValue
	PrimarySplit                 *WindowedValue
	ResidualSplit                *WindowedValue
	ResidualUnprocessedWindows   *WindowedValue
}

// SplitResultsWithStopIndex bundles a WindowedSplitResult with the new
// windowStopIndex the caller must commit, and flags whether the split was
// produced via a DownstreamSplitter (no typed restriction to carry) rather
// than a RestrictionTracker.
type SplitResultsWithStopIndex struct {
	Windowed           WindowedSplitResult
	DownstreamSplit    bool
	NewStopWindowIndex int
}

// SplitInput is every value SplitComputation needs; it takes no reference
// to the TransformRunner itself so it can be tested as a pure function, per
// spec.md §4.5's framing ("Split computation (pure function)").
type SplitInput struct {
	Element any
	// Windows is the full, ordered window set the splittable element was
	// installed with.
	Windows []Window
	// OriginalRestriction is the pristine per-window restriction value the
	// element started with -- the same value every window's tracker is
	// freshly installed from (spec.md §4.2 step 3).
	OriginalRestriction any
	// ElementWatermarkEstimatorState is the wmState the element started
	// with, before this split captured its own snapshot. The primary
	// retains this value per spec.md §5's ordering guarantee.
	ElementWatermarkEstimatorState any

	Fraction float64

	// Exactly one of Tracker or Delegate must be set, per spec.md §3's
	// invariant.
	Tracker  *RestrictionTrackerAdapter
	Delegate DownstreamSplitter

	// CapturedWatermark and CapturedWmState are the watermark estimator's
	// (watermark, state) snapshot taken before slicing windows, per
	// spec.md §5: "A split observed at instant T captures (watermark,
	// wmState) before slicing windows".
	CapturedWatermark mtime.Time
	CapturedWmState   any

	CurrentWindowIndex int
	StopWindowIndex    int
}

// localProgress reads (completed, remaining) from whichever of
// Tracker/Delegate is present, per spec.md §4.5.
func (in SplitInput) localProgress() Progress {
	if in.Tracker != nil {
		if hp, ok := in.Tracker.Underlying().(HasProgress); ok {
			c, r := hp.GetProgress()
			return Progress{Completed: c, Remaining: r}
		}
		return Progress{Completed: 0, Remaining: 1}
	}
	c, r := in.Delegate.Progress()
	return Progress{Completed: c, Remaining: r}
}

func roundClamp(v float64, lo, hi int) int {
	r := int(math.Round(v))
	if r < lo {
		return lo
	}
	if r > hi {
		return hi
	}
	return r
}

// processedWindowsRoot builds the primary root covering windows [0, upTo),
// carrying the pristine OriginalRestriction since no element-level split
// touches any window in this range. upTo is CurrentWindowIndex for a Case B
// or last-window split (only windows strictly before the actively-split
// current window are "fully processed"), or the new stop index for a
// Case A split, where spec.md §4.5 defines the whole primary as windows
// [0, newStop) -- including the current window and any windows between it
// and newStop, none of which get their own root since no element split
// occurred to distinguish them.
func (in SplitInput) processedWindowsRoot(upTo int) *WindowedValue {
	if upTo <= 0 {
		return nil
	}
	windows := append([]Window(nil), in.Windows[:upTo]...)
	return &WindowedValue{
		Value: SplittableElement{
			Value:      in.Element,
			Restricted: SizedRestriction{Restriction: in.OriginalRestriction, WatermarkEstimatorState: in.ElementWatermarkEstimatorState},
		},
		Windows: windows,
	}
}

func (in SplitInput) unprocessedWindowsRoot(newStop int) *WindowedValue {
	if newStop >= in.StopWindowIndex {
		return nil
	}
	windows := append([]Window(nil), in.Windows[newStop:in.StopWindowIndex]...)
	return &WindowedValue{
		Value: SplittableElement{
			Value:      in.Element,
			Restricted: SizedRestriction{Restriction: in.OriginalRestriction, WatermarkEstimatorState: in.CapturedWmState},
		},
		Windows: windows,
	}
}

func (in SplitInput) elementSplitRoots(primaryRestriction, residualRestriction any) (primary, residual *WindowedValue) {
	cur := in.Windows[in.CurrentWindowIndex]
	primary = &WindowedValue{
		Value: SplittableElement{
			Value:      in.Element,
			Restricted: SizedRestriction{Restriction: primaryRestriction, WatermarkEstimatorState: in.ElementWatermarkEstimatorState},
		},
		Windows: []Window{cur},
	}
	residual = &WindowedValue{
		Value: SplittableElement{
			Value:      in.Element,
			Restricted: SizedRestriction{Restriction: residualRestriction, WatermarkEstimatorState: in.CapturedWmState},
		},
		Windows: []Window{cur},
	}
	return primary, residual
}

// trySplitElement attempts a typed or delegated element-level split at
// fractionOfRemainder, normalizing both paths to a common return shape.
func (in SplitInput) trySplitElement(fractionOfRemainder float64) (primary, residual *WindowedValue, downstream, ok bool) {
	if in.Tracker != nil {
		p, r, split := in.Tracker.TrySplit(fractionOfRemainder)
		if !split {
			return nil, nil, false, false
		}
		primary, residual = in.elementSplitRoots(p, r)
		return primary, residual, false, true
	}
	if !in.Delegate.Split(fractionOfRemainder) {
		return nil, nil, false, false
	}
	return nil, nil, true, true
}

// ComputeSplit implements the algorithm in spec.md §4.5: given the current
// window index, restriction tracker (or downstream delegate), and desired
// fraction, it produces a WindowedSplitResult plus the new stop index. ok
// is false when no split occurred at all (the tracker/delegate refused).
func ComputeSplit(in SplitInput) (SplitResultsWithStopIndex, bool) {
	onLastWindow := in.CurrentWindowIndex >= in.StopWindowIndex-1

	if !onLastWindow {
		elementProgress := in.localProgress()
		scaled := ScaleAcrossWindows(in.CurrentWindowIndex, in.StopWindowIndex, elementProgress)
		scaledFractionRemaining := scaled.Remaining * in.Fraction

		if scaledFractionRemaining > elementProgress.Remaining {
			// Case A: the split falls beyond the current window. Pick a new
			// stop index at the nearest window boundary.
			newStopF := float64(in.CurrentWindowIndex) + elementProgress.Completed + scaledFractionRemaining
			newStop := roundClamp(newStopF, in.CurrentWindowIndex+1, in.StopWindowIndex-1)
			result := WindowedSplitResult{
				PrimaryFullyProcessedWindows: in.processedWindowsRoot(newStop),
				ResidualUnprocessedWindows:   in.unprocessedWindowsRoot(newStop),
			}
			return SplitResultsWithStopIndex{Windowed: result, NewStopWindowIndex: newStop}, true
		}

		// Case B: the split lands inside the current window.
		elementFraction := 0.0
		if elementProgress.Remaining > 0 {
			elementFraction = scaledFractionRemaining / elementProgress.Remaining
		}
		primary, residual, downstream, ok := in.trySplitElement(elementFraction)
		if !ok {
			return SplitResultsWithStopIndex{}, false
		}
		newStop := in.CurrentWindowIndex + 1
		result := WindowedSplitResult{
			PrimaryFullyProcessedWindows: in.processedWindowsRoot(in.CurrentWindowIndex),
			PrimarySplit:                 primary,
			ResidualSplit:                residual,
			ResidualUnprocessedWindows:   in.unprocessedWindowsRoot(newStop),
		}
		return SplitResultsWithStopIndex{Windowed: result, DownstreamSplit: downstream, NewStopWindowIndex: newStop}, true
	}

	// On the last live window: only an element-level split is possible.
	primary, residual, downstream, ok := in.trySplitElement(in.Fraction)
	if !ok {
		return SplitResultsWithStopIndex{}, false
	}
	newStop := in.CurrentWindowIndex + 1
	result := WindowedSplitResult{
		PrimaryFullyProcessedWindows: in.processedWindowsRoot(in.CurrentWindowIndex),
		PrimarySplit:                 primary,
		ResidualSplit:                residual,
		ResidualUnprocessedWindows:   in.unprocessedWindowsRoot(newStop),
	}
	return SplitResultsWithStopIndex{Windowed: result, DownstreamSplit: downstream, NewStopWindowIndex: newStop}, true
}
