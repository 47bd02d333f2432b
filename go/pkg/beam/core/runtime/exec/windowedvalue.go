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

// Package exec is the per-transform execution core: it drives one user
// transform instance over the lifetime of a bundle, coordinating
// per-element invocation, splittable processing, timers, keyed state, and
// progress/split concurrency. See spec.md for the full design.
package exec

import (
	"fmt"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// Window is the opaque, user/windowing-strategy-defined window a value
// belongs to. The core only ever needs a window's garbage-collection
// deadline (derived from MaxTimestamp + allowed lateness) and an equality
// key for map lookups; it never implements windowing or triggering policy.
type Window interface {
	// MaxTimestamp is the last event-time timestamp that can exist in this
	// window (the window's end, for interval-style windows).
	MaxTimestamp() mtime.Time
	// Equals reports whether this window is the same window as other.
	Equals(other Window) bool
}

// GlobalWindow is the single default window used by elements that aren't
// otherwise windowed. It is provided because the core's tests and the
// non-splittable processing paths need some concrete Window to exercise;
// production windowing strategies are supplied by the (out-of-scope)
// pipeline runner.
type GlobalWindow struct{}

// MaxTimestamp implements Window.
func (GlobalWindow) MaxTimestamp() mtime.Time { return mtime.EndOfGlobalWindowTime }

// Equals implements Window.
func (GlobalWindow) Equals(other Window) bool {
	_, ok := other.(GlobalWindow)
	return ok
}

func (GlobalWindow) String() string { return "GlobalWindow" }

// PaneTiming identifies which kind of trigger firing produced a pane.
type PaneTiming int

const (
	PaneEarly PaneTiming = iota
	PaneOnTime
	PaneLate
	PaneUnknown
)

// Pane carries the triggering metadata spec.md's data model requires on
// every WindowedValue.
type Pane struct {
	Timing        PaneTiming
	IsFirst       bool
	IsLast        bool
	Index         int64
	NonSpeculativeIndex int64
}

// NoFiringPane is the default pane for values that were never produced by
// an explicit trigger firing (the common case for non-aggregated ParDo
// output).
var NoFiringPane = Pane{Timing: PaneOnTime, IsFirst: true, IsLast: true}

// WindowedValue pairs a value with its event timestamp, window set, and
// pane, per spec.md §3.
type WindowedValue struct {
	Value     any
	Timestamp mtime.Time
	Windows   []Window
	Pane      Pane
}

// NewWindowedValue constructs a WindowedValue for a single window.
func NewWindowedValue(value any, ts mtime.Time, window Window, pane Pane) WindowedValue {
	return WindowedValue{Value: value, Timestamp: ts, Windows: []Window{window}, Pane: pane}
}

func (wv WindowedValue) String() string {
	return fmt.Sprintf("WindowedValue{%v @ %v in %d windows}", wv.Value, wv.Timestamp, len(wv.Windows))
}

// ExplodeWindows returns one WindowedValue per window in wv, each carrying
// only that single window: the per-window view of the window-observing
// ParDo strategy in §4.1. TransformRunner.ProcessElement does not call it;
// it iterates wv.Windows directly.
func (wv WindowedValue) ExplodeWindows() []WindowedValue {
	out := make([]WindowedValue, len(wv.Windows))
	for i, w := range wv.Windows {
		out[i] = WindowedValue{Value: wv.Value, Timestamp: wv.Timestamp, Windows: []Window{w}, Pane: wv.Pane}
	}
	return out
}

// SizedRestriction is the (restriction, watermarkEstimatorState) pair
// carried alongside a splittable element's value, per spec.md §3.
type SizedRestriction struct {
	Restriction             any
	WatermarkEstimatorState any
}

// SplittableElement is the (value, (restriction, wmState)) shape spec.md
// §4.2 and §4.8 describe for a sized-element-and-restriction.
type SplittableElement struct {
	Value      any
	Restricted SizedRestriction
	Size       float64
}
