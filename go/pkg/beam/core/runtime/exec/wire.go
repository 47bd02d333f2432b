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
	"time"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/coder"
	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

// Timestamp is the two-field (seconds, nanos) wire form spec.md §6 calls
// for, matching the conventional protobuf well-known Timestamp shape that
// google.golang.org/protobuf's timestamppb already provides on the wire;
// this type exists purely as the core's internal representation so the
// core has no proto dependency of its own.
type Timestamp struct {
	Seconds int64
	Nanos   int32
}

// TimestampFromMillis converts an mtime.Time into the (seconds, nanos)
// wire form, millisecond granularity per spec.md §6.
func TimestampFromMillis(t mtime.Time) Timestamp {
	ms := t.Milliseconds()
	sec := ms / 1000
	rem := ms % 1000
	if rem < 0 {
		rem += 1000
		sec--
	}
	return Timestamp{Seconds: sec, Nanos: int32(rem) * int32(time.Millisecond)}
}

// SizedSplittableElement is the wire shape from spec.md §4.8:
// ((value, (restriction, wmState)), size).
type SizedSplittableElement struct {
	Element SplittableElement
	Size    float64
}

// BundleApplication is a primary root shipped back to the runner, per
// spec.md §6: the element is the full windowed value, encoded with the
// full input coder (value ⊕ window).
type BundleApplication struct {
	TransformID  string
	InputID      string
	ElementBytes []byte
}

// DelayedBundleApplication is a residual root shipped back to the runner.
type DelayedBundleApplication struct {
	Application           BundleApplication
	RequestedTimeDelayMs   int64
	OutputWatermarks       map[string]Timestamp
}

// SplitResult is the wire encoding of a split, per spec.md §6: two ordered
// lists of primary and residual roots.
type SplitResult struct {
	PrimaryRoots  []BundleApplication
	ResidualRoots []DelayedBundleApplication
}

// SizeFn computes the numeric size hint for a restriction, invoking the
// user transform's get-size operation (spec.md §4.8).
type SizeFn func(restriction any) (float64, error)

// EncodeWindowedValue encodes a WindowedValue's value and (single) window
// using the supplied coder capability, producing the opaque element_bytes
// a BundleApplication carries. Only ever called with a single-window
// WindowedValue (the shape every split root produces).
func EncodeWindowedValue(wv WindowedValue, wvc coder.WindowedValueCoder) ([]byte, error) {
	var buf bytes.Buffer
	if err := wvc.Encode(wv.Value, &buf); err != nil {
		return nil, err
	}
	if len(wv.Windows) != 1 {
		return nil, newValidationError("exec: EncodeWindowedValue requires exactly one window, got %d", len(wv.Windows))
	}
	if err := wvc.EncodeWindow(&buf, wv.Windows[0]); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeWindowedValue is the inverse of EncodeWindowedValue: it reads back
// the value and its single window (the round trip of spec.md §8 property
// 6). Timestamp and pane are not part of the encoding, so the result
// carries zero values for both.
func DecodeWindowedValue(b []byte, wvc coder.WindowedValueCoder) (WindowedValue, error) {
	r := bytes.NewReader(b)
	v, err := wvc.Decode(r)
	if err != nil {
		return WindowedValue{}, err
	}
	w, err := wvc.DecodeWindow(r)
	if err != nil {
		return WindowedValue{}, err
	}
	window, ok := w.(Window)
	if !ok {
		return WindowedValue{}, newValidationError("exec: decoded window does not implement Window")
	}
	return WindowedValue{Value: v, Windows: []Window{window}}, nil
}

// buildBundleApplication sizes and encodes a single split root.
func buildBundleApplication(wv *WindowedValue, transformID, inputID string, size SizeFn, wvc coder.WindowedValueCoder) (BundleApplication, error) {
	if se, ok := wv.Value.(SplittableElement); ok && size != nil {
		s, err := size(se.Restricted.Restriction)
		if err != nil {
			return BundleApplication{}, err
		}
		wv = &WindowedValue{
			Value:     SizedSplittableElement{Element: se, Size: s},
			Timestamp: wv.Timestamp,
			Windows:   wv.Windows,
			Pane:      wv.Pane,
		}
	}
	bytes, err := EncodeWindowedValue(*wv, wvc)
	if err != nil {
		return BundleApplication{}, err
	}
	return BundleApplication{TransformID: transformID, InputID: inputID, ElementBytes: bytes}, nil
}

// buildSplitResult turns a WindowedSplitResult into the wire-ready
// SplitResult, applying the output-watermark rules from spec.md §6:
//
//   - a residual in unprocessed windows with a non-min initial watermark
//     gets, per output id, a timestamp equal to the captured initial
//     watermark;
//   - the residual element split gets, per output id, a timestamp equal to
//     the pre-split captured watermark, unless that watermark is
//     TIMESTAMP_MIN, in which case the map is empty.
func buildSplitResult(wsr WindowedSplitResult, transformID, inputID string, outputIDs []string, initialWatermark, capturedWatermark mtime.Time, resumeDelay time.Duration, size SizeFn, wvc coder.WindowedValueCoder) (SplitResult, error) {
	var result SplitResult

	addPrimary := func(wv *WindowedValue) error {
		if wv == nil {
			return nil
		}
		app, err := buildBundleApplication(wv, transformID, inputID, size, wvc)
		if err != nil {
			return err
		}
		result.PrimaryRoots = append(result.PrimaryRoots, app)
		return nil
	}
	if err := addPrimary(wsr.PrimaryFullyProcessedWindows); err != nil {
		return SplitResult{}, err
	}
	if err := addPrimary(wsr.PrimarySplit); err != nil {
		return SplitResult{}, err
	}

	addResidual := func(wv *WindowedValue, watermarks map[string]Timestamp) error {
		if wv == nil {
			return nil
		}
		app, err := buildBundleApplication(wv, transformID, inputID, size, wvc)
		if err != nil {
			return err
		}
		result.ResidualRoots = append(result.ResidualRoots, DelayedBundleApplication{
			Application:          app,
			RequestedTimeDelayMs: resumeDelay.Milliseconds(),
			OutputWatermarks:     watermarks,
		})
		return nil
	}

	if wsr.ResidualUnprocessedWindows != nil {
		watermarks := map[string]Timestamp{}
		if initialWatermark != mtime.MinTimestamp {
			ts := TimestampFromMillis(initialWatermark)
			for _, id := range outputIDs {
				watermarks[id] = ts
			}
		}
		if err := addResidual(wsr.ResidualUnprocessedWindows, watermarks); err != nil {
			return SplitResult{}, err
		}
	}

	if wsr.ResidualSplit != nil {
		watermarks := map[string]Timestamp{}
		if capturedWatermark != mtime.MinTimestamp {
			ts := TimestampFromMillis(capturedWatermark)
			for _, id := range outputIDs {
				watermarks[id] = ts
			}
		}
		if err := addResidual(wsr.ResidualSplit, watermarks); err != nil {
			return SplitResult{}, err
		}
	}

	return result, nil
}
