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

// Package mtime holds millisecond-precision event-time timestamps and the
// free functions used to translate between time domains and to derive
// window garbage-collection deadlines. It has no dependency on exec or
// any other core/runtime package.
package mtime

import "time"

// Time is a millisecond-precision timestamp, matching the wire
// representation used by the runner control protocol.
type Time int64

const (
	// MinTimestamp is the lowest representable event-time timestamp.
	MinTimestamp Time = Time(-9223372036854775) // math.MinInt64 / 1000, matching the runner's sentinel.
	// MaxTimestamp is the highest representable event-time timestamp.
	MaxTimestamp Time = Time(9223372036854775)
	// EndOfGlobalWindowTime is the timestamp one ms before MaxTimestamp,
	// conventionally used as the end of the global window.
	EndOfGlobalWindowTime = MaxTimestamp - 1
)

// FromMilliseconds creates a Time from milliseconds since the Unix epoch,
// clamping to the representable range.
func FromMilliseconds(ms int64) Time {
	switch {
	case ms < int64(MinTimestamp):
		return MinTimestamp
	case ms > int64(MaxTimestamp):
		return MaxTimestamp
	default:
		return Time(ms)
	}
}

// FromTime converts a standard time.Time to a Time value.
func FromTime(t time.Time) Time {
	return FromMilliseconds(t.UnixNano() / int64(time.Millisecond))
}

// Milliseconds returns the timestamp as milliseconds since the Unix epoch.
func (t Time) Milliseconds() int64 {
	return int64(t)
}

// ToTime converts to a standard time.Time, in UTC.
func (t Time) ToTime() time.Time {
	return time.Unix(0, int64(t)*int64(time.Millisecond)).UTC()
}

// Add returns t+d, clamped to [MinTimestamp, MaxTimestamp].
func (t Time) Add(d time.Duration) Time {
	return addClamp(int64(t), d.Milliseconds())
}

// Subtract returns t-d, clamped to [MinTimestamp, MaxTimestamp].
func (t Time) Subtract(d time.Duration) Time {
	return addClamp(int64(t), -d.Milliseconds())
}

// SubtractSkew computes t - skew, clamped to MinTimestamp on underflow. Used
// for the "output >= input - allowedSkew" bound check in §3.
func (t Time) SubtractSkew(skew time.Duration) Time {
	return t.Subtract(skew)
}

func addClamp(base, deltaMs int64) Time {
	sum := base + deltaMs
	// Overflow check: if signs of base and delta agree but sum's sign differs, it overflowed.
	if deltaMs > 0 && sum < base {
		return MaxTimestamp
	}
	if deltaMs < 0 && sum > base {
		return MinTimestamp
	}
	switch {
	case sum < int64(MinTimestamp):
		return MinTimestamp
	case sum > int64(MaxTimestamp):
		return MaxTimestamp
	default:
		return Time(sum)
	}
}

func (t Time) String() string {
	switch t {
	case MinTimestamp:
		return "MinTimestamp"
	case MaxTimestamp:
		return "MaxTimestamp"
	default:
		return t.ToTime().Format(time.RFC3339Nano)
	}
}

// Before reports whether t occurs strictly before u.
func (t Time) Before(u Time) bool { return t < u }

// After reports whether t occurs strictly after u.
func (t Time) After(u Time) bool { return t > u }

// Min returns the earlier of a and b.
func Min(a, b Time) Time {
	if a < b {
		return a
	}
	return b
}

// Max returns the later of a and b.
func Max(a, b Time) Time {
	if a > b {
		return a
	}
	return b
}

// TimeDomain distinguishes event-time from processing-time scheduling, per
// spec.md §3/§4.4.
type TimeDomain int

const (
	// EventTime timers fire relative to the watermark and are bounded by
	// window garbage collection.
	EventTime TimeDomain = iota
	// ProcessingTime timers fire relative to wall-clock time.
	ProcessingTime
)

func (d TimeDomain) String() string {
	switch d {
	case EventTime:
		return "EventTime"
	case ProcessingTime:
		return "ProcessingTime"
	default:
		return "UnknownTimeDomain"
	}
}

// GarbageCollectionTime derives the window garbage-collection deadline from
// a window's end timestamp and the transform's allowed lateness: windowEnd +
// allowedLateness, clamped to MaxTimestamp.
func GarbageCollectionTime(windowEnd Time, allowedLateness time.Duration) Time {
	return windowEnd.Add(allowedLateness)
}

// NoOutputTimestampSentinel is the hold timestamp used to represent
// withNoOutputTimestamp(): one millisecond beyond MaxTimestamp. Downstream
// encoding must accept values strictly greater than MaxTimestamp for this
// sentinel to round-trip; see spec.md §9 open question.
const NoOutputTimestampSentinel = MaxTimestamp + 1
