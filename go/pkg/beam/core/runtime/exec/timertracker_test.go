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

	"github.com/google/go-cmp/cmp"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
)

func TestTimerBundleTrackerLatestSetWins(t *testing.T) {
	tr := NewTimerBundleTracker()
	key := TimerKey{FamilyOrID: "tf:followups", Tag: "a"}

	if err := tr.setTimer(TimerRecord{Family: "tf:followups", Tag: "a", FireTs: mtime.FromMilliseconds(100)}); err != nil {
		t.Fatal(err)
	}
	if err := tr.setTimer(TimerRecord{Family: "tf:followups", Tag: "a", FireTs: mtime.FromMilliseconds(200)}); err != nil {
		t.Fatal(err)
	}

	got, ok := tr.Peek(key)
	if !ok {
		t.Fatalf("expected buffered record for %v", key)
	}
	if got.FireTs != mtime.FromMilliseconds(200) {
		t.Errorf("Peek = %v, want the later set (fire_ts=200)", got.FireTs)
	}
	if tr.Len() != 1 {
		t.Errorf("Len() = %d, want 1 (overwrite, not append)", tr.Len())
	}
}

func TestDrainBeforeTombstonesAndOrdersAscending(t *testing.T) {
	tr := NewTimerBundleTracker()
	tr.setTimer(TimerRecord{Family: "tf:f", Tag: "b", FireTs: mtime.FromMilliseconds(300), Domain: mtime.EventTime})
	tr.setTimer(TimerRecord{Family: "tf:f", Tag: "c", FireTs: mtime.FromMilliseconds(100), Domain: mtime.EventTime})
	tr.setTimer(TimerRecord{Family: "tf:f", Tag: "d", FireTs: mtime.FromMilliseconds(900), Domain: mtime.EventTime})

	drained := tr.DrainBefore(mtime.EventTime, mtime.FromMilliseconds(500), TimerKey{FamilyOrID: "tf:f", Tag: "excluded"})

	if len(drained) != 2 {
		t.Fatalf("drained %d timers, want 2", len(drained))
	}
	if drained[0].Tag != "c" || drained[1].Tag != "b" {
		t.Errorf("drain order = [%s, %s], want ascending fire-ts [c, b]", drained[0].Tag, drained[1].Tag)
	}

	// Drained timers must be tombstoned in place, so a redelivery of the
	// same record is recognized as cleared.
	for _, rec := range drained {
		cur, ok := tr.Peek(rec.key())
		if !ok || !cur.Cleared {
			t.Errorf("timer %v not tombstoned after drain: %+v", rec.key(), cur)
		}
	}

	// The later timer (fire_ts=900) must remain untouched.
	untouched, ok := tr.Peek(TimerKey{FamilyOrID: "tf:f", Tag: "d"})
	if !ok || untouched.Cleared {
		t.Errorf("timer d should remain un-drained, got %+v", untouched)
	}
}

func TestIsSupersededDetectsLaterModification(t *testing.T) {
	tr := NewTimerBundleTracker()
	original := TimerRecord{Family: "tf:f", Tag: "a", FireTs: mtime.FromMilliseconds(100), Domain: mtime.EventTime}
	tr.setTimer(original)

	if tr.IsSuperseded(original) {
		t.Errorf("timer should not be superseded by itself")
	}

	tr.setTimer(TimerRecord{Family: "tf:f", Tag: "a", FireTs: mtime.FromMilliseconds(200), Domain: mtime.EventTime})
	if !tr.IsSuperseded(original) {
		t.Errorf("timer should be superseded after a later set with a different fire-ts")
	}
}

func TestFlushReturnsDeterministicOrderAndClears(t *testing.T) {
	tr := NewTimerBundleTracker()
	tr.setTimer(TimerRecord{Family: "tf:z", Tag: "a"})
	tr.setTimer(TimerRecord{Family: "tf:a", Tag: "b"})
	tr.setTimer(TimerRecord{Family: "tf:a", Tag: "a"})

	flushed := tr.Flush()
	if diff := cmp.Diff([]string{"tf:a/a", "tf:a/b", "tf:z/a"}, keysOf(flushed)); diff != "" {
		t.Errorf("Flush() order mismatch (-want +got):\n%s", diff)
	}
	if tr.Len() != 0 {
		t.Errorf("Len() after Flush = %d, want 0", tr.Len())
	}
}

func keysOf(recs []TimerRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Family + "/" + r.Tag
	}
	return out
}
