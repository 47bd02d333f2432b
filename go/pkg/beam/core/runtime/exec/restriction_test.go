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

import "testing"

// rangeTracker is a minimal [start, end) restriction tracker used across
// this package's tests: a successful claim advances the claimed cursor
// past the position (start stays fixed), TrySplit divides
// the remaining range, and GetProgress reports fractional completion.
type rangeTracker struct {
	start, end, claimed int64
}

func (r *rangeTracker) TryClaim(pos any) bool {
	p := pos.(int64)
	if p < r.claimed || p >= r.end {
		return false
	}
	r.claimed = p + 1
	return true
}

func (r *rangeTracker) CheckDone() error {
	if r.claimed < r.end {
		return errNotFullyClaimed
	}
	return nil
}

func (r *rangeTracker) TrySplit(fraction float64) (primary, residual any, ok bool) {
	remaining := r.end - r.claimed
	if remaining <= 0 {
		return nil, nil, false
	}
	cut := r.claimed + int64(float64(remaining)*fraction)
	if cut > r.end {
		cut = r.end
	}
	if cut < r.claimed {
		cut = r.claimed
	}
	primaryTracker := &rangeTracker{start: r.start, end: cut, claimed: r.claimed}
	residualTracker := &rangeTracker{start: cut, end: r.end, claimed: cut}
	r.end = cut
	return primaryTracker, residualTracker, true
}

func (r *rangeTracker) GetRestriction() any { return [2]int64{r.start, r.end} }

func (r *rangeTracker) GetProgress() (completed, remaining float64) {
	total := r.end - r.start
	if total <= 0 {
		return 0, 0
	}
	return float64(r.claimed-r.start) / float64(total), float64(r.end-r.claimed) / float64(total)
}

type notFullyClaimedError struct{}

func (notFullyClaimedError) Error() string { return "rangeTracker: restriction not fully claimed" }

var errNotFullyClaimed = notFullyClaimedError{}

func TestCheckpointRequiresClaimFirst(t *testing.T) {
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10})

	_, _, ok := TryCheckpoint(tracker, true)
	if ok {
		t.Errorf("TryCheckpoint on a never-claimed tracker should refuse, got ok=true")
	}
}

func TestCheckpointSucceedsAfterClaim(t *testing.T) {
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10})
	if !tracker.TryClaim(int64(0)) {
		t.Fatal("expected initial claim to succeed")
	}

	primary, residual, ok := TryCheckpoint(tracker, true)
	if !ok {
		t.Fatalf("expected checkpoint to succeed after a claim")
	}
	if primary == nil || residual == nil {
		t.Errorf("expected both a primary and a residual restriction, got primary=%v residual=%v", primary, residual)
	}
}

func TestValidateRestrictionXorSplitDelegate(t *testing.T) {
	tracker := NewRestrictionTrackerAdapter(&rangeTracker{start: 0, end: 10})

	if err := validateRestrictionXorSplitDelegate(nil, nil); err == nil {
		t.Errorf("expected an error when neither tracker nor delegate is set")
	}
	if err := validateRestrictionXorSplitDelegate(tracker, nil); err != nil {
		t.Errorf("tracker-only should validate, got %v", err)
	}
}
