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

package harness

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/graph/mtime"
	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/runtime/exec"
)

// ElementFixture is one element of a BundleFixture's input stream. Value
// is always a string in fixtures; tests that need a richer element type
// convert it themselves.
type ElementFixture struct {
	Value       string `yaml:"value"`
	TimestampMs int64  `yaml:"timestamp_ms"`
}

// TimerFixture is one timer firing in a BundleFixture, as the harness's
// ProcessTimer signature needs it: a (family, tag, domain) selector plus
// the TimerRecord to deliver.
type TimerFixture struct {
	Family   string `yaml:"family"`
	Tag      string `yaml:"tag"`
	Domain   string `yaml:"domain"` // "event" or "processing"
	FireTsMs int64  `yaml:"fire_ts_ms"`
	HoldTsMs int64  `yaml:"hold_ts_ms"`
	Cleared  bool   `yaml:"cleared"`
}

// BundleFixture is one YAML-described bundle: a stage to run it against
// and the elements/timers to feed it, used by the timer-supersession
// fixture in testdata.
type BundleFixture struct {
	StageID  string           `yaml:"stage_id"`
	Elements []ElementFixture `yaml:"elements"`
	Timers   []TimerFixture   `yaml:"timers"`
}

// LoadBundleFixtures reads a YAML file containing a top-level `bundles:`
// list and returns the parsed fixtures, the same shape the teacher loads
// its own test pipeline descriptors from.
func LoadBundleFixtures(path string) ([]BundleFixture, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: reading fixture file %s: %w", path, err)
	}
	var doc struct {
		Bundles []BundleFixture `yaml:"bundles"`
	}
	if err := yaml.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("harness: parsing fixture file %s: %w", path, err)
	}
	return doc.Bundles, nil
}

// timerDomain parses the fixture's domain string, defaulting to event
// time on an empty or unrecognized value.
func timerDomain(s string) mtime.TimeDomain {
	if s == "processing" {
		return mtime.ProcessingTime
	}
	return mtime.EventTime
}

// ToBundle materializes a BundleFixture into a dispatchable Bundle,
// placing every element and timer in the GlobalWindow: fixtures describe
// single-window scenarios only.
func (f BundleFixture) ToBundle(instanceID string) *Bundle {
	b := &Bundle{StageID: f.StageID, InstanceID: instanceID}
	for _, e := range f.Elements {
		b.Elements = append(b.Elements, exec.WindowedValue{
			Value:     e.Value,
			Timestamp: mtime.FromMilliseconds(e.TimestampMs),
			Windows:   []exec.Window{exec.GlobalWindow{}},
			Pane:      exec.NoFiringPane,
		})
	}
	for _, t := range f.Timers {
		domain := timerDomain(t.Domain)
		b.Timers = append(b.Timers, TimerFiring{
			Family: t.Family,
			Tag:    t.Tag,
			Domain: domain,
			Record: exec.TimerRecord{
				Family:  t.Family,
				Tag:     t.Tag,
				Windows: []exec.Window{exec.GlobalWindow{}},
				FireTs:  mtime.FromMilliseconds(t.FireTsMs),
				HoldTs:  mtime.FromMilliseconds(t.HoldTsMs),
				Pane:    exec.NoFiringPane,
				Domain:  domain,
				Cleared: t.Cleared,
			},
		})
	}
	return b
}
