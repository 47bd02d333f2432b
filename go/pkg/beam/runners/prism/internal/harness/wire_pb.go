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

	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/svetakvsundhar/beam/sdks/v2/go/pkg/beam/core/runtime/exec"
)

// ToProtoTimestamp converts the core's internal (seconds, nanos)
// Timestamp into the well-known protobuf Timestamp message a real control
// channel would carry on the wire. exec itself never depends on
// google.golang.org/protobuf (see exec/wire.go); that conversion belongs
// to the layer that actually talks to a channel, which is this one.
func ToProtoTimestamp(ts exec.Timestamp) *timestamppb.Timestamp {
	return &timestamppb.Timestamp{Seconds: ts.Seconds, Nanos: ts.Nanos}
}

// FromProtoTimestamp is the inverse of ToProtoTimestamp.
func FromProtoTimestamp(pb *timestamppb.Timestamp) exec.Timestamp {
	return exec.Timestamp{Seconds: pb.GetSeconds(), Nanos: pb.GetNanos()}
}

// watermarksToProto converts a SplitResult's per-output watermark map into
// protobuf Timestamps, the shape DelayedBundleApplication.output_watermarks
// takes on a real control channel.
func watermarksToProto(watermarks map[string]exec.Timestamp) map[string]*timestamppb.Timestamp {
	out := make(map[string]*timestamppb.Timestamp, len(watermarks))
	for id, ts := range watermarks {
		out[id] = ToProtoTimestamp(ts)
	}
	return out
}

// FormatSplitResultForLog renders a SplitResult's residual watermarks as
// prototext, the same debug-formatting idiom execute.go uses
// (prototext.Format(tpb)) when logging an otherwise-opaque proto value.
func FormatSplitResultForLog(result exec.SplitResult) string {
	var b []byte
	for i, residual := range result.ResidualRoots {
		for id, ts := range watermarksToProto(residual.OutputWatermarks) {
			b = append(b, []byte(fmt.Sprintf("residual[%d].output_watermarks[%s] = %s", i, id, prototext.Format(ts)))...)
		}
	}
	return string(b)
}
