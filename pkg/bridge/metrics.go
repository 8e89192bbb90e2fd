// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// deviceReadsTotal counts tag reads by outcome
	deviceReadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondevice_bridge_reads_total",
			Help: "Total number of tag reads by result",
		},
		[]string{"result"},
	)

	// deviceWritesTotal counts forwarded client writes by outcome
	deviceWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jsondevice_bridge_writes_total",
			Help: "Total number of client writes forwarded to the device by result",
		},
		[]string{"result"},
	)

	pollCycleSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "jsondevice_bridge_poll_cycle_seconds",
			Help:    "Duration of one full polling cycle",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	registeredTags = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "jsondevice_bridge_registered_tags",
			Help: "Number of tags mirrored by the bridge",
		},
	)

	// bridgeState is 1 for the current state and 0 for all others
	bridgeState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "jsondevice_bridge_state",
			Help: "Current state of the bridge state machine",
		},
		[]string{"state"},
	)
)

// Read and write results used as metric labels.
const (
	resultOK          = "ok"
	resultError       = "error"
	resultDeviceError = "device_error"
	resultDecodeError = "decode_error"
	resultPublish     = "publish_error"
	resultRejected    = "rejected"
	resultDropped     = "dropped"
)

func recordState(current string) {
	for _, s := range allStates {
		v := 0.0
		if s == current {
			v = 1
		}
		bridgeState.WithLabelValues(s).Set(v)
	}
}

// ResetMetrics resets all bridge metrics (for testing)
func ResetMetrics() {
	deviceReadsTotal.Reset()
	deviceWritesTotal.Reset()
	registeredTags.Set(0)
	bridgeState.Reset()
}
