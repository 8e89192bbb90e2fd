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
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
)

var _ = Describe("Bridge metrics", func() {
	BeforeEach(func() {
		ResetMetrics()
	})

	It("marks exactly one state as current", func() {
		recordState(StatePolling)
		Expect(testutil.ToFloat64(bridgeState.WithLabelValues(StatePolling))).To(Equal(1.0))
		Expect(testutil.ToFloat64(bridgeState.WithLabelValues(StateConnecting))).To(Equal(0.0))

		recordState(StateStopped)
		Expect(testutil.ToFloat64(bridgeState.WithLabelValues(StatePolling))).To(Equal(0.0))
		Expect(testutil.ToFloat64(bridgeState.WithLabelValues(StateStopped))).To(Equal(1.0))
	})

	It("counts dropped writes when the queue is full", func() {
		b := &Bridge{writes: make(chan writeEvent, 1), writeLog: zap.NewNop().Sugar()}
		b.enqueueWrite("a.b", true)
		b.enqueueWrite("a.b", false)

		Expect(b.writes).To(HaveLen(1))
		Expect(testutil.ToFloat64(deviceWritesTotal.WithLabelValues(resultDropped))).To(Equal(1.0))
	})
})
