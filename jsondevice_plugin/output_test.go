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

package jsondevice_plugin

import (
	"context"
	"fmt"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

var _ = Describe("JSON device output", func() {
	var (
		sim *jsondevice.Simulator
		ctx context.Context
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 20*time.Second)
		DeferCleanup(cancel)

		sim = jsondevice.NewSimulator(jsondevice.DefaultSimTags(), nil)
		Expect(sim.Start("127.0.0.1:0")).To(Succeed())
		DeferCleanup(sim.Close)
	})

	newOutput := func(extra string) *JSONDeviceOutput {
		conf := fmt.Sprintf("address: %q\ntimeout: 1\n%s", sim.Addr(), extra)
		parsed, err := jsonDeviceOutputConfig().ParseYAML(conf, service.NewEnvironment())
		Expect(err).NotTo(HaveOccurred())

		out, err := newJSONDeviceOutput(parsed, service.MockResources())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Connect(ctx)).To(Succeed())
		DeferCleanup(func() { _ = out.Close(context.Background()) })
		return out
	}

	It("writes to the tag named in metadata by default", func() {
		out := newOutput("")

		msg := service.NewMessage([]byte("true"))
		msg.MetaSet(MetaNodeID, "control.relay1")
		Expect(out.Write(ctx, msg)).To(Succeed())

		v, ok := sim.Value("control.relay1")
		Expect(ok).To(BeTrue())
		Expect(v).To(Equal(true))
	})

	It("writes to a fixed node id", func() {
		out := newOutput("nodeId: control.setpoint")

		Expect(out.Write(ctx, service.NewMessage([]byte("75")))).To(Succeed())
		v, _ := sim.Value("control.setpoint")
		Expect(v).To(BeEquivalentTo(75))
	})

	It("fails when the device rejects the write", func() {
		out := newOutput("nodeId: sensors.temperature")
		err := out.Write(ctx, service.NewMessage([]byte("1.0")))
		Expect(err).To(MatchError(ContainSubstring("read-only")))
	})

	It("fails when no node id can be resolved", func() {
		out := newOutput("")
		Expect(out.Write(ctx, service.NewMessage([]byte("1")))).NotTo(Succeed())
	})

	It("refuses to connect to an unreachable device", func() {
		parsed, err := jsonDeviceOutputConfig().ParseYAML("address: \"127.0.0.1:1\"\ntimeout: 1", service.NewEnvironment())
		Expect(err).NotTo(HaveOccurred())
		out, err := newJSONDeviceOutput(parsed, service.MockResources())
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Connect(ctx)).To(MatchError(service.ErrNotConnected))
	})
})
