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

package jsondevice_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

var _ = Describe("Diagnose", func() {
	var (
		sim *jsondevice.Simulator
		out *bytes.Buffer
		ctx context.Context
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		sim = jsondevice.NewSimulator(jsondevice.DefaultSimTags(), nil)
		Expect(sim.Start("127.0.0.1:0")).To(Succeed())
		DeferCleanup(sim.Close)

		out = &bytes.Buffer{}
	})

	It("runs info, browse, read, write and read back in order", func() {
		client := jsondevice.NewClient(jsondevice.Options{Address: sim.Addr(), Timeout: time.Second})
		results := jsondevice.Diagnose(ctx, client, out, jsondevice.DiagnoseOptions{})

		Expect(results).To(HaveLen(5))
		for _, r := range results {
			Expect(r.Err).NotTo(HaveOccurred(), r.Step)
			Expect(r.Reply).NotTo(BeNil())
		}

		actions := []string{}
		for _, r := range sim.Requests() {
			actions = append(actions, r.Action+" "+r.NodeID)
		}
		Expect(actions).To(Equal([]string{
			"info ",
			"browse ",
			"read sensors.temperature",
			"write control.relay1",
			"read control.relay1",
		}))

		Expect(out.String()).To(ContainSubstring("Server: ESP32 OPC UA Server"))
		Expect(out.String()).To(ContainSubstring("Found 9 nodes"))
		Expect(out.String()).To(ContainSubstring("control.relay1"))
		Expect(out.String()).To(ContainSubstring("Test completed!"))
		Expect(results[4].Reply.StringValue()).To(Equal("true"))
	})

	It("keeps going when a step fails", func() {
		client := jsondevice.NewClient(jsondevice.Options{Address: sim.Addr(), Timeout: time.Second})
		results := jsondevice.Diagnose(ctx, client, out, jsondevice.DiagnoseOptions{
			WriteTag: "sensors.temperature",
		})

		Expect(results).To(HaveLen(5))
		Expect(results[3].Err).NotTo(HaveOccurred())
		Expect(results[3].Reply.Failed()).To(BeTrue())
		Expect(out.String()).To(ContainSubstring("node is read-only"))
	})

	It("reports transport errors for every step when the device is down", func() {
		Expect(sim.Close()).To(Succeed())
		client := jsondevice.NewClient(jsondevice.Options{Address: sim.Addr(), Timeout: 200 * time.Millisecond})
		results := jsondevice.Diagnose(ctx, client, out, jsondevice.DiagnoseOptions{})

		Expect(results).To(HaveLen(5))
		for _, r := range results {
			Expect(r.Err).To(MatchError(jsondevice.ErrConnect))
		}
		Expect(out.String()).To(ContainSubstring("Error:"))
	})
})

var _ = Describe("Simulator", func() {
	var (
		sim    *jsondevice.Simulator
		client *jsondevice.Client
		ctx    context.Context
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		sim = jsondevice.NewSimulator([]jsondevice.SimTag{
			{NodeID: "a.flag", Type: "bool", Writable: true, Value: false},
			{NodeID: "a.count", Type: "int32", Writable: true, Value: int32(1)},
			{NodeID: "a.count", Type: "int32", Value: int32(2)},
			{NodeID: "b.label", Type: "string", Value: "x"},
		}, nil)
		Expect(sim.Start("127.0.0.1:0")).To(Succeed())
		DeferCleanup(sim.Close)
		client = jsondevice.NewClient(jsondevice.Options{Address: sim.Addr(), Timeout: time.Second})
	})

	It("drops duplicate tag ids", func() {
		Expect(sim.TagIDs()).To(Equal([]string{"a.count", "a.flag", "b.label"}))
	})

	DescribeTable("write handling",
		func(nodeID, value string, ok bool, expected any) {
			reply, err := client.Write(ctx, nodeID, value)
			Expect(err).NotTo(HaveOccurred())
			Expect(reply.Succeeded()).To(Equal(ok))
			if ok {
				v, _ := sim.Value(nodeID)
				Expect(v).To(Equal(expected))
			}
		},
		Entry("bool from 1", "a.flag", "1", true, true),
		Entry("bool from true", "a.flag", "true", true, true),
		Entry("bad bool", "a.flag", "maybe", false, nil),
		Entry("int32", "a.count", "-7", true, int32(-7)),
		Entry("int32 overflow", "a.count", "3000000000", false, nil),
		Entry("read-only", "b.label", "y", false, nil),
		Entry("unknown tag", "c.none", "1", false, nil),
	)

	It("answers unknown actions with an error status", func() {
		reply, err := client.Send(ctx, jsondevice.Request{Action: "reboot"})
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Failed()).To(BeTrue())
		Expect(reply.Message).To(ContainSubstring("reboot"))
	})

	It("reports the configured browse status", func() {
		sim.SetBrowseStatus(jsondevice.StatusError)
		reply, err := client.Browse(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(reply.Succeeded()).To(BeFalse())
	})
})
