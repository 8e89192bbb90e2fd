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

package uaserver

import (
	"sync"

	"github.com/gopcua/opcua/ua"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

type recordedWrite struct {
	tagID string
	value any
}

var _ = Describe("Client write capture", func() {
	var (
		srv    *Server
		handle tagregistry.Handle
		mu     sync.Mutex
		writes []recordedWrite
	)

	// clientWrite stores a value the way the write service does.
	clientWrite := func(v any) {
		node := srv.nodes[handle]
		Expect(node.SetAttribute(ua.AttributeIDValue, &ua.DataValue{
			EncodingMask: ua.DataValueValue,
			Value:        ua.MustVariant(v),
		})).To(Succeed())
	}

	recorded := func() []recordedWrite {
		mu.Lock()
		defer mu.Unlock()
		return append([]recordedWrite(nil), writes...)
	}

	BeforeEach(func() {
		var err error
		srv, err = New(Config{Host: "127.0.0.1", Port: 4841, NamespaceURI: "http://embedsol.com/esp32"})
		Expect(err).NotTo(HaveOccurred())
		DeferCleanup(srv.Stop)

		group, err := srv.AddGroup("control")
		Expect(err).NotTo(HaveOccurred())
		handle, err = srv.AddValue(group, tagregistry.Descriptor{
			ID: "control.relay1", Type: tagregistry.TypeBool, Writable: true,
		}, false)
		Expect(err).NotTo(HaveOccurred())

		writes = nil
		srv.SetWriteHandler(func(tagID string, value any) {
			mu.Lock()
			defer mu.Unlock()
			writes = append(writes, recordedWrite{tagID: tagID, value: value})
		})
	})

	It("forwards the value the client wrote", func() {
		clientWrite(true)
		srv.dispatchWrite(srv.nodes[handle].ID())

		Expect(recorded()).To(Equal([]recordedWrite{{tagID: "control.relay1", value: true}}))
	})

	It("keeps the client value when a poll overwrites the node before dispatch", func() {
		clientWrite(true)
		Expect(srv.SetValue(handle, false)).To(Succeed())
		srv.dispatchWrite(srv.nodes[handle].ID())

		Expect(recorded()).To(Equal([]recordedWrite{{tagID: "control.relay1", value: true}}))
	})

	It("does not report values it published itself", func() {
		Expect(srv.SetValue(handle, true)).To(Succeed())
		srv.dispatchWrite(srv.nodes[handle].ID())
		Expect(srv.SetValue(handle, true)).To(Succeed())

		Expect(recorded()).To(BeEmpty())
	})

	It("forwards a write whose notification was never delivered on the next update", func() {
		Expect(srv.SetValue(handle, true)).To(Succeed())
		clientWrite(false)
		Expect(srv.SetValue(handle, true)).To(Succeed())

		Expect(recorded()).To(Equal([]recordedWrite{{tagID: "control.relay1", value: false}}))
	})
})
