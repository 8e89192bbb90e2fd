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

package tagregistry_test

import (
	"errors"

	"github.com/goccy/go-json"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap/zaptest"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

type addedValue struct {
	group   tagregistry.Handle
	desc    tagregistry.Descriptor
	initial any
}

// recordingNamespace remembers every call and can refuse folders.
type recordingNamespace struct {
	groups     []string
	values     []addedValue
	failGroups map[string]bool
	failValues map[string]bool
}

func (n *recordingNamespace) AddGroup(name string) (tagregistry.Handle, error) {
	if n.failGroups[name] {
		return "", errors.New("folder refused")
	}
	n.groups = append(n.groups, name)
	return tagregistry.Handle("folder:" + name), nil
}

func (n *recordingNamespace) AddValue(group tagregistry.Handle, desc tagregistry.Descriptor, initial any) (tagregistry.Handle, error) {
	if n.failValues[desc.ID] {
		return "", errors.New("value refused")
	}
	n.values = append(n.values, addedValue{group: group, desc: desc, initial: initial})
	return tagregistry.Handle("value:" + desc.ID), nil
}

func browseReply(body string) *jsondevice.Reply {
	var r jsondevice.Reply
	Expect(json.Unmarshal([]byte(body), &r)).To(Succeed())
	return &r
}

var _ = Describe("Registry", func() {
	var (
		reg *tagregistry.Registry
		ns  *recordingNamespace
	)

	BeforeEach(func() {
		reg = tagregistry.New(zaptest.NewLogger(GinkgoT()).Sugar())
		ns = &recordingNamespace{failGroups: map[string]bool{}, failValues: map[string]bool{}}
	})

	It("stays empty and reports ErrRegistry when status is not success", func() {
		err := reg.Populate(browseReply(`{"status":"error","nodes":[{"nodeId":"a.b"}]}`), ns)
		Expect(err).To(MatchError(tagregistry.ErrRegistry))
		Expect(reg.Len()).To(BeZero())
		Expect(ns.values).To(BeEmpty())
	})

	It("reports ErrRegistry for a nil reply or a non-array node list", func() {
		Expect(reg.Populate(nil, ns)).To(MatchError(tagregistry.ErrRegistry))
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":5}`), ns)).To(MatchError(tagregistry.ErrRegistry))
		Expect(reg.Len()).To(BeZero())
	})

	It("skips entries without nodeId", func() {
		err := reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"sensors.temperature","type":"float"},
			{"name":"orphan","type":"bool"},
			{"nodeId":"control.relay1","type":"bool","writable":true}
		]}`), ns)
		Expect(err).NotTo(HaveOccurred())
		Expect(reg.Len()).To(Equal(2))
		Expect(reg.Entries()[0].ID).To(Equal("sensors.temperature"))
		Expect(reg.Entries()[1].ID).To(Equal("control.relay1"))
	})

	It("applies defaults for name, type and writable", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"misc.one"},
			{"nodeId":"misc.two","type":"uint64","name":"Two"}
		]}`), ns)).To(Succeed())

		one, err := reg.Describe("misc.one")
		Expect(err).NotTo(HaveOccurred())
		Expect(one).To(Equal(tagregistry.Descriptor{ID: "misc.one", Name: "misc.one", Type: tagregistry.TypeString}))

		two, err := reg.Describe("misc.two")
		Expect(err).NotTo(HaveOccurred())
		Expect(two.Name).To(Equal("Two"))
		Expect(two.Type).To(Equal(tagregistry.TypeString))
		Expect(two.Writable).To(BeFalse())
	})

	It("creates one folder per group, lazily and exactly once", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"sensors.temperature","type":"float"},
			{"nodeId":"sensors.humidity","type":"float"}
		]}`), ns)).To(Succeed())

		Expect(ns.groups).To(Equal([]string{"sensors"}))
		Expect(ns.values).To(HaveLen(2))
		for _, v := range ns.values {
			Expect(v.group).To(Equal(tagregistry.Handle("folder:sensors")))
		}
	})

	It("registers ids without a dot at the root", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[{"nodeId":"uptime","type":"int32"}]}`), ns)).To(Succeed())
		Expect(ns.groups).To(BeEmpty())
		Expect(ns.values[0].group).To(Equal(tagregistry.Handle("")))
	})

	It("registers values with the zero value of their type and keeps the handle", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"a.b","type":"bool","writable":true},
			{"nodeId":"a.i","type":"int32"},
			{"nodeId":"a.f","type":"float"},
			{"nodeId":"a.d","type":"double"},
			{"nodeId":"a.s","type":"string"}
		]}`), ns)).To(Succeed())

		initials := map[string]any{}
		for _, v := range ns.values {
			initials[v.desc.ID] = v.initial
		}
		Expect(initials).To(Equal(map[string]any{
			"a.b": false,
			"a.i": int32(0),
			"a.f": float32(0),
			"a.d": float64(0),
			"a.s": "",
		}))

		e, err := reg.Lookup("a.b")
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Handle).To(Equal(tagregistry.Handle("value:a.b")))
		Expect(e.Writable).To(BeTrue())
	})

	It("skips entries whose folder cannot be created and continues", func() {
		ns.failGroups["broken"] = true
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"broken.one"},
			{"nodeId":"ok.one"},
			{"nodeId":"broken.two"}
		]}`), ns)).To(Succeed())

		Expect(reg.Len()).To(Equal(1))
		_, err := reg.Describe("broken.one")
		Expect(err).To(MatchError(tagregistry.ErrNotFound))
		_, err = reg.Describe("ok.one")
		Expect(err).NotTo(HaveOccurred())
	})

	It("skips entries whose value cannot be registered", func() {
		ns.failValues["a.bad"] = true
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[{"nodeId":"a.bad"},{"nodeId":"a.good"}]}`), ns)).To(Succeed())
		Expect(reg.Len()).To(Equal(1))
	})

	It("ignores duplicate ids", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[
			{"nodeId":"a.x","type":"bool"},
			{"nodeId":"a.x","type":"int32"}
		]}`), ns)).To(Succeed())
		Expect(reg.Len()).To(Equal(1))
		d, _ := reg.Describe("a.x")
		Expect(d.Type).To(Equal(tagregistry.TypeBool))
	})

	It("treats a successful empty browse as an empty registry", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[]}`), ns)).To(Succeed())
		Expect(reg.Len()).To(BeZero())
	})

	It("records descriptors only when no namespace is given", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[{"nodeId":"a.x","type":"bool"}]}`), nil)).To(Succeed())
		e, err := reg.Lookup("a.x")
		Expect(err).NotTo(HaveOccurred())
		Expect(e.Handle).To(BeEmpty())
	})

	It("drops previous content when a later browse fails", func() {
		Expect(reg.Populate(browseReply(`{"status":"success","nodes":[{"nodeId":"a.x"}]}`), nil)).To(Succeed())
		Expect(reg.Populate(browseReply(`{"status":"error"}`), nil)).To(MatchError(tagregistry.ErrRegistry))
		Expect(reg.Len()).To(BeZero())
	})
})
