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

package bridge_test

import (
	"context"
	"errors"
	"sync"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/bridge"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// fakeEndpoint records everything the bridge does to it.
type fakeEndpoint struct {
	mu         sync.Mutex
	startErr   error
	started    int
	stopped    int
	groups     []string
	values     map[tagregistry.Handle]any
	setCalls   int
	setAfter   int
	handler    bridge.WriteHandler
	handleToID map[tagregistry.Handle]string
}

func newFakeEndpoint() *fakeEndpoint {
	return &fakeEndpoint{
		values:     make(map[tagregistry.Handle]any),
		handleToID: make(map[tagregistry.Handle]string),
	}
}

func (f *fakeEndpoint) AddGroup(name string) (tagregistry.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.groups = append(f.groups, name)
	return tagregistry.Handle("folder/" + name), nil
}

func (f *fakeEndpoint) AddValue(group tagregistry.Handle, desc tagregistry.Descriptor, initial any) (tagregistry.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	h := tagregistry.Handle(desc.ID)
	f.values[h] = initial
	f.handleToID[h] = desc.ID
	return h, nil
}

func (f *fakeEndpoint) Start(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started++
	return nil
}

func (f *fakeEndpoint) SetValue(h tagregistry.Handle, value any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[h]; !ok {
		return errors.New("unknown handle")
	}
	f.values[h] = value
	f.setCalls++
	if f.stopped > 0 {
		f.setAfter++
	}
	return nil
}

func (f *fakeEndpoint) SetWriteHandler(fn bridge.WriteHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handler = fn
}

func (f *fakeEndpoint) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

// clientWrite simulates an OPC UA client writing a tag.
func (f *fakeEndpoint) clientWrite(tagID string, value any) {
	f.mu.Lock()
	fn := f.handler
	f.mu.Unlock()
	if fn != nil {
		fn(tagID, value)
	}
}

func (f *fakeEndpoint) value(tagID string) any {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.values[tagregistry.Handle(tagID)]
}

func (f *fakeEndpoint) counts() (started, stopped, setCalls, setAfterStop int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped, f.setCalls, f.setAfter
}

func (f *fakeEndpoint) groupNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.groups...)
}
