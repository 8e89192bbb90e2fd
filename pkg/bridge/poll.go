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
	"context"
	"time"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// PollOnce reads every registered tag once, in registry order, and
// publishes the decoded values. Failures are logged and skipped so one tag
// cannot hold back the others. It returns the number of tags updated.
func (b *Bridge) PollOnce(ctx context.Context) int {
	start := time.Now()
	defer func() {
		pollCycleSeconds.Observe(time.Since(start).Seconds())
	}()

	updated := 0
	for _, entry := range b.registry.Entries() {
		if b.pollTag(ctx, entry) {
			updated++
		}
	}
	return updated
}

func (b *Bridge) pollTag(ctx context.Context, entry tagregistry.Entry) bool {
	reply, err := b.device.Read(ctx, entry.ID)
	if err != nil {
		deviceReadsTotal.WithLabelValues(resultError).Inc()
		b.log.Debugf("Read of %s failed: %v", entry.ID, err)
		return false
	}
	if reply.Failed() {
		deviceReadsTotal.WithLabelValues(resultDeviceError).Inc()
		b.log.Debugf("Device refused read of %s: %s", entry.ID, reply.Message)
		return false
	}

	value, err := tagregistry.Decode(entry.Type, reply.Value)
	if err != nil {
		deviceReadsTotal.WithLabelValues(resultDecodeError).Inc()
		b.log.Debugf("Cannot decode %s as %s: %v", entry.ID, entry.Type, err)
		return false
	}

	if err := b.endpoint.SetValue(entry.Handle, value); err != nil {
		deviceReadsTotal.WithLabelValues(resultPublish).Inc()
		b.log.Debugf("Cannot publish %s: %v", entry.ID, err)
		return false
	}

	deviceReadsTotal.WithLabelValues(resultOK).Inc()
	return true
}
