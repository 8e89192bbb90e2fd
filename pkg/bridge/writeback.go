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
	"fmt"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

type writeEvent struct {
	tagID string
	value any
}

// enqueueWrite is the endpoint's write handler. It runs on endpoint
// goroutines, so it only queues; the polling goroutine talks to the device.
func (b *Bridge) enqueueWrite(tagID string, value any) {
	select {
	case b.writes <- writeEvent{tagID: tagID, value: value}:
	default:
		deviceWritesTotal.WithLabelValues(resultDropped).Inc()
		b.writeLog.Warnf("Write queue full, dropping client write of %s", tagID)
	}
}

// handleWrite forwards one client write to the device.
func (b *Bridge) handleWrite(ctx context.Context, ev writeEvent) {
	if err := b.forwardWrite(ctx, ev); err != nil {
		b.writeLog.Warnf("Client write of %s not applied: %v", ev.tagID, err)
		return
	}
	deviceWritesTotal.WithLabelValues(resultOK).Inc()
	b.writeLog.Infof("Forwarded client write of %s = %v", ev.tagID, ev.value)
}

func (b *Bridge) forwardWrite(ctx context.Context, ev writeEvent) error {
	desc, err := b.registry.Describe(ev.tagID)
	if err != nil {
		deviceWritesTotal.WithLabelValues(resultRejected).Inc()
		return err
	}
	if !desc.Writable {
		deviceWritesTotal.WithLabelValues(resultRejected).Inc()
		return fmt.Errorf("tag %s is read-only", desc.ID)
	}

	value, err := tagregistry.Encode(desc.Type, ev.value)
	if err != nil {
		deviceWritesTotal.WithLabelValues(resultRejected).Inc()
		return err
	}

	reply, err := b.device.Write(ctx, desc.ID, value)
	if err != nil {
		deviceWritesTotal.WithLabelValues(resultError).Inc()
		return err
	}
	if !reply.Succeeded() {
		deviceWritesTotal.WithLabelValues(resultDeviceError).Inc()
		return fmt.Errorf("device answered %q: %s", reply.Status, reply.Message)
	}
	return nil
}
