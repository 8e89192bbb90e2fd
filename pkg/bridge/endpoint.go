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

// Package bridge mirrors the tags of a JSON device into an OPC UA endpoint.
//
// A Bridge walks through connecting, handshaking, registering and polling.
// Startup failures are fatal; failures while polling only affect the tag
// that failed and are retried on the next cycle.
package bridge

import (
	"context"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// WriteHandler receives client writes from the endpoint.
type WriteHandler func(tagID string, value any)

// Endpoint is the server side the bridge publishes to. Implementations must
// allow SetValue and Stop to be called from the polling goroutine while
// serving clients on their own goroutines.
type Endpoint interface {
	tagregistry.Namespace

	// Start begins serving clients.
	Start(ctx context.Context) error
	// SetValue updates the current value of a registered tag.
	SetValue(h tagregistry.Handle, value any) error
	// SetWriteHandler registers the callback for client writes.
	SetWriteHandler(fn WriteHandler)
	// Stop ends serving clients.
	Stop() error
}

// Device is the device side of the bridge. *jsondevice.Client implements it.
type Device interface {
	Info(ctx context.Context) (*jsondevice.Reply, error)
	Browse(ctx context.Context) (*jsondevice.Reply, error)
	Read(ctx context.Context, nodeID string) (*jsondevice.Reply, error)
	Write(ctx context.Context, nodeID, value string) (*jsondevice.Reply, error)
}
