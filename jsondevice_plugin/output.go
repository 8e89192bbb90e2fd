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
	"net"
	"strconv"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

// JSONDeviceOutput writes message payloads to device tags.
type JSONDeviceOutput struct {
	Address string
	Timeout time.Duration
	NodeID  *service.InterpolatedString

	Client *jsondevice.Client
	Log    *service.Logger
}

func jsonDeviceOutputConfig() *service.ConfigSpec {
	return service.NewConfigSpec().
		Summary("Writes message payloads to tags of a device speaking the line delimited JSON protocol. Created & maintained by the United Manufacturing Hub. About us: www.umh.app").
		Description("The payload is sent as the tag value. The device converts it according to the tag type and rejects writes to read-only tags.").
		Field(service.NewStringField("address").
			Description("Device address as host:port. If no port is given, 4840 is used.").
			Examples("192.168.1.4:4840")).
		Field(service.NewIntField("timeout").
			Description("Timeout in seconds for connecting and for each request.").
			Default(5).
			Optional().
			Advanced()).
		Field(service.NewInterpolatedStringField("nodeId").
			Description("Tag to write. Defaults to the tag a jsondevice input read the message from.").
			Default(`${! meta("jsondevice_node_id") }`).
			Examples("control.relay1", `${! meta("jsondevice_node_id") }`))
}

func newJSONDeviceOutput(conf *service.ParsedConfig, mgr *service.Resources) (*JSONDeviceOutput, error) {
	address, err := conf.FieldString("address")
	if err != nil {
		return nil, err
	}
	timeoutSec, err := conf.FieldInt("timeout")
	if err != nil {
		return nil, err
	}
	if timeoutSec <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d", timeoutSec)
	}
	nodeID, err := conf.FieldInterpolatedString("nodeId")
	if err != nil {
		return nil, err
	}

	return &JSONDeviceOutput{
		Address: withDefaultPort(address),
		Timeout: time.Duration(timeoutSec) * time.Second,
		NodeID:  nodeID,
		Log:     mgr.Logger(),
	}, nil
}

func (o *JSONDeviceOutput) Connect(ctx context.Context) error {
	o.Client = jsondevice.NewClient(jsondevice.Options{
		Address: o.Address,
		Timeout: o.Timeout,
	})
	if _, err := o.Client.Info(ctx); err != nil {
		o.Log.Errorf("Failed to connect to device at %s: %v", o.Address, err)
		return service.ErrNotConnected
	}
	o.Log.Infof("Connected to device at %s", o.Address)
	return nil
}

// Write sends the message body as the new value of the resolved tag.
func (o *JSONDeviceOutput) Write(ctx context.Context, msg *service.Message) error {
	if o.Client == nil {
		return service.ErrNotConnected
	}

	nodeID, err := o.NodeID.TryString(msg)
	if err != nil {
		return fmt.Errorf("failed to resolve nodeId: %w", err)
	}
	if nodeID == "" {
		return fmt.Errorf("nodeId resolved to an empty string")
	}

	body, err := msg.AsBytes()
	if err != nil {
		return err
	}

	reply, err := o.Client.Write(ctx, nodeID, string(body))
	if err != nil {
		return err
	}
	if !reply.Succeeded() {
		return fmt.Errorf("write %s rejected: %s", nodeID, reply.Message)
	}
	o.Log.Debugf("Wrote %q to %s", body, nodeID)
	return nil
}

func (o *JSONDeviceOutput) Close(_ context.Context) error {
	if o.Client == nil {
		return nil
	}
	err := o.Client.Close()
	o.Client = nil
	return err
}

// withDefaultPort appends the default device port when address has none.
func withDefaultPort(address string) string {
	if _, _, err := net.SplitHostPort(address); err == nil {
		return address
	}
	return net.JoinHostPort(address, strconv.Itoa(jsondevice.DefaultPort))
}

func init() {
	err := service.RegisterOutput(
		"jsondevice",
		jsonDeviceOutputConfig(),
		func(conf *service.ParsedConfig, mgr *service.Resources) (out service.Output, maxInFlight int, err error) {
			output, err := newJSONDeviceOutput(conf, mgr)
			if err != nil {
				return nil, 0, err
			}
			return output, 1, nil
		})
	if err != nil {
		panic(err)
	}
}
