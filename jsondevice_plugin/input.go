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
	"errors"
	"fmt"
	"time"

	"github.com/redpanda-data/benthos/v4/public/service"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/logger"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// Metadata keys set on every message produced by the input.
const (
	MetaNodeID = "jsondevice_node_id"
	MetaName   = "jsondevice_name"
	MetaType   = "jsondevice_type"
	MetaGroup  = "jsondevice_group"
)

// JSONDeviceInput polls every browsed tag of one device per batch.
type JSONDeviceInput struct {
	Address    string
	Timeout    time.Duration
	PollRate   time.Duration
	NodeIDs    []string // Optional filter, empty means all browsed tags.
	Persistent bool

	Client   *jsondevice.Client
	Registry *tagregistry.Registry
	Log      *service.Logger

	lastPoll time.Time
}

// JSONDeviceConfigSpec describes the jsondevice input.
var JSONDeviceConfigSpec = service.NewConfigSpec().
	Summary("Creates an input that polls tags from a device speaking the line delimited JSON protocol. Created & maintained by the United Manufacturing Hub. About us: www.umh.app").
	Description("The input asks the device for its info and tag list on connect, then reads every tag once per poll. " +
		"Each tag becomes one message whose payload is the value as text.").
	Field(service.NewStringField("address").
		Description("Device address as host:port. If no port is given, 4840 is used.").
		Examples("192.168.1.4:4840", "192.168.1.4")).
	Field(service.NewIntField("timeout").
		Description("Timeout in seconds for connecting and for each request.").
		Default(5).
		Optional().
		Advanced()).
	Field(service.NewIntField("pollRate").
		Description("Time in milliseconds between two polls of all tags.").
		Default(1000).
		Optional()).
	Field(service.NewStringListField("nodeIds").
		Description("Only read these tags. Empty reads every tag the device reports on browse.").
		Default([]string{}).
		Optional().
		Examples([]string{"sensors.temperature", "control.relay1"})).
	Field(service.NewBoolField("persistent").
		Description("Keep one TCP connection open instead of connecting per request.").
		Default(false).
		Optional().
		Advanced())

func newJSONDeviceInput(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
	in, err := parseInput(conf, mgr)
	if err != nil {
		return nil, err
	}
	return service.AutoRetryNacksBatched(in), nil
}

func parseInput(conf *service.ParsedConfig, mgr *service.Resources) (*JSONDeviceInput, error) {
	address, err := conf.FieldString("address")
	if err != nil {
		return nil, err
	}
	timeoutSec, err := conf.FieldInt("timeout")
	if err != nil {
		return nil, err
	}
	pollRate, err := conf.FieldInt("pollRate")
	if err != nil {
		return nil, err
	}
	nodeIDs, err := conf.FieldStringList("nodeIds")
	if err != nil {
		return nil, err
	}
	persistent, err := conf.FieldBool("persistent")
	if err != nil {
		return nil, err
	}

	if timeoutSec <= 0 {
		return nil, fmt.Errorf("timeout must be positive, got %d", timeoutSec)
	}
	if pollRate < 0 {
		return nil, fmt.Errorf("pollRate must not be negative, got %d", pollRate)
	}

	return &JSONDeviceInput{
		Address:    withDefaultPort(address),
		Timeout:    time.Duration(timeoutSec) * time.Second,
		PollRate:   time.Duration(pollRate) * time.Millisecond,
		NodeIDs:    nodeIDs,
		Persistent: persistent,
		Log:        mgr.Logger(),
	}, nil
}

func init() {
	err := service.RegisterBatchInput(
		"jsondevice", JSONDeviceConfigSpec,
		func(conf *service.ParsedConfig, mgr *service.Resources) (service.BatchInput, error) {
			return newJSONDeviceInput(conf, mgr)
		})
	if err != nil {
		panic(err)
	}
}

// Connect fetches device info and the tag list.
func (j *JSONDeviceInput) Connect(ctx context.Context) error {
	if j.Client == nil {
		j.Client = jsondevice.NewClient(jsondevice.Options{
			Address:    j.Address,
			Timeout:    j.Timeout,
			Persistent: j.Persistent,
		})
	}

	info, err := j.Client.Info(ctx)
	if err != nil {
		j.Log.Errorf("Failed to connect to device at %s: %v", j.Address, err)
		return service.ErrNotConnected
	}
	// Info replies carry no status; only an explicit error refuses the connect.
	if info.Failed() {
		return fmt.Errorf("device at %s refused info: %s", j.Address, info.Message)
	}
	j.Log.Infof("Connected to %s (uri %s, version %s) at %s", info.Server, info.URI, info.Version, j.Address)

	browse, err := j.Client.Browse(ctx)
	if err != nil {
		j.Log.Errorf("Failed to browse device at %s: %v", j.Address, err)
		return service.ErrNotConnected
	}

	registry := tagregistry.New(logger.For(logger.ComponentTagRegistry))
	if err := registry.Populate(browse, nil); err != nil {
		return err
	}
	for _, id := range j.NodeIDs {
		if _, err := registry.Describe(id); err != nil {
			j.Log.Warnf("Configured node %s was not reported by the device", id)
		}
	}
	j.Registry = registry
	j.Log.Infof("Browsed %d tags", registry.Len())
	return nil
}

func (j *JSONDeviceInput) selected() []tagregistry.Entry {
	entries := j.Registry.Entries()
	if len(j.NodeIDs) == 0 {
		return entries
	}
	want := make(map[string]struct{}, len(j.NodeIDs))
	for _, id := range j.NodeIDs {
		want[id] = struct{}{}
	}
	out := entries[:0:0]
	for _, e := range entries {
		if _, ok := want[e.ID]; ok {
			out = append(out, e)
		}
	}
	return out
}

// ReadBatch reads the selected tags once. Tags that fail are skipped.
func (j *JSONDeviceInput) ReadBatch(ctx context.Context) (service.MessageBatch, service.AckFunc, error) {
	if j.Client == nil || j.Registry == nil {
		return nil, nil, service.ErrNotConnected
	}

	if wait := time.Until(j.lastPoll.Add(j.PollRate)); wait > 0 {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-time.After(wait):
		}
	}
	j.lastPoll = time.Now()

	entries := j.selected()
	msgs := make(service.MessageBatch, 0, len(entries))
	connErrors := 0

	for _, e := range entries {
		msg, err := j.readTag(ctx, e.Descriptor)
		if err != nil {
			if errors.Is(err, jsondevice.ErrConnect) || errors.Is(err, jsondevice.ErrTimeout) {
				connErrors++
			}
			j.Log.Debugf("Skipping %s: %v", e.ID, err)
			continue
		}
		msgs = append(msgs, msg)
	}

	if len(entries) > 0 && connErrors == len(entries) {
		j.Log.Errorf("Lost connection to device at %s", j.Address)
		j.Registry = nil
		return nil, nil, service.ErrNotConnected
	}

	return msgs, func(context.Context, error) error {
		return nil
	}, nil
}

func (j *JSONDeviceInput) readTag(ctx context.Context, desc tagregistry.Descriptor) (*service.Message, error) {
	reply, err := j.Client.Read(ctx, desc.ID)
	if err != nil {
		return nil, err
	}
	if reply.Failed() {
		return nil, fmt.Errorf("device error: %s", reply.Message)
	}
	value, err := tagregistry.Decode(desc.Type, reply.Value)
	if err != nil {
		return nil, err
	}
	text, err := tagregistry.Encode(desc.Type, value)
	if err != nil {
		return nil, err
	}

	msg := service.NewMessage([]byte(text))
	msg.MetaSet(MetaNodeID, desc.ID)
	msg.MetaSet(MetaName, desc.Name)
	msg.MetaSet(MetaType, string(desc.Type))
	msg.MetaSet(MetaGroup, desc.Group())
	return msg, nil
}

// Close releases a persistent connection, if any.
func (j *JSONDeviceInput) Close(_ context.Context) error {
	if j.Client == nil {
		return nil
	}
	err := j.Client.Close()
	j.Client = nil
	j.Registry = nil
	return err
}
