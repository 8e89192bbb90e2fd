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

// Package jsondevice speaks the line delimited JSON protocol of the embedded
// device: one JSON object per request line, one JSON object per reply line.
package jsondevice

import (
	"bytes"
	"fmt"

	"github.com/goccy/go-json"
)

// Actions understood by the device.
const (
	ActionInfo   = "info"
	ActionBrowse = "browse"
	ActionRead   = "read"
	ActionWrite  = "write"
)

// Reply status values.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Request is a single request envelope. Value is always sent as a string.
type Request struct {
	Action string  `json:"action"`
	NodeID string  `json:"nodeId,omitempty"`
	Value  *string `json:"value,omitempty"`
}

// Reply is the union of all reply shapes. Nodes is an integer for info and
// an array for browse, so it is kept raw; use NodeCount or NodeList.
type Reply struct {
	Status  string          `json:"status,omitempty"`
	Message string          `json:"message,omitempty"`
	Server  string          `json:"server,omitempty"`
	URI     string          `json:"uri,omitempty"`
	Version string          `json:"version,omitempty"`
	Nodes   json.RawMessage `json:"nodes,omitempty"`
	Value   json.RawMessage `json:"value,omitempty"`
	Type    string          `json:"type,omitempty"`
}

// Node is one entry of a browse reply.
type Node struct {
	NodeID   string          `json:"nodeId"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type,omitempty"`
	Writable bool            `json:"writable,omitempty"`
	Value    json.RawMessage `json:"value,omitempty"`
}

// Succeeded reports whether the device answered with status "success".
func (r *Reply) Succeeded() bool {
	return r != nil && r.Status == StatusSuccess
}

// Failed reports whether the device explicitly answered with status "error".
// A missing status is not a failure; read replies often omit it.
func (r *Reply) Failed() bool {
	return r != nil && r.Status == StatusError
}

// NodeCount returns the node count of an info reply.
func (r *Reply) NodeCount() (int, bool) {
	if r == nil || len(r.Nodes) == 0 {
		return 0, false
	}
	var n int
	if err := json.Unmarshal(r.Nodes, &n); err != nil {
		return 0, false
	}
	return n, true
}

// NodeList decodes the node array of a browse reply. Entries that are not
// objects are dropped; entries without a nodeId are returned as is so the
// caller can decide how to report them.
func (r *Reply) NodeList() ([]Node, error) {
	if r == nil || len(r.Nodes) == 0 || bytes.Equal(r.Nodes, []byte("null")) {
		return nil, nil
	}

	var raw []json.RawMessage
	if err := json.Unmarshal(r.Nodes, &raw); err != nil {
		return nil, fmt.Errorf("%w: nodes is not an array: %w", ErrProtocol, err)
	}

	nodes := make([]Node, 0, len(raw))
	for _, item := range raw {
		var n Node
		if err := json.Unmarshal(item, &n); err != nil {
			continue
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

// HasValue reports whether the reply carries a non-null value.
func (r *Reply) HasValue() bool {
	return r != nil && len(r.Value) > 0 && !bytes.Equal(bytes.TrimSpace(r.Value), []byte("null"))
}

// StringValue returns the value as text: JSON strings unquoted, other
// scalars as their literal JSON text.
func (r *Reply) StringValue() string {
	if !r.HasValue() {
		return ""
	}
	var s string
	if err := json.Unmarshal(r.Value, &s); err == nil {
		return s
	}
	return string(bytes.TrimSpace(r.Value))
}
