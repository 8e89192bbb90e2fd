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

package jsondevice

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

// SimTag is one tag served by the Simulator.
type SimTag struct {
	NodeID   string
	Name     string
	Type     string
	Writable bool
	Value    any
}

// DefaultSimTags mirrors the tag table of the reference firmware.
func DefaultSimTags() []SimTag {
	return []SimTag{
		{NodeID: "sensors.temperature", Name: "Temperature", Type: "float", Value: float32(23.5)},
		{NodeID: "sensors.humidity", Name: "Humidity", Type: "float", Value: float32(45.2)},
		{NodeID: "sensors.pressure", Name: "Pressure", Type: "double", Value: 1013.25},
		{NodeID: "control.relay1", Name: "Relay 1", Type: "bool", Writable: true, Value: false},
		{NodeID: "control.relay2", Name: "Relay 2", Type: "bool", Writable: true, Value: false},
		{NodeID: "control.setpoint", Name: "Setpoint", Type: "int32", Writable: true, Value: int32(50)},
		{NodeID: "status.uptime", Name: "Uptime", Type: "int32", Value: int32(0)},
		{NodeID: "status.mqtt", Name: "MQTT Connected", Type: "bool", Value: false},
		{NodeID: "device.name", Name: "Device Name", Type: "string", Writable: true, Value: "ESP32-IoT-Board"},
	}
}

// Simulator serves the device side of the protocol from an in-memory tag
// table. It answers several requests per connection and supports fault
// injection for tests.
type Simulator struct {
	log *zap.SugaredLogger

	mu           sync.Mutex
	order        []string
	tags         map[string]*SimTag
	failing      map[string]bool
	stalled      map[string]bool
	silent       bool
	bareReads    bool
	browseStatus string
	requests     []Request

	ln    net.Listener
	done  chan struct{}
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
	once  sync.Once
}

// NewSimulator returns a simulator serving tags. Pass nil for a nop logger.
func NewSimulator(tags []SimTag, log *zap.SugaredLogger) *Simulator {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	s := &Simulator{
		log:          log,
		tags:         make(map[string]*SimTag, len(tags)),
		failing:      make(map[string]bool),
		stalled:      make(map[string]bool),
		browseStatus: StatusSuccess,
		done:         make(chan struct{}),
		conns:        make(map[net.Conn]struct{}),
	}
	for i := range tags {
		t := tags[i]
		if _, dup := s.tags[t.NodeID]; dup {
			continue
		}
		s.order = append(s.order, t.NodeID)
		s.tags[t.NodeID] = &t
	}
	return s
}

// Start listens on addr (use "127.0.0.1:0" for an ephemeral port) and
// serves connections in the background.
func (s *Simulator) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.wg.Add(1)
	go s.acceptLoop()
	s.log.Infof("Device simulator listening on %s with %d tags", ln.Addr(), len(s.order))
	return nil
}

// Addr returns the listen address once started.
func (s *Simulator) Addr() string {
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

// Close stops the listener and drops all connections.
func (s *Simulator) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		if s.ln != nil {
			err = s.ln.Close()
		}
		s.mu.Lock()
		for c := range s.conns {
			_ = c.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
	})
	return err
}

// FailReads makes reads of the given tags answer with status "error".
func (s *Simulator) FailReads(nodeIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		s.failing[id] = true
	}
}

// StallReads makes reads of the given tags never answer.
func (s *Simulator) StallReads(nodeIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range nodeIDs {
		s.stalled[id] = true
	}
}

// SetSilent makes the simulator accept requests without ever replying.
func (s *Simulator) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// SetBareReads makes successful read replies carry only the value, as
// text, without status or type: {"value":"true"}.
func (s *Simulator) SetBareReads(bare bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bareReads = bare
}

// SetBrowseStatus overrides the status field of browse replies.
func (s *Simulator) SetBrowseStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.browseStatus = status
}

// SetValue changes a tag value as if the device updated it.
func (s *Simulator) SetValue(nodeID string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tags[nodeID]; ok {
		t.Value = value
	}
}

// Value returns the current value of a tag.
func (s *Simulator) Value(nodeID string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tags[nodeID]
	if !ok {
		return nil, false
	}
	return t.Value, true
}

// Requests returns every request received so far.
func (s *Simulator) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Request, len(s.requests))
	copy(out, s.requests)
	return out
}

// CountRequests returns how many requests had the given action and node id.
// An empty nodeID matches any node.
func (s *Simulator) CountRequests(action, nodeID string) int {
	n := 0
	for _, r := range s.Requests() {
		if r.Action == action && (nodeID == "" || r.NodeID == nodeID) {
			n++
		}
	}
	return n
}

func (s *Simulator) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.log.Warnf("Accept failed: %v", err)
			continue
		}
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.serve(conn)
	}
}

func (s *Simulator) serve(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		_ = conn.Close()
	}()

	sc := bufio.NewScanner(conn)
	sc.Buffer(make([]byte, 4096), MaxReplySize)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		reply, ok := s.handle([]byte(line))
		if !ok {
			// Hold the request until the peer gives up or we shut down.
			<-s.done
			return
		}

		out, err := json.Marshal(reply)
		if err != nil {
			s.log.Errorf("Failed to encode reply: %v", err)
			return
		}
		if _, err := conn.Write(append(out, '\n')); err != nil {
			return
		}
	}
}

// handle returns the reply for one request line, or false when the request
// must stay unanswered.
func (s *Simulator) handle(line []byte) (map[string]any, bool) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return map[string]any{"status": StatusError, "message": "invalid JSON"}, true
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests = append(s.requests, req)
	if s.silent {
		return nil, false
	}

	switch req.Action {
	case ActionInfo:
		return map[string]any{
			"server":  "ESP32 OPC UA Server",
			"uri":     "urn:esp32:opcua:server",
			"version": "1.0.0",
			"nodes":   len(s.order),
		}, true

	case ActionBrowse:
		nodes := make([]map[string]any, 0, len(s.order))
		for _, id := range s.order {
			t := s.tags[id]
			nodes = append(nodes, map[string]any{
				"nodeId":   t.NodeID,
				"name":     t.Name,
				"type":     t.Type,
				"writable": t.Writable,
				"value":    t.Value,
			})
		}
		return map[string]any{"status": s.browseStatus, "nodes": nodes}, true

	case ActionRead:
		if s.stalled[req.NodeID] {
			return nil, false
		}
		t, ok := s.tags[req.NodeID]
		if !ok {
			return map[string]any{"status": StatusError, "message": "node not found"}, true
		}
		if s.failing[req.NodeID] {
			return map[string]any{"status": StatusError, "message": "read failed"}, true
		}
		if s.bareReads {
			return map[string]any{"value": fmt.Sprint(t.Value)}, true
		}
		return map[string]any{"status": StatusSuccess, "nodeId": t.NodeID, "value": t.Value, "type": t.Type}, true

	case ActionWrite:
		t, ok := s.tags[req.NodeID]
		if !ok {
			return map[string]any{"status": StatusError, "message": "node not found"}, true
		}
		if !t.Writable {
			return map[string]any{"status": StatusError, "message": "node is read-only"}, true
		}
		if req.Value == nil {
			return map[string]any{"status": StatusError, "message": "missing value"}, true
		}
		v, err := parseSimValue(t.Type, *req.Value)
		if err != nil {
			return map[string]any{"status": StatusError, "message": err.Error()}, true
		}
		t.Value = v
		return map[string]any{"status": StatusSuccess, "message": "value written"}, true

	default:
		return map[string]any{"status": StatusError, "message": fmt.Sprintf("unknown action %q", req.Action)}, true
	}
}

func parseSimValue(typ, raw string) (any, error) {
	raw = strings.TrimSpace(raw)
	switch typ {
	case "bool":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid bool %q", raw)
		}
		return b, nil
	case "int32":
		i, err := strconv.ParseInt(raw, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid int32 %q", raw)
		}
		return int32(i), nil
	case "float":
		f, err := strconv.ParseFloat(raw, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid float %q", raw)
		}
		return float32(f), nil
	case "double":
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid double %q", raw)
		}
		return f, nil
	default:
		return raw, nil
	}
}

// TagIDs returns the served tag ids in sorted order.
func (s *Simulator) TagIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := append([]string(nil), s.order...)
	sort.Strings(ids)
	return ids
}
