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

// Package uaserver exposes registered tags through an OPC UA server built on
// the gopcua server package.
package uaserver

import (
	"context"
	"errors"
	"fmt"
	"os"
	"reflect"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gopcua/opcua/id"
	"github.com/gopcua/opcua/server"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/bridge"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/logger"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// ErrUnknownHandle is returned for handles this server did not hand out.
var ErrUnknownHandle = errors.New("unknown node handle")

// Config configures the OPC UA endpoint.
type Config struct {
	Host string
	Port int
	// NamespaceURI names the namespace holding the mirrored tags.
	NamespaceURI string
}

// Server implements bridge.Endpoint. Tags become variables with string
// node ids equal to the tag id; groups become folders below Objects.
type Server struct {
	cfg Config
	log *zap.SugaredLogger

	srv *server.Server
	ns  *server.NodeNameSpace

	mu      sync.RWMutex
	nodes   map[tagregistry.Handle]*server.Node
	tagByID map[string]string
	// published holds, per node id, the value last set by SetValue or last
	// handed to the write handler. A node value that differs from it was
	// written by a client.
	published map[string]any
	onWrite   bridge.WriteHandler

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
}

var _ bridge.Endpoint = (*Server)(nil)

// New builds the server and its namespace. Nothing listens until Start.
func New(cfg Config) (*Server, error) {
	if cfg.NamespaceURI == "" {
		return nil, errors.New("namespace uri is required")
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "localhost"
	}
	appURI := "urn:jsondevice-bridge:" + uuid.NewString()

	cert, key, err := generateCertificate(appURI, []string{hostname, "localhost", cfg.Host}, 365*24*time.Hour)
	if err != nil {
		return nil, err
	}

	srv := server.New(
		server.EndPoint(cfg.Host, cfg.Port),
		server.EnableSecurity("None", ua.MessageSecurityModeNone),
		server.EnableAuthMode(ua.UserTokenTypeAnonymous),
		server.Certificate(cert),
		server.PrivateKey(key),
	)

	ns := server.NewNodeNameSpace(srv, cfg.NamespaceURI)

	s := &Server{
		cfg:       cfg,
		log:       logger.For(logger.ComponentUAServer),
		srv:       srv,
		ns:        ns,
		nodes:     make(map[tagregistry.Handle]*server.Node),
		tagByID:   make(map[string]string),
		published: make(map[string]any),
		done:      make(chan struct{}),
	}

	root, err := srv.Namespace(0)
	if err != nil {
		return nil, fmt.Errorf("root namespace: %w", err)
	}
	root.Objects().AddRef(ns.Objects(), id.HasComponent, true)

	return s, nil
}

// Endpoint returns the opc.tcp URL clients connect to.
func (s *Server) Endpoint() string {
	return fmt.Sprintf("opc.tcp://%s:%d", s.cfg.Host, s.cfg.Port)
}

// NamespaceIndex returns the index of the tag namespace.
func (s *Server) NamespaceIndex() uint16 {
	return s.ns.ID()
}

// AddGroup creates a folder below Objects.
func (s *Server) AddGroup(name string) (tagregistry.Handle, error) {
	if name == "" {
		return "", errors.New("folder name is empty")
	}
	nodeID := ua.NewStringNodeID(s.ns.ID(), name)

	s.mu.Lock()
	defer s.mu.Unlock()

	h := tagregistry.Handle(nodeID.String())
	if _, exists := s.nodes[h]; exists {
		return h, nil
	}

	folder := server.NewNode(
		nodeID,
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:     server.DataValueFromValue(uint32(ua.NodeClassObject)),
			ua.AttributeIDBrowseName:    server.DataValueFromValue(&ua.QualifiedName{NamespaceIndex: s.ns.ID(), Name: name}),
			ua.AttributeIDDisplayName:   server.DataValueFromValue(ua.NewLocalizedText(name)),
			ua.AttributeIDDescription:   server.DataValueFromValue(ua.NewLocalizedText(name)),
			ua.AttributeIDDataType:      server.DataValueFromValue(ua.NewNumericExpandedNodeID(0, id.FolderType)),
			ua.AttributeIDEventNotifier: server.DataValueFromValue(byte(0)),
		},
		[]*ua.ReferenceDescription{{
			ReferenceTypeID: ua.NewNumericNodeID(0, id.HasTypeDefinition),
			IsForward:       true,
			NodeID:          ua.NewNumericExpandedNodeID(0, id.FolderType),
		}},
		nil,
	)
	s.ns.AddNode(folder)
	s.ns.Objects().AddRef(folder, id.Organizes, true)
	s.nodes[h] = folder
	return h, nil
}

// AddValue creates a variable node below group (or Objects for the empty
// handle) holding initial.
func (s *Server) AddValue(group tagregistry.Handle, desc tagregistry.Descriptor, initial any) (tagregistry.Handle, error) {
	variant, err := ua.NewVariant(initial)
	if err != nil {
		return "", fmt.Errorf("tag %s: %w", desc.ID, err)
	}
	nodeID := ua.NewStringNodeID(s.ns.ID(), desc.ID)

	s.mu.Lock()
	defer s.mu.Unlock()

	parent := s.ns.Objects()
	if group != "" {
		p, ok := s.nodes[group]
		if !ok {
			return "", fmt.Errorf("%w: %s", ErrUnknownHandle, group)
		}
		parent = p
	}

	h := tagregistry.Handle(nodeID.String())
	if _, exists := s.nodes[h]; exists {
		return "", fmt.Errorf("node %s already exists", h)
	}

	access := byte(ua.AccessLevelTypeCurrentRead)
	if desc.Writable {
		access |= byte(ua.AccessLevelTypeCurrentWrite)
	}
	now := time.Now()
	node := server.NewNode(
		nodeID,
		map[ua.AttributeID]*ua.DataValue{
			ua.AttributeIDNodeClass:       server.DataValueFromValue(uint32(ua.NodeClassVariable)),
			ua.AttributeIDBrowseName:      server.DataValueFromValue(&ua.QualifiedName{NamespaceIndex: s.ns.ID(), Name: desc.ID}),
			ua.AttributeIDDisplayName:     server.DataValueFromValue(ua.NewLocalizedText(desc.ID)),
			ua.AttributeIDDescription:     server.DataValueFromValue(ua.NewLocalizedText(desc.Name)),
			ua.AttributeIDDataType:        server.DataValueFromValue(ua.NewNumericExpandedNodeID(0, dataTypeID(desc.Type))),
			ua.AttributeIDValueRank:       server.DataValueFromValue(int32(-1)),
			ua.AttributeIDAccessLevel:     server.DataValueFromValue(access),
			ua.AttributeIDUserAccessLevel: server.DataValueFromValue(access),
			ua.AttributeIDValue: {
				EncodingMask:    ua.DataValueValue | ua.DataValueStatusCode | ua.DataValueSourceTimestamp,
				Value:           variant,
				Status:          ua.StatusOK,
				SourceTimestamp: now,
			},
		},
		nil,
		nil,
	)

	s.ns.AddNode(node)
	parent.AddRef(node, id.HasComponent, true)

	s.nodes[h] = node
	s.tagByID[nodeID.String()] = desc.ID
	s.published[nodeID.String()] = initial
	return h, nil
}

// dataTypeID maps a tag type onto the OPC UA built-in data type node.
func dataTypeID(t tagregistry.DataType) uint32 {
	switch t {
	case tagregistry.TypeBool:
		return id.Boolean
	case tagregistry.TypeInt32:
		return id.Int32
	case tagregistry.TypeFloat:
		return id.Float
	case tagregistry.TypeDouble:
		return id.Double
	default:
		return id.String
	}
}

// SetValue updates a variable and notifies subscribed clients. A client
// write the node still holds is handed to the write handler before it is
// overwritten.
func (s *Server) SetValue(h tagregistry.Handle, value any) error {
	variant, err := ua.NewVariant(value)
	if err != nil {
		return fmt.Errorf("%s: %w", h, err)
	}

	s.mu.Lock()
	node, ok := s.nodes[h]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, h)
	}
	key := node.ID().String()
	pending, hasPending := s.takeClientWrite(node.ID())

	now := time.Now()
	dv := &ua.DataValue{
		EncodingMask:    ua.DataValueValue | ua.DataValueStatusCode | ua.DataValueSourceTimestamp | ua.DataValueServerTimestamp,
		Value:           variant,
		Status:          ua.StatusOK,
		SourceTimestamp: now,
		ServerTimestamp: now,
	}
	if err := node.SetAttribute(ua.AttributeIDValue, dv); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("%s: %w", h, err)
	}
	s.published[key] = value
	tagID, fn := s.tagByID[key], s.onWrite
	s.mu.Unlock()

	if hasPending && fn != nil {
		fn(tagID, pending)
	}
	s.ns.ChangeNotification(node.ID())
	return nil
}

// takeClientWrite returns the node's value when a client changed it since
// it was last published, and marks it as published. s.mu must be held.
func (s *Server) takeClientWrite(nodeID *ua.NodeID) (any, bool) {
	dv := s.ns.Attribute(nodeID, ua.AttributeIDValue)
	if dv == nil || dv.Value == nil {
		return nil, false
	}
	key := nodeID.String()
	current := dv.Value.Value()
	if reflect.DeepEqual(current, s.published[key]) {
		return nil, false
	}
	s.published[key] = current
	return current, true
}

// SetWriteHandler registers the callback for values written by clients.
func (s *Server) SetWriteHandler(fn bridge.WriteHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onWrite = fn
}

// Start opens the endpoint and begins forwarding client writes.
func (s *Server) Start(ctx context.Context) error {
	if err := s.srv.Start(ctx); err != nil {
		return fmt.Errorf("start opc ua server on %s: %w", s.Endpoint(), err)
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.forwardWrites()

	s.log.Infof("OPC UA endpoint listening on %s (namespace %d: %s)", s.Endpoint(), s.ns.ID(), s.cfg.NamespaceURI)
	return nil
}

// forwardWrites turns namespace change notifications from client writes
// into write handler calls. Notifications the server drops while this loop
// is busy are picked up by the next SetValue of that node.
func (s *Server) forwardWrites() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case nodeID, ok := <-s.ns.ExternalNotification:
			if !ok {
				return
			}
			s.dispatchWrite(nodeID)
		}
	}
}

func (s *Server) dispatchWrite(nodeID *ua.NodeID) {
	if nodeID == nil {
		return
	}

	s.mu.Lock()
	tagID, known := s.tagByID[nodeID.String()]
	fn := s.onWrite
	var (
		value   any
		pending bool
	)
	if known {
		value, pending = s.takeClientWrite(nodeID)
	}
	s.mu.Unlock()

	if !pending || fn == nil {
		return
	}
	fn(tagID, value)
}

// Stop closes the endpoint. Calling it more than once is safe.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		close(s.done)

		s.mu.RLock()
		started := s.started
		s.mu.RUnlock()

		if started {
			err = s.srv.Close()
		}
		s.wg.Wait()
		s.log.Infof("OPC UA endpoint %s stopped", s.Endpoint())
	})
	return err
}
