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

package tagregistry

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

var (
	// ErrRegistry is returned when a browse reply cannot populate the registry.
	ErrRegistry = errors.New("invalid browse reply")
	// ErrNotFound is returned for tag ids the registry does not know.
	ErrNotFound = errors.New("tag not found")
)

// Entry is a registered tag together with its endpoint handle.
type Entry struct {
	Descriptor
	Handle Handle
}

// Registry maps tag ids to descriptors. It is populated once from a browse
// reply and read-only afterwards.
type Registry struct {
	log *zap.SugaredLogger

	mu      sync.RWMutex
	entries map[string]Entry
	order   []string
}

// New returns an empty registry.
func New(log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Registry{
		log:     log,
		entries: make(map[string]Entry),
	}
}

// Populate fills the registry from a browse reply and registers every tag in
// ns. A reply without status "success" or with an unreadable node list fails
// with ErrRegistry and leaves the registry empty.
//
// Registration is best effort per entry: entries without nodeId, duplicates
// and entries whose folder or value cannot be created in ns are logged and
// skipped. A nil ns only records descriptors.
func (r *Registry) Populate(reply *jsondevice.Reply, ns Namespace) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = make(map[string]Entry)
	r.order = nil

	if reply == nil {
		return fmt.Errorf("%w: no reply", ErrRegistry)
	}
	if !reply.Succeeded() {
		return fmt.Errorf("%w: status %q", ErrRegistry, reply.Status)
	}
	nodes, err := reply.NodeList()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrRegistry, err)
	}

	entries := make(map[string]Entry, len(nodes))
	order := make([]string, 0, len(nodes))
	groups := make(map[string]Handle)

	for i, n := range nodes {
		if n.NodeID == "" {
			r.log.Warnf("Skipping browse entry %d: missing nodeId", i)
			continue
		}
		if _, dup := entries[n.NodeID]; dup {
			r.log.Warnf("Skipping duplicate tag %s", n.NodeID)
			continue
		}

		desc := Descriptor{
			ID:       n.NodeID,
			Name:     n.Name,
			Type:     ParseDataType(n.Type),
			Writable: n.Writable,
		}
		if desc.Name == "" {
			desc.Name = desc.ID
		}

		entry := Entry{Descriptor: desc}
		if ns != nil {
			var parent Handle
			if group := desc.Group(); group != "" {
				h, ok := groups[group]
				if !ok {
					h, err = ns.AddGroup(group)
					if err != nil {
						r.log.Warnf("Skipping tag %s: failed to create folder %s: %v", desc.ID, group, err)
						continue
					}
					groups[group] = h
				}
				parent = h
			}

			h, err := ns.AddValue(parent, desc, desc.Type.ZeroValue())
			if err != nil {
				r.log.Warnf("Skipping tag %s: failed to register value: %v", desc.ID, err)
				continue
			}
			entry.Handle = h
		}

		entries[desc.ID] = entry
		order = append(order, desc.ID)
		r.log.Debugf("Registered %s (%s, writable=%t)", desc.ID, desc.Type, desc.Writable)
	}

	r.entries = entries
	r.order = order
	r.log.Infof("Registered %d of %d browsed tags", len(order), len(nodes))
	return nil
}

// Describe returns the descriptor of id.
func (r *Registry) Describe(id string) (Descriptor, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return Descriptor{}, err
	}
	return e.Descriptor, nil
}

// Lookup returns the entry of id including its endpoint handle.
func (r *Registry) Lookup(id string) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	if !ok {
		return Entry{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Entries returns all entries in browse order.
func (r *Registry) Entries() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id])
	}
	return out
}

// Len returns the number of registered tags.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}
