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
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/logger"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/tagregistry"
)

// State constants of the bridge state machine
const (
	// StateConnecting is the initial state; the device identity is requested
	StateConnecting = "connecting"
	// StateHandshaking means the device answered and its tags are browsed
	StateHandshaking = "handshaking"
	// StateRegistering means the tags are registered and the endpoint starts
	StateRegistering = "registering"
	// StatePolling is the steady state
	StatePolling = "polling"
	// StateStopped is reached after cancellation
	StateStopped = "stopped"
	// StateFailed is reached when startup fails
	StateFailed = "failed"
)

// Event constants that trigger state transitions
const (
	EventConnected = "connected"
	EventBrowsed   = "browsed"
	EventServing   = "serving"
	EventStop      = "stop"
	EventFail      = "fail"
)

var allStates = []string{StateConnecting, StateHandshaking, StateRegistering, StatePolling, StateStopped, StateFailed}

// ErrUnreachableDevice is returned when the startup handshake gets no reply.
var ErrUnreachableDevice = errors.New("device did not answer the handshake")

// Bridge polls a device and publishes its tags to an endpoint.
type Bridge struct {
	ID string

	cfg      Config
	device   Device
	endpoint Endpoint
	registry *tagregistry.Registry
	log      *zap.SugaredLogger
	writeLog *zap.SugaredLogger

	FSM *fsm.FSM

	writes   chan writeEvent
	stopOnce sync.Once

	mu        sync.RWMutex
	lastError error
}

// New wires a bridge. Nothing happens until Run is called.
func New(cfg Config, device Device, endpoint Endpoint) *Bridge {
	id := uuid.NewString()
	log := logger.For(logger.ComponentBridge).With("bridge_id", id)

	queue := cfg.WriteQueueSize
	if queue <= 0 {
		queue = DefaultConfig().WriteQueueSize
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}

	b := &Bridge{
		ID:       id,
		cfg:      cfg,
		device:   device,
		endpoint: endpoint,
		registry: tagregistry.New(logger.For(logger.ComponentTagRegistry)),
		log:      log,
		writeLog: logger.For(logger.ComponentWriteBack).With("bridge_id", id),
		writes:   make(chan writeEvent, queue),
	}

	b.FSM = fsm.NewFSM(
		StateConnecting,
		fsm.Events{
			{Name: EventConnected, Src: []string{StateConnecting}, Dst: StateHandshaking},
			{Name: EventBrowsed, Src: []string{StateHandshaking}, Dst: StateRegistering},
			{Name: EventServing, Src: []string{StateRegistering}, Dst: StatePolling},
			{Name: EventStop, Src: []string{StatePolling}, Dst: StateStopped},
			{Name: EventFail, Src: []string{StateConnecting, StateHandshaking, StateRegistering}, Dst: StateFailed},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				b.log.Debugf("Bridge state %s -> %s", e.Src, e.Dst)
				recordState(e.Dst)
			},
			"enter_" + StateStopped: func(_ context.Context, _ *fsm.Event) {
				b.stopEndpoint()
			},
		},
	)
	recordState(StateConnecting)

	return b
}

// State returns the current state.
func (b *Bridge) State() string {
	return b.FSM.Current()
}

// Registry exposes the tag registry, filled during startup.
func (b *Bridge) Registry() *tagregistry.Registry {
	return b.registry
}

// LastError returns the error that moved the bridge into StateFailed.
func (b *Bridge) LastError() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastError
}

// Run performs the startup sequence and polls until ctx is cancelled. It
// returns nil after a clean stop and the startup error otherwise; in that
// case the endpoint was never started.
func (b *Bridge) Run(ctx context.Context) error {
	b.log.Infof("Connecting to device at %s", b.cfg.DeviceAddress())
	info, err := b.device.Info(ctx)
	if err != nil {
		return b.fail(ctx, fmt.Errorf("%w: %w", ErrUnreachableDevice, err))
	}
	count, _ := info.NodeCount()
	b.log.Infof("Connected to %s (version %s, %d nodes)", valueOr(info.Server, "Unknown"), valueOr(info.Version, "Unknown"), count)
	if err := b.transition(ctx, EventConnected); err != nil {
		return err
	}

	browse, err := b.device.Browse(ctx)
	if err != nil {
		return b.fail(ctx, fmt.Errorf("browse device: %w", err))
	}
	if err := b.registry.Populate(browse, b.endpoint); err != nil {
		return b.fail(ctx, err)
	}
	registeredTags.Set(float64(b.registry.Len()))
	if b.registry.Len() == 0 {
		b.log.Warnf("Device reported no usable tags, the bridge will idle")
	}
	if err := b.transition(ctx, EventBrowsed); err != nil {
		return err
	}

	b.endpoint.SetWriteHandler(b.enqueueWrite)
	if err := b.endpoint.Start(ctx); err != nil {
		return b.fail(ctx, fmt.Errorf("start endpoint: %w", err))
	}
	if err := b.transition(ctx, EventServing); err != nil {
		b.stopEndpoint()
		return err
	}
	b.log.Infof("Bridge started, polling %d tags every %s", b.registry.Len(), b.cfg.PollInterval)

	b.pollLoop(ctx)

	b.log.Infof("Stopping bridge")
	// Cancellation has already happened; the transition must still run.
	return b.transition(context.WithoutCancel(ctx), EventStop)
}

func (b *Bridge) transition(ctx context.Context, event string) error {
	if err := b.FSM.Event(ctx, event); err != nil {
		return fmt.Errorf("bridge transition %s from %s: %w", event, b.FSM.Current(), err)
	}
	return nil
}

func (b *Bridge) fail(ctx context.Context, cause error) error {
	b.mu.Lock()
	b.lastError = cause
	b.mu.Unlock()

	b.log.Errorf("Bridge startup failed in state %s: %v", b.FSM.Current(), cause)
	if err := b.FSM.Event(context.WithoutCancel(ctx), EventFail); err != nil {
		b.log.Warnf("Failed to record failure transition: %v", err)
	}
	return cause
}

func (b *Bridge) stopEndpoint() {
	b.stopOnce.Do(func() {
		if err := b.endpoint.Stop(); err != nil {
			b.log.Warnf("Failed to stop endpoint: %v", err)
		}
	})
}

// pollLoop runs cycles back to back at most once per interval and handles
// queued client writes in between. ctx is only checked at cycle boundaries;
// device calls themselves are never cancelled.
func (b *Bridge) pollLoop(ctx context.Context) {
	callCtx := context.WithoutCancel(ctx)

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			return
		}
		b.PollOnce(callCtx)

	wait:
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-b.writes:
				b.handleWrite(callCtx, ev)
			case <-ticker.C:
				break wait
			}
		}
	}
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
