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
	"context"
	"errors"
	"net"
	"os"
)

var (
	// ErrConnect means the device could not be reached.
	ErrConnect = errors.New("device unreachable")
	// ErrTimeout means no complete reply arrived within the configured bound.
	ErrTimeout = errors.New("device request timed out")
	// ErrProtocol means the reply was not a single well formed JSON object.
	ErrProtocol = errors.New("malformed device reply")
)

// classify maps low level network errors onto ErrTimeout or fallback.
func classify(err error, fallback error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return ErrTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrTimeout
	}
	return fallback
}
