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
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

// Config holds the startup parameters of the bridge process.
type Config struct {
	DeviceHost string
	DevicePort int
	// Timeout bounds every device request.
	Timeout time.Duration
	// Persistent keeps one device connection open between requests.
	Persistent bool

	PollInterval time.Duration
	// WriteQueueSize bounds pending client writes.
	WriteQueueSize int

	OPCUAHost    string
	OPCUAPort    int
	NamespaceURI string

	// MetricsAddr enables a prometheus listener when not empty.
	MetricsAddr string
	LogLevel    string
}

// DefaultConfig returns the defaults of the bridge command.
func DefaultConfig() Config {
	return Config{
		DeviceHost:     "192.168.1.4",
		DevicePort:     jsondevice.DefaultPort,
		Timeout:        jsondevice.DefaultTimeout,
		PollInterval:   time.Second,
		WriteQueueSize: 64,
		OPCUAHost:      "0.0.0.0",
		OPCUAPort:      4841,
		NamespaceURI:   "http://embedsol.com/esp32",
		LogLevel:       "info",
	}
}

// DeviceAddress returns host:port of the device.
func (c Config) DeviceAddress() string {
	return net.JoinHostPort(c.DeviceHost, strconv.Itoa(c.DevicePort))
}

// Validate checks the configuration for values the bridge cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.DeviceHost == "" {
		errs = append(errs, errors.New("device host is required"))
	}
	if c.DevicePort <= 0 || c.DevicePort > 65535 {
		errs = append(errs, fmt.Errorf("device port %d out of range", c.DevicePort))
	}
	if c.OPCUAPort <= 0 || c.OPCUAPort > 65535 {
		errs = append(errs, fmt.Errorf("opcua port %d out of range", c.OPCUAPort))
	}
	if c.Timeout <= 0 {
		errs = append(errs, errors.New("timeout must be positive"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll interval must be positive"))
	}
	if c.WriteQueueSize <= 0 {
		errs = append(errs, errors.New("write queue size must be positive"))
	}
	return errors.Join(errs...)
}
