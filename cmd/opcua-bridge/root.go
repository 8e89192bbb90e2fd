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

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/bridge"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/logger"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/uaserver"
)

var cfg = bridge.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "opcua-bridge",
	Short: "Mirror the tags of a JSON-over-TCP device into an OPC UA server",
	Long: `opcua-bridge connects to a device speaking the line delimited JSON protocol,
registers every tag it reports as an OPC UA variable and keeps the values
current by polling. Client writes to writable variables are sent back to the
device.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return run(cmd.Context())
	},
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&cfg.DeviceHost, "device-host", cfg.DeviceHost, "Device IP address or hostname")
	f.IntVar(&cfg.DevicePort, "device-port", cfg.DevicePort, "Device TCP port")
	f.StringVar(&cfg.OPCUAHost, "opcua-host", cfg.OPCUAHost, "Address the OPC UA endpoint binds to")
	f.IntVar(&cfg.OPCUAPort, "opcua-port", cfg.OPCUAPort, "OPC UA server port")
	f.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "Timeout for each device request")
	f.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Time between two polls of all tags")
	f.BoolVar(&cfg.Persistent, "persistent", cfg.Persistent, "Keep one device connection open between requests")
	f.StringVar(&cfg.NamespaceURI, "namespace", cfg.NamespaceURI, "URI of the OPC UA namespace holding the tags")
	f.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Serve prometheus metrics on this address, e.g. :9102")
	f.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "One of debug, info, warn, error")
}

func run(parent context.Context) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.For(logger.ComponentBridge)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddr != "" {
		metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.For(logger.ComponentMetrics).Errorf("Metrics listener on %s failed: %v", cfg.MetricsAddr, err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	device := jsondevice.NewClient(jsondevice.Options{
		Address:    cfg.DeviceAddress(),
		Timeout:    cfg.Timeout,
		Persistent: cfg.Persistent,
		Logger:     logger.For(logger.ComponentDeviceClient),
	})
	defer device.Close()

	endpoint, err := uaserver.New(uaserver.Config{
		Host:         cfg.OPCUAHost,
		Port:         cfg.OPCUAPort,
		NamespaceURI: cfg.NamespaceURI,
	})
	if err != nil {
		return err
	}
	defer endpoint.Stop()

	b := bridge.New(cfg, device, endpoint)
	log.Infof("Starting bridge %s: device %s, OPC UA %s", b.ID, cfg.DeviceAddress(), endpoint.Endpoint())
	if err := b.Run(ctx); err != nil {
		log.Errorf("Bridge stopped: %v", err)
		return err
	}
	log.Infof("Bridge stopped")
	return nil
}
