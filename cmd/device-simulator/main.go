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

// Command device-simulator serves the JSON device protocol from an
// in-memory tag table, for running the bridge without hardware.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/logger"
)

var (
	listen   string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:          "device-simulator",
	Short:        "Serve the JSON device protocol with a fixed set of sample tags",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := logger.Initialize(logLevel); err != nil {
			return err
		}
		defer logger.Sync()
		log := logger.For(logger.ComponentSimulator)

		sim := jsondevice.NewSimulator(jsondevice.DefaultSimTags(), log)
		if err := sim.Start(listen); err != nil {
			return err
		}
		defer sim.Close()
		log.Infof("Serving %d tags on %s", len(sim.TagIDs()), sim.Addr())

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		<-ctx.Done()
		log.Infof("Shutting down")
		return nil
	},
}

func init() {
	rootCmd.Flags().StringVar(&listen, "listen", "127.0.0.1:4840", "Address to listen on")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "One of debug, info, warn, error")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
