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

// Command jsondevice-check runs a fixed five step check against a device:
// info, browse, read, write and read back.
package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/united-manufacturing-hub/jsondevice-bridge/pkg/jsondevice"
)

var (
	host    string
	port    int
	timeout time.Duration
	opts    jsondevice.DiagnoseOptions
)

var rootCmd = &cobra.Command{
	Use:          "jsondevice-check",
	Short:        "Exercise every action of a JSON-over-TCP device once",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, _ []string) error {
		client := jsondevice.NewClient(jsondevice.Options{
			Address: net.JoinHostPort(host, strconv.Itoa(port)),
			Timeout: timeout,
		})
		defer client.Close()

		results := jsondevice.Diagnose(cmd.Context(), client, cmd.OutOrStdout(), opts)
		for _, r := range results {
			if r.Err != nil {
				return fmt.Errorf("%d of %d steps failed", countFailed(results), len(results))
			}
		}
		return nil
	},
}

func countFailed(results []jsondevice.StepResult) int {
	n := 0
	for _, r := range results {
		if r.Err != nil {
			n++
		}
	}
	return n
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&host, "host", "192.168.1.4", "Device IP address or hostname")
	f.IntVar(&port, "port", jsondevice.DefaultPort, "Device TCP port")
	f.DurationVar(&timeout, "timeout", jsondevice.DefaultTimeout, "Timeout for each request")
	f.StringVar(&opts.ReadTag, "read-tag", jsondevice.DefaultReadTag, "Tag read in step three")
	f.StringVar(&opts.WriteTag, "write-tag", jsondevice.DefaultWriteTag, "Tag written and read back in steps four and five")
	f.StringVar(&opts.WriteValue, "write-value", jsondevice.DefaultWriteValue, "Value written in step four")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
