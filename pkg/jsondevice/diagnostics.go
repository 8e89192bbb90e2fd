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
	"fmt"
	"io"
	"strings"
)

const (
	// DefaultReadTag is the tag read in step three of the diagnostic run.
	DefaultReadTag = "sensors.temperature"
	// DefaultWriteTag is written and read back in steps four and five.
	DefaultWriteTag = "control.relay1"
	// DefaultWriteValue is the value written in step four.
	DefaultWriteValue = "true"
)

// DiagnoseOptions selects the sample tags used by Diagnose.
type DiagnoseOptions struct {
	ReadTag    string
	WriteTag   string
	WriteValue string
}

func (o DiagnoseOptions) withDefaults() DiagnoseOptions {
	if o.ReadTag == "" {
		o.ReadTag = DefaultReadTag
	}
	if o.WriteTag == "" {
		o.WriteTag = DefaultWriteTag
	}
	if o.WriteValue == "" {
		o.WriteValue = DefaultWriteValue
	}
	return o
}

// StepResult is the outcome of one diagnostic step.
type StepResult struct {
	Step  string
	Reply *Reply
	Err   error
}

// Diagnose runs the fixed five step check (info, browse, read, write, read
// back) and prints every result to w. A failing step is reported and the
// sequence continues; nothing is retried.
func Diagnose(ctx context.Context, c *Client, w io.Writer, opts DiagnoseOptions) []StepResult {
	opts = opts.withDefaults()
	rule := strings.Repeat("=", 60)

	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Testing JSON device server at %s\n", c.Address())
	fmt.Fprintln(w, rule)

	results := make([]StepResult, 0, 5)
	run := func(title string, call func() (*Reply, error), show func(*Reply)) {
		fmt.Fprintf(w, "\n%d. %s...\n", len(results)+1, title)
		reply, err := call()
		results = append(results, StepResult{Step: title, Reply: reply, Err: err})
		if err != nil {
			fmt.Fprintf(w, "   Error: %v\n", err)
			return
		}
		show(reply)
	}

	run("Getting server info", func() (*Reply, error) { return c.Info(ctx) }, func(r *Reply) {
		count, _ := r.NodeCount()
		fmt.Fprintf(w, "   Server: %s\n", r.Server)
		fmt.Fprintf(w, "   URI: %s\n", r.URI)
		fmt.Fprintf(w, "   Version: %s\n", r.Version)
		fmt.Fprintf(w, "   Nodes: %d\n", count)
	})

	run("Browsing all nodes", func() (*Reply, error) { return c.Browse(ctx) }, func(r *Reply) {
		if !r.Succeeded() {
			fmt.Fprintf(w, "   Browse failed with status %q\n", r.Status)
			return
		}
		nodes, err := r.NodeList()
		if err != nil {
			fmt.Fprintf(w, "   Error: %v\n", err)
			return
		}
		fmt.Fprintf(w, "   Found %d nodes:\n", len(nodes))
		for _, n := range nodes {
			access := "RO"
			if n.Writable {
				access = "RW"
			}
			fmt.Fprintf(w, "   - %-30s [%-8s] (%s) = %s\n", n.NodeID, n.Type, access, string(n.Value))
		}
	})

	run("Reading "+opts.ReadTag, func() (*Reply, error) { return c.Read(ctx, opts.ReadTag) }, func(r *Reply) {
		fmt.Fprintf(w, "   Value: %s (Type: %s)\n", r.StringValue(), r.Type)
	})

	run("Writing "+opts.WriteValue+" to "+opts.WriteTag, func() (*Reply, error) {
		return c.Write(ctx, opts.WriteTag, opts.WriteValue)
	}, func(r *Reply) {
		fmt.Fprintf(w, "   Status: %s\n", r.Status)
		fmt.Fprintf(w, "   Message: %s\n", r.Message)
	})

	run("Reading back "+opts.WriteTag, func() (*Reply, error) { return c.Read(ctx, opts.WriteTag) }, func(r *Reply) {
		fmt.Fprintf(w, "   Value: %s\n", r.StringValue())
	})

	fmt.Fprintln(w, "\n"+rule)
	fmt.Fprintln(w, "Test completed!")
	fmt.Fprintln(w, rule)

	return results
}
