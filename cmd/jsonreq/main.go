// Package main is the jsonreq command: it sends JSON requests through the
// instrumented transport and prints each outcome as indented JSON.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Build-time variables, injected via ldflags.
// Example: go build -ldflags "-X main.Version=1.0.0 -X main.Commit=$(git rev-parse HEAD) -X main.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	// Version is the semantic version of the command.
	Version = "dev"

	// Commit is the git commit SHA.
	Commit = "unknown"

	// BuildTime is the timestamp when the binary was built.
	BuildTime = "unknown"
)

// errFailedOutcomes signals that every request ran but at least one failed.
var errFailedOutcomes = errors.New("one or more requests failed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx)

	stop()

	if err != nil {
		if !errors.Is(err, errFailedOutcomes) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}

		os.Exit(1)
	}
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "jsonreq [flags] URL...",
		Short: "Send JSON requests and print their outcomes",
		Long: `jsonreq sends each URL as a JSON request through a transport with retries,
a circuit breaker and a response cache, then prints every outcome as indented JSON.

Relative URLs resolve against service.base_url. Several URLs are sent concurrently;
--count repeats each URL in sequence so later sends can be served from the cache.
The exit status is 1 when any request failed.`,
		Args:          cobra.MinimumNArgs(1),
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, BuildTime),
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, args, stdout, stderr)
		},
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	opts.bind(cmd)

	return cmd
}
