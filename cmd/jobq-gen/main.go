// Command jobq-gen prints a synthetic message stream for jobq run.
//
// The same seed always yields the same stream, ids included.
package main

import (
	"fmt"
	"io"
	"math/rand"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/billie-coop/jobq/internal/message"
)

// options controls the shape of the generated workload.
type options struct {
	Contexts   int
	Items      int
	CancelRate float64
	Seed       int64
}

func main() {
	if err := newCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "jobq-gen",
		Short:        "Print a reproducible JSON-lines workload",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(cmd.OutOrStdout(), opts)
		},
	}
	cmd.Flags().IntVar(&opts.Contexts, "contexts", 4, "number of distinct contexts")
	cmd.Flags().IntVar(&opts.Items, "items", 100, "number of work items")
	cmd.Flags().Float64Var(&opts.CancelRate, "cancel-rate", 0.1, "chance of a cancellation directive after each item")
	cmd.Flags().Int64Var(&opts.Seed, "seed", 1, "random seed")
	return cmd
}

// generate writes opts.Items work items to w, interleaved with cancellation
// directives. Timestamps increase by one per message.
func generate(w io.Writer, opts options) error {
	if opts.Contexts < 1 {
		return fmt.Errorf("contexts must be at least 1, got %d", opts.Contexts)
	}
	if opts.Items < 0 {
		return fmt.Errorf("items must not be negative, got %d", opts.Items)
	}
	if opts.CancelRate < 0 || opts.CancelRate > 1 {
		return fmt.Errorf("cancel-rate must be within [0, 1], got %g", opts.CancelRate)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	enc := message.NewEncoder(w)
	var ts int64

	for i := 0; i < opts.Items; i++ {
		id, err := uuid.NewRandomFromReader(rng)
		if err != nil {
			return fmt.Errorf("failed to generate id: %w", err)
		}
		ts++
		item := message.Message{
			ID:       id.String(),
			Context:  contextName(rng.Intn(opts.Contexts)),
			TS:       ts,
			Type:     "work",
			Priority: float64(rng.Intn(10)),
		}
		if err := enc.Encode(item); err != nil {
			return fmt.Errorf("failed to write item: %w", err)
		}

		if rng.Float64() >= opts.CancelRate {
			continue
		}
		ts++
		directive := message.Message{
			Context: contextName(rng.Intn(opts.Contexts)),
			TS:      ts,
			Type:    "cancel",
		}
		if err := enc.Encode(directive); err != nil {
			return fmt.Errorf("failed to write directive: %w", err)
		}
	}
	return nil
}

func contextName(n int) string {
	return fmt.Sprintf("ctx-%d", n)
}
