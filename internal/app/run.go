package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/billie-coop/jobq/internal/events"
	"github.com/billie-coop/jobq/internal/message"
	"github.com/billie-coop/jobq/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Feed decodes messages from r and submits each one. Malformed lines are
// logged, published as InputErrorEvent and skipped. It returns how many
// messages were submitted and how many lines were malformed.
func (a *App) Feed(ctx context.Context, r io.Reader) (read, malformed int, err error) {
	dec := message.NewDecoder(r)
	for {
		if err := ctx.Err(); err != nil {
			return read, malformed, err
		}

		m, err := dec.Next()
		if errors.Is(err, io.EOF) {
			return read, malformed, nil
		}

		var lineErr *message.LineError
		if errors.As(err, &lineErr) {
			malformed++
			a.Logger.Warn("skipping malformed input line", "line", lineErr.Line, "error", lineErr.Err)
			a.EventBroker.Publish(events.Event{
				Type:    events.InputErrorEvent,
				Payload: events.InputErrorPayload{Line: lineErr.Line, Err: lineErr.Err},
			})
			continue
		}
		if err != nil {
			return read, malformed, err
		}

		read++
		a.Scheduler.Submit(m)
	}
}

// Run feeds r through the scheduler and waits until the drain settles.
//
// The loop host (when configured) and the metrics server (when an address is
// set) run alongside the feeder in one errgroup; both stop once the feeder
// and the drain are done. source labels the run in events and the summary.
func (a *App) Run(ctx context.Context, r io.Reader, source string) (Summary, error) {
	started := time.Now()
	a.EventBroker.Publish(events.Event{
		Type:    events.RunStartedEvent,
		Payload: events.RunPayload{Source: source},
	})

	g, gctx := errgroup.WithContext(ctx)
	hostCtx, stopHost := context.WithCancel(gctx)
	defer stopHost()

	if a.Loop != nil {
		g.Go(func() error { return a.Loop.Run(hostCtx) })
	}
	if a.Config.MetricsAddr != "" {
		if err := a.serveMetrics(hostCtx, g); err != nil {
			stopHost()
			_ = g.Wait()
			return a.summary(source, started, 0, 0), err
		}
	}

	var read, malformed int
	g.Go(func() error {
		defer stopHost()

		var err error
		read, malformed, err = a.Feed(gctx, r)
		if err != nil {
			return fmt.Errorf("failed to feed %s: %w", source, err)
		}
		return a.Scheduler.WaitIdle(gctx)
	})

	err := g.Wait()
	summary := a.summary(source, started, read, malformed)

	a.Logger.Info("run finished",
		"source", source,
		"read", summary.Read,
		"dispatched", summary.Dispatched,
		"cancelled", summary.Cancelled,
		"duration", summary.Duration)
	a.EventBroker.Publish(events.Event{
		Type:    events.RunFinishedEvent,
		Payload: events.RunPayload{Source: source, Submitted: read, Err: err},
	})
	return summary, err
}

// Summary returns the current tally without a run wrapper.
func (a *App) Summary() Summary {
	return a.summary("", time.Time{}, 0, 0)
}

func (a *App) summary(source string, started time.Time, read, malformed int) Summary {
	s := a.tally.snapshot()
	s.Source = source
	s.Scheduler = a.Config.Name
	s.Host = a.Config.Host
	s.Started = started
	if !started.IsZero() {
		s.Duration = time.Since(started)
	}
	s.Read = read
	s.Malformed = malformed
	s.Final = a.Scheduler.Stats()
	return s
}

// serveMetrics binds the metrics address and serves /metrics in g until ctx
// is done.
func (a *App) serveMetrics(ctx context.Context, g *errgroup.Group) error {
	ln, err := net.Listen("tcp", a.Config.MetricsAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", a.Config.MetricsAddr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.Metrics))
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	a.Logger.Info("serving metrics", "addr", ln.Addr().String())

	g.Go(func() error {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	return nil
}
