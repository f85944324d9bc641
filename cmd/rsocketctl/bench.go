package main

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/router"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type benchResult struct {
	Requests int64
	Errors   int64
	Elapsed  time.Duration
	LastErr  error
}

func (br benchResult) RPS() float64 {
	if br.Elapsed <= 0 {
		return 0
	}
	return float64(br.Requests) / br.Elapsed.Seconds()
}

// bench runs workers concurrent request-response loops calling key on
// rs with args until ctx is done.
func bench(ctx context.Context, rs rsocket.RSocket, key string, args any, workers int) (br benchResult, err error) {
	rt, err := router.ParseRoute(key)
	if err != nil {
		return br, err
	}
	if workers < 1 {
		return br, errors.Errorf("workers must be positive, not %d", workers)
	}
	stub := router.NewStub(rs, rt.Service).Method(rt.Method, router.RequestResponse)
	var requests, failures atomic.Int64
	var errMu sync.Mutex
	var wg sync.WaitGroup
	start := time.Now()
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var result json.RawMessage
			for ctx.Err() == nil {
				if err := stub.Call(ctx, rt.Method, args, &result); err != nil {
					if ctx.Err() != nil {
						return
					}
					failures.Add(1)
					errMu.Lock()
					br.LastErr = err
					errMu.Unlock()
					continue
				}
				requests.Add(1)
			}
		}()
	}
	wg.Wait()
	br.Requests = requests.Load()
	br.Errors = failures.Load()
	br.Elapsed = time.Since(start)
	return br, nil
}

func benchCmd(a *app) *cobra.Command {
	var workers int
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "bench Service.method [json]",
		Short: "Measure request-response throughput",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			var callArgs any
			if len(values) > 0 {
				callArgs = values[0]
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, duration)
			defer cancel()

			log.Info().Strs("servers", client.URLs()).Int("workers", workers).Dur("duration", duration).Msg("benchmarking")
			br, err := bench(ctx, client, args[0], callArgs, workers)
			if err != nil {
				return err
			}
			ev := log.Info()
			if br.LastErr != nil {
				ev = log.Warn().AnErr("last_error", br.LastErr)
			}
			ev.Int64("requests", br.Requests).
				Int64("errors", br.Errors).
				Float64("rps", br.RPS()).
				Msg("done")
			return nil
		},
	}
	cmd.Flags().IntVarP(&workers, "workers", "w", 64, "concurrent requests")
	cmd.Flags().DurationVarP(&duration, "duration", "d", time.Second*10, "how long to run")
	return cmd
}
