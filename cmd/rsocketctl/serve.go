package main

import (
	"context"
	"net/http"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func serveCmd(a *app) *cobra.Command {
	var listen []string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the Echo service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(listen) > 0 {
				a.cfg.Listen = listen
				if err := a.cfg.Validate(); err != nil {
					return err
				}
			}
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			return a.serve(ctx)
		},
	}
	cmd.Flags().StringSliceVarP(&listen, "listen", "l", nil, "URL to listen on (repeatable)")
	return cmd
}

// newServer builds a Server for the Echo service, requiring
// authentication if users are configured.
func (a *app) newServer() (*rsocket.Server, error) {
	r, err := echoRouter()
	if err != nil {
		return nil, err
	}
	acceptor := rsocket.StaticAcceptor(r)
	if len(a.cfg.Users) > 0 {
		auth := router.NewSimpleAuthenticator()
		for name, hash := range a.cfg.Users {
			if err = auth.SetHash(name, []byte(hash)); err != nil {
				return nil, err
			}
		}
		acceptor = auth.Acceptor(acceptor)
	}
	tlsConfig, err := a.cfg.TLSConfig()
	if err != nil {
		return nil, err
	}
	srv := &rsocket.Server{
		Acceptor:  acceptor,
		MaxConns:  a.cfg.MaxConns,
		TLSConfig: tlsConfig,
	}
	srv.NetLog(a.cfg.NetLog)
	return srv, nil
}

// metricsHandler serves the registry at /metrics.
func metricsHandler(reg *prometheus.Registry) http.Handler {
	mux := httprouter.New()
	mux.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	return mux
}

func (a *app) serve(ctx context.Context) error {
	srv, err := a.newServer()
	if err != nil {
		return err
	}
	defer srv.Close()

	if a.cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := rsocket.NewMetrics(reg)
		if err != nil {
			return err
		}
		srv.StatsCollector = m
		hs := &http.Server{Addr: a.cfg.MetricsAddr, Handler: metricsHandler(reg), ReadHeaderTimeout: time.Second * 10}
		defer hs.Close()
		go func() {
			log.Info().Str("addr", hs.Addr).Msg("serving metrics")
			if err := hs.ListenAndServe(); err != http.ErrServerClosed {
				log.Error().Err(err).Msg("metrics")
			}
		}()
	}

	errCh := make(chan error, len(a.cfg.Listen))
	for _, rawurl := range a.cfg.Listen {
		ln, err := srv.Listen(rawurl)
		if err != nil {
			return err
		}
		log.Info().Str("url", rawurl).Stringer("addr", ln.Addr()).Msg("listening")
		go func() { errCh <- srv.Serve(ln) }()
	}

	go logStats(ctx, srv, time.Second)

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		return nil
	case err = <-errCh:
		return err
	}
}

// logStats logs connection count and throughput every interval while
// there is traffic.
func logStats(ctx context.Context, srv *rsocket.Server, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	lastTick := time.Now()
	lastRead, lastWritten := srv.BytesRead(), srv.BytesWritten()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(lastTick).Seconds()
			lastTick = now
			read, written := srv.BytesRead(), srv.BytesWritten()
			if read != lastRead || written != lastWritten {
				log.Info().
					Int("conns", srv.ActiveConns()).
					Float64("mbps_in", float64(read-lastRead)*8/1e6/elapsed).
					Float64("mbps_out", float64(written-lastWritten)*8/1e6/elapsed).
					Msg("stats")
				lastRead, lastWritten = read, written
			}
		}
	}
}
