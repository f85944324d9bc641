package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/linkdata/rsocket/router"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// declareKinds applies "Service.method=kind" declarations to the gateway stubs.
func declareKinds(gw *router.Gateway, decls []string) error {
	for _, decl := range decls {
		key, name, ok := strings.Cut(decl, "=")
		if !ok {
			return errors.Errorf("method %q: expected Service.method=kind", decl)
		}
		rt, err := router.ParseRoute(key)
		if err != nil {
			return err
		}
		kind, err := router.ParseKind(name)
		if err != nil {
			return err
		}
		gw.Stub(rt.Service).Method(rt.Method, kind)
	}
	return nil
}

func gatewayCmd(a *app) *cobra.Command {
	var addr string
	var methods []string
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Forward HTTP requests to the servers",
		Long: `gateway accepts HTTP requests to /Service/method and forwards them
to the servers, the request body being the JSON arguments.

Methods are request-response unless their name implies otherwise
or their kind is declared with --method.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.GatewayAddr = addr
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()
			gw := router.NewGateway(client)
			gw.Timeout = a.cfg.RequestTimeout
			if err = declareKinds(gw, methods); err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()
			hs := &http.Server{Addr: a.cfg.GatewayAddr, Handler: gw, ReadHeaderTimeout: time.Second * 10}
			errCh := make(chan error, 1)
			go func() {
				log.Info().Str("addr", hs.Addr).Strs("servers", client.URLs()).Msg("gateway")
				errCh <- hs.ListenAndServe()
			}()
			select {
			case err = <-errCh:
				return err
			case <-ctx.Done():
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
			defer cancel()
			return hs.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "HTTP listen address")
	cmd.Flags().StringSliceVarP(&methods, "method", "m", nil, "declare a method kind, Service.method=rr|fnf|stream|channel")
	return cmd
}
