package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/router"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func parseValues(args []string) (values []any, err error) {
	for _, arg := range args {
		if !json.Valid([]byte(arg)) {
			return nil, errors.Errorf("argument %q is not JSON", arg)
		}
		values = append(values, json.RawMessage(arg))
	}
	return
}

// invoke calls key on rs and writes each result as a line to w. A
// request-channel method is sent every value, the others at most one.
func invoke(ctx context.Context, w io.Writer, rs rsocket.RSocket, key, kindName string, values []any) error {
	rt, err := router.ParseRoute(key)
	if err != nil {
		return err
	}
	stub := router.NewStub(rs, rt.Service)
	if kindName != "" {
		kind, err := router.ParseKind(kindName)
		if err != nil {
			return err
		}
		stub.Method(rt.Method, kind)
	}

	var pub rx.Publisher[json.RawMessage]
	if stub.Kind(rt.Method) == router.RequestChannel {
		if len(values) == 0 {
			return errors.New("request-channel needs at least one value")
		}
		pub = stub.Channel(ctx, rt.Method, rx.Just(values...))
	} else {
		var args any
		switch len(values) {
		case 0:
		case 1:
			args = values[0]
		default:
			return errors.Errorf("%v takes at most one argument", stub.Kind(rt.Method))
		}
		pub = stub.Invoke(ctx, rt.Method, args)
	}

	for v, err := range rx.ToSeq(ctx, pub, 16) {
		if err != nil {
			return err
		}
		if v == nil {
			v = json.RawMessage("null")
		}
		if _, err = fmt.Fprintln(w, string(v)); err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

func requestCmd(a *app) *cobra.Command {
	var kind string
	cmd := &cobra.Command{
		Use:   "request Service.method [json...]",
		Short: "Call a method and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := parseValues(args[1:])
			if err != nil {
				return err
			}
			client, err := a.newClient()
			if err != nil {
				return err
			}
			defer client.Close()
			ctx, stop := signalContext(cmd.Context())
			defer stop()
			if a.cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, a.cfg.RequestTimeout)
				defer cancel()
			}
			return invoke(ctx, cmd.OutOrStdout(), client, args[0], kind, values)
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "method kind, rr|fnf|stream|channel (default from the method name)")
	return cmd
}
