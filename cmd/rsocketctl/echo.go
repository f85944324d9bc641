package main

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/linkdata/rsocket/router"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const defaultStreamCount = 10

type seqValue struct {
	Seq  int             `json:"seq"`
	Data json.RawMessage `json:"data,omitempty"`
}

type streamArgs struct {
	Count int             `json:"count"`
	Data  json.RawMessage `json:"data"`
}

// echoRouter returns the router of the Echo service served by the serve command.
//
//	Echo.echo       request-response, returns its arguments
//	Echo.fire       fire-and-forget, logs its arguments
//	Echo.streamAll  request-stream, {"count":n,"data":x} gives n sequenced copies of x
//	Echo.channel    request-channel, echoes every value
func echoRouter() (*router.Router, error) {
	r := router.New()
	if err := r.HandleResponse("Echo", "echo", func(ctx context.Context, args json.RawMessage) (any, error) {
		return args, nil
	}); err != nil {
		return nil, err
	}
	if err := r.HandleFireAndForget("Echo", "fire", func(ctx context.Context, args json.RawMessage) (any, error) {
		log.Info().Str("args", string(args)).Msg("Echo.fire")
		return nil, nil
	}); err != nil {
		return nil, err
	}
	if err := r.HandleStream("Echo", "streamAll", func(ctx context.Context, args json.RawMessage) (rx.Publisher[any], error) {
		sa := streamArgs{Count: defaultStreamCount}
		if len(args) > 0 {
			if err := json.Unmarshal(args, &sa); err != nil {
				return nil, errors.WithStack(err)
			}
		}
		return rx.FromSeq(iter.Seq[any](func(yield func(any) bool) {
			for i := range sa.Count {
				if ctx.Err() != nil || !yield(seqValue{Seq: i, Data: sa.Data}) {
					return
				}
			}
		})), nil
	}); err != nil {
		return nil, err
	}
	if err := r.HandleChannel("Echo", "channel", func(ctx context.Context, in rx.Publisher[json.RawMessage]) (rx.Publisher[any], error) {
		return rx.Map(in, func(v json.RawMessage) (any, error) { return v, nil }), nil
	}); err != nil {
		return nil, err
	}
	return r, nil
}
