// Package router dispatches requests to handlers by the routing key
// carried in composite metadata, and provides client stubs, an HTTP
// gateway and setup authentication on top of it.
//
// A routing key has the form "service.method". Request and response
// data are JSON.
package router

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/metadata"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Kind is the interaction model of a method.
type Kind int

const (
	RequestResponse Kind = iota
	FireAndForget
	RequestStream
	RequestChannel
)

var kindNames = [...]string{"request-response", "fire-and-forget", "request-stream", "request-channel"}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// ParseKind parses a kind by name or by its short form rr, fnf, stream or channel.
func ParseKind(name string) (Kind, error) {
	switch strings.ToLower(name) {
	case "rr", "request-response":
		return RequestResponse, nil
	case "fnf", "fire-and-forget":
		return FireAndForget, nil
	case "stream", "request-stream":
		return RequestStream, nil
	case "channel", "request-channel":
		return RequestChannel, nil
	}
	return 0, errors.Errorf("router: unknown kind %q", name)
}

type (
	// ResponseFunc handles a request-response or fire-and-forget request.
	ResponseFunc func(ctx context.Context, args json.RawMessage) (any, error)
	// StreamFunc handles a request-stream request.
	StreamFunc func(ctx context.Context, args json.RawMessage) (rx.Publisher[any], error)
	// ChannelFunc handles a request-channel request. The first value of
	// in is the data of the opening request.
	ChannelFunc func(ctx context.Context, in rx.Publisher[json.RawMessage]) (rx.Publisher[any], error)
)

// Handler is a registered method. Only the function matching Kind is used.
type Handler struct {
	Kind     Kind
	Response ResponseFunc
	Stream   StreamFunc
	Channel  ChannelFunc
}

func (h Handler) valid() bool {
	switch h.Kind {
	case RequestResponse, FireAndForget:
		return h.Response != nil
	case RequestStream:
		return h.Stream != nil
	case RequestChannel:
		return h.Channel != nil
	}
	return false
}

// Route is a service and method pair.
type Route struct {
	Service string
	Method  string
}

func (r Route) String() string {
	return r.Service + "." + r.Method
}

// ParseRoute splits key at the last '.'. Both parts must be non-empty.
func ParseRoute(key string) (r Route, err error) {
	if i := strings.LastIndexByte(key, '.'); i > 0 && i < len(key)-1 {
		return Route{Service: key[:i], Method: key[i+1:]}, nil
	}
	return r, rsocket.NewError(rsocket.ErrorCodeInvalid, fmt.Sprintf("bad route %q", key))
}

// Router maps routes to handlers. It implements rsocket.RSocket and is
// safe for concurrent use.
type Router struct {
	mu       sync.RWMutex
	handlers map[Route]Handler
}

var _ rsocket.RSocket = (*Router)(nil)

// New returns an empty Router.
func New() *Router {
	return &Router{handlers: make(map[Route]Handler)}
}

// Handle registers h for service.method.
func (r *Router) Handle(service, method string, h Handler) error {
	rt := Route{Service: service, Method: method}
	if _, err := ParseRoute(rt.String()); err != nil || strings.ContainsRune(method, '.') {
		return errors.Errorf("router: bad route %q", rt.String())
	}
	if !h.valid() {
		return errors.Errorf("router: no %v function for %s", h.Kind, rt)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[rt]; ok {
		return errors.Errorf("router: %s already registered", rt)
	}
	r.handlers[rt] = h
	return nil
}

// HandleResponse registers a request-response method.
func (r *Router) HandleResponse(service, method string, fn ResponseFunc) error {
	return r.Handle(service, method, Handler{Kind: RequestResponse, Response: fn})
}

// HandleFireAndForget registers a fire-and-forget method. The result of fn is discarded.
func (r *Router) HandleFireAndForget(service, method string, fn ResponseFunc) error {
	return r.Handle(service, method, Handler{Kind: FireAndForget, Response: fn})
}

// HandleStream registers a request-stream method.
func (r *Router) HandleStream(service, method string, fn StreamFunc) error {
	return r.Handle(service, method, Handler{Kind: RequestStream, Stream: fn})
}

// HandleChannel registers a request-channel method.
func (r *Router) HandleChannel(service, method string, fn ChannelFunc) error {
	return r.Handle(service, method, Handler{Kind: RequestChannel, Channel: fn})
}

// Routes returns the registered routes in order.
func (r *Router) Routes() (routes []Route) {
	r.mu.RLock()
	for rt := range r.handlers {
		routes = append(routes, rt)
	}
	r.mu.RUnlock()
	slices.SortFunc(routes, func(a, b Route) int { return strings.Compare(a.String(), b.String()) })
	return
}

// RouteOf returns the route named by the routing entry of the
// composite metadata in p.
func RouteOf(p rsocket.Payload) (Route, error) {
	if !p.HasMetadata() {
		return Route{}, rsocket.NewError(rsocket.ErrorCodeInvalid, "missing routing metadata")
	}
	cm, err := metadata.ParseCompositeMetadata(p.Metadata)
	if err != nil {
		return Route{}, rsocket.NewError(rsocket.ErrorCodeInvalid, err.Error())
	}
	e, ok := cm.FindEntry(metadata.MessageRouting)
	if !ok {
		return Route{}, rsocket.NewError(rsocket.ErrorCodeInvalid, "missing routing metadata")
	}
	rm, err := metadata.ParseRoutingMetadata(e.Content)
	if err != nil {
		return Route{}, rsocket.NewError(rsocket.ErrorCodeInvalid, err.Error())
	}
	return ParseRoute(rm.Key)
}

func (r *Router) lookup(p rsocket.Payload, kind Kind) (Handler, error) {
	rt, err := RouteOf(p)
	if err != nil {
		return Handler{}, err
	}
	r.mu.RLock()
	h, ok := r.handlers[rt]
	r.mu.RUnlock()
	if !ok {
		return Handler{}, rsocket.NewError(rsocket.ErrorCodeInvalid, "handler not found: "+rt.String())
	}
	if h.Kind != kind {
		return Handler{}, rsocket.NewError(rsocket.ErrorCodeInvalid, rt.String()+" is "+h.Kind.String()+", not "+kind.String())
	}
	return h, nil
}

func args(p rsocket.Payload) json.RawMessage {
	if p.Data == nil {
		return nil
	}
	return json.RawMessage(p.Data)
}

func encode(v any) (rsocket.Payload, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return rsocket.Payload{}, errors.WithStack(err)
	}
	return rsocket.Payload{Data: b}, nil
}

func (r *Router) RequestResponse(ctx context.Context, p rsocket.Payload) (rsocket.Payload, error) {
	h, err := r.lookup(p, RequestResponse)
	if err != nil {
		return rsocket.Payload{}, err
	}
	v, err := h.Response(ctx, args(p))
	if err != nil {
		return rsocket.Payload{}, err
	}
	return encode(v)
}

func (r *Router) FireAndForget(ctx context.Context, p rsocket.Payload) error {
	h, err := r.lookup(p, FireAndForget)
	if err == nil {
		_, err = h.Response(ctx, args(p))
	}
	return err
}

// MetadataPush logs and discards connection level metadata.
func (r *Router) MetadataPush(ctx context.Context, p rsocket.Payload) error {
	log.Debug().Int("size", len(p.Metadata)).Msg("metadata push")
	return nil
}

func (r *Router) RequestStream(ctx context.Context, p rsocket.Payload) rx.Publisher[rsocket.Payload] {
	h, err := r.lookup(p, RequestStream)
	if err != nil {
		return rx.Error[rsocket.Payload](err)
	}
	pub, err := h.Stream(ctx, args(p))
	if err != nil {
		return rx.Error[rsocket.Payload](err)
	}
	return rx.Map(pub, encode)
}

// RequestChannel routes on the first value of in. Later values are
// passed to the handler as data only.
func (r *Router) RequestChannel(ctx context.Context, in rx.Publisher[rsocket.Payload]) rx.Publisher[rsocket.Payload] {
	return rx.PublisherFunc[rsocket.Payload](func(s rx.Subscriber[rsocket.Payload]) {
		s = rx.Safe(s)
		argsProc := rx.NewQueueProcessor[json.RawMessage](nil)
		var upstream rx.Subscription
		var opened, failed bool
		fail := func(err error) {
			failed = true
			if upstream != nil {
				upstream.Cancel()
			}
			s.OnSubscribe(rx.NoopSubscription)
			s.OnError(err)
		}
		in.Subscribe(rx.Funcs[rsocket.Payload]{
			Subscribe: func(sub rx.Subscription) {
				upstream = sub
				argsProc.OnSubscribe(sub)
				sub.Request(rsocket.MaxRequestN)
			},
			Next: func(p rsocket.Payload) {
				if failed {
					return
				}
				if opened {
					argsProc.OnNext(args(p))
					return
				}
				opened = true
				h, err := r.lookup(p, RequestChannel)
				if err != nil {
					fail(err)
					return
				}
				argsProc.OnNext(args(p))
				out, err := h.Channel(ctx, argsProc)
				if err != nil {
					fail(err)
					return
				}
				rx.Map(out, encode).Subscribe(s)
			},
			Error: func(err error) {
				if failed {
					return
				}
				if !opened {
					fail(err)
					return
				}
				argsProc.OnError(err)
			},
			Complete: func() {
				if failed {
					return
				}
				if !opened {
					fail(rsocket.NewError(rsocket.ErrorCodeInvalid, "missing routing metadata"))
					return
				}
				argsProc.OnComplete()
			},
		})
	})
}
