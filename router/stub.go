package router

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/metadata"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
)

// DefaultKind returns the kind assumed for a method that has not been
// declared with Stub.Method. Methods named findAll, readAll or
// streamAll (or starting with them) stream, methods starting with fire
// are fire-and-forget, and the rest are request-response.
func DefaultKind(method string) Kind {
	for _, prefix := range []string{"findAll", "readAll", "streamAll"} {
		if strings.HasPrefix(method, prefix) {
			return RequestStream
		}
	}
	if strings.HasPrefix(method, "fire") {
		return FireAndForget
	}
	return RequestResponse
}

// Stub calls the methods of a remote service through an RSocket,
// encoding arguments and results as JSON.
type Stub struct {
	rs      rsocket.RSocket
	service string
	mu      sync.RWMutex
	kinds   map[string]Kind
}

// NewStub returns a Stub for service using rs.
func NewStub(rs rsocket.RSocket, service string) *Stub {
	return &Stub{rs: rs, service: service, kinds: make(map[string]Kind)}
}

// Service returns the service name.
func (s *Stub) Service() string {
	return s.service
}

// Method declares the kind of method and returns s.
func (s *Stub) Method(name string, kind Kind) *Stub {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds[name] = kind
	return s
}

// Kind returns the declared kind of method, or DefaultKind(method).
func (s *Stub) Kind(method string) Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if k, ok := s.kinds[method]; ok {
		return k
	}
	return DefaultKind(method)
}

func (s *Stub) routing(method string) ([]byte, error) {
	cm, err := metadata.FromEntries(metadata.Routing(Route{Service: s.service, Method: method}.String()))
	if err != nil {
		return nil, err
	}
	return cm.Bytes(), nil
}

func (s *Stub) payload(method string, args any) (p rsocket.Payload, err error) {
	if p.Metadata, err = s.routing(method); err == nil {
		p.Data, err = marshalArgs(args)
	}
	return
}

// marshalArgs encodes args as JSON. A nil args gives no data and
// json.RawMessage is used as-is.
func marshalArgs(args any) ([]byte, error) {
	switch v := args.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return v, nil
	}
	b, err := json.Marshal(args)
	return b, errors.WithStack(err)
}

func (s *Stub) checkKind(method string, kind Kind) error {
	if k := s.Kind(method); k != kind {
		return errors.Errorf("router: %s.%s is %v, not %v", s.service, method, k, kind)
	}
	return nil
}

// Call invokes a request-response method. If result is not nil and the
// response has data, the data is decoded into result.
func (s *Stub) Call(ctx context.Context, method string, args, result any) error {
	if err := s.checkKind(method, RequestResponse); err != nil {
		return err
	}
	p, err := s.payload(method, args)
	if err != nil {
		return err
	}
	if p, err = s.rs.RequestResponse(ctx, p); err == nil && result != nil && p.HasData() {
		err = errors.WithStack(json.Unmarshal(p.Data, result))
	}
	return err
}

// Fire invokes a fire-and-forget method.
func (s *Stub) Fire(ctx context.Context, method string, args any) error {
	if err := s.checkKind(method, FireAndForget); err != nil {
		return err
	}
	p, err := s.payload(method, args)
	if err != nil {
		return err
	}
	return s.rs.FireAndForget(ctx, p)
}

func data(p rsocket.Payload) (json.RawMessage, error) {
	return json.RawMessage(p.Data), nil
}

// Stream invokes a request-stream method and publishes the raw JSON results.
func (s *Stub) Stream(ctx context.Context, method string, args any) rx.Publisher[json.RawMessage] {
	if err := s.checkKind(method, RequestStream); err != nil {
		return rx.Error[json.RawMessage](err)
	}
	p, err := s.payload(method, args)
	if err != nil {
		return rx.Error[json.RawMessage](err)
	}
	return rx.Map(s.rs.RequestStream(ctx, p), data)
}

// Channel invokes a request-channel method. The first value of in is
// sent with the routing metadata.
func (s *Stub) Channel(ctx context.Context, method string, in rx.Publisher[any]) rx.Publisher[json.RawMessage] {
	if err := s.checkKind(method, RequestChannel); err != nil {
		return rx.Error[json.RawMessage](err)
	}
	md, err := s.routing(method)
	if err != nil {
		return rx.Error[json.RawMessage](err)
	}
	first := true
	out := rx.Map(in, func(v any) (p rsocket.Payload, err error) {
		if first {
			first = false
			p.Metadata = md
		}
		p.Data, err = marshalArgs(v)
		return
	})
	return rx.Map(s.rs.RequestChannel(ctx, out), data)
}

// Invoke calls method according to its kind. A request-response method
// publishes its single result and fire-and-forget publishes nothing.
// Request-channel methods get args as their only value.
func (s *Stub) Invoke(ctx context.Context, method string, args any) rx.Publisher[json.RawMessage] {
	switch s.Kind(method) {
	case RequestResponse:
		var result json.RawMessage
		if err := s.Call(ctx, method, args, &result); err != nil {
			return rx.Error[json.RawMessage](err)
		}
		return rx.Just(result)
	case FireAndForget:
		if err := s.Fire(ctx, method, args); err != nil {
			return rx.Error[json.RawMessage](err)
		}
		return rx.Empty[json.RawMessage]()
	case RequestStream:
		return s.Stream(ctx, method, args)
	}
	return s.Channel(ctx, method, rx.Just(args))
}
