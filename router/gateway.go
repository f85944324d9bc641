package router

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/rx"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// DefaultMaxBodySize is the default limit on request bodies.
const DefaultMaxBodySize = 4 << 20

// Gateway forwards HTTP requests to routed methods over an RSocket.
//
// Requests are made to /service/method, the body being the JSON
// arguments. Request-response results are returned as JSON and
// fire-and-forget gives 202 Accepted. Streams are returned as
// newline delimited JSON, and for request-channel methods the body is
// read as newline delimited JSON values.
type Gateway struct {
	RSocket     rsocket.RSocket
	Timeout     time.Duration // limit for request-response and fire-and-forget, zero for none
	MaxBodySize int64
	mux         *httprouter.Router
	mu          sync.Mutex
	stubs       map[string]*Stub
}

// NewGateway returns a Gateway forwarding to rs.
func NewGateway(rs rsocket.RSocket) *Gateway {
	g := &Gateway{
		RSocket:     rs,
		Timeout:     time.Second * 30,
		MaxBodySize: DefaultMaxBodySize,
		mux:         httprouter.New(),
		stubs:       make(map[string]*Stub),
	}
	g.mux.GET("/:service/:method", g.serve)
	g.mux.POST("/:service/:method", g.serve)
	return g
}

// Stub returns the Stub used for service, so that method kinds may be declared.
func (g *Gateway) Stub(service string) *Stub {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stubs[service]
	if s == nil {
		s = NewStub(g.RSocket, service)
		g.stubs[service] = s
	}
	return s
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mux.ServeHTTP(w, r)
}

// StatusCode returns the HTTP status for a failed call.
func StatusCode(err error) int {
	switch errors.Cause(err) {
	case context.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case context.Canceled:
		return http.StatusServiceUnavailable
	}
	var e *rsocket.Error
	if errors.As(err, &e) {
		switch e.Code {
		case rsocket.ErrorCodeInvalid:
			return http.StatusNotFound
		case rsocket.ErrorCodeRejected:
			return http.StatusServiceUnavailable
		case rsocket.ErrorCodeApplicationError, rsocket.ErrorCodeCanceled:
			return http.StatusInternalServerError
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (g *Gateway) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := StatusCode(err)
	log.Warn().Str("path", r.URL.Path).Int("status", code).Err(err).Msg("gateway")
	http.Error(w, err.Error(), code)
}

func (g *Gateway) serve(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	stub := g.Stub(ps.ByName("service"))
	method := ps.ByName("method")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, g.MaxBodySize))
	if err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}
	body = bytes.TrimSpace(body)

	kind := stub.Kind(method)
	var args any
	if kind != RequestChannel && len(body) > 0 {
		if !json.Valid(body) {
			http.Error(w, "request body is not valid JSON", http.StatusBadRequest)
			return
		}
		args = json.RawMessage(body)
	}

	ctx := r.Context()
	if g.Timeout > 0 && (kind == RequestResponse || kind == FireAndForget) {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Timeout)
		defer cancel()
	}

	switch kind {
	case RequestResponse:
		var result json.RawMessage
		if err = stub.Call(ctx, method, args, &result); err != nil {
			g.fail(w, r, err)
			return
		}
		if result == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(result)
	case FireAndForget:
		if err = stub.Fire(ctx, method, args); err != nil {
			g.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	case RequestStream:
		g.writeStream(ctx, w, r, stub.Stream(ctx, method, args))
	case RequestChannel:
		var values []any
		for line := range bytes.Lines(body) {
			if line = bytes.TrimSpace(line); len(line) > 0 {
				if !json.Valid(line) {
					http.Error(w, "request body is not newline delimited JSON", http.StatusBadRequest)
					return
				}
				values = append(values, json.RawMessage(line))
			}
		}
		if len(values) == 0 {
			http.Error(w, "request-channel needs at least one value", http.StatusBadRequest)
			return
		}
		g.writeStream(ctx, w, r, stub.Channel(ctx, method, rx.Just(values...)))
	}
}

// writeStream writes each value of pub as a line of JSON. Errors after
// the first value can only be logged.
func (g *Gateway) writeStream(ctx context.Context, w http.ResponseWriter, r *http.Request, pub rx.Publisher[json.RawMessage]) {
	flusher, _ := w.(http.Flusher)
	started := false
	for v, err := range rx.ToSeq(ctx, pub, 16) {
		if err != nil {
			if !started {
				g.fail(w, r, err)
			} else {
				log.Warn().Str("path", r.URL.Path).Err(err).Msg("gateway stream")
			}
			return
		}
		if !started {
			started = true
			w.Header().Set("Content-Type", "application/x-ndjson")
		}
		if v == nil {
			v = json.RawMessage("null")
		}
		if _, err = w.Write(v); err == nil {
			_, err = io.WriteString(w, "\n")
		}
		if err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}
