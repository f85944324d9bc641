package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/internal/config"
	"github.com/linkdata/rsocket/router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func newEcho(t *testing.T) *router.Router {
	r, err := echoRouter()
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func raw(s string) any { return json.RawMessage(s) }

func Test_Invoke_Echo(t *testing.T) {
	r := newEcho(t)
	ctx := context.Background()
	for _, tc := range []struct {
		key    string
		kind   string
		values []any
		expect string
	}{
		{"Echo.echo", "", []any{raw(`{"a":1}`)}, "{\"a\":1}\n"},
		{"Echo.echo", "", nil, "null\n"},
		{"Echo.fire", "", []any{raw(`"x"`)}, ""},
		{"Echo.streamAll", "", []any{raw(`{"count":2,"data":"x"}`)}, "{\"seq\":0,\"data\":\"x\"}\n{\"seq\":1,\"data\":\"x\"}\n"},
		{"Echo.channel", "channel", []any{raw(`1`), raw(`2`)}, "1\n2\n"},
	} {
		var buf bytes.Buffer
		assert.NoError(t, invoke(ctx, &buf, r, tc.key, tc.kind, tc.values), tc.key)
		assert.Equal(t, tc.expect, buf.String(), tc.key)
	}

	var buf bytes.Buffer
	assert.NoError(t, invoke(ctx, &buf, r, "Echo.streamAll", "", nil))
	assert.Equal(t, defaultStreamCount, bytes.Count(buf.Bytes(), []byte("\n")))
}

func Test_Invoke_Errors(t *testing.T) {
	r := newEcho(t)
	ctx := context.Background()
	var buf bytes.Buffer
	assert.Error(t, invoke(ctx, &buf, r, "nodot", "", nil))
	assert.Error(t, invoke(ctx, &buf, r, "Echo.echo", "push", nil))
	assert.Error(t, invoke(ctx, &buf, r, "Echo.channel", "channel", nil))
	assert.Error(t, invoke(ctx, &buf, r, "Echo.echo", "", []any{raw(`1`), raw(`2`)}))
	assert.Error(t, invoke(ctx, &buf, r, "Echo.missing", "", nil))
	assert.Error(t, invoke(ctx, &buf, r, "Echo.streamAll", "", []any{raw(`"nan"`)}))
	assert.Empty(t, buf.String())

	_, err := parseValues([]string{"1", "{"})
	assert.Error(t, err)
}

func Test_DeclareKinds(t *testing.T) {
	gw := router.NewGateway(newEcho(t))
	assert.NoError(t, declareKinds(gw, []string{"Echo.channel=channel", "Echo.other=fnf"}))
	assert.Equal(t, router.RequestChannel, gw.Stub("Echo").Kind("channel"))
	assert.Equal(t, router.FireAndForget, gw.Stub("Echo").Kind("other"))
	assert.Error(t, declareKinds(gw, []string{"Echo.channel"}))
	assert.Error(t, declareKinds(gw, []string{"nodot=rr"}))
	assert.Error(t, declareKinds(gw, []string{"Echo.x=zz"}))
}

func Test_Bench(t *testing.T) {
	r := newEcho(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*50)
	defer cancel()
	br, err := bench(ctx, r, "Echo.echo", raw(`1`), 2)
	assert.NoError(t, err)
	assert.Positive(t, br.Requests)
	assert.Zero(t, br.Errors)
	assert.Positive(t, br.RPS())

	ctx, cancel = context.WithTimeout(context.Background(), time.Millisecond*20)
	defer cancel()
	br, err = bench(ctx, r, "Echo.missing", nil, 1)
	assert.NoError(t, err)
	assert.Positive(t, br.Errors)
	assert.Error(t, br.LastErr)

	_, err = bench(ctx, r, "Echo.echo", nil, 0)
	assert.Error(t, err)
	assert.Zero(t, benchResult{}.RPS())
}

func Test_MetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := rsocket.NewMetrics(reg)
	assert.NoError(t, err)
	m.ConnOpened()
	rec := httptest.NewRecorder()
	metricsHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "rsocket_connections_active 1")
}

func Test_Serve_Auth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("pw"), bcrypt.MinCost)
	assert.NoError(t, err)
	a := &app{cfg: config.Default()}
	a.cfg.Users = map[string]string{"alice": string(hash)}
	srv, err := a.newServer()
	if !assert.NoError(t, err) {
		return
	}
	ln, err := srv.Listen("tcp://127.0.0.1:0")
	if !assert.NoError(t, err) {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = srv.Serve(ln)
	}()
	defer func() {
		_ = srv.Close()
		<-done
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	a.cfg.Servers = []string{srv.Addr}
	a.cfg.Username, a.cfg.Password = "alice", "pw"
	client, err := a.newClient()
	assert.NoError(t, err)
	defer client.Close()
	var buf bytes.Buffer
	assert.NoError(t, invoke(ctx, &buf, client, "Echo.echo", "", []any{raw(`"hi"`)}))
	assert.Equal(t, "\"hi\"\n", buf.String())

	a.cfg.Password = "wrong"
	bad, err := a.newClient()
	assert.NoError(t, err)
	defer bad.Close()
	assert.Error(t, invoke(ctx, &buf, bad, "Echo.echo", "", nil))

	a.cfg.Users = map[string]string{"bob": "not a hash"}
	_, err = a.newServer()
	assert.Error(t, err)
}
