package router

import (
	"context"
	"testing"
	"time"

	"github.com/fortytw2/leaktest"
	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/metadata"
	"github.com/stretchr/testify/assert"
	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator(t *testing.T) *SimpleAuthenticator {
	a := NewSimpleAuthenticator()
	a.Cost = bcrypt.MinCost
	assert.NoError(t, a.AddUser("alice", "secret"))
	return a
}

func setupWith(t *testing.T, entries ...metadata.Entry) rsocket.SetupPayload {
	setup := rsocket.NewSetupPayload()
	if len(entries) > 0 {
		cm, err := metadata.FromEntries(entries...)
		assert.NoError(t, err)
		setup.Metadata = cm.Bytes()
	}
	return setup
}

func Test_SimpleAuthenticator_Authenticate(t *testing.T) {
	a := newTestAuthenticator(t)
	assert.NoError(t, a.Authenticate(metadata.SimpleAuth("alice", "secret")))
	assert.Equal(t, ErrAuthFailed, a.Authenticate(metadata.SimpleAuth("alice", "wrong")))
	assert.Equal(t, ErrAuthFailed, a.Authenticate(metadata.SimpleAuth("bob", "secret")))
	assert.Equal(t, ErrAuthFailed, a.Authenticate(metadata.BearerAuth("secret")))

	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	assert.NoError(t, err)
	assert.NoError(t, a.SetHash("bob", hash))
	assert.NoError(t, a.Authenticate(metadata.SimpleAuth("bob", "hunter2")))
	assert.Error(t, a.SetHash("carol", []byte("plaintext")))
}

func Test_SimpleAuthenticator_Acceptor(t *testing.T) {
	a := newTestAuthenticator(t)
	r := New()
	acc := a.Acceptor(rsocket.StaticAcceptor(r))

	rs, err := acc.Accept(setupWith(t, metadata.Routing("x.y"), metadata.SimpleAuth("alice", "secret")), nil)
	assert.NoError(t, err)
	assert.Equal(t, r, rs)

	for _, setup := range []rsocket.SetupPayload{
		setupWith(t),
		setupWith(t, metadata.Routing("x.y")),
		setupWith(t, metadata.SimpleAuth("alice", "nope")),
	} {
		rs, err = acc.Accept(setup, nil)
		assert.Nil(t, rs)
		assert.Equal(t, ErrAuthFailed, err)
	}

	setup := rsocket.NewSetupPayload()
	setup.Metadata = []byte{0x85}
	_, err = acc.Accept(setup, nil)
	assert.Error(t, err)
}

func Test_SimpleAuthenticator_Conn(t *testing.T) {
	if leaktestEnabled {
		defer leaktest.Check(t)()
	}
	a := newTestAuthenticator(t)
	r, _ := newTestRouter(t)
	acc := a.Acceptor(rsocket.StaticAcceptor(r))

	cm, err := metadata.FromEntries(metadata.SimpleAuth("alice", "secret"))
	assert.NoError(t, err)
	conn, closeFn := newConnPair(t, acc, &rsocket.Connector{SetupPayload: rsocket.Payload{Metadata: cm.Bytes()}})
	var u user
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	assert.NoError(t, NewStub(conn, "UserService").Call(ctx, "findById", 1, &u))
	assert.Equal(t, user{1, "user1"}, u)
	closeFn()

	errCh := make(chan *rsocket.Error, 1)
	cm, err = metadata.FromEntries(metadata.SimpleAuth("alice", "bad"))
	assert.NoError(t, err)
	conn, closeFn = newConnPair(t, acc, &rsocket.Connector{
		SetupPayload:  rsocket.Payload{Metadata: cm.Bytes()},
		ErrorConsumer: func(e *rsocket.Error) { errCh <- e },
	})
	defer closeFn()
	select {
	case e := <-errCh:
		assert.Equal(t, rsocket.ErrorCodeRejectedSetup, e.Code)
		assert.Equal(t, "authentication failed", e.Message)
	case <-ctx.Done():
		t.Error("setup was not refused")
	}
	select {
	case <-conn.Done():
	case <-ctx.Done():
		t.Error("refused conn did not close")
	}
}
