package router

import (
	"sync"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/metadata"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

// ErrAuthFailed is returned to peers whose setup credentials are missing or wrong.
var ErrAuthFailed = rsocket.NewError(rsocket.ErrorCodeRejectedSetup, "authentication failed")

// SimpleAuthenticator checks simple authentication credentials against
// bcrypt password hashes.
type SimpleAuthenticator struct {
	Cost  int // bcrypt cost for AddUser, bcrypt.DefaultCost if zero
	mu    sync.RWMutex
	users map[string][]byte
}

// NewSimpleAuthenticator returns a SimpleAuthenticator with no users.
func NewSimpleAuthenticator() *SimpleAuthenticator {
	return &SimpleAuthenticator{users: make(map[string][]byte)}
}

// AddUser hashes password and stores it for username.
func (a *SimpleAuthenticator) AddUser(username, password string) error {
	cost := a.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return errors.WithStack(err)
	}
	return a.SetHash(username, hash)
}

// SetHash stores a bcrypt hash for username.
func (a *SimpleAuthenticator) SetHash(username string, hash []byte) error {
	if _, err := bcrypt.Cost(hash); err != nil {
		return errors.Wrapf(err, "user %q", username)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.users[username] = hash
	return nil
}

// Authenticate returns nil if am holds valid simple credentials.
func (a *SimpleAuthenticator) Authenticate(am metadata.AuthMetadata) error {
	if am.CustomType != "" || am.Type != metadata.AuthSimple {
		return ErrAuthFailed
	}
	a.mu.RLock()
	hash, ok := a.users[am.Username]
	a.mu.RUnlock()
	if !ok || bcrypt.CompareHashAndPassword(hash, []byte(am.Password)) != nil {
		return ErrAuthFailed
	}
	return nil
}

// authOf returns the authentication entry of the composite setup metadata.
func authOf(setup rsocket.SetupPayload) (am metadata.AuthMetadata, err error) {
	err = ErrAuthFailed
	if setup.HasMetadata() {
		var cm *metadata.CompositeMetadata
		if cm, err = metadata.ParseCompositeMetadata(setup.Metadata); err == nil {
			if e, ok := cm.FindEntry(metadata.MessageAuthentication); ok {
				return metadata.ParseAuthMetadata(e.Content)
			}
			err = ErrAuthFailed
		}
	}
	return
}

// Acceptor returns a SocketAcceptor that refuses connections whose setup
// does not authenticate, and passes the rest on to next.
func (a *SimpleAuthenticator) Acceptor(next rsocket.SocketAcceptor) rsocket.SocketAcceptor {
	return rsocket.AcceptorFunc(func(setup rsocket.SetupPayload, sendingSocket rsocket.RSocket) (rsocket.RSocket, error) {
		am, err := authOf(setup)
		if err == nil {
			err = a.Authenticate(am)
		}
		if err != nil {
			log.Info().Str("user", am.Username).Err(err).Msg("setup refused")
			return nil, ErrAuthFailed
		}
		return next.Accept(setup, sendingSocket)
	})
}
