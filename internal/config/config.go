// Package config loads the rsocketctl configuration file.
package config

import (
	"crypto/tls"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/metadata"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

// Config holds the settings shared by the rsocketctl commands.
type Config struct {
	Listen           []string          // server listen URLs
	Servers          []string          // URLs the client side connects to
	MaxConns         int               // server connection limit
	TLSCert          string            // PEM certificate file, required for wss and quic listeners
	TLSKey           string            // PEM key file
	Insecure         bool              // skip server certificate verification when dialing
	KeepAlive        time.Duration     // keepalive interval announced in SETUP
	MaxLifetime      time.Duration     // max lifetime announced in SETUP
	DialTimeout      time.Duration     // client dialing timeout
	RequestTimeout   time.Duration     // gateway request-response timeout
	DataMimeType     string            // data MIME type announced in SETUP
	MetadataMimeType string            // metadata MIME type announced in SETUP
	Username         string            // client simple authentication user
	Password         string            // client simple authentication password
	Users            map[string]string // server users, name to bcrypt hash
	MetricsAddr      string            // HTTP address for /metrics, disabled if empty
	GatewayAddr      string            // HTTP address of the gateway
	LogLevel         string            // zerolog level name
	NetLog           bool              // log every frame
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Listen:           []string{rsocket.DefaultListenAddr},
		Servers:          []string{"tcp://127.0.0.1:7878"},
		MaxConns:         rsocket.DefaultMaxConns,
		KeepAlive:        rsocket.DefaultKeepAlive,
		MaxLifetime:      rsocket.DefaultMaxLifetime,
		DialTimeout:      time.Second * 10,
		RequestTimeout:   time.Second * 30,
		DataMimeType:     rsocket.DefaultDataMimeType,
		MetadataMimeType: metadata.MessageCompositeMetadata,
		GatewayAddr:      ":8080",
		LogLevel:         "info",
	}
}

type fileConfig struct {
	Listen           []string          `toml:"listen"`
	Servers          []string          `toml:"servers"`
	MaxConns         int               `toml:"max_conns"`
	TLSCert          string            `toml:"tls_cert"`
	TLSKey           string            `toml:"tls_key"`
	Insecure         bool              `toml:"insecure"`
	KeepAlive        string            `toml:"keepalive"`
	MaxLifetime      string            `toml:"max_lifetime"`
	DialTimeout      string            `toml:"dial_timeout"`
	RequestTimeout   string            `toml:"request_timeout"`
	DataMimeType     string            `toml:"data_mime_type"`
	MetadataMimeType string            `toml:"metadata_mime_type"`
	Username         string            `toml:"username"`
	Password         string            `toml:"password"`
	Users            map[string]string `toml:"users"`
	MetricsAddr      string            `toml:"metrics_addr"`
	GatewayAddr      string            `toml:"gateway_addr"`
	LogLevel         string            `toml:"log_level"`
	NetLog           bool              `toml:"netlog"`
}

func parseDuration(key, s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	return d, errors.Wrapf(err, "parse %s", key)
}

func normalize(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Load reads the TOML file at path. Keys present in the file override
// the defaults, and the result is validated.
func Load(path string) (Config, error) {
	cfg := Default()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, errors.Wrap(err, "load config")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, errors.Errorf("load config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("listen") {
		cfg.Listen = normalize(raw.Listen)
	}
	if meta.IsDefined("servers") {
		cfg.Servers = normalize(raw.Servers)
	}
	if meta.IsDefined("max_conns") {
		cfg.MaxConns = raw.MaxConns
	}
	if meta.IsDefined("tls_cert") {
		cfg.TLSCert = strings.TrimSpace(raw.TLSCert)
	}
	if meta.IsDefined("tls_key") {
		cfg.TLSKey = strings.TrimSpace(raw.TLSKey)
	}
	if meta.IsDefined("insecure") {
		cfg.Insecure = raw.Insecure
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"keepalive", raw.KeepAlive, &cfg.KeepAlive},
		{"max_lifetime", raw.MaxLifetime, &cfg.MaxLifetime},
		{"dial_timeout", raw.DialTimeout, &cfg.DialTimeout},
		{"request_timeout", raw.RequestTimeout, &cfg.RequestTimeout},
	} {
		if meta.IsDefined(d.key) {
			if *d.dst, err = parseDuration(d.key, d.raw); err != nil {
				return Config{}, err
			}
		}
	}
	if meta.IsDefined("data_mime_type") {
		cfg.DataMimeType = strings.TrimSpace(raw.DataMimeType)
	}
	if meta.IsDefined("metadata_mime_type") {
		cfg.MetadataMimeType = strings.TrimSpace(raw.MetadataMimeType)
	}
	if meta.IsDefined("username") {
		cfg.Username = raw.Username
	}
	if meta.IsDefined("password") {
		cfg.Password = raw.Password
	}
	if meta.IsDefined("users") {
		cfg.Users = raw.Users
	}
	if meta.IsDefined("metrics_addr") {
		cfg.MetricsAddr = strings.TrimSpace(raw.MetricsAddr)
	}
	if meta.IsDefined("gateway_addr") {
		cfg.GatewayAddr = strings.TrimSpace(raw.GatewayAddr)
	}
	if meta.IsDefined("log_level") {
		cfg.LogLevel = strings.TrimSpace(raw.LogLevel)
	}
	if meta.IsDefined("netlog") {
		cfg.NetLog = raw.NetLog
	}

	return cfg, cfg.Validate()
}

// Validate checks that the settings are usable together.
func (cfg Config) Validate() error {
	for _, u := range append(append([]string(nil), cfg.Listen...), cfg.Servers...) {
		if _, err := rsocket.ParseURL(u); err != nil {
			return errors.Wrapf(err, "url %q", u)
		}
	}
	if cfg.MaxConns < 1 {
		return errors.Errorf("max_conns must be positive, not %d", cfg.MaxConns)
	}
	if (cfg.TLSCert == "") != (cfg.TLSKey == "") {
		return errors.New("tls_cert and tls_key must be given together")
	}
	if cfg.KeepAlive <= 0 || cfg.MaxLifetime <= 0 {
		return errors.New("keepalive and max_lifetime must be positive")
	}
	if cfg.KeepAlive >= cfg.MaxLifetime {
		return errors.Errorf("keepalive %v must be less than max_lifetime %v", cfg.KeepAlive, cfg.MaxLifetime)
	}
	if cfg.DialTimeout < 0 || cfg.RequestTimeout < 0 {
		return errors.New("timeouts must not be negative")
	}
	if cfg.DataMimeType == "" || cfg.MetadataMimeType == "" {
		return errors.New("mime types must not be empty")
	}
	if cfg.Password != "" && cfg.Username == "" {
		return errors.New("password given without username")
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		return errors.Wrap(err, "log_level")
	}
	return nil
}

// TLSConfig returns the server TLS configuration, or nil if no
// certificate is configured.
func (cfg Config) TLSConfig() (*tls.Config, error) {
	if cfg.TLSCert == "" {
		return nil, nil
	}
	cert, err := tls.LoadX509KeyPair(cfg.TLSCert, cfg.TLSKey)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}, nil
}

// Connector returns a Connector announcing the configured session
// parameters and credentials.
func (cfg Config) Connector(setupMetadata []byte) *rsocket.Connector {
	return &rsocket.Connector{
		SetupPayload:     rsocket.Payload{Metadata: setupMetadata},
		KeepAlive:        cfg.KeepAlive,
		MaxLifetime:      cfg.MaxLifetime,
		DataMimeType:     cfg.DataMimeType,
		MetadataMimeType: cfg.MetadataMimeType,
		Dialer: rsocket.Dialer{
			Timeout:  cfg.DialTimeout,
			Insecure: cfg.Insecure,
		},
		NetLog: cfg.NetLog,
	}
}
