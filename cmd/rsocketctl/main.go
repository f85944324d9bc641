// Command rsocketctl serves, proxies, calls and benchmarks routed
// RSocket services.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/linkdata/rsocket"
	"github.com/linkdata/rsocket/internal/config"
	"github.com/linkdata/rsocket/internal/logging"
	"github.com/linkdata/rsocket/metadata"
	"github.com/pkg/errors"
	"github.com/pkg/profile"
	"github.com/spf13/cobra"
)

type app struct {
	configPath string
	logLevel   string
	profile    string
	netLog     bool
	servers    []string
	cfg        config.Config
	prof       interface{ Stop() }
}

func main() {
	a := &app{}
	rootCmd := &cobra.Command{
		Use:   "rsocketctl",
		Short: "Serve, proxy and call RSocket services",
		Long: `rsocketctl works with services routed by "Service.method" keys
carrying JSON data over RSocket.

Server URLs take the form tcp://host:port, ws://host:port/path,
wss://host:port/path or quic://host:port.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "TOML configuration file")
	flags.StringVar(&a.logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&a.profile, "profile", "", "write a cpu or mem profile to the current directory")
	flags.BoolVar(&a.netLog, "netlog", false, "log every frame at debug level")
	flags.StringSliceVarP(&a.servers, "server", "s", nil, "server URL to connect to (repeatable)")

	rootCmd.AddCommand(
		serveCmd(a),
		gatewayCmd(a),
		requestCmd(a),
		benchCmd(a),
	)

	err := rootCmd.Execute()
	a.stopProfile()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and applies the global flags.
func (a *app) setup(cmd *cobra.Command, args []string) (err error) {
	logging.InitLogger(cmd.Root().Name())
	a.cfg = config.Default()
	if a.configPath != "" {
		if a.cfg, err = config.Load(a.configPath); err != nil {
			return err
		}
	}
	if a.logLevel != "" {
		a.cfg.LogLevel = a.logLevel
	}
	if a.netLog {
		a.cfg.NetLog = true
	}
	if len(a.servers) > 0 {
		a.cfg.Servers = a.servers
	}
	if err = a.cfg.Validate(); err != nil {
		return err
	}
	if err = logging.SetLevel(a.cfg.LogLevel); err != nil {
		return err
	}
	switch a.profile {
	case "":
	case "cpu":
		a.prof = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "mem":
		a.prof = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	default:
		return errors.Errorf("unknown profile %q", a.profile)
	}
	return nil
}

func (a *app) stopProfile() {
	if a.prof != nil {
		a.prof.Stop()
		a.prof = nil
	}
}

// newClient returns a Client for the configured servers, authenticating
// if a username is configured.
func (a *app) newClient() (*rsocket.Client, error) {
	var md []byte
	if a.cfg.Username != "" {
		cm, err := metadata.FromEntries(metadata.SimpleAuth(a.cfg.Username, a.cfg.Password))
		if err != nil {
			return nil, err
		}
		md = cm.Bytes()
	}
	c := rsocket.NewClient(a.cfg.Connector(md), a.cfg.Servers...)
	c.DialTimeout = a.cfg.DialTimeout
	return c, nil
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
}
