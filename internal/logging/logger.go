// Package logging sets up the zerolog console logger used by the commands.
package logging

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger makes a console logger tagged with app the global logger.
func InitLogger(app string) zerolog.Logger {
	return initLogger(os.Stderr, app)
}

func initLogger(w io.Writer, app string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        w,
		TimeFormat: time.RFC3339,
	}
	logger := zerolog.New(output).With().Timestamp().Str("app", app).Logger()
	log.Logger = logger
	return logger
}

// SetLevel sets the global log level by name.
func SetLevel(name string) error {
	lvl, err := zerolog.ParseLevel(name)
	if err != nil {
		return errors.WithStack(err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}
