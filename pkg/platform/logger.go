package platform

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger. Development mode writes human
// readable output to stderr, everything else writes JSON to stdout.
func InitLogger(level string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if GetEnv("ENV", "") == "development" {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}
