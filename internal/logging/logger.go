// Package logging configures the process-wide zerolog logger and collects
// the structured start-up summary the Lambda emits on cold start.
package logging

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LevelEnv names the variable holding the log level.
const LevelEnv = "HIGHLIGHTS_LOG_LEVEL"

// Init sets the global level from HIGHLIGHTS_LOG_LEVEL (debug, info, warn,
// error; default info). Outside Lambda the output is a human-readable
// console writer on stderr; inside Lambda it stays JSON so CloudWatch can
// index the fields.
func Init() {
	zerolog.SetGlobalLevel(Level(os.Getenv(LevelEnv)))
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMs

	if os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

// Level maps a level name onto a zerolog level, defaulting to info.
func Level(name string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
