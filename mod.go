// Package privdao is the root of a client for a confidential voting protocol.
// Proposals live on a public ledger, vote choices are encrypted on the voter's
// side and only the aggregated tallies are ever revealed.
//
// The package holds the process-wide logger and the list of Prometheus
// collectors that the sub-packages contribute to.
package privdao

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// EnvLogLevel is the name of the environment variable that overrides the
// default logging level.
const EnvLogLevel = "PRIVDAO_LOG_LEVEL"

var logout = zerolog.ConsoleWriter{
	Out:        os.Stdout,
	TimeFormat: time.RFC3339,
}

// Logger is a globally available logger instance. By default, it only prints
// info level messages but it can be changed through a environment variable.
var Logger = zerolog.New(logout).Level(defaultLevel()).
	With().Timestamp().Logger().
	With().Caller().Logger()

// PromCollectors exposes Prometheus collectors created by the packages. The
// collectors are only registered when a metrics endpoint is started.
var PromCollectors []prometheus.Collector

// SetLevel changes the level of the global logger. An unknown level is
// ignored and the current one is kept.
func SetLevel(level string) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		return
	}

	Logger = Logger.Level(lvl)
}

func defaultLevel() zerolog.Level {
	lvl, err := zerolog.ParseLevel(os.Getenv(EnvLogLevel))
	if err != nil || os.Getenv(EnvLogLevel) == "" {
		return zerolog.InfoLevel
	}

	return lvl
}
