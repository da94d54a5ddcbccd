package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var once sync.Once

// Init configures the global zerolog logger. An empty level means INFO; an
// unknown level is reported and also falls back to INFO.
func Init(appName, logLevel string) {
	once.Do(func() {
		if appName == "" {
			appName = "lungscan-api"
		}
		if err := setLogLevel(logLevel); err != nil {
			log.Warn().Err(err).Msg("falling back to INFO")
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
		}
		log.Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "02-01-2006 15:04:05.000",
			FormatLevel: func(i interface{}) string {
				return strings.ToUpper(fmt.Sprintf("%-6s", i))
			},
			FieldsExclude: []string{"applicationName"},
		}).With().Timestamp().Caller().Str("applicationName", appName).Logger()
	})
}

func setLogLevel(logLevel string) error {
	switch strings.ToUpper(logLevel) {
	case "DEBUG":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "", "INFO":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "WARN":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "ERROR":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	case "FATAL":
		zerolog.SetGlobalLevel(zerolog.FatalLevel)
	case "DISABLED":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		return fmt.Errorf("incorrect log level %s", logLevel)
	}
	return nil
}
