package guard

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName string `envconfig:"APP_NAME" default:"position-guard"`
	// StreamMaxAge is how long a pushed position stays usable for verification.
	StreamMaxAge  time.Duration `envconfig:"POSITION_STREAM_MAX_AGE" default:"30s"`
	EnableStreams bool          `envconfig:"ENABLE_POSITION_STREAMS" default:"true"`
	EnableServer  bool          `envconfig:"ENABLE_SERVER" default:"true"`
	LogLevel      string        `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat     string        `envconfig:"LOG_FORMAT" default:"text"` // text | json
}

func GetConfig() *Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return &config
}
