package risk

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	QuoteAsset   string        `envconfig:"RISK_QUOTE_ASSET" default:"USDT"`
	Leverage     int64         `envconfig:"RISK_LEVERAGE" default:"1"`
	BalanceTTL   time.Duration `envconfig:"RISK_BALANCE_TTL" default:"5s"`
	RulesTTL     time.Duration `envconfig:"RISK_RULES_TTL" default:"1h"`
	WarnInterval time.Duration `envconfig:"RISK_WARN_INTERVAL" default:"1m"`
}

func GetConfig() Config {
	var config Config
	if err := envconfig.Process("", &config); err != nil {
		panic(fmt.Errorf("error processing env config: %w", err))
	}
	return config
}
