package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	env "github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
)

type Config struct {
	DatabaseURL    string `env:"DATABASE_URL,required,notEmpty"`
	MigrationsPath string `env:"MIGRATIONS_PATH" envDefault:"migrations"`
	Port           int    `env:"PORT" envDefault:"8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	AppEnv         string `env:"APP_ENV" envDefault:"production"`

	// LogFormat overrides the format derived from APP_ENV.
	LogFormat string `env:"LOG_FORMAT"`

	DBMaxOpenConns     int `env:"DB_MAX_OPEN_CONNS" envDefault:"25"`
	DBMaxIdleConns     int `env:"DB_MAX_IDLE_CONNS" envDefault:"10"`
	DBConnMaxLifetimeS int `env:"DB_CONN_MAX_LIFETIME_S" envDefault:"300"`
	DBConnMaxIdleTimeS int `env:"DB_CONN_MAX_IDLE_TIME_S" envDefault:"60"`
	DBConnectAttempts  int `env:"DB_CONNECT_ATTEMPTS" envDefault:"30"`

	// OpsJWTSecret signs operator tokens. The /ops routes are not mounted
	// without it.
	OpsJWTSecret string `env:"OPS_JWT_SECRET"`

	LockTimeout        time.Duration `env:"LOCK_TIMEOUT" envDefault:"3s"`
	SideChannelTimeout time.Duration `env:"SIDE_CHANNEL_TIMEOUT" envDefault:"2s"`

	SupportedCurrencies []string `env:"SUPPORTED_CURRENCIES" envDefault:"USD,EUR,GBP,NGN,KES" envSeparator:","`
	PaymentMethods      []string `env:"PAYMENT_METHODS" envDefault:"card,bank_transfer,mobile_money" envSeparator:","`

	// Per transaction type amount bounds as type:min-max.
	TxLimits map[string]string `env:"TX_LIMITS" envSeparator:"," envKeyValSeparator:":" envDefault:"deposit:1.00-50000.00,withdrawal:1.00-20000.00,payment:0.50-20000.00,refund:0.01-20000.00,payout:5.00-50000.00,tip:0.50-500.00,commission:0.01-20000.00,tax:0.01-20000.00,cashback:0.01-1000.00,bonus:0.01-1000.00,earning:0.01-50000.00,subscription:0.50-1000.00,reversal:0.01-50000.00"`

	// Maximum balance per wallet type. Zero means unbounded.
	WalletCeilings map[string]string `env:"WALLET_CEILINGS" envSeparator:"," envKeyValSeparator:":" envDefault:"main:100000.00,earnings:500000.00,rewards:10000.00,platform_revenue:0,tax_holding:0"`

	Driver   RoleRevenue `envPrefix:"REVENUE_DRIVER_"`
	Merchant RoleRevenue `envPrefix:"REVENUE_MERCHANT_"`

	TaxRates       map[string]string `env:"TAX_RATES" envSeparator:"," envKeyValSeparator:":" envDefault:"US:0.16,GB:0.20,NG:0.075,KE:0.16"`
	DefaultTaxRate decimal.Decimal   `env:"DEFAULT_TAX_RATE" envDefault:"0.16"`

	// Points granted per currency unit, keyed by reward action.
	RewardRuleRates map[string]string `env:"REWARD_RULES" envSeparator:"," envKeyValSeparator:":" envDefault:"order_payment:1,tip:0.5,subscription:2"`
	RewardMinAmount decimal.Decimal   `env:"REWARD_MIN_AMOUNT" envDefault:"1.00"`

	KafkaBrokers           []string `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaNotificationTopic string   `env:"KAFKA_NOTIFICATION_TOPIC" envDefault:"wallet.transactions"`
	KafkaAuditTopic        string   `env:"KAFKA_AUDIT_TOPIC" envDefault:"wallet.audit"`

	RedisAddr          string `env:"REDIS_ADDR"`
	RedisPassword      string `env:"REDIS_PASSWORD"`
	RedisDB            int    `env:"REDIS_DB" envDefault:"0"`
	RedisChannelPrefix string `env:"REDIS_CHANNEL_PREFIX" envDefault:"wallet:events:"`

	GamificationURL             string        `env:"GAMIFICATION_URL" envDefault:"http://mock-gamification:8082"`
	GamificationTimeout         time.Duration `env:"GAMIFICATION_TIMEOUT" envDefault:"2s"`
	GamificationMaxRetries      uint64        `env:"GAMIFICATION_MAX_RETRIES" envDefault:"2"`
	GamificationBreakerFailures uint32        `env:"GAMIFICATION_BREAKER_FAILURES" envDefault:"5"`
	GamificationBreakerTimeout  time.Duration `env:"GAMIFICATION_BREAKER_TIMEOUT" envDefault:"30s"`
}

// RoleRevenue holds one role's commission schedule.
type RoleRevenue struct {
	BaseRate      decimal.Decimal `env:"BASE_RATE" envDefault:"0.15"`
	PremiumRate   decimal.Decimal `env:"PREMIUM_RATE" envDefault:"0.10"`
	BaseShare     decimal.Decimal `env:"BASE_SHARE" envDefault:"0.85"`
	PremiumShare  decimal.Decimal `env:"PREMIUM_SHARE" envDefault:"0.90"`
	MinCommission decimal.Decimal `env:"MIN_COMMISSION" envDefault:"0.50"`
	MaxCommission decimal.Decimal `env:"MAX_COMMISSION" envDefault:"20.00"`
	ProcessingFee decimal.Decimal `env:"PROCESSING_FEE" envDefault:"0.15"`
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config.Load: .env: %w", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}

	if _, err := cfg.ValidationRules(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if _, err := cfg.Ceilings(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if _, err := cfg.RevenueTable(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	if _, err := cfg.RewardRules(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

func parseDecimalMap(name string, raw map[string]string) (map[string]decimal.Decimal, error) {
	out := make(map[string]decimal.Decimal, len(raw))
	for k, v := range raw {
		d, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", name, k, err)
		}
		if d.IsNegative() {
			return nil, fmt.Errorf("%s: %s: must not be negative", name, k)
		}
		out[strings.TrimSpace(k)] = d
	}
	return out, nil
}
