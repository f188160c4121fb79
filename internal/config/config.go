// Package config loads and validates the bot configuration from a yaml
// file, environment variables, and (optionally) GCP Secret Manager.
package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/polycopy/copybot/pkg/polymarket"
	"github.com/polycopy/copybot/pkg/secrets"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Trading    TradingConfig    `mapstructure:"trading"`
	Copy       CopyConfig       `mapstructure:"copy"`
	Polymarket PolymarketConfig `mapstructure:"polymarket"`
	Files      FilesConfig      `mapstructure:"files"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	GCP        GCPConfig        `mapstructure:"gcp"`
}

type ServerConfig struct {
	// Port for the read-only status API; 0 disables it.
	Port int `mapstructure:"port"`
}

type TradingConfig struct {
	BetAmount           float64 `mapstructure:"bet_amount"`
	MinBet              float64 `mapstructure:"min_bet"`
	MaxDailyBets        int     `mapstructure:"max_daily_bets"`
	MaxDailyLoss        float64 `mapstructure:"max_daily_loss"`
	StartBankroll       float64 `mapstructure:"start_bankroll"`
	PollIntervalSeconds int     `mapstructure:"poll_interval_seconds"`
	PaperTrade          bool    `mapstructure:"paper_trade"`
}

type CopyConfig struct {
	Wallets []string `mapstructure:"wallets"`
}

type PolymarketConfig struct {
	GammaURL   string `mapstructure:"gamma_url"`
	ClobURL    string `mapstructure:"clob_url"`
	DataAPIURL string `mapstructure:"data_api_url"`
	WSURL      string `mapstructure:"ws_url"`

	// CLOB L2 credentials, live mode only.
	Address    string `mapstructure:"address"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	Passphrase string `mapstructure:"passphrase"`

	RateLimitRPS float64 `mapstructure:"rate_limit_rps"`
	EnableStream bool    `mapstructure:"enable_stream"`
}

type FilesConfig struct {
	StatePath   string `mapstructure:"state_path"`
	HistoryPath string `mapstructure:"history_path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

type GCPConfig struct {
	ProjectID       string              `mapstructure:"project_id"`
	UseSecrets      bool                `mapstructure:"use_secrets"`
	CredentialsFile string              `mapstructure:"credentials_file"`
	SecretNames     secrets.SecretNames `mapstructure:"secret_names"`
}

// Load reads configuration with the priority: env vars > config file >
// defaults. A local .env file is loaded first so credentials can live
// outside the yaml.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/copybot")
	}

	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
		// No config file; defaults and environment carry it.
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	overrideFromEnv(&cfg)

	if cfg.GCP.UseSecrets && cfg.GCP.ProjectID != "" {
		if err := loadSecretsFromGCP(context.Background(), &cfg); err != nil {
			return nil, fmt.Errorf("error loading secrets from GCP: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 0)

	v.SetDefault("trading.bet_amount", 10.0)
	v.SetDefault("trading.min_bet", 1.0)
	v.SetDefault("trading.max_daily_bets", 20)
	v.SetDefault("trading.max_daily_loss", 30.0)
	v.SetDefault("trading.start_bankroll", 0.0)
	v.SetDefault("trading.poll_interval_seconds", 5)
	v.SetDefault("trading.paper_trade", true)

	v.SetDefault("copy.wallets", []string{})

	v.SetDefault("polymarket.gamma_url", polymarket.DefaultGammaURL)
	v.SetDefault("polymarket.clob_url", polymarket.DefaultClobURL)
	v.SetDefault("polymarket.data_api_url", polymarket.DefaultDataAPIURL)
	v.SetDefault("polymarket.ws_url", polymarket.DefaultWSURL)
	v.SetDefault("polymarket.rate_limit_rps", 5.0)
	v.SetDefault("polymarket.enable_stream", false)

	v.SetDefault("files.state_path", "trades.json")
	v.SetDefault("files.history_path", "trade_history_full.json")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("gcp.use_secrets", false)
	v.SetDefault("gcp.project_id", "")
	v.SetDefault("gcp.credentials_file", "")

	names := secrets.DefaultSecretNames()
	v.SetDefault("gcp.secret_names.address", names.Address)
	v.SetDefault("gcp.secret_names.api_key", names.APIKey)
	v.SetDefault("gcp.secret_names.api_secret", names.APISecret)
	v.SetDefault("gcp.secret_names.passphrase", names.Passphrase)
}

func overrideFromEnv(cfg *Config) {
	if address := os.Getenv("POLY_ADDRESS"); address != "" {
		cfg.Polymarket.Address = address
	}
	if apiKey := os.Getenv("POLY_API_KEY"); apiKey != "" {
		cfg.Polymarket.APIKey = apiKey
	}
	if apiSecret := os.Getenv("POLY_API_SECRET"); apiSecret != "" {
		cfg.Polymarket.APISecret = apiSecret
	}
	if passphrase := os.Getenv("POLY_PASSPHRASE"); passphrase != "" {
		cfg.Polymarket.Passphrase = passphrase
	}

	if wallets := os.Getenv("COPY_WALLETS"); wallets != "" {
		cfg.Copy.Wallets = splitWallets(wallets)
	}

	if projectID := os.Getenv("GCP_PROJECT_ID"); projectID != "" {
		cfg.GCP.ProjectID = projectID
	}
	if useSecrets := os.Getenv("GCP_USE_SECRETS"); useSecrets == "true" {
		cfg.GCP.UseSecrets = true
	}
}

func loadSecretsFromGCP(ctx context.Context, cfg *Config) error {
	logger := logrus.New()
	manager, err := secrets.NewGCPSecretManager(ctx, cfg.GCP.ProjectID, cfg.GCP.CredentialsFile, logger)
	if err != nil {
		return fmt.Errorf("failed to create secret manager: %w", err)
	}
	defer manager.Close()

	// Only fill in credentials not already provided.
	if cfg.Polymarket.Address == "" {
		cfg.Polymarket.Address = manager.GetSecretWithDefault(ctx, cfg.GCP.SecretNames.Address, "")
	}
	if cfg.Polymarket.APIKey == "" {
		cfg.Polymarket.APIKey = manager.GetSecretWithDefault(ctx, cfg.GCP.SecretNames.APIKey, "")
	}
	if cfg.Polymarket.APISecret == "" {
		cfg.Polymarket.APISecret = manager.GetSecretWithDefault(ctx, cfg.GCP.SecretNames.APISecret, "")
	}
	if cfg.Polymarket.Passphrase == "" {
		cfg.Polymarket.Passphrase = manager.GetSecretWithDefault(ctx, cfg.GCP.SecretNames.Passphrase, "")
	}

	logger.Info("Loaded secrets from GCP Secret Manager")
	return nil
}

// Validate checks that the numeric knobs make sense. Credential presence is
// checked where live mode is constructed, not here, because paper mode
// needs none.
func (c *Config) Validate() error {
	if c.Trading.BetAmount <= 0 {
		return fmt.Errorf("trading.bet_amount must be positive")
	}
	if c.Trading.MinBet <= 0 {
		return fmt.Errorf("trading.min_bet must be positive")
	}
	if c.Trading.MaxDailyBets < 1 {
		return fmt.Errorf("trading.max_daily_bets must be at least 1")
	}
	if c.Trading.MaxDailyLoss <= 0 {
		return fmt.Errorf("trading.max_daily_loss must be positive")
	}
	if c.Trading.PollIntervalSeconds < 1 {
		return fmt.Errorf("trading.poll_interval_seconds must be at least 1")
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 0 and 65535")
	}
	return nil
}

// MaskedAPIKey returns the API key safe for logging.
func (c *Config) MaskedAPIKey() string {
	return maskSecret(c.Polymarket.APIKey)
}

func maskSecret(s string) string {
	if len(s) == 0 {
		return "(not set)"
	}
	if len(s) <= 8 {
		return "****"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// splitWallets parses a comma-separated wallet list.
func splitWallets(s string) []string {
	var wallets []string
	for _, w := range strings.Split(s, ",") {
		if w = strings.TrimSpace(w); w != "" {
			wallets = append(wallets, w)
		}
	}
	return wallets
}

// SplitWallets is the exported form for CLI flag parsing.
func SplitWallets(s string) []string {
	return splitWallets(s)
}
