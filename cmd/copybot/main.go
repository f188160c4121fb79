package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/polycopy/copybot/api"
	"github.com/polycopy/copybot/internal/config"
	"github.com/polycopy/copybot/pkg/bot"
	"github.com/polycopy/copybot/pkg/copytrade"
	"github.com/polycopy/copybot/pkg/polymarket"
	"github.com/polycopy/copybot/pkg/state"
	"github.com/polycopy/copybot/pkg/trader"
)

var (
	cfgFile      string
	flagPaper    bool
	flagAmount   float64
	flagBankroll float64
	flagWallets  string
	logger       *logrus.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "copybot",
		Short: "Polymarket BTC 5-minute copy-trade bot",
		Long: `Monitors specific wallets and copies their BTC 5-minute bets,
tracking bankroll and enforcing daily risk limits. Do not run concurrently
with the history tool against the same state files.`,
		Run: runBot,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.Flags().BoolVar(&flagPaper, "paper", false, "force paper trading")
	rootCmd.Flags().Float64Var(&flagAmount, "amount", 0, "bet amount in USD")
	rootCmd.Flags().Float64Var(&flagBankroll, "bankroll", 0, "starting bankroll override")
	rootCmd.Flags().StringVar(&flagWallets, "wallets", "", "comma-separated wallet addresses to copy")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func runBot(cmd *cobra.Command, args []string) {
	logger = logrus.New()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	setupLogger(logger, cfg.Logging)

	paperMode := flagPaper || cfg.Trading.PaperTrade
	betAmount := cfg.Trading.BetAmount
	if cmd.Flags().Changed("amount") {
		betAmount = flagAmount
	}

	wallets := cfg.Copy.Wallets
	if flagWallets != "" {
		wallets = config.SplitWallets(flagWallets)
	}
	if len(wallets) == 0 {
		logger.Fatal("No wallets to copy. Set copy.wallets, COPY_WALLETS, or use --wallets")
	}

	limits := state.Limits{
		MaxDailyBets: cfg.Trading.MaxDailyBets,
		MaxDailyLoss: cfg.Trading.MaxDailyLoss,
		BetAmount:    betAmount,
	}
	store := state.NewStore(cfg.Files.StatePath, cfg.Files.HistoryPath, limits, logger)
	switch store.Load() {
	case state.Loaded:
		logger.WithField("path", cfg.Files.StatePath).Info("Trading state loaded")
	case state.Recovered:
		logger.Warn("Trading state was corrupt; RECOVERED with defaults")
	case state.Absent:
		logger.Info("No prior trading state, starting fresh")
	}

	if cmd.Flags().Changed("bankroll") {
		store.SetBankroll(flagBankroll)
	} else if cfg.Trading.StartBankroll > 0 {
		store.SetBankroll(cfg.Trading.StartBankroll)
	}

	var auth *polymarket.Auth
	if !paperMode {
		auth, err = polymarket.NewAuth(cfg.Polymarket.Address, cfg.Polymarket.APIKey,
			cfg.Polymarket.APISecret, cfg.Polymarket.Passphrase)
		if err != nil {
			logger.WithError(err).Fatal("Live mode requires CLOB credentials")
		}
	}

	client := polymarket.NewClient(polymarket.ClientConfig{
		GammaURL:   cfg.Polymarket.GammaURL,
		ClobURL:    cfg.Polymarket.ClobURL,
		DataAPIURL: cfg.Polymarket.DataAPIURL,
		RateLimit:  cfg.Polymarket.RateLimitRPS,
		Auth:       auth,
	}, logger)

	var exec trader.Trader
	if paperMode {
		exec = trader.NewPaperTrader(logger)
		logger.Info("Paper trading mode")
	} else {
		exec, err = trader.NewLiveTrader(client, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to initialize live trader")
		}
		logger.Warn("LIVE trading mode")
	}
	logger.Infof("API key: %s", cfg.MaskedAPIKey())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var prices bot.PriceCache
	if cfg.Polymarket.EnableStream {
		stream := polymarket.NewStream(cfg.Polymarket.WSURL, logger)
		if err := stream.Connect(ctx); err != nil {
			logger.WithError(err).Warn("Market stream unavailable, continuing without it")
		} else {
			defer stream.Close()
			prices = stream
		}
	}

	if cfg.Server.Port > 0 {
		server := api.NewServer(store, logger, fmt.Sprintf("%d", cfg.Server.Port))
		go func() {
			if err := server.Start(); err != nil {
				logger.WithError(err).Error("Status API server stopped")
			}
		}()
	}

	monitor := copytrade.NewMonitor(client, wallets, logger)
	b := bot.New(store, exec, client, monitor, prices, bot.Config{
		BetAmount:    betAmount,
		MinBet:       cfg.Trading.MinBet,
		PollInterval: time.Duration(cfg.Trading.PollIntervalSeconds) * time.Second,
		Wallets:      wallets,
	}, logger)

	if err := b.Run(ctx); err != nil {
		logger.WithError(err).Fatal("Bot exited with error")
	}
}

func setupLogger(log *logrus.Logger, cfg config.LoggingConfig) {
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05",
		})
	}

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		log.WithError(err).Error("Invalid log level, using INFO")
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
}
