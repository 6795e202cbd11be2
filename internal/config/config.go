package config

import (
	"flag"
	"os"
	"time"

	"go.uber.org/zap"
)

type Config struct {
	RunAddress      string
	DatabaseURI     string
	GatewayAddress  string
	GatewayToken    string
	NotifierAddress string
	ResultURL       string
	Key             string
	MaxQuantity     int
	ReserveTTL      time.Duration
	SweepInterval   time.Duration
	Logger          *zap.SugaredLogger
}

func NewConfig() *Config {
	logCfg := zap.NewProductionConfig()
	logCfg.OutputPaths = []string{"stdout", "server.log"}

	logger := zap.Must(logCfg.Build())

	cfg := &Config{}
	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "HTTP server address")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "DB connection string")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")
	flag.StringVar(&cfg.GatewayToken, "t", "", "payment gateway bearer token")
	flag.StringVar(&cfg.NotifierAddress, "n", "", "notification service address")
	flag.StringVar(&cfg.ResultURL, "u", "/checkout/result", "storefront result page URL")
	flag.StringVar(&cfg.Key, "k", "", "buyer token signing key")
	flag.IntVar(&cfg.MaxQuantity, "q", 100, "max ticket quantity per order")
	flag.DurationVar(&cfg.ReserveTTL, "ttl", 15*time.Minute, "reservation lifetime before sweep")
	flag.DurationVar(&cfg.SweepInterval, "sweep", time.Minute, "reservation sweep interval")
	flag.Parse()

	cfg.Logger = logger.Sugar()

	ReadServerEnvironment(cfg)

	return cfg
}

func ReadServerEnvironment(cfg *Config) {
	if runAddress := os.Getenv("RUN_ADDRESS"); runAddress != "" {
		cfg.RunAddress = runAddress
	}

	if databaseURI := os.Getenv("DATABASE_URI"); databaseURI != "" {
		cfg.DatabaseURI = databaseURI
	}

	if gatewayAddress := os.Getenv("GATEWAY_ADDRESS"); gatewayAddress != "" {
		cfg.GatewayAddress = gatewayAddress
	}

	if gatewayToken := os.Getenv("GATEWAY_TOKEN"); gatewayToken != "" {
		cfg.GatewayToken = gatewayToken
	}

	if notifierAddress := os.Getenv("NOTIFIER_ADDRESS"); notifierAddress != "" {
		cfg.NotifierAddress = notifierAddress
	}

	if resultURL := os.Getenv("RESULT_URL"); resultURL != "" {
		cfg.ResultURL = resultURL
	}

	if key := os.Getenv("RAFFLE_KEY"); key != "" {
		cfg.Key = key
	}

	if ttl := os.Getenv("RESERVE_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			cfg.ReserveTTL = d
		}
	}

	if interval := os.Getenv("SWEEP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			cfg.SweepInterval = d
		}
	}
}
