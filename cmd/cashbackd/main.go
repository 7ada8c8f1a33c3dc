package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/perqly/cashback/internal/events"
	"github.com/perqly/cashback/internal/httpserver"
	"github.com/perqly/cashback/internal/oplog"
	"github.com/perqly/cashback/internal/registry/gormregistry"
	"github.com/perqly/cashback/internal/store/gormstore"
	"github.com/perqly/cashback/pkg/cashback"
)

const (
	flagDatabaseURL     = "database-url"
	flagListenAddr      = "listen-addr"
	flagSigningKey      = "signing-key"
	flagTotalPercent    = "cashback-total-percent"
	flagClientPercent   = "cashback-client-percent"
	flagOperatorPercent = "cashback-operator-percent"
	flagMinimumGross    = "minimum-gross"

	configKeyDatabaseURL     = "database_url"
	configKeyListenAddr      = "listen_addr"
	configKeySigningKey      = "signing_key"
	configKeyTotalPercent    = "cashback_total_percent"
	configKeyClientPercent   = "cashback_client_percent"
	configKeyOperatorPercent = "cashback_operator_percent"
	configKeyMinimumGross    = "minimum_gross"

	defaultDatabaseURL = "sqlite:///tmp/cashback.db"
	defaultListenAddr  = ":8080"
	tokenIssuer        = "cashbackd"
	tokenTTL           = 24 * time.Hour
	shutdownGrace      = 10 * time.Second
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	SigningKey      string
	TotalPercent    string
	ClientPercent   string
	OperatorPercent string
	MinimumGross    string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "cashbackd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "cashbackd",
		Short:         "Cashback ledger and settlement server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "PostgreSQL connection string or sqlite path")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagSigningKey, "", "HMAC key for bearer tokens")
	cmd.Flags().String(flagTotalPercent, "10", "total cashback percent of the net sale")
	cmd.Flags().String(flagClientPercent, "5", "customer's part of the cashback percent")
	cmd.Flags().String(flagOperatorPercent, "5", "operator's part of the cashback percent")
	cmd.Flags().String(flagMinimumGross, "0.01", "minimum gross amount for a sale")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	bindings := map[string]string{
		configKeyDatabaseURL:     "DATABASE_URL",
		configKeyListenAddr:      "HTTP_LISTEN_ADDR",
		configKeySigningKey:      "TOKEN_SIGNING_KEY",
		configKeyTotalPercent:    "CASHBACK_TOTAL_PERCENT",
		configKeyClientPercent:   "CASHBACK_CLIENT_PERCENT",
		configKeyOperatorPercent: "CASHBACK_OPERATOR_PERCENT",
		configKeyMinimumGross:    "MINIMUM_GROSS",
	}
	for key, env := range bindings {
		if err := viper.BindEnv(key, env); err != nil {
			return err
		}
	}
	flags := map[string]string{
		configKeyDatabaseURL:     flagDatabaseURL,
		configKeyListenAddr:      flagListenAddr,
		configKeySigningKey:      flagSigningKey,
		configKeyTotalPercent:    flagTotalPercent,
		configKeyClientPercent:   flagClientPercent,
		configKeyOperatorPercent: flagOperatorPercent,
		configKeyMinimumGross:    flagMinimumGross,
	}
	for key, flag := range flags {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	cfg.SigningKey = viper.GetString(configKeySigningKey)
	cfg.TotalPercent = viper.GetString(configKeyTotalPercent)
	cfg.ClientPercent = viper.GetString(configKeyClientPercent)
	cfg.OperatorPercent = viper.GetString(configKeyOperatorPercent)
	cfg.MinimumGross = viper.GetString(configKeyMinimumGross)

	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	if cfg.SigningKey == "" {
		return fmt.Errorf("token signing key is required")
	}
	return nil
}

func cashbackConfig(cfg *runtimeConfig) (cashback.CashbackConfig, error) {
	total, err := decimal.NewFromString(cfg.TotalPercent)
	if err != nil {
		return cashback.CashbackConfig{}, fmt.Errorf("parse total percent: %w", err)
	}
	client, err := decimal.NewFromString(cfg.ClientPercent)
	if err != nil {
		return cashback.CashbackConfig{}, fmt.Errorf("parse client percent: %w", err)
	}
	operator, err := decimal.NewFromString(cfg.OperatorPercent)
	if err != nil {
		return cashback.CashbackConfig{}, fmt.Errorf("parse operator percent: %w", err)
	}
	minimumGross, err := decimal.NewFromString(cfg.MinimumGross)
	if err != nil {
		return cashback.CashbackConfig{}, fmt.Errorf("parse minimum gross: %w", err)
	}
	config := cashback.CashbackConfig{
		TotalPercent:    total,
		ClientPercent:   client,
		OperatorPercent: operator,
		MinimumGross:    minimumGross,
	}
	if err := config.Validate(); err != nil {
		return cashback.CashbackConfig{}, err
	}
	return config, nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	percentages, err := cashbackConfig(cfg)
	if err != nil {
		return fmt.Errorf("cashback config: %w", err)
	}

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	registry, err := gormregistry.New(gormDB, percentages)
	if err != nil {
		return fmt.Errorf("registry init: %w", err)
	}

	dispatcher := events.NewDispatcher(nil, logger, 0)
	go dispatcher.Run(ctx)

	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := cashback.NewService(store, registry, clock,
		cashback.WithOperationLogger(oplog.NewZapLogger(logger)),
		cashback.WithEventSink(dispatcher),
	)
	if err != nil {
		return fmt.Errorf("service init: %w", err)
	}

	router := httpserver.NewRouter(service, httpserver.Config{
		Auth: httpserver.AuthConfig{
			SigningKey: cfg.SigningKey,
			Issuer:     tokenIssuer,
			TokenTTL:   tokenTTL,
		},
		ReleaseMode: true,
	}, logger)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("listen_addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return err
		}
		<-dispatcher.Done()
		if serveErr := <-errCh; serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return serveErr
		}
		return nil
	case serveErr := <-errCh:
		if errors.Is(serveErr, http.ErrServerClosed) {
			return nil
		}
		return serveErr
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{TranslateError: true}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "cashback.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	models := append(gormstore.Models(), gormregistry.Models()...)
	if err := db.AutoMigrate(models...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
