package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/MarkoPoloResearchLab/jackhouse/internal/apiserver"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/casino"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/events"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/game"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/identity"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/mirror"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/rooms"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/sched"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/session"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/jackhouse/internal/store/pgmirror"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/asset"
	"github.com/MarkoPoloResearchLab/jackhouse/pkg/dlock"
)

const (
	flagDatabaseURL      = "database-url"
	flagMirrorURL        = "mirror-url"
	flagListenAddr       = "listen-addr"
	flagAllowedOrigins   = "allowed-origins"
	configKeyDatabaseURL = "database_url"
	configKeyMirrorURL   = "mirror_url"
	configKeyListenAddr  = "listen_addr"
	configKeyOrigins     = "allowed_origins"
	defaultDatabaseURL   = "sqlite:///tmp/jackhouse.db"
	defaultListenAddr    = ":8080"

	lockStoreCount       = 3
	mirrorSyncInterval   = 10 * time.Second
	catalogRefreshPeriod = time.Hour
	defaultHouseBankroll = 100_000_000
)

type runtimeConfig struct {
	DatabaseURL    string
	MirrorURL      string
	ListenAddr     string
	AllowedOrigins []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "jackhoused: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "jackhoused",
		Short:         "Multi-room blackjack server",
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

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "primary database connection string")
	cmd.Flags().String(flagMirrorURL, "", "postgres connection string of the analytical mirror (optional)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "allowed CORS origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	if err := viper.BindEnv(configKeyDatabaseURL, "DATABASE_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyMirrorURL, "MIRROR_URL"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyListenAddr, "HTTP_LISTEN_ADDR"); err != nil {
		return err
	}
	if err := viper.BindEnv(configKeyOrigins, "ALLOWED_ORIGINS"); err != nil {
		return err
	}

	if err := viper.BindPFlag(configKeyDatabaseURL, cmd.Flags().Lookup(flagDatabaseURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyMirrorURL, cmd.Flags().Lookup(flagMirrorURL)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyListenAddr, cmd.Flags().Lookup(flagListenAddr)); err != nil {
		return err
	}
	if err := viper.BindPFlag(configKeyOrigins, cmd.Flags().Lookup(flagAllowedOrigins)); err != nil {
		return err
	}

	cfg.DatabaseURL = viper.GetString(configKeyDatabaseURL)
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.MirrorURL = viper.GetString(configKeyMirrorURL)
	cfg.ListenAddr = viper.GetString(configKeyListenAddr)
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultListenAddr
	}
	cfg.AllowedOrigins = viper.GetStringSlice(configKeyOrigins)
	return nil
}

// logBroadcaster stands in for the websocket gateway: every outbound table
// event is logged instead of delivered. The gateway replaces it by
// implementing events.Broadcaster.
type logBroadcaster struct {
	logger *zap.Logger
}

func (broadcaster logBroadcaster) ToPlayer(playerID string, event events.Event) {
	broadcaster.logger.Debug("table event",
		zap.String("player_id", playerID),
		zap.String("event", event.Name),
		zap.Any("payload", event.Payload))
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	store := gormstore.New(gormDB)
	if err := prepareSchema(store, driver); err != nil {
		return err
	}

	clock := func() int64 { return time.Now().UTC().Unix() }
	ledger, err := asset.NewService(store, clock, asset.WithOperationLogger(zapOperationLogger(logger)))
	if err != nil {
		return fmt.Errorf("ledger init: %w", err)
	}
	if err := seedHouseAccount(ctx, ledger); err != nil {
		return err
	}

	lockStores := make([]dlock.Store, 0, lockStoreCount)
	for i := 0; i < lockStoreCount; i++ {
		lockStores = append(lockStores, dlock.NewMemoryStore())
	}
	locks, err := dlock.NewCoordinator(lockStores, logger)
	if err != nil {
		return fmt.Errorf("lock coordinator init: %w", err)
	}

	scheduler := sched.New(logger)
	catalog := casino.NewCatalog(casino.StaticSource{Tiers: defaultTiers()}, logger)
	if err := catalog.Refresh(ctx); err != nil {
		return fmt.Errorf("tier catalog init: %w", err)
	}
	catalogHandle := scheduler.Every(ctx, "catalog-refresh", catalogRefreshPeriod, func(ctx context.Context) {
		_ = catalog.Refresh(ctx)
	})
	defer catalogHandle.Stop()

	broadcaster := logBroadcaster{logger: logger}
	provider := identity.NewLedgerProvider(ledger, asset.TokenJack)
	manager := rooms.NewManager(store, locks, scheduler, catalog, provider, broadcaster, logger)
	defer manager.Close()

	engine, err := game.NewService(store, manager, locks, session.NewMemoryCache(), ledger, catalog, broadcaster, logger)
	if err != nil {
		return fmt.Errorf("game engine init: %w", err)
	}

	if cfg.MirrorURL != "" {
		pool, err := pgxpool.New(ctx, cfg.MirrorURL)
		if err != nil {
			return fmt.Errorf("mirror pool init: %w", err)
		}
		defer pool.Close()
		mirrorStore := pgmirror.New(pool)
		if err := mirrorStore.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("mirror schema: %w", err)
		}
		syncer := mirror.NewSyncer(store, mirrorStore, logger)
		syncHandle := syncer.Start(ctx, scheduler, mirrorSyncInterval)
		defer syncHandle.Stop()
		logger.Info("mirror sync enabled", zap.Duration("interval", mirrorSyncInterval))
	} else {
		logger.Info("mirror sync disabled, transfer log retained")
	}

	server := apiserver.New(apiserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
	}, ledger, catalog, manager, engine, logger)

	return server.Run(ctx)
}

func zapOperationLogger(logger *zap.Logger) asset.OperationLogger {
	return asset.OperationLoggerFunc(func(ctx context.Context, entry asset.OperationLog) {
		logger.Info("ledger operation",
			zap.String("operation", entry.Operation),
			zap.String("transfer_id", entry.TransferID),
			zap.String("from", entry.From.String()),
			zap.String("to", entry.To.String()),
			zap.Int64("amount", entry.Amount),
			zap.String("status", entry.Status),
			zap.Error(entry.Error))
	})
}

func seedHouseAccount(ctx context.Context, ledger *asset.Service) error {
	house, err := asset.NewOwnerID(game.HouseOwner)
	if err != nil {
		return err
	}
	err = ledger.CreateAccount(ctx, house, asset.TokenJack, defaultHouseBankroll)
	if err != nil && !errors.Is(err, asset.ErrAccountExists) {
		return fmt.Errorf("seed house account: %w", err)
	}
	return nil
}

func defaultTiers() []casino.Tier {
	return []casino.Tier{
		{Level: 1, MinBet: 10, MaxBet: 100},
		{Level: 2, MinBet: 100, MaxBet: 1_000},
		{Level: 3, MinBet: 1_000, MaxBet: 10_000},
	}
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	cfg := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), cfg)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), cfg)
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
			path = "jackhouse.db"
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

func prepareSchema(store *gormstore.Store, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := store.AutoMigrate(); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
