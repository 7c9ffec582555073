package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/org/trustledger/internal/api"
	"github.com/org/trustledger/internal/keystore"
	"github.com/org/trustledger/internal/ledger"
	"github.com/org/trustledger/internal/rbac"
	"github.com/org/trustledger/internal/storage"
	"github.com/org/trustledger/pkg/models"
)

type config struct {
	ListenAddr    string         `yaml:"listen_addr"`
	TLSCertFile   string         `yaml:"tls_cert"`
	TLSKeyFile    string         `yaml:"tls_key"`
	DBUrl         string         `yaml:"db_url"`
	MigrationsDir string         `yaml:"migrations_dir"`
	LogLevel      string         `yaml:"log_level"`
	KeystorePath  string         `yaml:"keystore_path"`
	CacheMaxSize  int            `yaml:"cache_max_size"`
	RateLimit     int            `yaml:"rate_limit"`
	RateBurst     int            `yaml:"rate_burst"`
	APITokens     []api.APIToken `yaml:"api_tokens"`
	RolesFile     string         `yaml:"roles_file"`
}

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfgFile := "config.yaml"
	if v := os.Getenv("TRUSTLEDGER_CONFIG"); v != "" {
		cfgFile = v
	}

	cfg := config{
		ListenAddr:    ":8300",
		MigrationsDir: "migrations",
		LogLevel:      "info",
		KeystorePath:  "trustledger.keystore",
		CacheMaxSize:  rbac.DefaultCacheSize,
	}

	if data, err := os.ReadFile(cfgFile); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatal().Err(err).Msg("failed to parse config")
		}
	} else {
		log.Warn().Str("file", cfgFile).Msg("config file not found, using defaults")
	}

	// Env overrides
	if v := os.Getenv("TRUSTLEDGER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DBUrl = v
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	ctx := context.Background()

	// Signing key: from env, or unsealed from the keystore file. A fresh
	// key is generated and sealed on first run.
	signingKey := os.Getenv("TRUSTLEDGER_SIGNING_KEY")
	if signingKey == "" {
		passphrase := os.Getenv("TRUSTLEDGER_KEYSTORE_PASSPHRASE")
		if passphrase == "" {
			log.Fatal().Msg("TRUSTLEDGER_SIGNING_KEY or TRUSTLEDGER_KEYSTORE_PASSPHRASE must be set")
		}
		signingKey, err = keystore.LoadOrCreate(cfg.KeystorePath, passphrase)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load signing key")
		}
	}

	// Storage: Postgres when configured, in-memory otherwise (dev mode;
	// the ledger does not survive restarts).
	var (
		chainStore ledger.Store
		roleStore  api.RoleStore
		seedRoles  []*models.RoleDefinition
	)
	if cfg.DBUrl != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.DBUrl)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to database")
		}
		defer pg.Close()

		if err := storage.RunMigrations(cfg.DBUrl, cfg.MigrationsDir); err != nil {
			log.Fatal().Err(err).Msg("failed to run migrations")
		}
		log.Info().Msg("migrations applied")

		seedRoles, err = pg.ListRoles(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load roles")
		}
		chainStore = pg
		roleStore = pg
	} else {
		log.Warn().Msg("db_url not configured, using in-memory ledger storage")
		chainStore = ledger.NewMemoryStore()
	}

	chain := ledger.NewChain(chainStore, signingKey, log.Logger)
	if err := chain.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize audit chain")
	}

	engine := rbac.NewEngine(cfg.CacheMaxSize, log.Logger)
	for _, role := range seedRoles {
		if err := engine.DefineRole(role); err != nil {
			log.Fatal().Err(err).Str("role", role.ID).Msg("failed to define stored role")
		}
	}
	if cfg.RolesFile != "" {
		if err := loadRolesFile(cfg.RolesFile, engine); err != nil {
			log.Fatal().Err(err).Str("file", cfg.RolesFile).Msg("failed to load roles file")
		}
	}
	log.Info().Int("roles", len(engine.AllRoles())).Msg("authorization engine ready")

	srv := api.NewServer(chain, engine, roleStore, api.Config{
		ListenAddr:  cfg.ListenAddr,
		TLSCertFile: cfg.TLSCertFile,
		TLSKeyFile:  cfg.TLSKeyFile,
		Tokens:      cfg.APITokens,
		RateLimit:   cfg.RateLimit,
		RateBurst:   cfg.RateBurst,
	}, log.Logger)

	if _, err := chain.Record(ctx, "server.start", models.LevelInfo, "server starting", ledger.RecordOptions{}); err != nil {
		log.Fatal().Err(err).Msg("failed to record startup event")
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	log.Info().Str("addr", cfg.ListenAddr).Msg("server started")
	<-quit

	log.Info().Msg("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}
	if _, err := chain.Record(ctx, "server.stop", models.LevelInfo, "server stopped", ledger.RecordOptions{}); err != nil {
		log.Error().Err(err).Msg("failed to record shutdown event")
	}
	log.Info().Msg("server stopped")
}

// loadRolesFile defines roles from a yaml seed file into the engine.
func loadRolesFile(path string, engine *rbac.Engine) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var doc struct {
		Roles []*models.RoleDefinition `yaml:"roles"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	for _, role := range doc.Roles {
		if err := engine.DefineRole(role); err != nil {
			return err
		}
	}
	return nil
}
