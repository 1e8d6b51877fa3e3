package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/brewtap/brewtap/internal/api"
	"github.com/brewtap/brewtap/internal/assignment"
	"github.com/brewtap/brewtap/internal/dialogue"
	"github.com/brewtap/brewtap/internal/events"
	"github.com/brewtap/brewtap/internal/inventory"
	"github.com/brewtap/brewtap/internal/messaging"
	"github.com/brewtap/brewtap/internal/orders"
	"github.com/brewtap/brewtap/internal/settings"
	"github.com/brewtap/brewtap/internal/store"
	"github.com/brewtap/brewtap/internal/twiliosms"
	"github.com/brewtap/brewtap/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for brewtap state data
	DefaultStateDir = "/var/lib/brewtap"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "brewtap.db"
	// DefaultAPIAddr is the default HTTP listen address
	DefaultAPIAddr = ":8080"
)

func main() {
	initializeLogger()

	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)

	if err := run(flags); err != nil {
		slog.Error("brewtap failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("brewtap exited successfully")
}

// Config holds environment configuration
type Config struct {
	DatabaseURL  string
	StateDir     string
	APIAddr      string
	KafkaBrokers string
	KafkaTopic   string
}

// Flags holds command line flag values
type Flags struct {
	dbDSN        *string
	apiAddr      *string
	kafkaBrokers *string
	kafkaTopic   *string
}

func initializeLogger() {
	level := slog.LevelInfo
	if util.ParseBoolEnv("BREWTAP_DEBUG", false) {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("BREWTAP_STATE_DIR"),
		APIAddr:      os.Getenv("API_ADDR"),
		KafkaBrokers: os.Getenv("KAFKA_BROKERS"),
		KafkaTopic:   os.Getenv("KAFKA_TOPIC"),
	}

	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}
	if config.APIAddr == "" {
		config.APIAddr = DefaultAPIAddr
	}

	slog.Debug("environment variables loaded",
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"BREWTAP_STATE_DIR", config.StateDir,
		"API_ADDR", config.APIAddr,
		"KAFKA_BROKERS_SET", config.KafkaBrokers != "")

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "database DSN (overrides $DATABASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		kafkaBrokers: flag.String("kafka-brokers", config.KafkaBrokers, "comma-separated Kafka brokers for order events (overrides $KAFKA_BROKERS)"),
		kafkaTopic:   flag.String("kafka-topic", config.KafkaTopic, "Kafka topic for order events (overrides $KAFKA_TOPIC)"),
	}
	flag.Parse()
	return flags
}

func run(flags Flags) error {
	st, err := openStore(*flags.dbDSN)
	if err != nil {
		return err
	}
	defer st.Close()

	pub, err := openPublisher(*flags.kafkaBrokers, *flags.kafkaTopic)
	if err != nil {
		return err
	}
	defer pub.Close()

	client, err := twiliosms.NewClient()
	if err != nil {
		return err
	}

	catalog := inventory.NewStoreCatalog(st)
	cfg := settings.NewService(st)
	assigner := assignment.NewEngine(st)
	committer := orders.NewCommitter(st, assigner, cfg, pub)
	conv := dialogue.NewConversationStore(st)
	engine := dialogue.NewEngine(conv, st, catalog, cfg, committer)

	msgService := messaging.NewTwilioService(client)
	handler := messaging.NewResponseHandler(msgService, engine, st)
	server := api.NewServer(*flags.apiAddr, st, msgService)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := msgService.Start(ctx); err != nil {
		return err
	}
	go handler.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	slog.Info("brewtap running", "api_addr", *flags.apiAddr)

	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	return msgService.Stop()
}

// openStore selects a backend from the DSN: PostgreSQL connection strings
// use the Postgres store, anything else is treated as a SQLite file path.
func openStore(dsn string) (store.Store, error) {
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store")
		return store.NewPostgresStore(store.WithPostgresDSN(dsn))
	}
	if err := os.MkdirAll(filepath.Dir(dsn), 0o755); err != nil {
		return nil, err
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithSQLiteDSN(dsn))
}

// openPublisher connects the Kafka order event stream, or a no-op publisher
// when no brokers are configured.
func openPublisher(brokers, topic string) (events.Publisher, error) {
	brokerList := util.SplitList(brokers)
	if len(brokerList) == 0 {
		slog.Info("No Kafka brokers configured, order events disabled")
		return events.NopPublisher{}, nil
	}
	if topic == "" {
		topic = events.DefaultTopic
	}
	return events.NewKafkaPublisher(brokerList, topic)
}
