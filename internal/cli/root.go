// Package cli implements the agent-continuity CLI commands.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/rcliao/agent-continuity/internal/config"
	"github.com/rcliao/agent-continuity/internal/continuity"
	"github.com/rcliao/agent-continuity/internal/embedding"
	cotel "github.com/rcliao/agent-continuity/internal/otel"
	"github.com/rcliao/agent-continuity/internal/store"
)

// Version is injected via ldflags at build time.
var Version = "dev"

var (
	cfgFile   string
	dbPath    string
	userID    string
	logLevel  string
	logFormat string
	otelFlag  bool

	otelShutdown func(context.Context) error
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "agent-continuity",
	Short: "Durable memory and session continuity for conversational agents",
	Long: `Stores typed memories per user and session, packs the most relevant ones
into a token budget for each turn, and runs maintenance rituals over them.
SQLite-backed, single binary. Output is JSON on stdout; logs go to stderr.`,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		shutdown, err := cotel.Setup("agent-continuity", resolvedVersion(), otelFlag)
		if err != nil {
			return fmt.Errorf("initializing OpenTelemetry: %w", err)
		}
		otelShutdown = shutdown
		return nil
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	RootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./continuity.config.yaml or ~/.agent-continuity/continuity.config.yaml)")
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "database path (default: $CONTINUITY_DB_PATH or ~/.agent-continuity/continuity.db)")
	RootCmd.PersistentFlags().StringVarP(&userID, "user", "u", "default", "owning user id")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format (console, json)")
	RootCmd.PersistentFlags().BoolVar(&otelFlag, "otel", false, "enable OpenTelemetry (traces and metrics to stdout)")

	_ = viper.BindPFlag(config.KeyDBPath, RootCmd.PersistentFlags().Lookup("db"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		if home, err := os.UserHomeDir(); err == nil {
			viper.AddConfigPath(filepath.Join(home, ".agent-continuity"))
		}
		viper.AddConfigPath(".")
		viper.SetConfigName("continuity.config")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			exitErr("read config", err)
		}
	}
}

func setupLogging() {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	zerolog.SetGlobalLevel(level)

	if logFormat == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
}

func resolvedVersion() string {
	if Version != "dev" {
		return Version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}
	return Version
}

// Execute runs the root command and flushes telemetry on exit.
func Execute() error {
	err := RootCmd.Execute()
	if otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelShutdown(ctx)
	}
	return err
}

// openManager loads configuration and opens the ledger behind a Manager.
// The caller closes the returned store.
func openManager() (*continuity.Manager, *store.SQLiteStore, *config.Config) {
	cfg, err := config.Load()
	if err != nil {
		exitErr("config", err)
	}
	st, err := store.NewSQLiteStore(cfg.DBPath,
		store.WithScorer(embedding.NewScorer(embedding.NewHashEmbedder(0))))
	if err != nil {
		exitErr("open store", err)
	}
	return continuity.New(st, cfg.Manager), st, cfg
}

func printJSON(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		exitErr("encode output", err)
	}
	fmt.Println(string(b))
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
