package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"intake-chatbot/internal/config"
	"intake-chatbot/internal/core"
	"intake-chatbot/internal/db"
	"intake-chatbot/internal/llm"

	_ "github.com/lib/pq"
)

var (
	verbose    bool
	topicsFile string

	cfg    config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "intake",
	Short: "Support intake dialogue service",
	Long: `intake runs the support intake conversation: six topics, a
whitelisted summary and an offer of support resources.

Settings are read from the environment (DATABASE_URL, REDIS_URL,
OPENAI_API_KEY, MESSAGE_CAP, ...). Generation falls back to fixed phrasing
when no API key is set.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.FromEnv()
		if err != nil {
			return err
		}
		if topicsFile != "" {
			cfg.TopicsFile = topicsFile
		}
		logger, err = buildLogger(verbose, cfg.LogLevel)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
		conn, err := openDB(cmd.Context(), cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := db.Migrate(cmd.Context(), conn); err != nil {
			return err
		}
		logger.Info("schema applied")
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&topicsFile, "topics", "", "Dialogue table YAML (or set TOPICS_FILE env)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildLogger(verbose bool, level string) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("LOG_LEVEL: %w", err)
		}
		zcfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	if verbose {
		zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zcfg.Build()
}

func openDB(ctx context.Context, url string) (*sql.DB, error) {
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return conn, nil
}

// newClient picks the OpenAI client when a key is configured and the fixed
// phrasing otherwise.
func newClient() llm.Client {
	if !cfg.GenerationEnabled() {
		logger.Warn("OPENAI_API_KEY not set, using fallback phrasing")
		return llm.Offline{}
	}
	return llm.NewOpenAIClient(llm.Options{
		APIKey:       cfg.OpenAIKey,
		BaseURL:      cfg.OpenAIBaseURL,
		ChatModel:    cfg.ChatModel,
		SummaryModel: cfg.SummaryModel,
	})
}

func newEngine(opts core.EngineOptions) (*core.Engine, error) {
	dialogue, err := config.LoadDialogue(cfg.TopicsFile)
	if err != nil {
		return nil, err
	}
	opts.Dialogue = dialogue
	opts.Client = newClient()
	opts.Log = logger
	return core.NewEngine(opts)
}
