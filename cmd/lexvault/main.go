// Command lexvault runs the data subject rights operations of a case
// management database: portability export, erasure, consent bookkeeping and
// audit trail verification.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"lexvault/internal/infra/config"
	"lexvault/internal/infra/logger"
	"lexvault/internal/infra/tracer"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	// configFile is set by the --config flag.
	configFile string

	cfg      *config.Config
	log      *slog.Logger
	closeLog func() error
	shutdown func(context.Context) error
)

func main() {
	err := rootCmd.ExecuteContext(context.Background())
	// Cobra skips post-run hooks when RunE fails; flush spans and close the
	// log file on every path.
	if terr := teardown(); err == nil {
		err = terr
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("error:"), describeError(err))
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lexvault",
	Short: "GDPR export and erasure for the case database",
	Long: `lexvault exports everything a user owns, erases it on request and keeps
the consent history and hash-chained audit trail that prove both happened.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: $LEXVAULT_CONFIG or lexvault.yaml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(consentCmd)
	rootCmd.AddCommand(auditCmd)
	rootCmd.AddCommand(daemonCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("lexvault", version)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		fmt.Println(okStyle.Render("schema at version " + a.store.SchemaVersion(cmd.Context())))
		return nil
	},
}

// setup loads configuration and starts logging and tracing.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	var err error
	cfg, err = config.Load(configPath())
	if err != nil {
		return err
	}
	log, closeLog, err = logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	shutdown, err = tracer.Setup(cmd.Context(), cfg.Tracer)
	if err != nil {
		return fmt.Errorf("init tracer: %w", err)
	}
	return nil
}

// teardown flushes the tracer and closes the log output. It is safe to call
// when setup never ran or stopped part way.
func teardown() error {
	if shutdown != nil {
		if err := shutdown(context.Background()); err != nil && log != nil {
			log.Warn("tracer shutdown failed", "error", err)
		}
		shutdown = nil
	}
	if closeLog != nil {
		err := closeLog()
		closeLog = nil
		return err
	}
	return nil
}

func configPath() string {
	if configFile != "" {
		return configFile
	}
	if p := os.Getenv("LEXVAULT_CONFIG"); p != "" {
		return p
	}
	return "lexvault.yaml"
}
