package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/garyblankenship/flashnotes/internal/config"
	"github.com/garyblankenship/flashnotes/internal/engine"
	"github.com/garyblankenship/flashnotes/internal/logging"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// run executes one command line and always releases the engine, including
// when the command itself failed.
func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	rootCmd, application := newRootCommand(config.NewViper())
	rootCmd.SetArgs(args)
	rootCmd.SetIn(stdin)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	return errors.Join(err, application.close())
}

// app holds what a single command invocation needs. It is populated in
// PersistentPreRunE and released by run.
type app struct {
	viper   *viper.Viper
	cfgFile string
	logger  *zap.Logger
	engine  *engine.Engine
}

func newRootCommand(configViper *viper.Viper) (*cobra.Command, *app) {
	application := &app{viper: configViper}

	rootCmd := &cobra.Command{
		Use:           "flashnotes",
		Short:         "Local note store with full-text search",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return application.open(cmd.Context())
		},
	}

	setupFlags(rootCmd, application)
	addCommands(rootCmd, application)
	return rootCmd, application
}

func setupFlags(cmd *cobra.Command, application *app) {
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&application.cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("data-dir", defaults.GetString("data.dir"), "Directory holding the database and backups")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("readers", defaults.GetInt("database.readers"), "Read-only connection pool size")
	cmd.PersistentFlags().Bool("backup", defaults.GetBool("backup.enabled"), "Take a startup backup when one is due")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", defaults.GetString("log.format"), "Log format (console, json)")

	bindFlag(cmd, application.viper, "data.dir", "data-dir")
	bindFlag(cmd, application.viper, "database.path", "database-path")
	bindFlag(cmd, application.viper, "database.readers", "readers")
	bindFlag(cmd, application.viper, "backup.enabled", "backup")
	bindFlag(cmd, application.viper, "log.level", "log-level")
	bindFlag(cmd, application.viper, "log.format", "log-format")
}

func bindFlag(cmd *cobra.Command, configViper *viper.Viper, key, flag string) {
	if err := configViper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func (a *app) initConfig() error {
	if a.cfgFile == "" {
		return nil
	}
	a.viper.SetConfigFile(a.cfgFile)
	if err := a.viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFound) {
			return err
		}
		return fmt.Errorf("reading %s: %w", a.cfgFile, err)
	}
	return nil
}

func (a *app) open(ctx context.Context) error {
	if err := a.initConfig(); err != nil {
		return err
	}
	appConfig, err := config.Load(a.viper)
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel, appConfig.LogFormat)
	if err != nil {
		return err
	}
	a.logger = logger

	notesEngine, err := engine.Open(ctx, engine.Dependencies{
		Config: appConfig,
		Logger: logger,
	})
	if err != nil {
		_ = logger.Sync()
		return err
	}
	a.engine = notesEngine
	return nil
}

func (a *app) close() error {
	var err error
	if a.engine != nil {
		err = a.engine.Close()
		a.engine = nil
	}
	if a.logger != nil {
		_ = a.logger.Sync() //nolint:errcheck
	}
	return err
}
