package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/foxzi/campaignd/internal/api"
	"github.com/foxzi/campaignd/internal/app"
	"github.com/foxzi/campaignd/internal/config"
	"github.com/foxzi/campaignd/internal/db"
)

var (
	cfgFile   string
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "campaignd",
	Short: "campaignd - campaign and workflow execution engine",
	Long: `campaignd runs multi-step outreach workflows (email, SMS, calls, delays)
for leads and customers, and releases marketing campaigns in batches within
business hours and daily limits.`,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the engine",
	Long:  `Start the task processor, campaign scheduler and HTTP API.`,
	RunE:  runServe,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE:  runMigrate,
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration commands",
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration file",
	RunE:  runConfigValidate,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("campaignd version %s\n", version)
		if commit != "unknown" {
			fmt.Printf("  commit: %s\n", commit)
		}
		if buildTime != "unknown" {
			fmt.Printf("  built:  %s\n", buildTime)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(serveCmd, migrateCmd, configCmd, versionCmd)
}

func loadConfig() (*config.Config, error) {
	if cfgFile == "" {
		return nil, fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	api.Version = version

	application, err := app.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	return application.Run(context.Background())
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	conn, err := db.Open(cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.Migrate(conn); err != nil {
		return err
	}

	fmt.Printf("Migrations applied (%s)\n", cfg.Database.Driver)
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	if cfgFile == "" {
		return fmt.Errorf("config file is required (use -c flag)")
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("configuration is invalid: %w", err)
	}

	fmt.Printf("Configuration is valid\n")
	fmt.Printf("  Hostname:    %s\n", cfg.Server.Hostname)
	fmt.Printf("  Database:    %s\n", cfg.Database.Driver)
	fmt.Printf("  Storage:     %s\n", cfg.Storage.Path)
	fmt.Printf("  API:         %s\n", cfg.API.ListenAddr)
	fmt.Printf("  Providers:   %s\n", cfg.Providers.Mode)
	fmt.Printf("  Concurrency: %s (default limit %d)\n", cfg.Concurrency.Backend, cfg.Concurrency.MaxConcurrentCalls)
	if cfg.Metrics.Enabled {
		fmt.Printf("  Metrics:     %s%s\n", cfg.Metrics.ListenAddr, cfg.Metrics.Path)
	}
	if cfg.Scheduler.Disabled {
		fmt.Printf("  Scheduler:   disabled\n")
	} else {
		fmt.Printf("  Scheduler:   every %s\n", cfg.Scheduler.Interval)
	}

	return nil
}
