package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tinywideclouds/go-pushnotifications/pushnotifications"
	"github.com/tinywideclouds/go-pushnotifications/pushnotifications/config"
)

type rootFlags struct {
	configPath       string
	instanceID       string
	baseURL          string
	reportingBaseURL string
	stateDriver      string
	statePath        string
	authURL          string
	deliveryTracking bool
	verbose          bool
}

type cli struct {
	flags  rootFlags
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "pushnotifications",
		Short: "Headless push notifications device agent",
		Long: "Registers this machine as a push notifications device and manages its interests and user.\n" +
			"Settings come from --config, then flags, then PUSHNOTIFICATIONS_* environment variables.",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			c.logger = newLogger(cmd.ErrOrStderr(), c.flags.verbose)
		},
	}
	root.SetVersionTemplate("{{.Version}}\n")
	root.Version = pushnotifications.SDKVersion

	pf := root.PersistentFlags()
	pf.StringVar(&c.flags.configPath, "config", "", "YAML config file")
	pf.StringVar(&c.flags.instanceID, "instance-id", "", "Instance id")
	pf.StringVar(&c.flags.baseURL, "base-url", "", "Device API base URL, e.g. a dev server")
	pf.StringVar(&c.flags.reportingBaseURL, "reporting-base-url", "", "Reporting API base URL")
	pf.StringVar(&c.flags.stateDriver, "state-driver", "", "Device state backend: sqlite or memory")
	pf.StringVar(&c.flags.statePath, "state-path", "", "SQLite state file")
	pf.StringVar(&c.flags.authURL, "auth-url", "", "Auth endpoint issuing user tokens")
	pf.BoolVar(&c.flags.deliveryTracking, "delivery-tracking", false, "Report delivery and open events")
	pf.BoolVarP(&c.flags.verbose, "verbose", "v", false, "Enable debug logging")

	root.AddCommand(
		c.startCmd(),
		c.subscribeCmd(),
		c.unsubscribeCmd(),
		c.setSubscriptionsCmd(),
		c.subscriptionsCmd(),
		c.setUserCmd(),
		c.receiveCmd(),
		c.statusCmd(),
		c.stopCmd(),
		c.clearStateCmd(),
	)
	return root
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	var logLevel slog.Level
	switch os.Getenv("LOG_LEVEL") {
	case "debug", "DEBUG":
		logLevel = slog.LevelDebug
	case "info", "INFO":
		logLevel = slog.LevelInfo
	case "error", "ERROR":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelWarn
	}
	if verbose {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})).
		With("service", "pushnotifications-cli")
}

// loadConfig layers the config file, then flags, then the environment.
func (c *cli) loadConfig() (*config.Config, error) {
	var yamlCfg config.YamlConfig
	if c.flags.configPath != "" {
		data, err := os.ReadFile(c.flags.configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&yamlCfg.InstanceID, c.flags.instanceID)
	set(&yamlCfg.BaseURL, c.flags.baseURL)
	set(&yamlCfg.ReportingBaseURL, c.flags.reportingBaseURL)
	set(&yamlCfg.State.Driver, c.flags.stateDriver)
	set(&yamlCfg.State.Path, c.flags.statePath)
	set(&yamlCfg.TokenProvider.AuthURL, c.flags.authURL)
	if c.flags.deliveryTracking {
		yamlCfg.DeliveryTracking = true
	}

	baseCfg, err := config.NewConfigFromYaml(&yamlCfg, c.logger)
	if err != nil {
		return nil, err
	}
	return config.UpdateConfigWithEnvOverrides(baseCfg, c.logger)
}

// withInstance opens and starts the instance, runs fn and waits for the
// queued work to reach the server before closing.
func (c *cli) withInstance(ctx context.Context, fn func(*pushnotifications.Instance, *config.Config) error, opts ...pushnotifications.Option) error {
	cfg, err := c.loadConfig()
	if err != nil {
		return err
	}

	opts = append([]pushnotifications.Option{
		pushnotifications.WithConfig(cfg),
		pushnotifications.WithLogger(c.logger),
	}, opts...)
	instance, err := pushnotifications.New(cfg.InstanceID, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if err := instance.Close(); err != nil {
			c.logger.Warn("Failed to close instance", "err", err)
		}
	}()

	if err := instance.Start(ctx); err != nil {
		return err
	}
	if err := fn(instance, cfg); err != nil {
		return err
	}
	return instance.Flush(ctx)
}
