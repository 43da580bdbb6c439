package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nexuscrm/tablekit/internal/bootstrap"
	"github.com/nexuscrm/tablekit/internal/config"
	"github.com/nexuscrm/tablekit/internal/infrastructure/database"
	"github.com/nexuscrm/tablekit/pkg/expression"
	"github.com/nexuscrm/tablekit/pkg/logger"
	"github.com/nexuscrm/tablekit/pkg/tablespec"
)

const (
	configFlag = "config"
	adminFlag  = "admin"
)

// NewRootCommand enables all children commands to read flags from CLI flags,
// environment variables prefixed with TABLEKIT or a config file.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tablekit",
		Short:         "Declarative table engine with intention-based visibility",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().String(configFlag, "", "path to a YAML config file")

	cmd.AddCommand(
		NewServeCommand(),
		NewMigrateCommand(),
		NewDescribeCommand(),
		NewTokenCommand(),
		NewWipeCommand(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, err := cmd.Flags().GetString(configFlag)
	if err != nil {
		return nil, err
	}
	return config.Load(file)
}

// runtime is what every database-facing command needs
type runtime struct {
	cfg      *config.Config
	log      *logger.ZapLogger
	conn     *database.Connection
	specs    []*tablespec.TableSpec
	rules    *expression.Engine
	registry *tablespec.Registry
}

func openRuntime(ctx context.Context, cmd *cobra.Command) (*runtime, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewLogger(cfg.Log.Format, cfg.Log.Level)
	if err != nil {
		return nil, err
	}

	conn, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("connected to database", zap.String("driver", cfg.Database.Driver))

	specs, err := bootstrap.StandardSpecs()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	rules := expression.NewEngine()
	registry, err := bootstrap.LoadRegistry(conn, specs, rules)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, conn: conn, specs: specs, rules: rules, registry: registry}, nil
}

// prepare creates missing tables and seeds the system data
func (rt *runtime) prepare(ctx context.Context, adminUsers []string) error {
	if err := bootstrap.EnsureSchema(ctx, rt.conn, rt.specs, rt.log); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	if err := bootstrap.SeedSystemData(ctx, rt.conn, rt.registry, adminUsers, rt.log); err != nil {
		return fmt.Errorf("failed to initialize system data: %w", err)
	}
	return nil
}

func (rt *runtime) Close() {
	if err := rt.conn.Close(); err != nil {
		rt.log.Warn("failed to close database", zap.Error(err))
	}
	_ = rt.log.Sync()
}
