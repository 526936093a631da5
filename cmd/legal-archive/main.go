package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/superdesk/legalarchive/cmd/legal-archive/container"
	"github.com/superdesk/legalarchive/cmd/legal-archive/routes"
	"github.com/superdesk/legalarchive/cmd/legal-archive/service"
	"github.com/superdesk/legalarchive/common/bootstrap"
	"github.com/superdesk/legalarchive/common/config"
	"github.com/superdesk/legalarchive/common/server"
)

const serviceName = "legal-archive"

var rootCmd = &cobra.Command{
	Use:   "legal-archive",
	Short: "Copies expired newsroom content into the legal archive",
	Long: `legal-archive keeps an immutable, denormalized copy of every published
item, its version snapshots, its history and its transmission records.

Batch commands are safe to run from several instances: each one holds a
lease lock and a second instance finding it held skips its run.`,
	SilenceUsage: true,
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("LEGAL_ARCHIVE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().Int("page-size", 0, "documents per page (default from LEGAL_ARCHIVE_PAGE_SIZE)")
	rootCmd.PersistentFlags().String("log-level", "", "debug, info, warn or error")
	rootCmd.PersistentFlags().Bool("no-redis", false, "run without Redis (process-local locks, no item worker)")
	_ = viper.BindPFlag("page-size", rootCmd.PersistentFlags().Lookup("page-size"))
	_ = viper.BindPFlag("log-level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("no-redis", rootCmd.PersistentFlags().Lookup("no-redis"))
}

func registerCommands() {
	rootCmd.AddCommand(commandCmd("import", "Import expired items into the legal archive", service.CommandImportArchive))
	rootCmd.AddCommand(commandCmd("import-queue", "Import finished publish queue items", service.CommandImportPublishQueue))
	rootCmd.AddCommand(importItemCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(serveCmd())
}

// withContainer bootstraps the service for one CLI invocation
func withContainer(ctx context.Context, fn func(ctx context.Context, c *container.Container) error) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if level := viper.GetString("log-level"); level != "" {
		cfg.Service.LogLevel = level
	}

	opts := []bootstrap.Option{bootstrap.WithCustomConfig(cfg)}
	if viper.GetBool("no-redis") {
		opts = append(opts, bootstrap.WithoutRedis())
	}

	components, err := bootstrap.Setup(ctx, serviceName, opts...)
	if err != nil {
		return err
	}
	defer components.Shutdown(context.WithoutCancel(ctx))

	c, err := container.NewContainer(components)
	if err != nil {
		return fmt.Errorf("failed to initialize service container: %w", err)
	}
	return fn(ctx, c)
}

func commandCmd(use, short, name string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				command, ok := c.Registry.Get(name)
				if !ok {
					return fmt.Errorf("command not registered: %s", name)
				}
				summary, err := command.Run(ctx, service.RunOptions{PageSize: viper.GetInt("page-size")})
				if summary != nil {
					printJSON(summary)
				}
				return err
			})
		},
	}
}

func importItemCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-item ITEM_ID",
		Short: "Import one item into the legal archive now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				res, err := c.Archive.Upsert(ctx, args[0])
				if err != nil {
					return err
				}
				printJSON(res)
				return nil
			})
		},
	}
}

func enqueueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue ITEM_ID...",
		Short: "Queue items for the async import worker",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withContainer(cmd.Context(), func(ctx context.Context, c *container.Container) error {
				if c.Worker == nil {
					return fmt.Errorf("the item worker needs Redis")
				}
				for _, id := range args {
					if err := c.Worker.Enqueue(ctx, id); err != nil {
						return err
					}
				}
				pending, err := c.Worker.Pending(ctx)
				if err != nil {
					return err
				}
				c.Components.Logger.Info("items queued", "count", len(args), "pending", pending)
				return nil
			})
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin API, the scheduler and the item worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return withContainer(ctx, func(ctx context.Context, c *container.Container) error {
				cfg := c.Components.Config
				log := c.Components.Logger

				e := setupEcho()
				routes.RegisterHealthRoutes(e, c)
				commands := routes.RegisterCommandRoutes(ctx, e, c)
				routes.RegisterItemRoutes(e, c)
				defer commands.Wait()

				g, ctx := errgroup.WithContext(ctx)
				g.Go(func() error {
					return server.New(serviceName, cfg.Service.Port, e, log).Run(ctx)
				})
				if cfg.Archive.SchedulerEnabled {
					g.Go(func() error { return c.Scheduler.Run(ctx) })
				}
				if cfg.Archive.WorkerEnabled && c.Worker != nil {
					g.Go(func() error { return c.Worker.Run(ctx) })
				}

				log.Info("legal archive serving",
					"port", cfg.Service.Port,
					"scheduler", cfg.Archive.SchedulerEnabled,
					"worker", cfg.Archive.WorkerEnabled && c.Worker != nil)
				return g.Wait()
			})
		},
	}
}

// setupEcho initializes the Echo server with its middleware
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	return e
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
