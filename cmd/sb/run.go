package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/zulandar/switchboard/internal/bot"
	"github.com/zulandar/switchboard/internal/chat"
	discordadapter "github.com/zulandar/switchboard/internal/chat/discord"
	slackadapter "github.com/zulandar/switchboard/internal/chat/slack"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/dashboard"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/directory"
	"github.com/zulandar/switchboard/internal/escalation"
	"github.com/zulandar/switchboard/internal/kb"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/monitor"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the Switchboard daemon",
		Long:  "Connects to the configured chat platform, starts the agent status monitor, and serves the status dashboard when enabled.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.yaml", "path to Switchboard config file")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gormDB, err := db.Open(cfg.Ledger)
	if err != nil {
		return fmt.Errorf("open ledger: %w", err)
	}
	if err := ledger.AutoMigrate(gormDB); err != nil {
		return fmt.Errorf("migrate ledger: %w", err)
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	mon, err := monitor.New(monitor.Opts{
		Adapter:      adapter,
		Source:       directory.New(cfg.Helpdesk),
		Config:       cfg.Monitor,
		AlertChannel: cfg.Chat.AlertChannel,
		DB:           gormDB,
	})
	if err != nil {
		return err
	}

	engine, err := escalation.New(escalation.Opts{
		Adapter:      adapter,
		Search:       kb.New(cfg.Knowledge),
		DB:           gormDB,
		LeadsChannel: cfg.Chat.LeadsChannel,
	})
	if err != nil {
		return err
	}

	daemon, err := bot.NewDaemon(bot.DaemonOpts{
		Adapter: adapter,
		Monitor: mon,
		Engine:  engine,
		Config:  cfg,
		DB:      gormDB,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.Dashboard.Enabled {
		go func() {
			err := dashboard.Start(ctx, dashboard.StartOpts{
				Monitor: mon,
				Engine:  engine,
				DB:      gormDB,
				Addr:    cfg.Dashboard.Listen,
				Out:     cmd.OutOrStdout(),
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "dashboard: %v\n", err)
			}
		}()
	}

	return daemon.Run(ctx)
}

// createAdapter builds a platform adapter from the config.
func createAdapter(cfg *config.Config) (chat.Adapter, error) {
	switch cfg.Chat.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken: cfg.Chat.AppToken,
			BotToken: cfg.Chat.BotToken,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken: cfg.Chat.BotToken,
		})
	default:
		return nil, fmt.Errorf("chat: unsupported platform %q", cfg.Chat.Platform)
	}
}
