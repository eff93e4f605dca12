package bot

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/config"
	"github.com/zulandar/switchboard/internal/escalation"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/monitor"
	"gorm.io/gorm"
)

// Daemon runs the bot: it connects the chat adapter, starts the monitor
// loop, pumps inbound events through the router, and posts the daily
// digest. Shutdown is graceful on context cancellation.
type Daemon struct {
	adapter chat.Adapter
	monitor *monitor.Monitor
	engine  *escalation.Engine
	cfg     *config.Config
	db      *gorm.DB // optional audit ledger
}

// DaemonOpts holds parameters for creating a Daemon.
type DaemonOpts struct {
	Adapter chat.Adapter
	Monitor *monitor.Monitor
	Engine  *escalation.Engine
	Config  *config.Config
	DB      *gorm.DB
}

// NewDaemon creates a Daemon.
func NewDaemon(opts DaemonOpts) (*Daemon, error) {
	if opts.Adapter == nil {
		return nil, fmt.Errorf("bot: daemon: adapter is required")
	}
	if opts.Monitor == nil {
		return nil, fmt.Errorf("bot: daemon: monitor is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("bot: daemon: engine is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("bot: daemon: config is required")
	}
	return &Daemon{
		adapter: opts.Adapter,
		monitor: opts.Monitor,
		engine:  opts.Engine,
		cfg:     opts.Config,
		db:      opts.DB,
	}, nil
}

// Run starts the daemon and blocks until the context is cancelled or the
// inbound event stream closes.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.adapter.Connect(ctx); err != nil {
		return fmt.Errorf("bot: daemon: connect: %w", err)
	}
	defer d.adapter.Close()

	inbound, err := d.adapter.Listen(ctx)
	if err != nil {
		return fmt.Errorf("bot: daemon: listen: %w", err)
	}

	var botUserID string
	if ider, ok := d.adapter.(chat.BotUserIDer); ok {
		botUserID = ider.BotUserID()
	}
	router, err := NewRouter(RouterOpts{
		Monitor:   d.monitor,
		Engine:    d.engine,
		BotUserID: botUserID,
	})
	if err != nil {
		return err
	}

	d.postNotice(ctx, "🟢 Switchboard is online and monitoring agent status.")
	go d.monitor.Run(ctx)
	if d.cfg.Digest.Enabled {
		go d.digestLoop(ctx)
	}

	log.Printf("bot: daemon: running")
	for {
		select {
		case <-ctx.Done():
			d.postNotice(context.Background(), "🔴 Switchboard is shutting down.")
			log.Printf("bot: daemon: stopped")
			return nil
		case ev, ok := <-inbound:
			if !ok {
				return fmt.Errorf("bot: daemon: inbound event stream closed")
			}
			router.Handle(ctx, ev)
		}
	}
}

// digestLoop posts the daily digest on the configured cron schedule.
func (d *Daemon) digestLoop(ctx context.Context) {
	for {
		wait := nextCronDuration(d.cfg.Digest.Schedule)
		if wait == 0 {
			log.Printf("bot: daemon: invalid digest schedule %q, digest disabled", d.cfg.Digest.Schedule)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
			d.postDigest(ctx)
		}
	}
}

// postDigest summarizes the last 24h of ledger activity plus the live
// monitoring state into the status channel. A digest with no activity and
// no monitored agents is suppressed.
func (d *Daemon) postDigest(ctx context.Context) {
	text := "📊 *Daily Digest*\n"
	quiet := true

	if d.db != nil {
		counts, err := ledger.CountsSince(d.db, time.Now().Add(-24*time.Hour))
		if err != nil {
			log.Printf("bot: daemon: digest counts: %v", err)
		} else {
			if counts.Interactions > 0 || counts.Escalations > 0 || counts.Alerts > 0 {
				quiet = false
			}
			text += fmt.Sprintf(
				"❓ Questions answered: %d (👍 %d / 👎 %d)\n🚨 Escalations: %d (%d open)\n⚠️ Status alerts: %d\n",
				counts.Interactions, counts.PositiveFeedback, counts.NegativeFeedback,
				counts.Escalations, counts.EscalationsOpen, counts.Alerts)
		}
	}

	watching := d.monitor.Watching()
	if len(watching) > 0 {
		quiet = false
		text += fmt.Sprintf("📱 Agents in Transfers Only status: %d\n", len(watching))
		for _, ep := range watching {
			text += fmt.Sprintf("  • %s: %s\n", ep.AgentName, monitor.FormatDuration(ep.Elapsed))
		}
	} else {
		text += "📱 No agents currently in Transfers Only status."
	}

	if quiet {
		log.Printf("bot: daemon: nothing to digest, skipping")
		return
	}
	d.postNotice(ctx, text)
}

// postNotice posts to the status channel, logging failures.
func (d *Daemon) postNotice(ctx context.Context, text string) {
	if d.cfg.Chat.StatusChannel == "" {
		return
	}
	if _, err := d.adapter.Post(ctx, d.cfg.Chat.StatusChannel, chat.OutboundMessage{Text: text}); err != nil {
		log.Printf("bot: daemon: post notice: %v", err)
	}
}
