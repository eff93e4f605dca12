// Package bot wires the chat adapter, monitor, and escalation engine into
// a running daemon: it routes inbound events and owns the process lifecycle.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/escalation"
	"github.com/zulandar/switchboard/internal/monitor"
)

// Router classifies inbound chat events and dispatches each to exactly
// one handler. Unknown or malformed events are dropped with a logged
// warning, never propagated.
type Router struct {
	monitor   *monitor.Monitor
	engine    *escalation.Engine
	botUserID string // filters self-messages
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Monitor   *monitor.Monitor
	Engine    *escalation.Engine
	BotUserID string
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Monitor == nil {
		return nil, fmt.Errorf("bot: router: monitor is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("bot: router: engine is required")
	}
	return &Router{
		monitor:   opts.Monitor,
		engine:    opts.Engine,
		botUserID: opts.BotUserID,
	}, nil
}

// Handle classifies and routes a single inbound event. Routing paths:
//  1. Bot self-message → ignore
//  2. Button click → handler keyed by action ID
//  3. "@help ..." message → knowledge answer workflow
//  4. "@customersupportleads" mention → stateless leads forward
//  5. Everything else → ignore
func (r *Router) Handle(ctx context.Context, ev chat.InboundEvent) {
	if ev.UserID != "" && ev.UserID == r.botUserID {
		return
	}

	switch ev.Kind {
	case chat.EventAction:
		r.handleAction(ctx, ev)
	case chat.EventMessage:
		r.handleMessage(ctx, ev)
	default:
		log.Printf("bot: router: dropping event of unknown kind %q", ev.Kind)
	}
}

func (r *Router) handleAction(ctx context.Context, ev chat.InboundEvent) {
	switch ev.ActionID {
	case "acknowledge_alert":
		r.monitor.HandleAcknowledge(ctx, ev)
	case escalation.ActionFeedbackYes, escalation.ActionFeedbackNo:
		r.engine.HandleFeedback(ctx, ev)
	case escalation.ActionAccept:
		r.engine.HandleAccept(ctx, ev)
	case escalation.ActionResolve:
		r.engine.HandleResolve(ctx, ev)
	default:
		log.Printf("bot: router: dropping action with unknown ID %q", ev.ActionID)
	}
}

func (r *Router) handleMessage(ctx context.Context, ev chat.InboundEvent) {
	text := strings.ToLower(strings.TrimSpace(ev.Text))
	switch {
	case strings.HasPrefix(text, escalation.HelpMention):
		r.engine.HandleHelp(ctx, ev)
	case strings.Contains(text, escalation.LeadsMention):
		r.engine.HandleLeadsMention(ctx, ev)
	}
	// Plain messages without a trigger are ignored.
}
