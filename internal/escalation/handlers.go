package escalation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/kb"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
)

const linkUnavailable = "Thread link unavailable"

// HandleHelp answers an "@help <question>" message: search the knowledge
// base, reply in the thread, and post a feedback prompt with buttons.
func (e *Engine) HandleHelp(ctx context.Context, ev chat.InboundEvent) {
	query := strings.TrimSpace(trimMention(ev.Text, HelpMention))
	if query == "" {
		return
	}

	cards, err := e.search.Search(ctx, query)
	if err != nil {
		log.Printf("escalation: knowledge search: %v", err)
		cards = nil
	}
	answer := buildAnswer(cards)

	anchor := threadAnchor(ev)
	if _, err := e.adapter.Reply(ctx, anchor, chat.OutboundMessage{
		Text: "🤖 *Guru Answer:*\n" + answer,
	}); err != nil {
		log.Printf("escalation: post answer: %v", err)
		return
	}

	in := &Interaction{
		ID:        uuid.NewString(),
		Platform:  ev.Platform,
		ChannelID: ev.ChannelID,
		UserID:    ev.UserID,
		UserName:  displayName(ev),
		Question:  query,
		Answer:    answer,
		Feedback:  models.FeedbackNone,
		Thread:    anchor,
		CreatedAt: e.clock(),
	}

	prompt, err := e.adapter.Reply(ctx, anchor, chat.OutboundMessage{
		Text: "Was this answer helpful?",
		Controls: []chat.Control{
			{ActionID: ActionFeedbackYes, Label: "👍 Yes", Style: chat.StylePrimary, Value: in.ID},
			{ActionID: ActionFeedbackNo, Label: "👎 No", Style: chat.StyleDanger, Value: in.ID},
		},
	})
	if err != nil {
		log.Printf("escalation: post feedback prompt: %v", err)
		return
	}
	in.Prompt = prompt

	e.mu.Lock()
	e.interactions[in.ID] = in
	e.byPrompt[prompt] = in.ID
	e.mu.Unlock()

	e.recordInteraction(in)
}

// HandleFeedback processes a feedback button click. Positive feedback
// closes the interaction; negative feedback escalates. A second click on
// the same prompt is a logged no-op.
func (e *Engine) HandleFeedback(ctx context.Context, ev chat.InboundEvent) {
	feedback, ok := feedbackValue(ev.ActionID)
	if !ok {
		log.Printf("escalation: unknown feedback action %q", ev.ActionID)
		return
	}

	e.mu.Lock()
	in, err := e.interactionForEvent(ev)
	if err == nil && in.Feedback != models.FeedbackNone {
		err = ErrDuplicateAction
	}
	if err == nil {
		in.Feedback = feedback
	}
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateAction) {
			log.Printf("escalation: feedback ignored: %v", err)
			return
		}
		log.Printf("escalation: feedback: %v", err)
		return
	}

	if e.db != nil {
		if lerr := ledger.SetFeedback(e.db, in.ID, feedback); lerr != nil {
			log.Printf("escalation: %v", lerr)
		}
	}

	if feedback == models.FeedbackPositive {
		e.closePrompt(ctx, in, "Was this answer helpful?\n👍 Yes - Thanks for your feedback!")
		log.Printf("escalation: positive feedback from %s", in.UserName)
		return
	}

	e.closePrompt(ctx, in, "Was this answer helpful?\n👎 No - Your request has been escalated.")
	e.escalate(ctx, in)
}

// escalate creates a posted escalation for the interaction, notifies the
// leads channel with an accept button, and tells the requester.
func (e *Engine) escalate(ctx context.Context, in *Interaction) {
	link, err := e.adapter.Permalink(ctx, in.Thread)
	if err != nil {
		log.Printf("escalation: resolve thread link: %v", err)
		link = linkUnavailable
	}

	esc := &Escalation{
		ID:            uuid.NewString(),
		InteractionID: in.ID,
		RequesterID:   in.UserID,
		RequesterName: in.UserName,
		Question:      in.Question,
		ThreadLink:    link,
		Thread:        in.Thread,
		State:         models.EscalationPosted,
		CreatedAt:     e.clock(),
	}

	text := fmt.Sprintf(
		"🚨 *Escalation Request*\n👤 *User:* <@%s>\n❓ *Original Question:* %s\n⚡ *Assistance Needed!*\n🔗 *< %s | Go to Thread >*",
		esc.RequesterID, esc.Question, esc.ThreadLink)

	ref, err := e.adapter.Post(ctx, e.leads, chat.OutboundMessage{
		Text: text,
		Controls: []chat.Control{
			{ActionID: ActionAccept, Label: "✅ Accept Request", Style: chat.StylePrimary, Value: esc.ID},
		},
	})
	if err != nil {
		log.Printf("escalation: post escalation: %v", err)
	} else {
		esc.Message = ref
	}

	e.mu.Lock()
	e.escalations[esc.ID] = esc
	if !esc.Message.IsZero() {
		e.byPost[esc.Message] = esc.ID
	}
	e.mu.Unlock()

	if _, err := e.adapter.Reply(ctx, in.Thread, chat.OutboundMessage{
		Text: "🚨 Your request has been escalated. Someone will assist you shortly!",
	}); err != nil {
		log.Printf("escalation: notify requester: %v", err)
	}

	if e.db != nil {
		if lerr := ledger.MarkEscalated(e.db, in.ID); lerr != nil {
			log.Printf("escalation: %v", lerr)
		}
		if lerr := ledger.RecordEscalation(e.db, &models.EscalationEvent{
			ID:            esc.ID,
			InteractionID: in.ID,
			RequesterID:   esc.RequesterID,
			RequesterName: esc.RequesterName,
			Question:      esc.Question,
			Status:        models.EscalationPosted,
			CreatedAt:     esc.CreatedAt,
		}); lerr != nil {
			log.Printf("escalation: %v", lerr)
		}
	}
	log.Printf("escalation: escalated question from %s", in.UserName)
}

// HandleAccept processes an accept click on an escalation post. Only the
// first acceptance is honored: the acceptor is recorded, the post is
// updated with a resolve button, and the requester is notified once.
func (e *Engine) HandleAccept(ctx context.Context, ev chat.InboundEvent) {
	now := e.clock()

	e.mu.Lock()
	esc, err := e.escalationForEvent(ev)
	if err == nil && esc.State != models.EscalationPosted {
		err = ErrDuplicateAction
	}
	if err == nil {
		esc.State = models.EscalationAccepted
		esc.AcceptedBy = ev.UserID
		esc.AcceptedByName = displayName(ev)
		esc.AcceptedAt = now
	}
	var snapshot Escalation
	if err == nil {
		snapshot = *esc
	}
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateAction) {
			log.Printf("escalation: accept ignored: %v", err)
			return
		}
		log.Printf("escalation: accept: %v", err)
		return
	}

	text := fmt.Sprintf(
		"✅ *Request Accepted by %s*\n👤 *User:* %s\n❓ *Original Question:* %s\n🔧 Assistance in progress!\n🔗 *< %s | Go to Thread >*",
		snapshot.AcceptedByName, snapshot.RequesterName, snapshot.Question, snapshot.ThreadLink)
	if uerr := e.adapter.Update(ctx, snapshot.Message, chat.OutboundMessage{
		Text: text,
		Controls: []chat.Control{
			{ActionID: ActionResolve, Label: "✔️ Resolve", Style: chat.StylePrimary, Value: snapshot.ID},
		},
	}); uerr != nil {
		log.Printf("escalation: update escalation post: %v", uerr)
	}

	dm := fmt.Sprintf(
		"✅ *Your escalation request has been accepted by %s!*\n🛠 They will respond in the original thread: %s",
		snapshot.AcceptedByName, snapshot.ThreadLink)
	if _, derr := e.adapter.Post(ctx, snapshot.RequesterID, chat.OutboundMessage{Text: dm}); derr != nil {
		log.Printf("escalation: notify requester: %v", derr)
	}

	if !snapshot.Thread.IsZero() {
		note := fmt.Sprintf("✅ *%s has accepted this request and will respond shortly!*", snapshot.AcceptedByName)
		if _, terr := e.adapter.Reply(ctx, snapshot.Thread, chat.OutboundMessage{Text: note}); terr != nil {
			log.Printf("escalation: thread note: %v", terr)
		}
	}

	if e.db != nil {
		if lerr := ledger.AcceptEscalation(e.db, snapshot.ID, snapshot.AcceptedBy, now); lerr != nil {
			log.Printf("escalation: %v", lerr)
		}
	}
	log.Printf("escalation: %s accepted escalation for %s", snapshot.AcceptedByName, snapshot.RequesterName)
}

// HandleResolve processes a resolve click on an accepted escalation.
// Resolved is terminal; later clicks are logged no-ops.
func (e *Engine) HandleResolve(ctx context.Context, ev chat.InboundEvent) {
	now := e.clock()

	e.mu.Lock()
	esc, err := e.escalationForEvent(ev)
	if err == nil && esc.State != models.EscalationAccepted {
		err = ErrDuplicateAction
	}
	if err == nil {
		esc.State = models.EscalationResolved
		esc.ResolvedAt = now
	}
	var snapshot Escalation
	if err == nil {
		snapshot = *esc
	}
	e.mu.Unlock()

	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrDuplicateAction) {
			log.Printf("escalation: resolve ignored: %v", err)
			return
		}
		log.Printf("escalation: resolve: %v", err)
		return
	}

	text := fmt.Sprintf(
		"✔️ *Request Resolved*\n👤 *User:* %s\n❓ *Original Question:* %s\n🙌 Handled by %s\n🔗 *< %s | Go to Thread >*",
		snapshot.RequesterName, snapshot.Question, snapshot.AcceptedByName, snapshot.ThreadLink)
	if uerr := e.adapter.Update(ctx, snapshot.Message, chat.OutboundMessage{Text: text}); uerr != nil {
		log.Printf("escalation: update escalation post: %v", uerr)
	}

	if e.db != nil {
		if lerr := ledger.ResolveEscalation(e.db, snapshot.ID, now); lerr != nil {
			log.Printf("escalation: %v", lerr)
		}
	}
	log.Printf("escalation: escalation for %s resolved", snapshot.RequesterName)
}

// HandleLeadsMention forwards a leads-channel mention as a stateless
// repost with the thread link. No record is created.
func (e *Engine) HandleLeadsMention(ctx context.Context, ev chat.InboundEvent) {
	cleaned := strings.TrimSpace(trimMention(ev.Text, LeadsMention))

	link, err := e.adapter.Permalink(ctx, threadAnchor(ev))
	if err != nil {
		log.Printf("escalation: resolve thread link: %v", err)
		link = linkUnavailable
	}

	text := fmt.Sprintf(
		"🚨 *Customer Support Alert*\n👤 *User:* %s\n💬 *Message:* %s\n🔗 *< %s | Go to Thread >*",
		displayName(ev), cleaned, link)
	if _, err := e.adapter.Post(ctx, e.leads, chat.OutboundMessage{Text: text}); err != nil {
		log.Printf("escalation: forward leads mention: %v", err)
	}
}

// closePrompt replaces the feedback prompt with a closing text, removing
// the buttons.
func (e *Engine) closePrompt(ctx context.Context, in *Interaction, text string) {
	if in.Prompt.IsZero() {
		return
	}
	if err := e.adapter.Update(ctx, in.Prompt, chat.OutboundMessage{Text: text}); err != nil {
		log.Printf("escalation: close feedback prompt: %v", err)
	}
}

// recordInteraction appends the interaction to the ledger, skipping
// duplicates: an open record for the same user and question is kept
// rather than appended again.
func (e *Engine) recordInteraction(in *Interaction) {
	if e.db == nil {
		return
	}
	var count int64
	err := e.db.Model(&models.Interaction{}).
		Where("user_id = ? AND LOWER(question) = LOWER(?) AND feedback = ?",
			in.UserID, in.Question, models.FeedbackNone).
		Count(&count).Error
	if err != nil {
		log.Printf("escalation: dedup check: %v", err)
	}
	if count > 0 {
		log.Printf("escalation: duplicate open interaction for %s, not re-recorded", in.UserName)
		return
	}
	if err := ledger.AppendInteraction(e.db, &models.Interaction{
		ID:        in.ID,
		Platform:  in.Platform,
		ChannelID: in.ChannelID,
		ThreadID:  in.Thread.MessageID,
		UserID:    in.UserID,
		UserName:  in.UserName,
		Question:  in.Question,
		Answer:    in.Answer,
		CreatedAt: in.CreatedAt,
	}); err != nil {
		log.Printf("escalation: %v", err)
	}
}

// buildAnswer formats search results the way the answer message presents
// them, or a fallback when nothing matched.
func buildAnswer(cards []kb.Card) string {
	if len(cards) == 0 {
		return "🤖 Sorry, I couldn't find an answer. Please escalate if needed."
	}
	var b strings.Builder
	b.WriteString("📚 *Here are some relevant Guru cards:*\n")
	for _, c := range cards {
		title := c.Title
		if title == "" {
			title = "Untitled Card"
		}
		fmt.Fprintf(&b, "🔹 *<%s|%s>*\n", c.URL(), title)
	}
	return b.String()
}

// trimMention removes the first occurrence of a mention trigger,
// case-insensitively.
func trimMention(text, mention string) string {
	idx := strings.Index(strings.ToLower(text), mention)
	if idx < 0 {
		return text
	}
	return text[:idx] + text[idx+len(mention):]
}
