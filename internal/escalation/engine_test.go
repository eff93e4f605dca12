package escalation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/zulandar/switchboard/internal/chat"
	"github.com/zulandar/switchboard/internal/db"
	"github.com/zulandar/switchboard/internal/kb"
	"github.com/zulandar/switchboard/internal/ledger"
	"github.com/zulandar/switchboard/internal/models"
)

// --- Fake searcher ---

type fakeSearcher struct {
	cards []kb.Card
	err   error
	calls []string
}

func (f *fakeSearcher) Search(ctx context.Context, query string) ([]kb.Card, error) {
	f.calls = append(f.calls, query)
	return f.cards, f.err
}

// --- Helpers ---

func newTestEngine(t *testing.T) (*Engine, *chat.MockAdapter, *fakeSearcher) {
	t.Helper()
	adapter := chat.NewMockAdapter()
	if err := adapter.Connect(context.Background()); err != nil {
		t.Fatalf("connect mock: %v", err)
	}
	search := &fakeSearcher{cards: []kb.Card{
		{Title: "Refund Policy", Slug: "abc/refund-policy"},
		{Title: "Chargebacks", Slug: "def/chargebacks"},
		{Title: "Returns", Slug: "ghi/returns"},
	}}

	e, err := New(Opts{
		Adapter:      adapter,
		Search:       search,
		LeadsChannel: "C_LEADS",
		Clock:        func() time.Time { return time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC) },
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, adapter, search
}

func helpEvent(text string) chat.InboundEvent {
	return chat.InboundEvent{
		Kind:      chat.EventMessage,
		Platform:  "slack",
		ChannelID: "C_HELP",
		UserID:    "U_ALICE",
		UserName:  "alice",
		Text:      text,
		Message:   chat.MessageRef{ChannelID: "C_HELP", MessageID: "q-1"},
	}
}

// askAndAnswer runs HandleHelp and returns the posted feedback prompt.
func askAndAnswer(t *testing.T, e *Engine, adapter *chat.MockAdapter) chat.PostedMessage {
	t.Helper()
	e.HandleHelp(context.Background(), helpEvent("@help refund policy"))
	posted := adapter.AllPosted()
	if len(posted) != 2 {
		t.Fatalf("posted %d messages, want answer + prompt", len(posted))
	}
	return posted[1]
}

func feedbackEvent(prompt chat.PostedMessage, actionID, userID string) chat.InboundEvent {
	return chat.InboundEvent{
		Kind:     chat.EventAction,
		ActionID: actionID,
		Value:    prompt.Message.Controls[0].Value,
		UserID:   userID,
		UserName: userID,
		Message:  prompt.Ref,
	}
}

// --- Help handling ---

func TestHandleHelp_PostsAnswerAndPrompt(t *testing.T) {
	e, adapter, search := newTestEngine(t)

	prompt := askAndAnswer(t, e, adapter)

	if len(search.calls) != 1 || search.calls[0] != "refund policy" {
		t.Errorf("search calls = %v, want [refund policy]", search.calls)
	}

	answer := adapter.AllPosted()[0]
	if answer.Parent.MessageID != "q-1" {
		t.Errorf("answer not threaded under question: %+v", answer.Parent)
	}
	if !strings.Contains(answer.Message.Text, "relevant Guru cards") ||
		!strings.Contains(answer.Message.Text, "Refund Policy") ||
		!strings.Contains(answer.Message.Text, "app.getguru.com/card/abc/refund-policy") {
		t.Errorf("unexpected answer text: %q", answer.Message.Text)
	}

	if prompt.Message.Text != "Was this answer helpful?" {
		t.Errorf("prompt text = %q", prompt.Message.Text)
	}
	if len(prompt.Message.Controls) != 2 ||
		prompt.Message.Controls[0].ActionID != ActionFeedbackYes ||
		prompt.Message.Controls[1].ActionID != ActionFeedbackNo {
		t.Errorf("unexpected prompt controls: %+v", prompt.Message.Controls)
	}

	if got := len(e.Interactions()); got != 1 {
		t.Errorf("interactions = %d, want 1", got)
	}
}

func TestHandleHelp_EmptyQueryIgnored(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	e.HandleHelp(context.Background(), helpEvent("@help   "))
	if adapter.PostedCount() != 0 {
		t.Errorf("posted %d messages, want 0", adapter.PostedCount())
	}
}

func TestHandleHelp_SearchFailureFallsBack(t *testing.T) {
	e, adapter, search := newTestEngine(t)
	search.err = fmt.Errorf("kb down")
	search.cards = nil

	e.HandleHelp(context.Background(), helpEvent("@help anything"))

	answer := adapter.AllPosted()[0]
	if !strings.Contains(answer.Message.Text, "couldn't find an answer") {
		t.Errorf("unexpected fallback text: %q", answer.Message.Text)
	}
}

func TestHandleHelp_ThreadedQuestionAnchorsToThread(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	ev := helpEvent("@help refund policy")
	ev.ThreadID = "root-ts"
	ev.Message = chat.MessageRef{ChannelID: "C_HELP", MessageID: "q-2"}

	e.HandleHelp(context.Background(), ev)

	answer := adapter.AllPosted()[0]
	if answer.Parent.MessageID != "root-ts" {
		t.Errorf("answer anchored to %q, want thread root", answer.Parent.MessageID)
	}
}

// --- Feedback ---

func TestHandleFeedback_PositiveIsTerminal(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	prompt := askAndAnswer(t, e, adapter)

	e.HandleFeedback(context.Background(), feedbackEvent(prompt, ActionFeedbackYes, "U_ALICE"))

	update, ok := adapter.UpdateFor(prompt.Ref)
	if !ok {
		t.Fatal("expected feedback prompt to be updated")
	}
	if !strings.Contains(update.Text, "Thanks for your feedback") || len(update.Controls) != 0 {
		t.Errorf("unexpected prompt update: %+v", update)
	}
	if got := len(e.Escalations()); got != 0 {
		t.Errorf("escalations = %d, want 0 (positive feedback never escalates)", got)
	}
	if got := e.Interactions()[0].Feedback; got != models.FeedbackPositive {
		t.Errorf("feedback = %q, want positive", got)
	}
}

func TestHandleFeedback_NegativeEscalatesOnce(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	prompt := askAndAnswer(t, e, adapter)
	adapter.SetPermalink(chat.MessageRef{ChannelID: "C_HELP", MessageID: "q-1"}, "https://chat.example/t/q-1")

	e.HandleFeedback(context.Background(), feedbackEvent(prompt, ActionFeedbackNo, "U_ALICE"))

	escs := e.Escalations()
	if len(escs) != 1 || escs[0].State != models.EscalationPosted {
		t.Fatalf("unexpected escalations: %+v", escs)
	}

	// Escalation post in the leads channel with an accept button.
	leads := adapter.PostedTo("C_LEADS")
	if len(leads) != 1 {
		t.Fatalf("leads posts = %d, want 1", len(leads))
	}
	if !strings.Contains(leads[0].Message.Text, "Escalation Request") ||
		!strings.Contains(leads[0].Message.Text, "<@U_ALICE>") ||
		!strings.Contains(leads[0].Message.Text, "refund policy") ||
		!strings.Contains(leads[0].Message.Text, "https://chat.example/t/q-1") {
		t.Errorf("unexpected escalation text: %q", leads[0].Message.Text)
	}
	if len(leads[0].Message.Controls) != 1 || leads[0].Message.Controls[0].ActionID != ActionAccept {
		t.Errorf("unexpected escalation controls: %+v", leads[0].Message.Controls)
	}

	// Requester notified in the thread.
	last, _ := adapter.LastPosted()
	if !strings.Contains(last.Message.Text, "has been escalated") {
		t.Errorf("unexpected requester notice: %q", last.Message.Text)
	}

	// Double click: no second escalation.
	e.HandleFeedback(context.Background(), feedbackEvent(prompt, ActionFeedbackNo, "U_ALICE"))
	if got := len(e.Escalations()); got != 1 {
		t.Errorf("escalations after double click = %d, want 1", got)
	}
}

func TestHandleFeedback_UnknownInteractionIgnored(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	e.HandleFeedback(context.Background(), chat.InboundEvent{
		Kind: chat.EventAction, ActionID: ActionFeedbackYes,
		Value: "missing", Message: chat.MessageRef{ChannelID: "C1", MessageID: "x"},
	})
	if adapter.PostedCount() != 0 {
		t.Errorf("posted %d messages for unknown interaction, want 0", adapter.PostedCount())
	}
}

// --- Accept / resolve ---

// escalated sets up an interaction with negative feedback and returns the
// escalation post.
func escalated(t *testing.T, e *Engine, adapter *chat.MockAdapter) chat.PostedMessage {
	t.Helper()
	prompt := askAndAnswer(t, e, adapter)
	e.HandleFeedback(context.Background(), feedbackEvent(prompt, ActionFeedbackNo, "U_ALICE"))
	leads := adapter.PostedTo("C_LEADS")
	if len(leads) != 1 {
		t.Fatalf("leads posts = %d, want 1", len(leads))
	}
	return leads[0]
}

func acceptEvent(post chat.PostedMessage, userID, userName string) chat.InboundEvent {
	return chat.InboundEvent{
		Kind: chat.EventAction, ActionID: ActionAccept,
		Value: post.Message.Controls[0].Value,
		UserID: userID, UserName: userName, Message: post.Ref,
	}
}

func TestHandleAccept_RecordsAcceptorAndNotifies(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	post := escalated(t, e, adapter)
	before := adapter.PostedCount()

	e.HandleAccept(context.Background(), acceptEvent(post, "U_LEAD", "lead"))

	escs := e.Escalations()
	if escs[0].State != models.EscalationAccepted || escs[0].AcceptedBy != "U_LEAD" {
		t.Errorf("unexpected escalation: %+v", escs[0])
	}
	if escs[0].AcceptedAt.IsZero() {
		t.Error("expected acceptance timestamp")
	}

	// The post now shows the acceptor and carries a resolve button.
	update, ok := adapter.UpdateFor(post.Ref)
	if !ok {
		t.Fatal("expected escalation post to be updated")
	}
	if !strings.Contains(update.Text, "Request Accepted by lead") {
		t.Errorf("unexpected update text: %q", update.Text)
	}
	if len(update.Controls) != 1 || update.Controls[0].ActionID != ActionResolve {
		t.Errorf("unexpected update controls: %+v", update.Controls)
	}

	// Requester DM plus thread note.
	if adapter.PostedCount() != before+2 {
		t.Errorf("posted %d new messages, want 2 (DM + thread note)", adapter.PostedCount()-before)
	}
	dms := adapter.PostedTo("U_ALICE")
	if len(dms) != 1 || !strings.Contains(dms[0].Message.Text, "accepted by lead") {
		t.Errorf("unexpected DM: %+v", dms)
	}
}

func TestHandleAccept_DoubleClickHonoredOnce(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	post := escalated(t, e, adapter)

	e.HandleAccept(context.Background(), acceptEvent(post, "U_LEAD", "lead"))
	after := adapter.PostedCount()

	e.HandleAccept(context.Background(), acceptEvent(post, "U_OTHER", "other"))

	if got := e.Escalations()[0].AcceptedBy; got != "U_LEAD" {
		t.Errorf("acceptor = %q, want U_LEAD (first click wins)", got)
	}
	if adapter.PostedCount() != after {
		t.Error("duplicate accept produced extra notifications")
	}
	if len(adapter.PostedTo("U_ALICE")) != 1 {
		t.Error("requester notified more than once")
	}
}

func TestHandleResolve_TerminalState(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	post := escalated(t, e, adapter)

	resolve := chat.InboundEvent{
		Kind: chat.EventAction, ActionID: ActionResolve,
		Value: post.Message.Controls[0].Value,
		UserID: "U_LEAD", UserName: "lead", Message: post.Ref,
	}

	// Resolve before accept is a no-op.
	e.HandleResolve(context.Background(), resolve)
	if got := e.Escalations()[0].State; got != models.EscalationPosted {
		t.Errorf("state = %q, want posted (resolve requires accept)", got)
	}

	e.HandleAccept(context.Background(), acceptEvent(post, "U_LEAD", "lead"))
	e.HandleResolve(context.Background(), resolve)

	esc := e.Escalations()[0]
	if esc.State != models.EscalationResolved || esc.ResolvedAt.IsZero() {
		t.Errorf("unexpected escalation: %+v", esc)
	}
	update, _ := adapter.UpdateFor(post.Ref)
	if !strings.Contains(update.Text, "Request Resolved") || len(update.Controls) != 0 {
		t.Errorf("unexpected final post: %+v", update)
	}

	// Resolved is never further mutated.
	e.HandleResolve(context.Background(), resolve)
	if got := e.Escalations()[0].State; got != models.EscalationResolved {
		t.Errorf("state = %q after duplicate resolve", got)
	}
}

// --- Leads mention ---

func TestHandleLeadsMention_StatelessForward(t *testing.T) {
	e, adapter, _ := newTestEngine(t)

	ev := helpEvent("hey @customersupportleads we need coverage")
	adapter.SetPermalink(ev.Message, "https://chat.example/t/q-1")

	e.HandleLeadsMention(context.Background(), ev)

	leads := adapter.PostedTo("C_LEADS")
	if len(leads) != 1 {
		t.Fatalf("leads posts = %d, want 1", len(leads))
	}
	text := leads[0].Message.Text
	if !strings.Contains(text, "Customer Support Alert") ||
		!strings.Contains(text, "alice") ||
		!strings.Contains(text, "hey  we need coverage") ||
		!strings.Contains(text, "https://chat.example/t/q-1") {
		t.Errorf("unexpected forward text: %q", text)
	}

	// No records are created for a mention forward.
	if len(e.Interactions()) != 0 || len(e.Escalations()) != 0 {
		t.Error("mention forward created records")
	}
}

func TestTrimMention(t *testing.T) {
	if got := trimMention("@HELP refund", HelpMention); got != " refund" {
		t.Errorf("got %q", got)
	}
	if got := trimMention("no mention here", HelpMention); got != "no mention here" {
		t.Errorf("got %q", got)
	}
}

func TestHandleHelp_LedgerDedupsDuplicateOpenInteractions(t *testing.T) {
	e, adapter, _ := newTestEngine(t)
	gormDB, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open memory db: %v", err)
	}
	if err := ledger.AutoMigrate(gormDB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e.db = gormDB

	// Same user asks the same question twice (case differs) before giving
	// feedback. The ledger keeps the open record instead of appending.
	e.HandleHelp(context.Background(), helpEvent("@help refund policy"))
	e.HandleHelp(context.Background(), helpEvent("@help Refund Policy"))

	var count int64
	if err := gormDB.Model(&models.Interaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count interactions: %v", err)
	}
	if count != 1 {
		t.Errorf("ledger rows = %d for duplicate open question, want 1", count)
	}

	// Both asks were still answered in chat.
	if got := adapter.PostedCount(); got != 4 {
		t.Errorf("posted %d messages, want 2 answers + 2 prompts", got)
	}

	// A different question appends a second row.
	e.HandleHelp(context.Background(), helpEvent("@help chargeback window"))
	if err := gormDB.Model(&models.Interaction{}).Count(&count).Error; err != nil {
		t.Fatalf("count interactions: %v", err)
	}
	if count != 2 {
		t.Errorf("ledger rows = %d after distinct question, want 2", count)
	}
}
