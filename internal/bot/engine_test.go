package bot

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/panel"
	"github.com/nexguard/nexbot/internal/store"
)

// --- NewEngine ---

func TestNewEngine_MissingAdmin(t *testing.T) {
	_, err := NewEngine(EngineOpts{})
	if err == nil {
		t.Fatal("expected error for missing admin identity")
	}
}

func TestNewEngine_MissingLedgers(t *testing.T) {
	_, err := NewEngine(EngineOpts{
		AdminIdentity: testAdmin,
		Catalog:       &Catalog{},
		Modes:         NewModes(false, false),
	})
	if err == nil {
		t.Fatal("expected error for missing ledgers")
	}
}

// --- Main menu ---

func TestMenu_AnyTextShowsWelcome(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "hello")

	if got := f.last(testUser); got != welcomeMenu("", "") {
		t.Errorf("reply = %q, want welcome menu", got)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestMenu_UnknownDigitIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "5")

	msgs := f.sent(testUser)
	if len(msgs) != 2 {
		t.Fatalf("sent %d messages, want 2", len(msgs))
	}
	if msgs[0] != textInvalidOption {
		t.Errorf("first reply = %q, want invalid option", msgs[0])
	}
	if f.state(testUser) != "idle" {
		t.Errorf("state = %s, want idle", f.state(testUser))
	}
}

func TestMenu_OptionalEntries(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetVacation(true)
	f.core.Modes.SetPromotion(true)

	menu := welcomeMenu(f.core.Modes.MenuKeys())
	if !strings.Contains(menu, "5. File a Complaint") {
		t.Errorf("menu missing complaint entry:\n%s", menu)
	}
	if !strings.Contains(menu, "6. Join Our Promotion") {
		t.Errorf("menu missing promotion entry:\n%s", menu)
	}
}

func TestMenu_GroupMessageIgnored(t *testing.T) {
	f := newFixture(t)
	f.deliver(InboundMessage{SenderID: "123-456" + GroupSuffix, Body: "1"})
	f.deliver(InboundMessage{SenderID: "u2", Body: "1", Group: true})

	if f.gw.SentCount() != 0 {
		t.Errorf("sent %d messages for group chats, want 0", f.gw.SentCount())
	}
	if f.core.Sessions.Len() != 0 {
		t.Errorf("sessions = %d, want 0", f.core.Sessions.Len())
	}
}

func TestMenu_UnknownContactName(t *testing.T) {
	f := newFixture(t)
	f.send("stranger", "2")
	f.send("stranger", "please call me")

	entries := f.core.Messages.Entries("stranger")
	if len(entries) != 1 {
		t.Fatalf("logged %d entries, want 1", len(entries))
	}
	if entries[0].Name != "Unknown" {
		t.Errorf("name = %q, want Unknown", entries[0].Name)
	}
}

// --- Order workflow ---

func driveOrderToConfirm(f *fixture) {
	f.send(testUser, "4")
	f.send(testUser, "1")
	f.send(testUser, "2")
	f.send(testUser, "1")
	f.send(testUser, "0771234567")
	f.send(testUser, "alice@example.com")
	f.send(testUser, "alice")
}

func TestOrder_ConfirmRecordsOneOrder(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)

	if s := f.state(testUser); s != "order_confirm" {
		t.Fatalf("state = %s, want order_confirm", s)
	}
	if !strings.Contains(f.last(testUser), "Order Summary") {
		t.Errorf("expected order summary, got %q", f.last(testUser))
	}

	f.send(testUser, "confirm")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if n := f.core.Orders.Total(); n != 1 {
		t.Fatalf("orders = %d, want 1", n)
	}
	orders := f.core.Orders.ForIdentity(testUser)
	o := orders[0]
	if o.Status != models.OrderConfirmed {
		t.Errorf("status = %s, want confirmed", o.Status)
	}
	if o.Duration != "1 Month" || o.DurationDays != 30 {
		t.Errorf("duration = %s/%d", o.Duration, o.DurationDays)
	}
	if o.DeviceType != "SLT Router" {
		t.Errorf("device = %s", o.DeviceType)
	}
	if o.UsageType != "Unlimited Usage" || o.TotalPrice != 800 {
		t.Errorf("usage = %s/%d", o.UsageType, o.TotalPrice)
	}
	if o.ContactNumber != "0771234567" || o.Email != "alice@example.com" || o.Username != "alice" {
		t.Errorf("contact fields = %+v", o)
	}
	if o.Customer != "Alice" {
		t.Errorf("customer = %s, want Alice", o.Customer)
	}
	if !strings.HasPrefix(o.ID, "ORD-") || len(o.ID) != len("ORD-000000") {
		t.Errorf("id = %q", o.ID)
	}

	if !containsAny(f.sent(testAdmin), "NEW ORDER RECEIVED") {
		t.Error("admin was not notified of the order")
	}
	if !containsAny(f.sent(testUser), o.ID) {
		t.Error("confirmation did not include the order id")
	}

	body, err := f.store.Get(context.Background(), store.Orders, testUser)
	if err != nil {
		t.Fatalf("order not persisted: %v", err)
	}
	var persisted []models.Order
	if err := json.Unmarshal(body, &persisted); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(persisted) != 1 || persisted[0].ID != o.ID {
		t.Errorf("persisted = %+v", persisted)
	}
}

func TestOrder_CancelWritesNothing(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)
	f.send(testUser, "cancel")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if n := f.core.Orders.Total(); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
	if containsAny(f.sent(testAdmin), "NEW ORDER") {
		t.Error("admin notified of a cancelled order")
	}
}

func TestOrder_ConfirmStepReprompts(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)
	f.send(testUser, "maybe")

	if s := f.state(testUser); s != "order_confirm" {
		t.Errorf("state = %s, want order_confirm", s)
	}
	if got := f.last(testUser); got != textConfirmPrompt {
		t.Errorf("reply = %q", got)
	}
}

func TestOrder_InvalidSelectionResendsSameMenu(t *testing.T) {
	tests := []struct {
		name  string
		setup []string
		input string
		state string
		menu  func(*Catalog) string
	}{
		{"duration", nil, "9", "order_duration", (*Catalog).DurationMenu},
		{"device", []string{"1"}, "0", "order_device", (*Catalog).DeviceMenu},
		{"usage", []string{"1", "1"}, "abc", "order_usage", (*Catalog).UsageMenu},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.send(testUser, "4")
			for _, s := range tt.setup {
				f.send(testUser, s)
			}
			before := len(f.sent(testUser))
			f.send(testUser, tt.input)

			if s := f.state(testUser); s != tt.state {
				t.Errorf("state = %s, want %s", s, tt.state)
			}
			msgs := f.sent(testUser)[before:]
			if len(msgs) != 2 {
				t.Fatalf("sent %d messages, want 2", len(msgs))
			}
			if msgs[1] != tt.menu(f.catalog) {
				t.Errorf("menu = %q, want %q", msgs[1], tt.menu(f.catalog))
			}
		})
	}
}

func TestOrder_DuplicateIDRegenerated(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)

	sess, _ := f.core.Sessions.Get(testUser)
	sess.lock()
	draftID := sess.Draft().ID
	sess.unlock()
	if err := f.core.Orders.Append(context.Background(), "someone-else", models.Order{ID: draftID}); err != nil {
		t.Fatalf("seed order: %v", err)
	}

	f.send(testUser, "confirm")

	orders := f.core.Orders.ForIdentity(testUser)
	if len(orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(orders))
	}
	if orders[0].ID == draftID {
		t.Error("colliding order id was not regenerated")
	}
}

func TestOrder_PersistenceFailureKeepsOrder(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)
	f.store.FailPuts = errors.New("disk full")
	f.send(testUser, "confirm")

	if n := f.core.Orders.Total(); n != 1 {
		t.Errorf("orders = %d, want 1 in memory", n)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestOrder_RestartMidOrderLoadsIdle(t *testing.T) {
	st := store.NewMemory()
	f := newFixtureWithStore(t, st)
	f.send(testUser, "4")
	f.send(testUser, "1")
	f.send(testUser, "1")
	f.send(testUser, "2")
	f.send(testUser, "0771234567")
	if s := f.state(testUser); s != "order_email" {
		t.Fatalf("state = %s, want order_email", s)
	}

	body, err := st.Get(context.Background(), store.Sessions, testUser)
	if err != nil {
		t.Fatalf("session not persisted: %v", err)
	}
	var rec models.SessionRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.State != "order_email" || rec.OrderDraft == nil {
		t.Fatalf("persisted record = %+v", rec)
	}

	restarted := newFixtureWithStore(t, st)
	if s := restarted.state(testUser); s != "idle" {
		t.Errorf("state after restart = %s, want idle", s)
	}
	sess, _ := restarted.core.Sessions.Get(testUser)
	if sess.Draft() != nil {
		t.Error("draft survived restart")
	}
	if n := restarted.core.Orders.Total(); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}

	restarted.send(testUser, "hi")
	if got := restarted.last(testUser); got != welcomeMenu("", "") {
		t.Errorf("reply after restart = %q, want welcome", got)
	}
}

// --- Promotion workflow ---

func TestPromotion_JoinFlow(t *testing.T) {
	f := newFixture(t)
	f.send(testAdmin, "!promo start 7")
	f.send(testUser, "5")

	if s := f.state(testUser); s != "promotion_join" {
		t.Fatalf("state = %s, want promotion_join", s)
	}
	f.send(testUser, "maybe")
	if got := f.last(testUser); got != textPromoJoinAgain {
		t.Errorf("reply = %q", got)
	}
	f.send(testUser, "join")
	if s := f.state(testUser); s != "promotion_proof" {
		t.Fatalf("state = %s, want promotion_proof", s)
	}
	f.send(testUser, "no picture")
	if got := f.last(testUser); got != textPromoNeedProof {
		t.Errorf("reply = %q", got)
	}
	f.sendMedia(testUser, "")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if !f.core.Promotion.Has(testUser) {
		t.Error("participant not recorded")
	}
	if !containsAny(f.sent(testAdmin), "PROMOTION ENTRY") {
		t.Error("entry not forwarded to admin")
	}
}

func TestPromotion_NoDuplicateEntry(t *testing.T) {
	f := newFixture(t)
	f.send(testAdmin, "!promo start")
	f.send(testUser, "5")
	f.send(testUser, "join")
	f.sendMedia(testUser, "proof")

	// A second proof arriving in the proof step must be rejected.
	sess, _ := f.core.Sessions.Get(testUser)
	sess.lock()
	sess.State = PromotionState{Step: StepProof}
	sess.unlock()
	f.sendMedia(testUser, "proof again")

	if n := f.core.Promotion.Status().Participants; n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}
	if !containsAny(f.sent(testUser), "already registered") {
		t.Error("duplicate entry not reported")
	}

	// Re-entering from the menu stops at the info step.
	f.send(testUser, "5")
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if n := f.core.Promotion.Status().Participants; n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}
}

func TestPromotion_InactiveResolvesIdle(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetPromotion(true)
	f.send(testUser, "5")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if !containsAny(f.sent(testUser), "currently inactive") {
		t.Error("inactive promotion not explained")
	}
}

func TestPromotion_EndedWhileProving(t *testing.T) {
	f := newFixture(t)
	f.send(testAdmin, "!promo start")
	f.send(testUser, "5")
	f.send(testUser, "join")
	f.send(testAdmin, "!promo end")
	f.sendMedia(testUser, "")

	if f.core.Promotion.Has(testUser) {
		t.Error("joined an ended promotion")
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

// --- Vacation mode ---

func TestVacation_OneAutoReplyThenLogOnly(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetVacation(true)

	f.send(testUser, "is anyone there?")
	userMsgs := f.sent(testUser)
	adminMsgs := f.sent(testAdmin)
	if len(userMsgs) != 1 {
		t.Fatalf("user got %d messages, want 1", len(userMsgs))
	}
	if !strings.Contains(userMsgs[0], "AUTOMATED RESPONSE") {
		t.Errorf("auto reply = %q", userMsgs[0])
	}
	if len(adminMsgs) != 1 || !strings.Contains(adminMsgs[0], "is anyone there?") {
		t.Fatalf("admin got %v, want one forward", adminMsgs)
	}
	if s := f.state(testUser); s != "vacation_notified" {
		t.Errorf("state = %s, want vacation_notified", s)
	}

	f.send(testUser, "hello??")
	if n := len(f.sent(testUser)); n != 1 {
		t.Errorf("user got %d messages after second message, want 1", n)
	}
	if n := len(f.sent(testAdmin)); n != 1 {
		t.Errorf("admin got %d messages after second message, want 1", n)
	}
	if n := len(f.core.Messages.Entries(testUser)); n != 2 {
		t.Errorf("logged %d messages, want 2", n)
	}
}

func TestVacation_MenuDigitStillWorks(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetVacation(true)
	f.send(testUser, "hi")
	f.send(testUser, "5")

	if s := f.state(testUser); s != "complaint" {
		t.Fatalf("state = %s, want complaint", s)
	}
	f.send(testUser, "my router is broken")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if !containsAny(f.sent(testAdmin), "COMPLAINT") {
		t.Error("complaint not forwarded")
	}
	// hi, 5 and the complaint are each logged once.
	if n := len(f.core.Messages.Entries(testUser)); n != 3 {
		t.Errorf("logged %d messages, want 3", n)
	}
}

func TestVacation_AdminNotAutoReplied(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetVacation(true)
	f.send(testAdmin, "hello")

	if got := f.last(testAdmin); strings.Contains(got, "AUTOMATED RESPONSE") {
		t.Error("admin received the vacation auto reply")
	}
}

func TestVacation_OffReturnsToMenu(t *testing.T) {
	f := newFixture(t)
	f.core.Modes.SetVacation(true)
	f.send(testUser, "hi")
	f.core.Modes.SetVacation(false)
	f.send(testUser, "hi again")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if got := f.last(testUser); got != welcomeMenu("", "") {
		t.Errorf("reply = %q, want welcome", got)
	}
}

// --- Urgent fast path ---

func TestUrgent_LeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "4")
	f.send(testUser, "urgent my connection is down")

	if s := f.state(testUser); s != "order_duration" {
		t.Errorf("state = %s, want order_duration", s)
	}
	if got := f.last(testUser); got != textUrgentAck {
		t.Errorf("reply = %q", got)
	}
	if !containsAny(f.sent(testAdmin), "URGENT MESSAGE") {
		t.Error("urgent message not forwarded")
	}
}

func TestIsUrgent(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"URGENT", true},
		{"  urgent  ", true},
		{"Urgent please help", true},
		{"urgently", false},
		{"not urgent", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsUrgent(tt.body); got != tt.want {
			t.Errorf("IsUrgent(%q) = %v, want %v", tt.body, got, tt.want)
		}
	}
}

// --- Contact ---

func TestContact_ForwardsAndConfirms(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "2")
	f.send(testUser, "please call me back")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	if !containsAny(f.sent(testAdmin), "please call me back") {
		t.Error("message not forwarded")
	}
	if !containsAny(f.sent(testUser), "Message sent") {
		t.Error("no confirmation")
	}
	if n := len(f.core.Messages.Entries(testUser)); n != 1 {
		t.Errorf("logged %d messages, want 1", n)
	}
}

// --- Usage lookup ---

func TestUsage_Found(t *testing.T) {
	f := newFixture(t)
	f.panel.traffic["alice"] = &panel.Traffic{Email: "alice", Up: 1024, Down: 2048, Enable: true}
	f.send(testUser, "1")
	f.send(testUser, "alice")

	msgs := f.sent(testUser)
	if !containsAny(msgs, textUsageChecking) {
		t.Error("no interim message")
	}
	if !containsAny(msgs, "Name: alice") || !containsAny(msgs, "Status: Enabled") {
		t.Errorf("usage reply missing fields: %v", msgs)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestUsage_NotFound(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "1")
	f.send(testUser, "nobody")

	if !containsAny(f.sent(testUser), textUsageNotFound) {
		t.Error("not-found reply missing")
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestUsage_PanelErrorApologises(t *testing.T) {
	f := newFixture(t)
	f.panel.getErr = panel.ErrUnauthorized
	f.send(testUser, "1")
	f.send(testUser, "alice")

	if got := f.last(testUser); got != textApology {
		t.Errorf("reply = %q, want apology", got)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

// --- AI chat ---

func TestAIChat_ReplyAndHistory(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "3")
	f.send(testUser, "what is v2ray?")

	msgs := f.sent(testUser)
	if !containsAny(msgs, textAIThinking) {
		t.Error("no thinking message")
	}
	if f.last(testUser) != "Hello from the assistant" {
		t.Errorf("reply = %q", f.last(testUser))
	}
	if len(f.ai.windows[0]) != 0 {
		t.Errorf("first window = %v, want empty", f.ai.windows[0])
	}

	f.send(testUser, "and pricing?")
	if len(f.ai.windows[1]) != 2 {
		t.Errorf("second window has %d turns, want 2", len(f.ai.windows[1]))
	}

	f.send(testUser, "more")
	f.send(testUser, "more again")
	sess, _ := f.core.Sessions.Get(testUser)
	snap := sess.Snapshot()
	if len(snap.ChatHistory) != 4 {
		t.Errorf("history = %d turns, want 4 (2x window)", len(snap.ChatHistory))
	}
	if n := len(f.ai.windows[3]); n != 2 {
		t.Errorf("window = %d turns, want 2", n)
	}
}

func TestAIChat_ExitClearsHistory(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "3")
	f.send(testUser, "hi")
	f.send(testUser, "EXIT")

	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	sess, _ := f.core.Sessions.Get(testUser)
	if h := sess.Snapshot().ChatHistory; len(h) != 0 {
		t.Errorf("history = %v, want empty", h)
	}
}

func TestAIChat_FailureResetsToIdle(t *testing.T) {
	f := newFixture(t)
	f.ai.err = errors.New("assistant: timeout")
	f.send(testUser, "3")
	f.send(testUser, "hello")

	if got := f.last(testUser); got != textApology {
		t.Errorf("reply = %q, want apology", got)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
}

func TestAIChat_FailureLeavesNoOrphanTurn(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "3")
	f.send(testUser, "first")
	f.ai.mu.Lock()
	f.ai.err = errors.New("assistant: timeout")
	f.ai.mu.Unlock()
	f.send(testUser, "second")

	sess, _ := f.core.Sessions.Get(testUser)
	h := sess.Snapshot().ChatHistory
	if len(h) != 2 || h[0].Content != "first" || h[1].Role != models.RoleAssistant {
		t.Fatalf("history after failure = %+v, want the answered turn only", h)
	}

	f.ai.mu.Lock()
	f.ai.err = nil
	f.ai.mu.Unlock()
	f.send(testUser, "3")
	f.send(testUser, "third")
	f.ai.mu.Lock()
	window := f.ai.windows[len(f.ai.windows)-1]
	f.ai.mu.Unlock()
	for _, turn := range window {
		if turn.Content == "second" {
			t.Errorf("window %+v carries the failed turn", window)
		}
	}
}

func TestAIChat_StaleReplyDiscarded(t *testing.T) {
	f := newFixture(t)
	f.send(testUser, "3")

	f.ai.mu.Lock()
	f.ai.gate = make(chan struct{})
	f.ai.started = make(chan struct{}, 1)
	gate, started := f.ai.gate, f.ai.started
	f.ai.mu.Unlock()

	f.router.Handle(context.Background(), InboundMessage{SenderID: testUser, Body: "slow question"})
	<-started

	// The handler is suspended; an admin reset must get the lock.
	if !f.core.Sessions.Reset(context.Background(), testUser) {
		t.Fatal("reset reported unknown session")
	}
	close(gate)
	f.router.Wait()

	if containsAny(f.sent(testUser), "Hello from the assistant") {
		t.Error("stale reply was delivered")
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state = %s, want idle", s)
	}
	sess, _ := f.core.Sessions.Get(testUser)
	if h := sess.Snapshot().ChatHistory; len(h) != 0 {
		t.Errorf("history = %v, want empty", h)
	}
}

func TestAIChat_PanicRecovered(t *testing.T) {
	f := newFixture(t)
	f.ai.panic = true
	f.send(testUser, "3")
	f.send(testUser, "boom")

	// The session lock must have been released.
	sess, _ := f.core.Sessions.Get(testUser)
	done := make(chan struct{})
	go func() {
		sess.Snapshot()
		close(done)
	}()
	<-done

	if got := f.last(testUser); got != textApology {
		t.Errorf("reply after panic = %q, want apology", got)
	}
	if s := f.state(testUser); s != "idle" {
		t.Errorf("state after panic = %s, want idle", s)
	}
	if h := sess.Snapshot().ChatHistory; len(h) != 0 {
		t.Errorf("history after panic = %v, want empty", h)
	}
	var rec models.SessionRecord
	body, err := f.store.Get(context.Background(), store.Sessions, testUser)
	if err != nil || json.Unmarshal(body, &rec) != nil || rec.State != "idle" {
		t.Errorf("persisted session = %s, %v; want idle", body, err)
	}

	f.ai.mu.Lock()
	f.ai.panic = false
	f.ai.mu.Unlock()
	f.send(testUser, "3")
	f.send(testUser, "still there?")
	if f.last(testUser) != "Hello from the assistant" {
		t.Errorf("reply after panic = %q", f.last(testUser))
	}
}

// panickyNames fails the display name lookup the router makes before it
// takes the session lock.
type panickyNames struct{ *MockGateway }

func (panickyNames) DisplayName(ctx context.Context, identity string) (string, error) {
	panic("name lookup exploded")
}

func TestOrder_PanicDropsDraft(t *testing.T) {
	f := newFixture(t)
	driveOrderToConfirm(f)
	if s := f.state(testUser); s != "order_confirm" {
		t.Fatalf("state = %s, want order_confirm", s)
	}

	router, err := NewRouter(RouterOpts{
		Gateway:       panickyNames{f.gw},
		Core:          f.core,
		Engine:        f.engine,
		Admin:         f.admin,
		AdminIdentity: testAdmin,
		Now:           testClock,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	router.Handle(context.Background(), InboundMessage{SenderID: testUser, Body: "confirm"})
	router.Wait()

	if got := f.last(testUser); got != textApology {
		t.Errorf("reply after panic = %q, want apology", got)
	}
	if n := f.core.Orders.Total(); n != 0 {
		t.Errorf("orders = %d, want 0", n)
	}
	sess, _ := f.core.Sessions.Get(testUser)
	if rec := sess.Snapshot(); rec.State != "idle" || rec.OrderDraft != nil {
		t.Errorf("session after panic = %+v, want idle without draft", rec)
	}
}

// --- Delivery ---

func TestReply_FallsBackToSend(t *testing.T) {
	f := newFixture(t)
	f.gw.FailReplies(errors.New("quoted reply unsupported"))
	f.send(testUser, "hi")

	if got := f.last(testUser); got != welcomeMenu("", "") {
		t.Errorf("fallback send = %q", got)
	}
}
