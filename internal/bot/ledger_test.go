package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/store"
)

// gatedStore holds back the first Put for which hold returns true until
// release is closed, so tests can overlap two ledger writes.
type gatedStore struct {
	*store.Memory
	hold    func(collection string, body []byte) bool
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(hold func(collection string, body []byte) bool) *gatedStore {
	return &gatedStore{
		Memory:  store.NewMemory(),
		hold:    hold,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) Put(ctx context.Context, collection, key string, body []byte) error {
	held := false
	if g.hold(collection, body) {
		g.once.Do(func() { held = true })
	}
	if held {
		close(g.entered)
		<-g.release
	}
	return g.Memory.Put(ctx, collection, key, body)
}

// overlap runs first until its write is held in st, starts second, gives it
// time to reach the ledger, then releases the held write and waits for both.
func overlap(t *testing.T, st *gatedStore, first, second func()) {
	t.Helper()
	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); first() }()
	select {
	case <-st.entered:
	case <-time.After(time.Second):
		t.Fatal("first write never reached the store")
	}
	go func() { defer wg.Done(); second() }()
	time.Sleep(20 * time.Millisecond)
	close(st.release)
	wg.Wait()
}

// --- MessageLog ---

func TestMessageLog_BoundedPerIdentity(t *testing.T) {
	ctx := context.Background()
	l := NewMessageLog(store.NewMemory(), 3)
	for i := range 5 {
		l.Append(ctx, "u1", models.MessageLogEntry{Message: fmt.Sprintf("m%d", i), Timestamp: testNow})
	}
	l.Append(ctx, "u2", models.MessageLogEntry{Message: "x", Timestamp: testNow})

	got := l.Entries("u1")
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].Message != "m2" || got[2].Message != "m4" {
		t.Errorf("entries = %+v, want m2..m4", got)
	}
	if l.Total() != 4 {
		t.Errorf("Total = %d, want 4", l.Total())
	}
}

func TestMessageLog_CountSince(t *testing.T) {
	ctx := context.Background()
	l := NewMessageLog(store.NewMemory(), 0)
	l.Append(ctx, "u1", models.MessageLogEntry{Timestamp: testNow.Add(-48 * time.Hour)})
	l.Append(ctx, "u1", models.MessageLogEntry{Timestamp: testNow})
	l.Append(ctx, "u2", models.MessageLogEntry{Timestamp: testNow.Add(time.Minute)})

	if n := l.CountSince(testNow); n != 2 {
		t.Errorf("CountSince = %d, want 2", n)
	}
}

func TestMessageLog_LoadAndTrim(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	big := NewMessageLog(st, 10)
	for i := range 8 {
		big.Append(ctx, "u1", models.MessageLogEntry{Message: fmt.Sprintf("m%d", i)})
	}

	small := NewMessageLog(st, 5)
	if err := small.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if n := len(small.Entries("u1")); n != 8 {
		t.Fatalf("loaded %d entries, want 8", n)
	}
	if dropped := small.Trim(ctx); dropped != 3 {
		t.Errorf("Trim dropped %d, want 3", dropped)
	}

	reloaded := NewMessageLog(st, 5)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	got := reloaded.Entries("u1")
	if len(got) != 5 || got[0].Message != "m3" {
		t.Errorf("persisted after trim = %+v", got)
	}
}

func TestMessageLog_FlushReportsErrors(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	l := NewMessageLog(st, 0)
	l.Append(ctx, "u1", models.MessageLogEntry{Message: "hi"})
	st.FailPuts = errors.New("disk full")

	if err := l.Flush(ctx); err == nil {
		t.Fatal("expected flush error")
	}
	if len(l.Entries("u1")) != 1 {
		t.Error("entry lost after failed flush")
	}
}

func TestMessageLog_ConcurrentAppendsPersistInOrder(t *testing.T) {
	ctx := context.Background()
	st := newGatedStore(func(collection string, body []byte) bool {
		var list []models.MessageLogEntry
		return collection == store.Messages && json.Unmarshal(body, &list) == nil && len(list) == 1
	})
	l := NewMessageLog(st, 10)

	overlap(t, st,
		func() { l.Append(ctx, "u1", models.MessageLogEntry{Message: "first"}) },
		func() { l.Append(ctx, "u1", models.MessageLogEntry{Message: "second"}) },
	)

	reloaded := NewMessageLog(st, 10)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := reloaded.Entries("u1"); len(got) != 2 {
		t.Errorf("persisted entries = %+v, want 2", got)
	}
}

// --- OrderLedger ---

func TestOrderLedger_DuplicateRejected(t *testing.T) {
	ctx := context.Background()
	l := NewOrderLedger(store.NewMemory())
	if err := l.Append(ctx, "u1", models.Order{ID: "ORD-000001"}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	err := l.Append(ctx, "u2", models.Order{ID: "ORD-000001"})
	if !errors.Is(err, ErrDuplicateOrder) {
		t.Fatalf("err = %v, want ErrDuplicateOrder", err)
	}
	if l.Total() != 1 {
		t.Errorf("Total = %d, want 1", l.Total())
	}
	if len(l.ForIdentity("u2")) != 0 {
		t.Error("duplicate recorded for u2")
	}
}

func TestOrderLedger_NewIDFormatAndUnique(t *testing.T) {
	ctx := context.Background()
	l := NewOrderLedger(store.NewMemory())
	seen := make(map[string]bool)
	for range 200 {
		id := l.NewID()
		if len(id) != len("ORD-000000") || id[:4] != "ORD-" {
			t.Fatalf("bad id %q", id)
		}
		if seen[id] {
			t.Fatalf("NewID returned recorded id %q", id)
		}
		seen[id] = true
		if err := l.Append(ctx, "u1", models.Order{ID: id}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}
}

func TestOrderLedger_FindAndRecent(t *testing.T) {
	ctx := context.Background()
	l := NewOrderLedger(store.NewMemory())
	for i, who := range []string{"u1", "u2", "u1"} {
		o := models.Order{ID: fmt.Sprintf("ORD-00000%d", i), Timestamp: testNow.Add(time.Duration(i) * time.Hour)}
		if err := l.Append(ctx, who, o); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	o, who, ok := l.Find("ORD-000001")
	if !ok || who != "u2" || o.ID != "ORD-000001" {
		t.Errorf("Find = %+v, %q, %v", o, who, ok)
	}
	if _, _, ok := l.Find("ORD-999999"); ok {
		t.Error("found a missing order")
	}
	recent := l.Recent(2)
	if len(recent) != 2 || recent[0].ID != "ORD-000002" || recent[1].ID != "ORD-000001" {
		t.Errorf("Recent = %+v", recent)
	}
	if l.Customers() != 2 {
		t.Errorf("Customers = %d, want 2", l.Customers())
	}
	if n := l.CountSince(testNow.Add(time.Hour)); n != 2 {
		t.Errorf("CountSince = %d, want 2", n)
	}
}

func TestOrderLedger_PersistsAcrossLoad(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	l := NewOrderLedger(st)
	if err := l.Append(ctx, "u1", models.Order{ID: "ORD-123456", Status: models.OrderConfirmed}); err != nil {
		t.Fatalf("Append: %v", err)
	}

	l2 := NewOrderLedger(st)
	if err := l2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l2.Exists("ORD-123456") {
		t.Error("order lost across load")
	}
}

func TestOrderLedger_ConcurrentAppendsPersistInOrder(t *testing.T) {
	ctx := context.Background()
	st := newGatedStore(func(collection string, body []byte) bool {
		var list []models.Order
		return collection == store.Orders && json.Unmarshal(body, &list) == nil && len(list) == 1
	})
	l := NewOrderLedger(st)

	overlap(t, st,
		func() { l.Append(ctx, "u1", models.Order{ID: "ORD-000001"}) },
		func() { l.Append(ctx, "u1", models.Order{ID: "ORD-000002"}) },
	)

	l2 := NewOrderLedger(st)
	if err := l2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l2.Exists("ORD-000001") || !l2.Exists("ORD-000002") {
		t.Errorf("persisted orders = %+v, want both", l2.ForIdentity("u1"))
	}
}

// --- PromotionLedger ---

func TestPromotionLedger_JoinRules(t *testing.T) {
	ctx := context.Background()
	l := NewPromotionLedger(store.NewMemory(), testClock)
	p := models.Participant{Identity: "u1", Name: "Alice"}

	if err := l.Join(ctx, p); !errors.Is(err, ErrPromotionInactive) {
		t.Fatalf("join inactive: err = %v", err)
	}
	l.Start(ctx, 7, models.PromotionTask{Details: "follow"})
	if err := l.Join(ctx, p); err != nil {
		t.Fatalf("join: %v", err)
	}
	if err := l.Join(ctx, p); !errors.Is(err, ErrAlreadyJoined) {
		t.Fatalf("second join: err = %v", err)
	}
	if n := l.Status().Participants; n != 1 {
		t.Errorf("participants = %d, want 1", n)
	}
}

func TestPromotionLedger_EndDrawsDistinctWinners(t *testing.T) {
	ctx := context.Background()
	l := NewPromotionLedger(store.NewMemory(), testClock)
	l.Start(ctx, 7, models.PromotionTask{})
	for i := range 10 {
		if err := l.Join(ctx, models.Participant{Identity: fmt.Sprintf("p%d", i)}); err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	winners, total, wasActive := l.End(ctx, 4)
	if !wasActive || total != 10 {
		t.Errorf("End: total=%d wasActive=%v", total, wasActive)
	}
	if len(winners) != 4 {
		t.Fatalf("winners = %d, want 4", len(winners))
	}
	seen := make(map[string]bool)
	for _, w := range winners {
		if seen[w.Identity] {
			t.Errorf("winner %s drawn twice", w.Identity)
		}
		seen[w.Identity] = true
	}
	if l.Active() {
		t.Error("promotion active after End")
	}
	if got := l.Snapshot().Winners; len(got) != 4 {
		t.Errorf("stored winners = %d, want 4", len(got))
	}
}

func TestDrawWinners_Bounds(t *testing.T) {
	pool := []models.Participant{{Identity: "a"}, {Identity: "b"}}
	if got := drawWinners(pool, 0); len(got) != 0 {
		t.Errorf("n=0: %d winners", len(got))
	}
	if got := drawWinners(pool, 5); len(got) != 2 {
		t.Errorf("n>len: %d winners, want 2", len(got))
	}
	if got := drawWinners(nil, 3); len(got) != 0 {
		t.Errorf("empty pool: %d winners", len(got))
	}
	if pool[0].Identity != "a" || pool[1].Identity != "b" {
		t.Error("drawWinners mutated its input")
	}
}

func TestPromotionLedger_StatusDaysRemaining(t *testing.T) {
	now := testNow
	l := NewPromotionLedger(store.NewMemory(), func() time.Time { return now })
	l.Start(context.Background(), 3, models.PromotionTask{})

	if d := l.Status().DaysRemaining; d != 3 {
		t.Errorf("DaysRemaining = %d, want 3", d)
	}
	now = testNow.Add(36 * time.Hour)
	if d := l.Status().DaysRemaining; d != 2 {
		t.Errorf("DaysRemaining after 1.5d = %d, want 2", d)
	}
	now = testNow.AddDate(0, 0, 5)
	if d := l.Status().DaysRemaining; d != 0 {
		t.Errorf("DaysRemaining after end = %d, want 0", d)
	}
}

func TestPromotionLedger_Load(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()

	empty := NewPromotionLedger(st, testClock)
	found, err := empty.Load(ctx)
	if err != nil || found {
		t.Fatalf("Load on empty store = %v, %v", found, err)
	}

	l := NewPromotionLedger(st, testClock)
	l.Start(ctx, 7, models.PromotionTask{Details: "share"})
	if err := l.Join(ctx, models.Participant{Identity: "u1"}); err != nil {
		t.Fatalf("join: %v", err)
	}

	l2 := NewPromotionLedger(st, testClock)
	found, err = l2.Load(ctx)
	if err != nil || !found {
		t.Fatalf("Load = %v, %v", found, err)
	}
	if !l2.Active() || !l2.Has("u1") || l2.Task().Details != "share" {
		t.Errorf("loaded promotion = %+v", l2.Snapshot())
	}
}

func TestPromotionLedger_ConcurrentJoinsPersistInOrder(t *testing.T) {
	ctx := context.Background()
	st := newGatedStore(func(collection string, body []byte) bool {
		var p models.Promotion
		return collection == store.Promotion && json.Unmarshal(body, &p) == nil && len(p.Participants) == 1
	})
	l := NewPromotionLedger(st, testClock)
	l.Start(ctx, 7, models.PromotionTask{Details: "share"})

	var errA, errB error
	overlap(t, st,
		func() { errA = l.Join(ctx, models.Participant{Identity: "a"}) },
		func() { errB = l.Join(ctx, models.Participant{Identity: "b"}) },
	)
	if errA != nil || errB != nil {
		t.Fatalf("join errors: %v, %v", errA, errB)
	}

	l2 := NewPromotionLedger(st, testClock)
	if _, err := l2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !l2.Has("a") || !l2.Has("b") {
		t.Errorf("persisted participants = %+v, want a and b", l2.Snapshot().Participants)
	}
}

// --- Core ---

func TestNewCore_RequiresStore(t *testing.T) {
	if _, err := NewCore(CoreOpts{}); err == nil {
		t.Fatal("expected error for missing store")
	}
}

func TestCore_LoadRestoresPromotionMode(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemory()
	c1, _ := NewCore(CoreOpts{Store: st, Now: testClock})
	c1.Promotion.Start(ctx, 7, models.PromotionTask{})

	c2, _ := NewCore(CoreOpts{Store: st, Now: testClock})
	if err := c2.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c2.Modes.Promotion() {
		t.Error("promotion mode not restored from active promotion")
	}

	c2.Promotion.End(ctx, 1)
	c3, _ := NewCore(CoreOpts{Store: st, Promotion: true, Now: testClock})
	if err := c3.Load(ctx); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c3.Modes.Promotion() {
		t.Error("promotion mode on although the persisted promotion ended")
	}
}
