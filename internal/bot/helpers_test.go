package bot

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nexguard/nexbot/internal/config"
	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/panel"
	"github.com/nexguard/nexbot/internal/store"
)

const (
	testAdmin = "admin"
	testUser  = "u1"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func testClock() time.Time { return testNow }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Parse([]byte(`
admin:
  identity: admin
storage:
  driver: sqlite
gateway:
  platform: console
`))
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	return cfg
}

// --- Fakes ---

type fakePanel struct {
	mu       sync.Mutex
	traffic  map[string]*panel.Traffic
	getErr   error
	creates  []panel.AccountRequest
	logins   int
	loginErr error
	gate     chan struct{} // when set, GetTraffic blocks until closed
	started  chan struct{}
}

func newFakePanel() *fakePanel {
	return &fakePanel{traffic: make(map[string]*panel.Traffic)}
}

func (p *fakePanel) GetTraffic(ctx context.Context, name string) (*panel.Traffic, error) {
	p.mu.Lock()
	gate, started := p.gate, p.started
	p.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.getErr != nil {
		return nil, p.getErr
	}
	t, ok := p.traffic[name]
	if !ok {
		return nil, panel.ErrNotFound
	}
	return t, nil
}

func (p *fakePanel) CreateAccount(ctx context.Context, req panel.AccountRequest) (*panel.Account, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.creates = append(p.creates, req)
	return &panel.Account{
		Username:  req.Username,
		ClientID:  "client-1",
		Expiry:    testNow.AddDate(0, 0, req.Days),
		InboundID: 1,
	}, nil
}

func (p *fakePanel) Login(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.logins++
	return p.loginErr
}

func (p *fakePanel) createCalls() []panel.AccountRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]panel.AccountRequest(nil), p.creates...)
}

type fakeAssistant struct {
	mu      sync.Mutex
	reply   string
	err     error
	panic   bool
	windows [][]models.ChatTurn
	prompts []string
	gate    chan struct{}
	started chan struct{}
}

func (a *fakeAssistant) Complete(ctx context.Context, window []models.ChatTurn, prompt string) (string, error) {
	a.mu.Lock()
	a.windows = append(a.windows, window)
	a.prompts = append(a.prompts, prompt)
	gate, started, shouldPanic := a.gate, a.started, a.panic
	a.mu.Unlock()
	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if shouldPanic {
		panic("assistant exploded")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.err != nil {
		return "", a.err
	}
	return a.reply, nil
}

func (a *fakeAssistant) calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.prompts)
}

// --- Fixture ---

type fixture struct {
	t       *testing.T
	store   *store.Memory
	core    *Core
	catalog *Catalog
	engine  *Engine
	admin   *AdminDispatcher
	router  *Router
	gw      *MockGateway
	panel   *fakePanel
	ai      *fakeAssistant
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithStore(t, store.NewMemory())
}

func newFixtureWithStore(t *testing.T, st *store.Memory) *fixture {
	t.Helper()
	cfg := testConfig(t)
	f := &fixture{
		t:     t,
		store: st,
		gw:    NewMockGateway(),
		panel: newFakePanel(),
		ai:    &fakeAssistant{reply: "Hello from the assistant"},
	}
	if err := f.gw.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	f.gw.SetName(testUser, "Alice")

	core, err := NewCore(CoreOpts{Store: st, MaxLogEntries: 50, Now: testClock})
	if err != nil {
		t.Fatalf("new core: %v", err)
	}
	if err := core.Load(context.Background()); err != nil {
		t.Fatalf("load core: %v", err)
	}
	f.core = core
	f.catalog = NewCatalog(cfg.Catalog)

	f.engine, err = NewEngine(EngineOpts{
		AdminIdentity:   testAdmin,
		Catalog:         f.catalog,
		Modes:           core.Modes,
		Messages:        core.Messages,
		Orders:          core.Orders,
		Promotion:       core.Promotion,
		Panel:           f.panel,
		Assistant:       f.ai,
		VacationMessage: cfg.Modes.VacationMessage,
		MaxChatHistory:  2,
		Now:             testClock,
	})
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	f.admin, err = NewAdminDispatcher(AdminDispatcherOpts{
		AdminIdentity: testAdmin,
		Core:          core,
		Catalog:       f.catalog,
		Panel:         f.panel,
		Broadcaster:   NewBroadcaster(f.gw, 0, 2, nil),
		Promotion:     cfg.Promotion,
	})
	if err != nil {
		t.Fatalf("new admin dispatcher: %v", err)
	}

	f.router, err = NewRouter(RouterOpts{
		Gateway:       f.gw,
		Core:          core,
		Engine:        f.engine,
		Admin:         f.admin,
		AdminIdentity: testAdmin,
		Now:           testClock,
	})
	if err != nil {
		t.Fatalf("new router: %v", err)
	}
	return f
}

// send delivers a text message from identity and waits for it to be handled.
func (f *fixture) send(identity, body string) {
	f.t.Helper()
	f.deliver(InboundMessage{Platform: "test", SenderID: identity, Body: body})
}

// sendMedia delivers a message with an attachment.
func (f *fixture) sendMedia(identity, body string) {
	f.t.Helper()
	f.deliver(InboundMessage{Platform: "test", SenderID: identity, Body: body, HasMedia: true})
}

func (f *fixture) deliver(msg InboundMessage) {
	f.t.Helper()
	f.router.Handle(context.Background(), msg)
	f.router.Wait()
	if sess, ok := f.core.Sessions.Get(msg.SenderID); ok {
		sess.lock()
		err := CheckState(sess.State)
		d := sess.Draft()
		_, inOrder := sess.State.(OrderState)
		sess.unlock()
		if err != nil {
			f.t.Fatalf("invalid state after %q: %v", msg.Body, err)
		}
		if (d != nil) != inOrder {
			f.t.Fatalf("draft presence (%v) disagrees with order state (%v)", d != nil, inOrder)
		}
	}
}

// state returns the current state name of identity's session.
func (f *fixture) state(identity string) string {
	f.t.Helper()
	sess, ok := f.core.Sessions.Get(identity)
	if !ok {
		f.t.Fatalf("no session for %s", identity)
	}
	sess.lock()
	defer sess.unlock()
	return sess.State.Name()
}

// sent returns the texts delivered to identity.
func (f *fixture) sent(identity string) []string {
	return f.gw.SentTo(identity)
}

// last returns the most recent text delivered to identity.
func (f *fixture) last(identity string) string {
	f.t.Helper()
	msgs := f.gw.SentTo(identity)
	if len(msgs) == 0 {
		f.t.Fatalf("nothing sent to %s", identity)
	}
	return msgs[len(msgs)-1]
}

func containsAny(msgs []string, sub string) bool {
	for _, m := range msgs {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}
