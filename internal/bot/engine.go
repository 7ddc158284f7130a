package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nexguard/nexbot/internal/logging"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/panel"
	"github.com/rs/zerolog/log"
)

// Provisioner is the subscription panel as seen by the bot.
type Provisioner interface {
	GetTraffic(ctx context.Context, name string) (*panel.Traffic, error)
	CreateAccount(ctx context.Context, req panel.AccountRequest) (*panel.Account, error)
	Login(ctx context.Context) error
}

// Assistant produces AI chat replies from a bounded history window.
type Assistant interface {
	Complete(ctx context.Context, window []models.ChatTurn, prompt string) (string, error)
}

// ActionKind says where an Action's text goes.
type ActionKind int

// Action kinds.
const (
	ActionReply   ActionKind = iota // to the sender
	ActionForward                   // to the admin
)

// Action is an outbound side effect produced by the engine.
type Action struct {
	Kind ActionKind
	Text string
}

func reply(text string) Action   { return Action{Kind: ActionReply, Text: text} }
func forward(text string) Action { return Action{Kind: ActionForward, Text: text} }

// maxOrderIDAttempts bounds id regeneration when a confirmed order collides.
const maxOrderIDAttempts = 5

var exitWords = map[string]bool{"exit": true, "quit": true, "stop": true, "end": true}

// Engine is the workflow state machine. It decides, for one session and one
// inbound message, the next state and the outbound actions.
type Engine struct {
	admin           string
	catalog         *Catalog
	modes           *Modes
	messages        *MessageLog
	orders          *OrderLedger
	promotion       *PromotionLedger
	panel           Provisioner
	assistant       Assistant
	vacationMessage string
	maxHistory      int
	metrics         *metrics.Recorder
	now             func() time.Time
}

// EngineOpts holds parameters for creating an Engine.
type EngineOpts struct {
	AdminIdentity   string
	Catalog         *Catalog
	Modes           *Modes
	Messages        *MessageLog
	Orders          *OrderLedger
	Promotion       *PromotionLedger
	Panel           Provisioner // optional; usage lookups fail without it
	Assistant       Assistant   // optional; AI chat fails without it
	VacationMessage string
	MaxChatHistory  int // defaults to 5
	Metrics         *metrics.Recorder
	Now             func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(opts EngineOpts) (*Engine, error) {
	if opts.AdminIdentity == "" {
		return nil, fmt.Errorf("bot: engine: admin identity is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("bot: engine: catalog is required")
	}
	if opts.Modes == nil {
		return nil, fmt.Errorf("bot: engine: modes are required")
	}
	if opts.Messages == nil || opts.Orders == nil || opts.Promotion == nil {
		return nil, fmt.Errorf("bot: engine: ledgers are required")
	}
	maxHistory := opts.MaxChatHistory
	if maxHistory <= 0 {
		maxHistory = 5
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		admin:           opts.AdminIdentity,
		catalog:         opts.Catalog,
		modes:           opts.Modes,
		messages:        opts.Messages,
		orders:          opts.Orders,
		promotion:       opts.Promotion,
		panel:           opts.Panel,
		assistant:       opts.Assistant,
		vacationMessage: opts.VacationMessage,
		maxHistory:      maxHistory,
		metrics:         opts.Metrics,
		now:             now,
	}, nil
}

// IsUrgent reports whether a message takes the urgent fast path.
func IsUrgent(body string) bool {
	s := strings.ToUpper(strings.TrimSpace(body))
	return s == "URGENT" || strings.HasPrefix(s, "URGENT ")
}

// Urgent logs and forwards an urgent message and acknowledges it. The
// session state is not touched.
func (e *Engine) Urgent(ctx context.Context, sess *Session, msg InboundMessage) []Action {
	e.metrics.Message("urgent")
	e.logMessage(ctx, sess, msg)
	return []Action{
		forward(formatForward("URGENT MESSAGE", sess.Name, sess.Identity, msg.Body, e.now())),
		reply(textUrgentAck),
	}
}

// Handle runs one message through the state machine. The caller holds the
// session lock; Handle releases it only around calls to the panel and the
// assistant. notify sends an interim reply immediately.
//
// On error the session is left for the caller to reset; no action has been
// emitted for the failed step.
func (e *Engine) Handle(ctx context.Context, sess *Session, msg InboundMessage, notify func(string)) ([]Action, error) {
	if err := CheckState(sess.State); err != nil {
		return nil, err
	}
	text := strings.TrimSpace(msg.Body)

	vacation := e.modes.Vacation() && sess.Identity != e.admin
	if vacation {
		e.logMessage(ctx, sess, msg)
		switch {
		case isPhase(sess.State, PhaseIdle):
			e.metrics.Message("vacation")
			sess.State = menu(PhaseVacationNotified)
			return []Action{
				reply(e.vacationMessage),
				forward(formatForward("FORWARDED MESSAGE", sess.Name, sess.Identity, msg.Body, e.now())),
			}, nil
		case isPhase(sess.State, PhaseVacationNotified):
			if !e.isMenuKey(text) {
				e.metrics.Message("vacation")
				return nil, nil
			}
		}
	} else if isPhase(sess.State, PhaseVacationNotified) {
		sess.State = Idle
	}

	switch st := sess.State.(type) {
	case OrderState:
		e.metrics.Message("order")
		return e.orderStep(ctx, sess, st, text)
	case PromotionState:
		e.metrics.Message("promotion")
		return e.promotionStep(ctx, sess, st, msg, text)
	case MenuState:
		switch st.Phase {
		case PhaseAIChat:
			e.metrics.Message("ai_chat")
			return e.aiChat(ctx, sess, text, notify)
		case PhaseGetUsage:
			e.metrics.Message("usage")
			return e.usage(ctx, sess, text, notify)
		case PhaseContact, PhaseComplaint:
			e.metrics.Message(string(st.Phase))
			return e.contact(ctx, sess, msg, st.Phase, vacation), nil
		}
	}
	e.metrics.Message("menu")
	return e.menu(ctx, sess, text), nil
}

func (e *Engine) welcome() Action {
	return reply(welcomeMenu(e.modes.MenuKeys()))
}

func (e *Engine) isMenuKey(text string) bool {
	switch text {
	case "1", "2", "3", "4":
		return true
	}
	complaint, promo := e.modes.MenuKeys()
	return text != "" && (text == complaint || text == promo)
}

func (e *Engine) logMessage(ctx context.Context, sess *Session, msg InboundMessage) {
	e.messages.Append(ctx, sess.Identity, models.MessageLogEntry{
		Timestamp: e.now(),
		Name:      sess.Name,
		Message:   msg.Body,
	})
}

// --- Main menu ---

func (e *Engine) menu(ctx context.Context, sess *Session, text string) []Action {
	complaint, promo := e.modes.MenuKeys()
	switch {
	case text == "1":
		sess.State = menu(PhaseGetUsage)
		return []Action{reply(textUsagePrompt)}
	case text == "2":
		sess.State = menu(PhaseContact)
		return []Action{reply(textContactPrompt)}
	case text == "3":
		sess.State = menu(PhaseAIChat)
		return []Action{reply(textAIWelcome)}
	case text == "4":
		draft := &models.Order{
			ID:        e.orders.NewID(),
			Timestamp: e.now(),
			Customer:  sess.Name,
			Status:    models.OrderPending,
		}
		sess.State = OrderState{Step: StepDuration, Draft: draft}
		e.metrics.Order("started")
		return []Action{reply(e.catalog.DurationMenu())}
	case complaint != "" && text == complaint:
		sess.State = menu(PhaseComplaint)
		return []Action{reply(textComplaintPrompt)}
	case promo != "" && text == promo:
		return e.promotionInfo(ctx, sess)
	case isDigits(text):
		return []Action{reply(textInvalidOption), e.welcome()}
	}
	return []Action{e.welcome()}
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// --- Contact and complaint ---

func (e *Engine) contact(ctx context.Context, sess *Session, msg InboundMessage, phase MenuPhase, logged bool) []Action {
	if !logged {
		e.logMessage(ctx, sess, msg)
	}
	title, ack := "CUSTOMER MESSAGE", textContactSent
	if phase == PhaseComplaint {
		title, ack = "COMPLAINT", textComplaintSent
	}
	sess.State = Idle
	return []Action{
		forward(formatForward(title, sess.Name, sess.Identity, msg.Body, e.now())),
		reply(ack),
		e.welcome(),
	}
}

// --- Usage lookup ---

func (e *Engine) usage(ctx context.Context, sess *Session, name string, notify func(string)) ([]Action, error) {
	if name == "" {
		return []Action{reply(textUsagePrompt)}, nil
	}
	if e.panel == nil {
		return nil, fmt.Errorf("bot: usage: panel not configured")
	}
	var (
		traffic *panel.Traffic
		err     error
	)
	current := sess.await(func() {
		notify(textUsageChecking)
		traffic, err = e.panel.GetTraffic(ctx, name)
	})
	if !current {
		log.Debug().Str("identity", sess.Identity).Msg("bot: usage result discarded, session was reset")
		return nil, nil
	}
	sess.State = Idle
	switch {
	case errors.Is(err, panel.ErrNotFound):
		return []Action{reply(textUsageNotFound), e.welcome()}, nil
	case err != nil:
		return nil, fmt.Errorf("bot: usage %q: %w", name, err)
	}
	return []Action{reply(formatUsage(name, traffic)), e.welcome()}, nil
}

// --- AI chat ---

func (e *Engine) aiChat(ctx context.Context, sess *Session, text string, notify func(string)) ([]Action, error) {
	if exitWords[strings.ToLower(text)] {
		sess.State = Idle
		sess.ChatHistory = nil
		return []Action{reply(textAIEnded), e.welcome()}, nil
	}
	if text == "" {
		return nil, nil
	}
	if e.assistant == nil {
		return nil, fmt.Errorf("bot: ai chat: assistant not configured")
	}

	window := lastTurns(sess.ChatHistory, e.maxHistory)
	sess.ChatHistory = append(sess.ChatHistory, models.ChatTurn{Role: models.RoleUser, Content: text})

	var (
		answer string
		err    error
	)
	current := sess.await(func() {
		notify(textAIThinking)
		answer, err = e.assistant.Complete(ctx, window, text)
	})
	if !current || !isPhase(sess.State, PhaseAIChat) {
		log.Debug().Str("identity", sess.Identity).Msg("bot: stale ai reply discarded")
		return nil, nil
	}
	if err != nil {
		// Drop the unanswered turn.
		if n := len(sess.ChatHistory); n > 0 && sess.ChatHistory[n-1].Role == models.RoleUser {
			sess.ChatHistory = sess.ChatHistory[:n-1]
		}
		return nil, fmt.Errorf("bot: ai chat: %w", err)
	}
	sess.ChatHistory = append(sess.ChatHistory, models.ChatTurn{Role: models.RoleAssistant, Content: answer})
	sess.ChatHistory = lastTurns(sess.ChatHistory, 2*e.maxHistory)
	log.Debug().Str("identity", sess.Identity).Str("reply", logging.Snippet(answer)).Msg("bot: ai reply")
	return []Action{reply(answer)}, nil
}

// lastTurns returns a copy of the last n turns of h.
func lastTurns(h []models.ChatTurn, n int) []models.ChatTurn {
	if len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]models.ChatTurn(nil), h...)
}

// --- Order workflow ---

func (e *Engine) orderStep(ctx context.Context, sess *Session, st OrderState, text string) ([]Action, error) {
	d := st.Draft
	advance := func(next OrderStep, prompt string) []Action {
		sess.State = OrderState{Step: next, Draft: d}
		return []Action{reply(prompt)}
	}
	invalid := func(prompt string) []Action {
		return []Action{reply(textInvalidOption), reply(prompt)}
	}

	switch st.Step {
	case StepDuration:
		opt, ok := e.catalog.Duration(text)
		if !ok {
			return invalid(e.catalog.DurationMenu()), nil
		}
		d.Duration, d.DurationDays = opt.Name, opt.Days
		return advance(StepDevice, e.catalog.DeviceMenu()), nil
	case StepDevice:
		opt, ok := e.catalog.Device(text)
		if !ok {
			return invalid(e.catalog.DeviceMenu()), nil
		}
		d.DeviceType = opt.Name
		return advance(StepUsage, e.catalog.UsageMenu()), nil
	case StepUsage:
		opt, ok := e.catalog.Usage(text)
		if !ok {
			return invalid(e.catalog.UsageMenu()), nil
		}
		d.UsageType, d.TotalPrice = opt.Name, opt.Price
		return advance(StepContact, textContactNumber), nil
	case StepContact:
		if text == "" {
			return []Action{reply(textContactNumber)}, nil
		}
		d.ContactNumber = text
		return advance(StepEmail, textEmail), nil
	case StepEmail:
		if text == "" {
			return []Action{reply(textEmail)}, nil
		}
		d.Email = text
		return advance(StepUsername, textUsername), nil
	case StepUsername:
		if text == "" {
			return []Action{reply(textUsername)}, nil
		}
		d.Username = text
		return advance(StepConfirm, formatOrderSummary(e.catalog, d)), nil
	case StepConfirm:
		switch strings.ToLower(text) {
		case "confirm":
			return e.confirmOrder(ctx, sess, d)
		case "cancel":
			sess.State = Idle
			e.metrics.Order("cancelled")
			log.Info().Str("identity", sess.Identity).Str("order_id", d.ID).Msg("bot: order cancelled")
			return []Action{reply(textOrderCancelled), e.welcome()}, nil
		}
		return []Action{reply(textConfirmPrompt)}, nil
	}
	return nil, fmt.Errorf("bot: unknown order step %d", st.Step)
}

func (e *Engine) confirmOrder(ctx context.Context, sess *Session, d *models.Order) ([]Action, error) {
	order := *d
	order.Status = models.OrderConfirmed
	var err error
	for attempt := 0; attempt < maxOrderIDAttempts; attempt++ {
		if err = e.orders.Append(ctx, sess.Identity, order); !errors.Is(err, ErrDuplicateOrder) {
			break
		}
		order.ID = e.orders.NewID()
	}
	if err != nil {
		return nil, fmt.Errorf("bot: confirm order: %w", err)
	}
	sess.State = Idle
	e.metrics.Order("confirmed")
	log.Info().Str("identity", sess.Identity).Str("order_id", order.ID).Msg("bot: order confirmed")
	return []Action{
		reply(formatOrderConfirmed(&order)),
		forward(formatOrderNotice(e.catalog, &order, sess.Identity)),
		e.welcome(),
	}, nil
}

// --- Promotion workflow ---

func (e *Engine) promotionStep(ctx context.Context, sess *Session, st PromotionState, msg InboundMessage, text string) ([]Action, error) {
	switch st.Step {
	case StepInfo:
		return e.promotionInfo(ctx, sess), nil
	case StepJoin:
		if strings.ToLower(text) != "join" {
			return []Action{reply(textPromoJoinAgain)}, nil
		}
		sess.State = PromotionState{Step: StepProof}
		return []Action{reply(formatPromotionProof(e.promotion.Task()))}, nil
	case StepProof:
		if !msg.HasMedia {
			return []Action{reply(textPromoNeedProof)}, nil
		}
		return e.promotionEntry(ctx, sess, msg)
	}
	return nil, fmt.Errorf("bot: unknown promotion step %d", st.Step)
}

func (e *Engine) promotionInfo(_ context.Context, sess *Session) []Action {
	if !e.promotion.Active() {
		sess.State = Idle
		return []Action{reply(textPromoInactive), e.welcome()}
	}
	if e.promotion.Has(sess.Identity) {
		sess.State = Idle
		return []Action{reply(textPromoAlready), e.welcome()}
	}
	status := e.promotion.Status()
	sess.State = PromotionState{Step: StepJoin}
	return []Action{reply(formatPromotionInfo(status.Task, status.EndDate))}
}

func (e *Engine) promotionEntry(ctx context.Context, sess *Session, msg InboundMessage) ([]Action, error) {
	err := e.promotion.Join(ctx, models.Participant{
		Identity: sess.Identity,
		Name:     sess.Name,
		JoinedAt: e.now(),
	})
	sess.State = Idle
	switch {
	case errors.Is(err, ErrAlreadyJoined):
		return []Action{reply(textPromoAlready), e.welcome()}, nil
	case errors.Is(err, ErrPromotionInactive):
		return []Action{reply(textPromoInactive), e.welcome()}, nil
	case err != nil:
		return nil, fmt.Errorf("bot: promotion entry: %w", err)
	}
	log.Info().Str("identity", sess.Identity).Msg("bot: promotion entry recorded")
	body := "Promotion entry (proof attached)"
	if strings.TrimSpace(msg.Body) != "" {
		body += "\n" + msg.Body
	}
	return []Action{
		reply(textPromoThanks),
		forward(formatForward("PROMOTION ENTRY", sess.Name, sess.Identity, body, e.now())),
		e.welcome(),
	}, nil
}
