package bot

import (
	"fmt"

	"github.com/nexguard/nexbot/internal/models"
)

// State is the workflow position of a session. It is one of MenuState,
// OrderState or PromotionState; only OrderState carries an order draft.
type State interface {
	// Name is the stable state name used in logs and persistence.
	Name() string
	isState()
}

// MenuPhase enumerates the states outside the order and promotion workflows.
type MenuPhase string

// Menu phases.
const (
	PhaseIdle             MenuPhase = "idle"
	PhaseGetUsage         MenuPhase = "get_usage"
	PhaseContact          MenuPhase = "contact"
	PhaseAIChat           MenuPhase = "ai_chat"
	PhaseComplaint        MenuPhase = "complaint"
	PhaseVacationNotified MenuPhase = "vacation_notified"
)

// MenuState is an ordinary single-prompt state.
type MenuState struct {
	Phase MenuPhase
}

func (s MenuState) Name() string { return string(s.Phase) }
func (MenuState) isState()       {}

// OrderStep enumerates the order workflow prompts in order.
type OrderStep int

// Order workflow steps.
const (
	StepDuration OrderStep = iota
	StepDevice
	StepUsage
	StepContact
	StepEmail
	StepUsername
	StepConfirm
)

var orderStepNames = [...]string{
	StepDuration: "order_duration",
	StepDevice:   "order_device",
	StepUsage:    "order_usage",
	StepContact:  "order_contact",
	StepEmail:    "order_email",
	StepUsername: "order_username",
	StepConfirm:  "order_confirm",
}

func (s OrderStep) String() string {
	if s < 0 || int(s) >= len(orderStepNames) {
		return fmt.Sprintf("order_step(%d)", int(s))
	}
	return orderStepNames[s]
}

// OrderState is a step of the order workflow. Draft is never nil.
type OrderState struct {
	Step  OrderStep
	Draft *models.Order
}

func (s OrderState) Name() string { return s.Step.String() }
func (OrderState) isState()       {}

// PromotionStep enumerates the promotion entry prompts.
type PromotionStep int

// Promotion workflow steps.
const (
	StepInfo PromotionStep = iota
	StepJoin
	StepProof
)

func (s PromotionStep) String() string {
	switch s {
	case StepInfo:
		return "promotion_info"
	case StepJoin:
		return "promotion_join"
	case StepProof:
		return "promotion_proof"
	}
	return fmt.Sprintf("promotion_step(%d)", int(s))
}

// PromotionState is a step of the promotion entry workflow.
type PromotionState struct {
	Step PromotionStep
}

func (s PromotionState) Name() string { return s.Step.String() }
func (PromotionState) isState()       {}

// Idle is the initial state of every session.
var Idle State = MenuState{Phase: PhaseIdle}

func menu(p MenuPhase) State { return MenuState{Phase: p} }

// isPhase reports whether st is the menu state p.
func isPhase(st State, p MenuPhase) bool {
	ms, ok := st.(MenuState)
	return ok && ms.Phase == p
}

// CheckState verifies that a state is well formed: an order step must carry
// a draft, and nothing else can.
func CheckState(st State) error {
	switch s := st.(type) {
	case nil:
		return fmt.Errorf("bot: nil state")
	case OrderState:
		if s.Draft == nil {
			return fmt.Errorf("bot: %s without order draft", s.Name())
		}
	}
	return nil
}
