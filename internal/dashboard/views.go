package dashboard

import (
	"strings"
	"time"

	"github.com/nexguard/nexbot/internal/bot"
	"github.com/nexguard/nexbot/internal/models"
)

// StatsView is the /api/stats payload.
type StatsView struct {
	bot.Stats
	MessagesToday int `json:"messages_today"`
	OrdersToday   int `json:"orders_today"`
}

// OrderView is an order together with the identity that placed it.
type OrderView struct {
	models.Order
	Identity string `json:"identity"`
}

// PromotionView is the /api/promotion payload. Participant identities are
// not exposed, only the count and the drawn winners' names.
type PromotionView struct {
	Active        bool       `json:"active"`
	TaskType      string     `json:"task_type"`
	TaskDetails   string     `json:"task_details"`
	Participants  int        `json:"participants"`
	EndDate       *time.Time `json:"end_date,omitempty"`
	DaysRemaining int        `json:"days_remaining"`
	Winners       []string   `json:"winners"`
}

func buildStats(core *bot.Core, now time.Time) StatsView {
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	return StatsView{
		Stats:         core.Stats(),
		MessagesToday: core.Messages.CountSince(midnight),
		OrdersToday:   core.Orders.CountSince(midnight),
	}
}

func recentOrders(core *bot.Core, n int) []models.Order {
	orders := core.Orders.Recent(n)
	if orders == nil {
		orders = []models.Order{}
	}
	return orders
}

// findOrder looks an order up by id, case-insensitively.
func findOrder(core *bot.Core, id string) (OrderView, bool) {
	order, identity, ok := core.Orders.Find(strings.ToUpper(strings.TrimSpace(id)))
	if !ok {
		return OrderView{}, false
	}
	return OrderView{Order: order, Identity: identity}, true
}

func buildPromotion(core *bot.Core) PromotionView {
	st := core.Promotion.Status()
	snap := core.Promotion.Snapshot()
	winners := make([]string, 0, len(snap.Winners))
	for _, w := range snap.Winners {
		winners = append(winners, w.Name)
	}
	return PromotionView{
		Active:        st.Active,
		TaskType:      st.Task.Type,
		TaskDetails:   st.Task.Details,
		Participants:  st.Participants,
		EndDate:       st.EndDate,
		DaysRemaining: st.DaysRemaining,
		Winners:       winners,
	}
}
