package models

import "time"

// PromotionTask describes what a participant must do to enter.
type PromotionTask struct {
	Type    string `json:"type"`
	Details string `json:"details"`
}

// Participant is one entrant of a promotion.
type Participant struct {
	Identity string    `json:"identity"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

// Promotion is the singleton promotion ledger.
type Promotion struct {
	Active       bool          `json:"active"`
	Task         PromotionTask `json:"task"`
	StartDate    *time.Time    `json:"startDate,omitempty"`
	EndDate      *time.Time    `json:"endDate,omitempty"`
	Participants []Participant `json:"participants"`
	Winners      []Participant `json:"winners"`
}

// HasParticipant reports whether identity has already entered.
func (p *Promotion) HasParticipant(identity string) bool {
	for _, pt := range p.Participants {
		if pt.Identity == identity {
			return true
		}
	}
	return false
}
