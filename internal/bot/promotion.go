package bot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// Promotion entry errors.
var (
	ErrPromotionInactive = errors.New("bot: no active promotion")
	ErrAlreadyJoined     = errors.New("bot: already a participant")
)

// PromotionStatus summarises the promotion for the admin.
type PromotionStatus struct {
	Active        bool
	Participants  int
	Task          models.PromotionTask
	EndDate       *time.Time
	DaysRemaining int
}

// PromotionLedger is the process-wide promotion record.
type PromotionLedger struct {
	store store.Store
	now   func() time.Time

	mu    sync.RWMutex
	promo models.Promotion
}

// NewPromotionLedger creates an inactive ledger.
func NewPromotionLedger(st store.Store, now func() time.Time) *PromotionLedger {
	if now == nil {
		now = time.Now
	}
	return &PromotionLedger{store: st, now: now}
}

// Start opens a promotion running for days with the given task. Calling
// Start while a promotion is active re-initialises it: participants and
// winners are dropped. restarted reports whether that happened.
func (l *PromotionLedger) Start(ctx context.Context, days int, task models.PromotionTask) (restarted bool, end time.Time) {
	now := l.now()
	end = now.AddDate(0, 0, days)

	l.mu.Lock()
	restarted = l.promo.Active
	l.promo = models.Promotion{
		Active:       true,
		Task:         task,
		StartDate:    &now,
		EndDate:      &end,
		Participants: []models.Participant{},
		Winners:      []models.Participant{},
	}
	l.persistLocked(ctx)
	l.mu.Unlock()
	return restarted, end
}

// End closes the promotion and draws min(n, participants) distinct winners
// uniformly at random. wasActive reports whether a promotion was running.
func (l *PromotionLedger) End(ctx context.Context, n int) (winners []models.Participant, total int, wasActive bool) {
	l.mu.Lock()
	wasActive = l.promo.Active
	total = len(l.promo.Participants)
	winners = drawWinners(l.promo.Participants, n)
	l.promo.Active = false
	l.promo.Winners = winners
	l.persistLocked(ctx)
	l.mu.Unlock()
	return append([]models.Participant(nil), winners...), total, wasActive
}

// drawWinners samples min(n, len(pool)) participants without replacement.
func drawWinners(pool []models.Participant, n int) []models.Participant {
	if n > len(pool) {
		n = len(pool)
	}
	if n <= 0 {
		return []models.Participant{}
	}
	shuffled := append([]models.Participant(nil), pool...)
	for i := 0; i < n; i++ {
		j := i + rand.IntN(len(shuffled)-i)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:n]
}

// Join adds p to the participants. A participant may only join once.
func (l *PromotionLedger) Join(ctx context.Context, p models.Participant) error {
	l.mu.Lock()
	if !l.promo.Active {
		l.mu.Unlock()
		return ErrPromotionInactive
	}
	if l.promo.HasParticipant(p.Identity) {
		l.mu.Unlock()
		return ErrAlreadyJoined
	}
	l.promo.Participants = append(l.promo.Participants, p)
	l.persistLocked(ctx)
	l.mu.Unlock()
	return nil
}

// Active reports whether a promotion is running.
func (l *PromotionLedger) Active() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.promo.Active
}

// Has reports whether identity has joined the current promotion.
func (l *PromotionLedger) Has(identity string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.promo.HasParticipant(identity)
}

// Task returns the current promotion task.
func (l *PromotionLedger) Task() models.PromotionTask {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.promo.Task
}

// Status reports the promotion state. DaysRemaining rounds up and is never
// negative.
func (l *PromotionLedger) Status() PromotionStatus {
	l.mu.RLock()
	defer l.mu.RUnlock()
	st := PromotionStatus{
		Active:       l.promo.Active,
		Participants: len(l.promo.Participants),
		Task:         l.promo.Task,
	}
	if l.promo.EndDate != nil {
		end := *l.promo.EndDate
		st.EndDate = &end
		if left := end.Sub(l.now()); left > 0 {
			st.DaysRemaining = int(math.Ceil(left.Hours() / 24))
		}
	}
	return st
}

// Snapshot returns a copy of the whole ledger.
func (l *PromotionLedger) Snapshot() models.Promotion {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.copyLocked()
}

func (l *PromotionLedger) copyLocked() models.Promotion {
	p := l.promo
	p.Participants = append([]models.Participant(nil), l.promo.Participants...)
	p.Winners = append([]models.Participant(nil), l.promo.Winners...)
	return p
}

// persistLocked writes the ledger. The caller holds mu for writing, so
// stored documents land in the same order as the mutations they record.
func (l *PromotionLedger) persistLocked(ctx context.Context) {
	if err := putJSON(ctx, l.store, store.Promotion, store.PromotionKey, l.promo); err != nil {
		log.Error().Err(err).Msg("bot: persist promotion")
	}
}

// Load reads the persisted promotion. found is false when none was saved.
func (l *PromotionLedger) Load(ctx context.Context) (found bool, err error) {
	body, err := l.store.Get(ctx, store.Promotion, store.PromotionKey)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("bot: load promotion: %w", err)
	}
	var p models.Promotion
	if err := json.Unmarshal(body, &p); err != nil {
		return false, fmt.Errorf("bot: decode promotion: %w", err)
	}
	l.mu.Lock()
	l.promo = p
	l.mu.Unlock()
	return true, nil
}

// Flush persists the ledger.
func (l *PromotionLedger) Flush(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return putJSON(ctx, l.store, store.Promotion, store.PromotionKey, l.promo)
}
