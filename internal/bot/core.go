package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/store"
	"github.com/rs/zerolog/log"
)

// Core bundles the process-wide state: sessions, ledgers and mode flags.
type Core struct {
	Sessions  *SessionStore
	Messages  *MessageLog
	Orders    *OrderLedger
	Promotion *PromotionLedger
	Modes     *Modes
}

// CoreOpts holds parameters for creating a Core.
type CoreOpts struct {
	Store         store.Store
	MaxLogEntries int
	Vacation      bool // startup vacation flag
	Promotion     bool // startup promotion flag, overridden by a persisted promotion
	Now           func() time.Time
}

// NewCore creates an empty Core over st. Call Load to restore persisted state.
func NewCore(opts CoreOpts) (*Core, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("bot: core: store is required")
	}
	return &Core{
		Sessions:  NewSessionStore(opts.Store, opts.Now),
		Messages:  NewMessageLog(opts.Store, opts.MaxLogEntries),
		Orders:    NewOrderLedger(opts.Store),
		Promotion: NewPromotionLedger(opts.Store, opts.Now),
		Modes:     NewModes(opts.Vacation, opts.Promotion),
	}, nil
}

// Load restores every collection. When a promotion was persisted its active
// flag becomes the promotion mode.
func (c *Core) Load(ctx context.Context) error {
	if err := c.Sessions.Load(ctx); err != nil {
		return err
	}
	if err := c.Messages.Load(ctx); err != nil {
		return err
	}
	if err := c.Orders.Load(ctx); err != nil {
		return err
	}
	found, err := c.Promotion.Load(ctx)
	if err != nil {
		return err
	}
	if found {
		c.Modes.SetPromotion(c.Promotion.Active())
	}
	log.Info().
		Int("sessions", c.Sessions.Len()).
		Int("messages", c.Messages.Total()).
		Int("orders", c.Orders.Total()).
		Bool("vacation", c.Modes.Vacation()).
		Bool("promotion", c.Modes.Promotion()).
		Msg("bot: state loaded")
	return nil
}

// Flush persists every collection, continuing past failures.
func (c *Core) Flush(ctx context.Context) error {
	return errors.Join(
		c.Sessions.Flush(ctx),
		c.Messages.Flush(ctx),
		c.Orders.Flush(ctx),
		c.Promotion.Flush(ctx),
	)
}

// Stats is the aggregate view printed by the stats command and served by
// the dashboard.
type Stats struct {
	Users     int  `json:"users"`
	Messages  int  `json:"messages"`
	Orders    int  `json:"orders"`
	Customers int  `json:"customers"`
	Vacation  bool `json:"vacation"`
	Promotion bool `json:"promotion"`
}

// Stats returns the current aggregate counts.
func (c *Core) Stats() Stats {
	return Stats{
		Users:     c.Sessions.Len(),
		Messages:  c.Messages.Total(),
		Orders:    c.Orders.Total(),
		Customers: c.Orders.Customers(),
		Vacation:  c.Modes.Vacation(),
		Promotion: c.Modes.Promotion(),
	}
}
