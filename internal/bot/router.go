package bot

import (
	"context"
	"fmt"
	"time"

	"github.com/nexguard/nexbot/internal/logging"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/rs/zerolog/log"
)

// Router is the single inbound entry point. It filters group chats, routes
// admin commands to the dispatcher and everything else through the
// workflow engine, one message at a time per identity.
type Router struct {
	gateway   Gateway
	core      *Core
	engine    *Engine
	admin     *AdminDispatcher
	adminID   string
	mailboxes *Mailboxes
	metrics   *metrics.Recorder
	now       func() time.Time
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	Gateway       Gateway
	Core          *Core
	Engine        *Engine
	Admin         *AdminDispatcher
	AdminIdentity string
	Metrics       *metrics.Recorder
	Now           func() time.Time
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.Gateway == nil {
		return nil, fmt.Errorf("bot: router: gateway is required")
	}
	if opts.Core == nil {
		return nil, fmt.Errorf("bot: router: core is required")
	}
	if opts.Engine == nil {
		return nil, fmt.Errorf("bot: router: engine is required")
	}
	if opts.Admin == nil {
		return nil, fmt.Errorf("bot: router: admin dispatcher is required")
	}
	if opts.AdminIdentity == "" {
		return nil, fmt.Errorf("bot: router: admin identity is required")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Router{
		gateway:   opts.Gateway,
		core:      opts.Core,
		engine:    opts.Engine,
		admin:     opts.Admin,
		adminID:   opts.AdminIdentity,
		mailboxes: NewMailboxes(),
		metrics:   opts.Metrics,
		now:       now,
	}, nil
}

// Handle queues msg on its sender's mailbox and returns immediately.
// Group chat messages are dropped.
func (r *Router) Handle(ctx context.Context, msg InboundMessage) {
	if msg.IsGroup() {
		log.Debug().Str("identity", msg.SenderID).Msg("bot: router: ignore group message")
		r.metrics.Message("group")
		return
	}
	if msg.SenderID == "" {
		return
	}
	r.mailboxes.Post(msg.SenderID, func() { r.process(ctx, msg) })
}

// Wait blocks until every queued message has been processed.
func (r *Router) Wait() {
	r.mailboxes.Wait()
}

// process handles one message. A panic resets the sender's session, flushes
// all ledgers and answers with the apology; it never escapes the mailbox
// goroutine.
func (r *Router) process(ctx context.Context, msg InboundMessage) {
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic", p).Str("identity", msg.SenderID).Msg("bot: router: recovered from panic")
			r.core.Sessions.Reset(ctx, msg.SenderID)
			if err := r.core.Flush(ctx); err != nil {
				log.Error().Err(err).Msg("bot: router: flush after panic")
			}
			r.reply(ctx, msg, textApology)
		}
	}()

	log.Debug().
		Str("identity", msg.SenderID).
		Bool("media", msg.HasMedia).
		Str("body", logging.Snippet(msg.Body)).
		Msg("bot: router: recv")

	if r.admin.IsCommand(msg.SenderID, msg.Body) {
		r.metrics.Message("admin")
		r.admin.Execute(ctx, msg.Body, func(text string) { r.reply(ctx, msg, text) })
		return
	}

	name := r.displayName(ctx, msg)
	actions := r.handleSession(ctx, msg, name)
	r.deliver(ctx, msg, actions)
}

// handleSession runs the workflow for msg under the session lock and
// persists the session before returning.
func (r *Router) handleSession(ctx context.Context, msg InboundMessage, name string) []Action {
	sess := r.core.Sessions.GetOrCreate(msg.SenderID)
	sess.lock()
	defer sess.unlock()

	sess.LastActivity = r.now()
	sess.Name = name
	defer r.core.Sessions.save(ctx, sess)

	if msg.SenderID != r.adminID && IsUrgent(msg.Body) {
		return r.engine.Urgent(ctx, sess, msg)
	}

	from := sess.State.Name()
	actions, err := r.engine.Handle(ctx, sess, msg, func(text string) { r.reply(ctx, msg, text) })
	if err != nil {
		log.Error().Err(err).Str("identity", sess.Identity).Str("state", from).Msg("bot: router: workflow failed")
		sess.State = Idle
		return []Action{reply(textApology)}
	}
	if err := CheckState(sess.State); err != nil {
		log.Error().Err(err).Str("identity", sess.Identity).Msg("bot: router: invalid state, resetting")
		sess.State = Idle
	}
	if to := sess.State.Name(); to != from {
		log.Debug().Str("identity", sess.Identity).Str("from", from).Str("state", to).Msg("bot: router: transition")
	}
	return actions
}

func (r *Router) displayName(ctx context.Context, msg InboundMessage) string {
	if msg.SenderName != "" {
		return msg.SenderName
	}
	name, err := r.gateway.DisplayName(ctx, msg.SenderID)
	if err != nil || name == "" {
		return "Unknown"
	}
	return name
}

func (r *Router) deliver(ctx context.Context, msg InboundMessage, actions []Action) {
	for _, a := range actions {
		switch a.Kind {
		case ActionReply:
			r.reply(ctx, msg, a.Text)
		case ActionForward:
			if err := r.gateway.Send(ctx, OutboundMessage{To: r.adminID, Text: a.Text}); err != nil {
				log.Error().Err(err).Str("identity", msg.SenderID).Msg("bot: router: forward to admin failed")
			}
		}
	}
}

// reply answers msg, falling back to a direct send when the quoted reply
// fails. A failed fallback is logged and dropped.
func (r *Router) reply(ctx context.Context, msg InboundMessage, text string) {
	if rp, ok := r.gateway.(Replier); ok {
		err := rp.Reply(ctx, msg, text)
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("identity", msg.SenderID).Msg("bot: router: reply failed, sending directly")
	}
	if err := r.gateway.Send(ctx, OutboundMessage{To: msg.SenderID, Text: text}); err != nil {
		log.Error().Err(err).Str("identity", msg.SenderID).Msg("bot: router: send failed")
	}
}
