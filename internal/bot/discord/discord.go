// Package discord implements the bot Gateway for Discord direct messages
// using the Gateway WebSocket.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/nexguard/nexbot/internal/bot"
	"github.com/rs/zerolog/log"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limit retries.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the rate-limit backoff.
	maxBackoff = 2 * time.Minute
	// maxMessageLen is Discord's content limit per message.
	maxMessageLen = 2000
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	AddHandler(handler interface{}) func()
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageSendReply(channelID, content string, reference *discordgo.MessageReference, options ...discordgo.RequestOption) (*discordgo.Message, error)
	UserChannelCreate(recipientID string, options ...discordgo.RequestOption) (*discordgo.Channel, error)
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
}

// Adapter implements bot.Gateway and bot.Replier for Discord. Customers talk
// to the bot in direct messages; guild channel messages are flagged as group
// messages and ignored by the router.
type Adapter struct {
	sess          session
	botToken      string
	botUserID     string
	mu            sync.Mutex
	connected     bool
	closed        bool
	inbound       chan bot.InboundMessage
	dmChannels    map[string]string // user id -> DM channel id
	cancelFunc    context.CancelFunc
	removeHandler func()
	baseBackoff   time.Duration
	maxBackoff    time.Duration
}

// AdapterOpts holds parameters for creating a Discord Adapter.
type AdapterOpts struct {
	BotToken string // Discord bot token
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Adapter{
		sess:        opts.Session,
		botToken:    opts.BotToken,
		inbound:     make(chan bot.InboundMessage, 100),
		dmChannels:  make(map[string]string),
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect establishes the Discord Gateway WebSocket connection.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("discord: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.sess == nil {
		dg, err := discordgo.New("Bot " + a.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsDirectMessages |
			discordgo.IntentsGuildMessages |
			discordgo.IntentsMessageContent
		a.sess = dg
	}

	a.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		a.mu.Lock()
		a.botUserID = r.User.ID
		a.mu.Unlock()
		log.Info().Str("user", r.User.Username).Str("id", r.User.ID).Msg("discord: connected")
	})
	// discordgo reconnects on its own; these are for observability only.
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		log.Warn().Msg("discord: gateway disconnected, discordgo will auto-reconnect")
	})
	a.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
		log.Info().Msg("discord: gateway session resumed")
	})

	if err := a.sess.Open(); err != nil {
		return fmt.Errorf("discord: open gateway: %w", err)
	}
	a.connected = true
	return nil
}

// Listen registers the message handler and returns the inbound channel.
// The channel is closed by Close, which also runs when ctx is cancelled.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("discord: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()

	remove := a.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		a.handleMessage(m)
	})
	a.mu.Lock()
	a.removeHandler = remove
	a.mu.Unlock()

	go func() {
		<-listenCtx.Done()
		a.Close()
	}()
	return a.inbound, nil
}

// Send delivers a direct message to a Discord user, opening the DM channel
// on first use.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	channelID, err := a.dmChannel(ctx, msg.To)
	if err != nil {
		return err
	}
	for _, part := range chunk(msg.Text, maxMessageLen) {
		err := a.retryOnRateLimit(ctx, func() error {
			_, sendErr := a.sess.ChannelMessageSend(channelID, part)
			return sendErr
		})
		if err != nil {
			return fmt.Errorf("discord: send message: %w", err)
		}
	}
	return nil
}

// Reply answers in the channel the message arrived on, referencing it.
// Only the first chunk of a long reply carries the reference.
func (a *Adapter) Reply(ctx context.Context, to bot.InboundMessage, text string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if to.ChannelID == "" {
		return fmt.Errorf("discord: reply: no channel on inbound message")
	}
	for i, part := range chunk(text, maxMessageLen) {
		err := a.retryOnRateLimit(ctx, func() error {
			var sendErr error
			if i == 0 && to.MessageID != "" {
				_, sendErr = a.sess.ChannelMessageSendReply(to.ChannelID, part, &discordgo.MessageReference{
					MessageID: to.MessageID,
					ChannelID: to.ChannelID,
				})
			} else {
				_, sendErr = a.sess.ChannelMessageSend(to.ChannelID, part)
			}
			return sendErr
		})
		if err != nil {
			return fmt.Errorf("discord: reply: %w", err)
		}
	}
	return nil
}

// DisplayName returns the user's global display name, falling back to the
// username.
func (a *Adapter) DisplayName(ctx context.Context, identity string) (string, error) {
	if err := a.checkConnected(); err != nil {
		return "", err
	}
	u, err := a.sess.User(identity)
	if err != nil {
		return "", fmt.Errorf("discord: user %s: %w", identity, err)
	}
	if u.GlobalName != "" {
		return u.GlobalName, nil
	}
	return u.Username, nil
}

// Close gracefully shuts down the adapter connection.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.cancelFunc != nil {
		a.cancelFunc()
	}
	if a.removeHandler != nil {
		a.removeHandler()
	}
	close(a.inbound)
	if a.sess != nil {
		return a.sess.Close()
	}
	return nil
}

// SetBotUserID sets the bot user ID (used for self-message filtering).
func (a *Adapter) SetBotUserID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.botUserID = id
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

func (a *Adapter) dmChannel(ctx context.Context, userID string) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[userID]
	a.mu.Unlock()
	if ok {
		return id, nil
	}

	var ch *discordgo.Channel
	err := a.retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, apiErr = a.sess.UserChannelCreate(userID)
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("discord: open dm with %s: %w", userID, err)
	}
	a.mu.Lock()
	a.dmChannels[userID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

// handleMessage converts a Discord message event to an InboundMessage.
func (a *Adapter) handleMessage(m *discordgo.MessageCreate) {
	if m.Message == nil || m.Author == nil {
		return
	}
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if m.Author.ID == botID || m.Author.Bot {
		return
	}

	name := m.Author.GlobalName
	if name == "" {
		name = m.Author.Username
	}
	ts, _ := discordgo.SnowflakeTimestamp(m.ID)
	msg := bot.InboundMessage{
		Platform:   "discord",
		SenderID:   m.Author.ID,
		SenderName: name,
		ChannelID:  m.ChannelID,
		MessageID:  m.ID,
		Body:       m.Content,
		HasMedia:   len(m.Attachments) > 0,
		Group:      m.GuildID != "",
		Timestamp:  ts,
	}
	if !msg.Group {
		a.mu.Lock()
		a.dmChannels[m.Author.ID] = m.ChannelID
		a.mu.Unlock()
	}
	a.push(msg)
}

// push queues msg unless the adapter is closed. A full queue drops the
// message rather than blocking the discordgo event loop.
func (a *Adapter) push(msg bot.InboundMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Warn().Str("identity", msg.SenderID).Msg("discord: inbound queue full, message dropped")
	}
}

// chunk splits s into pieces of at most n bytes, preferring line breaks.
func chunk(s string, n int) []string {
	if len(s) <= n {
		return []string{s}
	}
	var parts []string
	for len(s) > n {
		cut := n
		for i := n; i > n/2; i-- {
			if s[i-1] == '\n' {
				cut = i
				break
			}
		}
		parts = append(parts, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (a *Adapter) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Int("attempt", attempt+1).Int("max", maxRetries).Dur("wait", wait).Msg("discord: rate limited, retrying")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
