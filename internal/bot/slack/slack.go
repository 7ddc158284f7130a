// Package slack implements the bot Gateway for Slack direct messages using
// Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/bot"
	"github.com/rs/zerolog/log"
	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
)

// slackClient abstracts the Slack API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	OpenConversation(params *slackapi.OpenConversationParameters) (*slackapi.Channel, bool, bool, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	Run() error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) Run() error                        { return r.client.Run() }
func (r *realSocketClient) EventsChan() chan socketmode.Event { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Adapter implements bot.Gateway and bot.Replier for Slack Socket Mode.
// Direct messages are customer conversations; channel messages are flagged
// as group messages.
type Adapter struct {
	client       slackClient
	socket       socketClient
	botUserID    string
	appToken     string
	botToken     string
	mu           sync.Mutex
	connected    bool
	closed       bool
	inbound      chan bot.InboundMessage
	dmChannels   map[string]string // user id -> IM channel id
	names        map[string]string // user id -> display name
	cancelFunc   context.CancelFunc
	baseBackoff  time.Duration
	maxBackoff   time.Duration
	maxReconnect int
}

// AdapterOpts holds parameters for creating a Slack Adapter.
type AdapterOpts struct {
	AppToken string // xapp-... Slack app-level token for Socket Mode
	BotToken string // xoxb-... Slack bot token
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}
	return &Adapter{
		client:       opts.Client,
		socket:       opts.Socket,
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		inbound:      make(chan bot.InboundMessage, 100),
		dmChannels:   make(map[string]string),
		names:        make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates the bot token and prepares the Socket Mode client.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("slack: adapter already closed")
	}
	if a.connected {
		return nil
	}

	if a.client == nil {
		api := slackapi.New(a.botToken, slackapi.OptionAppLevelToken(a.appToken))
		a.client = api
		a.socket = &realSocketClient{client: socketmode.New(api)}
	}

	auth, err := a.client.AuthTest()
	if err != nil {
		return fmt.Errorf("slack: auth test: %w", err)
	}
	a.botUserID = auth.UserID
	a.connected = true
	return nil
}

// Listen starts the Socket Mode event pump and returns the inbound
// channel. The channel is closed when ctx is cancelled or the adapter is
// closed. Must be called after Connect.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("slack: not connected")
	}
	listenCtx, cancel := context.WithCancel(ctx)
	a.cancelFunc = cancel
	a.mu.Unlock()

	go a.runWithReconnect(listenCtx)
	go a.pumpEvents(listenCtx)
	go func() {
		<-listenCtx.Done()
		a.Close()
	}()
	return a.inbound, nil
}

// Send delivers a direct message to a Slack user, opening the IM channel on
// first use.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	channelID, err := a.imChannel(ctx, msg.To)
	if err != nil {
		return err
	}
	return a.post(ctx, channelID, msg.Text, "")
}

// Reply answers in the channel the message arrived on, threading under it
// when the message was itself in a thread.
func (a *Adapter) Reply(ctx context.Context, to bot.InboundMessage, text string) error {
	if err := a.checkConnected(); err != nil {
		return err
	}
	if to.ChannelID == "" {
		return fmt.Errorf("slack: reply: no channel on inbound message")
	}
	return a.post(ctx, to.ChannelID, text, to.MessageID)
}

func (a *Adapter) post(ctx context.Context, channelID, text, threadTS string) error {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(text, false)}
	if threadTS != "" {
		options = append(options, slackapi.MsgOptionTS(threadTS))
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, postErr := a.client.PostMessage(channelID, options...)
		return postErr
	})
	if err != nil {
		return fmt.Errorf("slack: post message: %w", err)
	}
	return nil
}

// DisplayName looks up a user's display name, falling back to the real
// name. Results are cached.
func (a *Adapter) DisplayName(ctx context.Context, identity string) (string, error) {
	a.mu.Lock()
	name, ok := a.names[identity]
	a.mu.Unlock()
	if ok {
		return name, nil
	}
	user, err := a.client.GetUserInfo(identity)
	if err != nil {
		return "", fmt.Errorf("slack: user %s: %w", identity, err)
	}
	name = user.Profile.DisplayName
	if name == "" {
		name = user.RealName
	}
	a.mu.Lock()
	a.names[identity] = name
	a.mu.Unlock()
	return name, nil
}

// Close shuts down the adapter and closes the inbound channel.
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
	close(a.inbound)
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (a *Adapter) BotUserID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.botUserID
}

func (a *Adapter) checkConnected() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

func (a *Adapter) imChannel(ctx context.Context, userID string) (string, error) {
	a.mu.Lock()
	id, ok := a.dmChannels[userID]
	a.mu.Unlock()
	if ok {
		return id, nil
	}
	var ch *slackapi.Channel
	err := retryOnRateLimit(ctx, func() error {
		var apiErr error
		ch, _, _, apiErr = a.client.OpenConversation(&slackapi.OpenConversationParameters{Users: []string{userID}})
		return apiErr
	})
	if err != nil {
		return "", fmt.Errorf("slack: open conversation with %s: %w", userID, err)
	}
	a.mu.Lock()
	a.dmChannels[userID] = ch.ID
	a.mu.Unlock()
	return ch.ID, nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when Run() returns an error.
func (a *Adapter) runWithReconnect(ctx context.Context) {
	for attempt := 0; attempt < a.maxReconnect; attempt++ {
		err := a.socket.Run()
		if err == nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * a.baseBackoff
		if wait > a.maxBackoff {
			wait = a.maxBackoff
		}
		log.Warn().Err(err).Int("attempt", attempt+1).Int("max", a.maxReconnect).Dur("wait", wait).
			Msg("slack: socket mode disconnected, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	log.Error().Int("attempts", a.maxReconnect).Msg("slack: socket mode reconnection attempts exhausted, closing")
	a.Close()
}

// pumpEvents reads Socket Mode events and converts them to InboundMessages.
func (a *Adapter) pumpEvents(ctx context.Context) {
	events := a.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			a.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (a *Adapter) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			a.socket.Ack(*evt.Request)
		}
		if eventsAPIEvent.Type != slackevents.CallbackEvent {
			return
		}
		if ev, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent); ok {
			a.handleMessage(ev)
		}

	case socketmode.EventTypeConnecting:
		log.Debug().Msg("slack: connecting to Socket Mode")
	case socketmode.EventTypeConnected:
		log.Info().Msg("slack: connected to Socket Mode")
	case socketmode.EventTypeConnectionError:
		log.Warn().Interface("data", evt.Data).Msg("slack: connection error")
	case socketmode.EventTypeDisconnect:
		log.Warn().Msg("slack: server requested disconnect, will reconnect")
	}
}

// handleMessage converts a Slack message event to an InboundMessage. Edits,
// deletions and bot posts are dropped; file shares are kept as media.
func (a *Adapter) handleMessage(ev *slackevents.MessageEvent) {
	a.mu.Lock()
	botID := a.botUserID
	a.mu.Unlock()
	if ev.User == "" || ev.User == botID || ev.BotID != "" {
		return
	}
	if ev.SubType != "" && ev.SubType != "file_share" {
		return
	}

	im := ev.ChannelType == "im"
	if im {
		a.mu.Lock()
		a.dmChannels[ev.User] = ev.Channel
		a.mu.Unlock()
	}
	name, err := a.DisplayName(context.Background(), ev.User)
	if err != nil {
		log.Debug().Err(err).Str("identity", ev.User).Msg("slack: resolve display name")
	}
	a.push(bot.InboundMessage{
		Platform:   "slack",
		SenderID:   ev.User,
		SenderName: name,
		ChannelID:  ev.Channel,
		MessageID:  ev.ThreadTimeStamp,
		Body:       ev.Text,
		HasMedia:   ev.SubType == "file_share" || len(ev.Files) > 0,
		Group:      !im,
		Timestamp:  parseSlackTimestamp(ev.TimeStamp),
	})
}

// push queues msg unless the adapter is closed. A full queue drops the
// message rather than blocking the event pump.
func (a *Adapter) push(msg bot.InboundMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	select {
	case a.inbound <- msg:
	default:
		log.Warn().Str("identity", msg.SenderID).Msg("slack: inbound queue full, message dropped")
	}
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) || attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// parseSlackTimestamp converts a Slack timestamp (e.g., "1234567890.123456")
// to a time.Time.
func parseSlackTimestamp(ts string) time.Time {
	sec, frac, _ := strings.Cut(ts, ".")
	s, err := strconv.ParseInt(sec, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var micros int64
	if frac != "" {
		micros, _ = strconv.ParseInt(frac, 10, 64)
	}
	return time.Unix(s, micros*1000)
}
