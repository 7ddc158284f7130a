// Package console implements a local bot Gateway over a terminal or any
// line-oriented reader. Each input line is delivered as a message from the
// current identity; lines starting with ':' are console directives.
//
// Directives:
//
//	:as <identity> [name]   switch the sending identity
//	:admin <text>           send text as the admin identity
//	:media [caption]        send a message flagged as carrying media
//	:group <text>           send text as a group message
//	:quit                   stop the console
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/nexguard/nexbot/internal/bot"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

const prompt = "> "

// lineReader is satisfied by *term.Terminal and by scannerReader.
type lineReader interface {
	ReadLine() (string, error)
}

type scannerReader struct {
	s *bufio.Scanner
}

func (r scannerReader) ReadLine() (string, error) {
	if r.s.Scan() {
		return r.s.Text(), nil
	}
	if err := r.s.Err(); err != nil {
		return "", err
	}
	return "", io.EOF
}

// Adapter implements bot.Gateway and bot.Replier on stdin/stdout style
// streams.
type Adapter struct {
	in            io.Reader
	out           io.Writer
	adminIdentity string

	mu        sync.Mutex
	identity  string
	names     map[string]string
	connected bool
	closed    bool
	inbound   chan bot.InboundMessage
	done      chan struct{}
	seq       int
	restore   func()
	now       func() time.Time
}

// AdapterOpts holds parameters for creating a console Adapter.
type AdapterOpts struct {
	In            io.Reader // defaults to os.Stdin
	Out           io.Writer // defaults to os.Stdout
	Identity      string    // identity lines are sent as
	Name          string    // display name for Identity
	AdminIdentity string    // identity used by :admin
	Now           func() time.Time
}

// New creates a console Adapter.
func New(opts AdapterOpts) (*Adapter, error) {
	if opts.Identity == "" {
		return nil, fmt.Errorf("console: identity is required")
	}
	if opts.In == nil {
		opts.In = os.Stdin
	}
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	names := make(map[string]string)
	if opts.Name != "" {
		names[opts.Identity] = opts.Name
	}
	return &Adapter{
		in:            opts.In,
		out:           opts.Out,
		adminIdentity: opts.AdminIdentity,
		identity:      opts.Identity,
		names:         names,
		inbound:       make(chan bot.InboundMessage, 100),
		done:          make(chan struct{}),
		now:           opts.Now,
	}, nil
}

// Connect marks the console as connected.
func (a *Adapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return fmt.Errorf("console: adapter already closed")
	}
	a.connected = true
	return nil
}

// Listen starts reading lines and returns the inbound channel. An
// interactive terminal is switched to raw mode behind a line editor until
// Close. Done is closed when the input ends or :quit is entered.
func (a *Adapter) Listen(ctx context.Context) (<-chan bot.InboundMessage, error) {
	a.mu.Lock()
	if !a.connected {
		a.mu.Unlock()
		return nil, fmt.Errorf("console: not connected")
	}
	reader, err := a.openReader()
	if err != nil {
		a.mu.Unlock()
		return nil, err
	}
	a.mu.Unlock()

	go a.readLoop(ctx, reader)
	go func() {
		<-ctx.Done()
		a.Close()
	}()
	return a.inbound, nil
}

// openReader picks the line source. Caller holds mu.
func (a *Adapter) openReader() (lineReader, error) {
	f, ok := a.in.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return scannerReader{s: bufio.NewScanner(a.in)}, nil
	}
	state, err := term.MakeRaw(int(f.Fd()))
	if err != nil {
		return nil, fmt.Errorf("console: raw mode: %w", err)
	}
	t := term.NewTerminal(struct {
		io.Reader
		io.Writer
	}{f, a.out}, prompt)
	a.out = t
	a.restore = func() { term.Restore(int(f.Fd()), state) }
	return t, nil
}

// Done is closed when the console input is finished.
func (a *Adapter) Done() <-chan struct{} { return a.done }

func (a *Adapter) readLoop(ctx context.Context, r lineReader) {
	defer a.finish()
	for {
		line, err := r.ReadLine()
		if err != nil {
			if err != io.EOF {
				log.Warn().Err(err).Msg("console: read input")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		msg, quit := a.parse(strings.TrimRight(line, "\r\n"))
		if quit {
			return
		}
		if msg != nil {
			a.push(*msg)
		}
	}
}

func (a *Adapter) finish() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.done:
	default:
		close(a.done)
	}
}

// parse turns one input line into a message, applying directives. It
// returns quit=true for :quit.
func (a *Adapter) parse(line string) (msg *bot.InboundMessage, quit bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	sender := a.identity
	body := line
	var media, group bool

	if strings.HasPrefix(line, ":") {
		cmd, rest, _ := strings.Cut(line[1:], " ")
		rest = strings.TrimSpace(rest)
		switch cmd {
		case "quit", "q":
			return nil, true
		case "as":
			id, name, _ := strings.Cut(rest, " ")
			if id == "" {
				a.printf("current identity: %s\n", a.identity)
				return nil, false
			}
			a.identity = id
			if name = strings.TrimSpace(name); name != "" {
				a.names[id] = name
			}
			a.printf("now sending as %s\n", id)
			return nil, false
		case "admin":
			if a.adminIdentity == "" {
				a.printf("no admin identity configured\n")
				return nil, false
			}
			sender, body = a.adminIdentity, rest
		case "media":
			media, body = true, rest
		case "group":
			group, body = true, rest
		default:
			a.printf("unknown directive :%s\n", cmd)
			return nil, false
		}
	} else if strings.TrimSpace(line) == "" {
		return nil, false
	}

	if group && !strings.HasSuffix(sender, bot.GroupSuffix) {
		sender += bot.GroupSuffix
	}
	a.seq++
	return &bot.InboundMessage{
		Platform:   "console",
		SenderID:   sender,
		SenderName: a.names[sender],
		ChannelID:  sender,
		MessageID:  fmt.Sprintf("console-%d", a.seq),
		Body:       body,
		HasMedia:   media,
		Group:      group,
		Timestamp:  a.now(),
	}, false
}

// printf writes to the output. Caller holds mu.
func (a *Adapter) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// Send prints an outbound message addressed to msg.To.
func (a *Adapter) Send(ctx context.Context, msg bot.OutboundMessage) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return fmt.Errorf("console: not connected")
	}
	_, err := fmt.Fprintf(a.out, "[to %s]\n%s\n", msg.To, msg.Text)
	if err != nil {
		return fmt.Errorf("console: write: %w", err)
	}
	return nil
}

// Reply prints text addressed to the sender of the inbound message.
func (a *Adapter) Reply(ctx context.Context, to bot.InboundMessage, text string) error {
	return a.Send(ctx, bot.OutboundMessage{To: to.SenderID, Text: text})
}

// DisplayName returns the name given with :as or in AdapterOpts.
func (a *Adapter) DisplayName(ctx context.Context, identity string) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	name, ok := a.names[identity]
	if !ok {
		return "", fmt.Errorf("console: no name for %s", identity)
	}
	return name, nil
}

// Close restores the terminal and closes the inbound channel.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	a.connected = false
	if a.restore != nil {
		a.restore()
	}
	close(a.inbound)
	return nil
}

func (a *Adapter) push(msg bot.InboundMessage) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return
	}
	a.inbound <- msg
}
