package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/nexguard/nexbot/internal/config"
	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/panel"
	"github.com/rs/zerolog/log"
)

// AdminDispatcher executes admin console commands such as "!stats". It
// bypasses the workflow engine entirely.
type AdminDispatcher struct {
	admin       string
	prefixes    []string
	core        *Core
	catalog     *Catalog
	panel       Provisioner
	broadcaster *Broadcaster
	promo       config.PromotionConfig
}

// AdminDispatcherOpts holds parameters for creating an AdminDispatcher.
type AdminDispatcherOpts struct {
	AdminIdentity string
	Prefixes      []string // defaults to "!" and "/"
	Core          *Core
	Catalog       *Catalog
	Panel         Provisioner // optional; user and createuser fail without it
	Broadcaster   *Broadcaster
	Promotion     config.PromotionConfig
}

// NewAdminDispatcher creates an AdminDispatcher.
func NewAdminDispatcher(opts AdminDispatcherOpts) (*AdminDispatcher, error) {
	if opts.AdminIdentity == "" {
		return nil, fmt.Errorf("bot: admin: admin identity is required")
	}
	if opts.Core == nil {
		return nil, fmt.Errorf("bot: admin: core is required")
	}
	if opts.Catalog == nil {
		return nil, fmt.Errorf("bot: admin: catalog is required")
	}
	if opts.Broadcaster == nil {
		return nil, fmt.Errorf("bot: admin: broadcaster is required")
	}
	prefixes := opts.Prefixes
	if len(prefixes) == 0 {
		prefixes = []string{"!", "/"}
	}
	promo := opts.Promotion
	if promo.DefaultDays <= 0 {
		promo.DefaultDays = 7
	}
	if promo.DefaultWinners <= 0 {
		promo.DefaultWinners = 3
	}
	return &AdminDispatcher{
		admin:       opts.AdminIdentity,
		prefixes:    prefixes,
		core:        opts.Core,
		catalog:     opts.Catalog,
		panel:       opts.Panel,
		broadcaster: opts.Broadcaster,
		promo:       promo,
	}, nil
}

// IsCommand reports whether text from identity is an admin command.
func (a *AdminDispatcher) IsCommand(identity, text string) bool {
	if identity != a.admin {
		return false
	}
	_, ok := a.strip(text)
	return ok
}

func (a *AdminDispatcher) strip(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, p := range a.prefixes {
		if rest, ok := strings.CutPrefix(text, p); ok && rest != "" {
			return rest, true
		}
	}
	return "", false
}

// Execute runs one command. reply sends a message back to the admin; it
// may be called more than once for commands with interim progress.
func (a *AdminDispatcher) Execute(ctx context.Context, text string, reply func(string)) {
	body, _ := a.strip(text)
	name, args, _ := strings.Cut(strings.TrimSpace(body), " ")
	name = strings.ToLower(name)
	args = strings.TrimSpace(args)
	log.Info().Str("command", name).Msg("bot: admin command")

	switch name {
	case "vacation":
		reply(a.cmdVacation())
	case "promo":
		reply(a.cmdPromo(ctx, args))
	case "broadcast":
		a.cmdBroadcast(ctx, args, reply)
	case "stats":
		reply(a.cmdStats())
	case "help":
		reply(helpText)
	case "user":
		a.cmdUser(ctx, args, reply)
	case "order":
		reply(a.cmdOrder(args))
	case "reset":
		reply(a.cmdReset(ctx, args))
	case "createuser":
		reply(a.cmdCreateUser(ctx, args))
	default:
		reply(fmt.Sprintf("*Unknown command:* %s\n\n%s", name, helpText))
	}
}

const helpText = "*Admin Commands*\n\n" +
	"*!vacation* - Toggle vacation mode\n" +
	"*!promo start [days]* - Start promotion\n" +
	"*!promo end [winners]* - End promotion\n" +
	"*!promo status* - Show promotion status\n" +
	"*!broadcast <message>* - Send message to all users\n" +
	"*!stats* - Show bot statistics\n" +
	"*!user <username>* - Get user details\n" +
	"*!order <orderId>* - Get order details\n" +
	"*!reset <userId>* - Reset user state\n" +
	"*!createuser <username> <days> <traffic GB|unlimited>* - Create new user"

func onOff(b bool) string {
	if b {
		return "ACTIVE"
	}
	return "INACTIVE"
}

func (a *AdminDispatcher) cmdVacation() string {
	on := a.core.Modes.ToggleVacation()
	log.Info().Bool("vacation", on).Msg("bot: vacation mode toggled")
	return fmt.Sprintf("*Vacation mode is now %s*", onOff(on))
}

// --- Promotion ---

func (a *AdminDispatcher) cmdPromo(ctx context.Context, args string) string {
	fields := strings.Fields(args)
	if len(fields) == 0 {
		return "Usage: !promo start [days] | !promo end [winners] | !promo status"
	}
	switch strings.ToLower(fields[0]) {
	case "start":
		days := intArg(fields, 1, a.promo.DefaultDays)
		task := models.PromotionTask{Type: a.promo.TaskType, Details: a.promo.TaskDetails}
		restarted, end := a.core.Promotion.Start(ctx, days, task)
		a.core.Modes.SetPromotion(true)
		log.Info().Int("days", days).Bool("restarted", restarted).Msg("bot: promotion started")
		var b strings.Builder
		if restarted {
			b.WriteString("*A promotion was already active; it has been re-initialised and its participants cleared.*\n\n")
		}
		fmt.Fprintf(&b, "*Promotion started!*\nEnd date: %s\nDuration: %d days", end.Format("2006-01-02"), days)
		return b.String()
	case "end":
		n := intArg(fields, 1, a.promo.DefaultWinners)
		winners, total, wasActive := a.core.Promotion.End(ctx, n)
		a.core.Modes.SetPromotion(false)
		log.Info().Int("participants", total).Int("winners", len(winners)).Msg("bot: promotion ended")
		var b strings.Builder
		if !wasActive {
			b.WriteString("*No promotion was active.*\n")
		}
		fmt.Fprintf(&b, "*Promotion ended!*\nTotal participants: %d\n\n*Promotion Winners*\n\n", total)
		if len(winners) == 0 {
			b.WriteString("*No participants found.*")
		}
		for i, w := range winners {
			fmt.Fprintf(&b, "*%d.* %s (%s)\n", i+1, w.Name, w.Identity)
		}
		return strings.TrimRight(b.String(), "\n")
	case "status":
		st := a.core.Promotion.Status()
		active := "No"
		if st.Active {
			active = "Yes"
		}
		var b strings.Builder
		b.WriteString("*Promotion Status*\n\n")
		fmt.Fprintf(&b, "*Active:* %s\n", active)
		fmt.Fprintf(&b, "*Participants:* %d\n", st.Participants)
		if st.EndDate != nil {
			fmt.Fprintf(&b, "*End Date:* %s\n", st.EndDate.Format("2006-01-02"))
			fmt.Fprintf(&b, "*Days Remaining:* %d\n", st.DaysRemaining)
		}
		return strings.TrimRight(b.String(), "\n")
	}
	return fmt.Sprintf("*Unknown promo subcommand:* %s", fields[0])
}

// intArg parses fields[i] as a positive integer, falling back to def.
func intArg(fields []string, i, def int) int {
	if i >= len(fields) {
		return def
	}
	n, err := strconv.Atoi(fields[i])
	if err != nil || n <= 0 {
		return def
	}
	return n
}

// --- Broadcast ---

func (a *AdminDispatcher) cmdBroadcast(ctx context.Context, text string, reply func(string)) {
	if text == "" {
		reply("*Please provide a message to broadcast.*")
		return
	}
	var recipients []string
	for _, id := range a.core.Sessions.Identities() {
		if id != a.admin {
			recipients = append(recipients, id)
		}
	}
	reply(fmt.Sprintf("*Broadcasting message to %d users...*", len(recipients)))
	announcement := fmt.Sprintf("*ANNOUNCEMENT*\n\n%s\n\n_This is an automated message._", text)
	res := a.broadcaster.Send(ctx, recipients, announcement)
	reply(fmt.Sprintf("*Broadcast sent to %d users (%d failed).*", res.Sent, res.Failed))
}

// --- Lookups ---

func (a *AdminDispatcher) cmdStats() string {
	st := a.core.Stats()
	var b strings.Builder
	b.WriteString("*Bot Statistics*\n\n")
	fmt.Fprintf(&b, "*Total Users:* %d\n", st.Users)
	fmt.Fprintf(&b, "*Total Messages:* %d\n", st.Messages)
	fmt.Fprintf(&b, "*Total Orders:* %d\n", st.Orders)
	fmt.Fprintf(&b, "*Vacation Mode:* %s\n", onOff(st.Vacation))
	fmt.Fprintf(&b, "*Promotion Mode:* %s", onOff(st.Promotion))
	return b.String()
}

func (a *AdminDispatcher) cmdUser(ctx context.Context, name string, reply func(string)) {
	if name == "" {
		reply("*Please provide a username.*")
		return
	}
	if a.panel == nil {
		reply("*Panel is not configured.*")
		return
	}
	reply("*Looking up user...*")
	t, err := a.panel.GetTraffic(ctx, name)
	switch {
	case errors.Is(err, panel.ErrNotFound):
		reply("*User not found.*")
	case err != nil:
		log.Error().Err(err).Str("command", "user").Msg("bot: panel lookup failed")
		reply("*Lookup failed. Please try again later.*")
	default:
		reply(formatUsage(name, t))
	}
}

func (a *AdminDispatcher) cmdOrder(id string) string {
	if id == "" {
		return "*Please provide an order ID.*"
	}
	o, _, ok := a.core.Orders.Find(id)
	if !ok {
		return "*Order not found.*"
	}
	return formatOrder(a.catalog, &o)
}

func (a *AdminDispatcher) cmdReset(ctx context.Context, identity string) string {
	if identity == "" {
		return "*Please provide a user ID.*"
	}
	if !a.core.Sessions.Reset(ctx, identity) {
		return fmt.Sprintf("*User not found:* %s", identity)
	}
	log.Info().Str("identity", identity).Msg("bot: session reset by admin")
	return fmt.Sprintf("*User state reset for %s*", identity)
}

// --- Provisioning ---

func (a *AdminDispatcher) cmdCreateUser(ctx context.Context, args string) string {
	const usage = "*Format: !createuser <username> <days> <traffic GB|unlimited>*"
	fields := strings.Fields(args)
	if len(fields) < 3 {
		return "*Insufficient parameters.* " + usage
	}
	username := fields[0]
	days, err := strconv.Atoi(fields[1])
	if err != nil || days <= 0 {
		return "*Invalid parameters. Days must be a positive number.* " + usage
	}
	trafficGB := 0
	trafficText := "Unlimited"
	if !strings.EqualFold(fields[2], "unlimited") {
		trafficGB, err = strconv.Atoi(fields[2])
		if err != nil || trafficGB <= 0 {
			return "*Invalid parameters. Traffic must be 'unlimited' or a number of GB.* " + usage
		}
		trafficText = fmt.Sprintf("%d GB", trafficGB)
	}
	if a.panel == nil {
		return "*Panel is not configured.*"
	}

	acct, err := a.panel.CreateAccount(ctx, panel.AccountRequest{
		Username:  username,
		Days:      days,
		TrafficGB: trafficGB,
	})
	if err != nil {
		log.Error().Err(err).Str("command", "createuser").Msg("bot: create account failed")
		return fmt.Sprintf("*Failed to create account:* %v", err)
	}
	log.Info().Str("username", username).Int("inbound", acct.InboundID).Msg("bot: account created")
	return fmt.Sprintf("*Account created successfully!*\n\n*Username:* %s\n*Expiry:* %s\n*Traffic:* %s",
		acct.Username, acct.Expiry.Format("2006-01-02"), trafficText)
}
