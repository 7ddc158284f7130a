package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/nexguard/nexbot/internal/models"
	"github.com/nexguard/nexbot/internal/panel"
)

// Customer-facing replies.
const (
	textInvalidOption   = "*Invalid option. Please select from the available options.*"
	textUsagePrompt     = "*Please enter your NexGuard username to check usage.*"
	textUsageChecking   = "*Checking your usage...*"
	textUsageNotFound   = "*User not found.*\nPlease check the username and try again."
	textContactPrompt   = "*Contact Options*\n\nType your message and our team will get back to you.\n\n_Your message is forwarded to support as is._"
	textContactSent     = "*Message sent! Our team will get back to you soon.*"
	textComplaintPrompt = "*Please describe your issue or complaint in detail, and we'll address it when we return.*"
	textComplaintSent   = "*Your complaint has been recorded and will be addressed when we return. Thank you for your patience.*"
	textAIWelcome       = "*NexGuard AI Assistant activated!*\n\nI can answer questions about V2ray, our services, or general tech support. What would you like to know?\n\n_(Type 'exit' to return to main menu)_"
	textAIThinking      = "*Thinking...*"
	textAIEnded         = "*AI chat ended. What would you like to do next?*"
	textContactNumber   = "*Please enter your contact number:*"
	textEmail           = "*Please enter your email address:*"
	textUsername        = "*Please enter your preferred username for the V2ray account:*"
	textConfirmPrompt   = "*Please type 'confirm' to place your order or 'cancel' to cancel.*"
	textOrderCancelled  = "*Order Cancelled*\n\nYour order has been cancelled. Feel free to place a new order whenever you're ready."
	textPromoInactive   = "*Sorry, the promotion is currently inactive. Please check back later.*"
	textPromoAlready    = "*You're already registered for this promotion!*\n\nWinners will be announced after the promotion ends. Good luck!"
	textPromoJoinAgain  = "*Please type 'join' to participate in the promotion.*"
	textPromoNeedProof  = "*Please send a screenshot or photo as proof of completion.*"
	textPromoThanks     = "*Thank you for participating!*\n\nYour entry has been recorded. Winners will be announced after the promotion ends. Good luck!"
	textUrgentAck       = "*Your urgent message has been forwarded to the team. We'll respond as soon as possible.*"
	textApology         = "*Sorry, an error occurred. Please try again later.*"
)

// welcomeMenu renders the main menu. Empty keys hide the optional entries.
func welcomeMenu(complaintKey, promoKey string) string {
	var b strings.Builder
	b.WriteString("*Welcome To NexGuard!*\n\n")
	b.WriteString("*1. Get V2ray Usage*\n")
	b.WriteString("*2. Contact Support*\n")
	b.WriteString("*3. Chat with NexGuard AI*\n")
	b.WriteString("*4. Order V2ray Package*")
	if complaintKey != "" {
		fmt.Fprintf(&b, "\n*%s. File a Complaint/Issue*", complaintKey)
	}
	if promoKey != "" {
		fmt.Fprintf(&b, "\n*%s. Join Our Promotion*", promoKey)
	}
	b.WriteString("\n\n_Please type the number of your choice._")
	return b.String()
}

// formatUsage renders a traffic record for the customer or the admin.
func formatUsage(name string, t *panel.Traffic) string {
	var b strings.Builder
	b.WriteString("*User Details*\n\n")
	fmt.Fprintf(&b, "Name: %s\n", name)
	if exp := t.Expiry(); !exp.IsZero() {
		fmt.Fprintf(&b, "Expires: %s\n", exp.Format("2006-01-02 15:04"))
	} else {
		b.WriteString("Expires: never\n")
	}
	fmt.Fprintf(&b, "Download: %s\n", humanize.IBytes(uint64(max(t.Down, 0))))
	fmt.Fprintf(&b, "Upload: %s\n", humanize.IBytes(uint64(max(t.Up, 0))))
	fmt.Fprintf(&b, "Total: %s\n", humanize.IBytes(uint64(max(t.Down+t.Up, 0))))
	status := "Disabled"
	if t.Enable {
		status = "Enabled"
	}
	fmt.Fprintf(&b, "Status: %s", status)
	return b.String()
}

// formatForward renders a customer message forwarded to the admin.
func formatForward(title, name, identity, body string, at time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*%s*\n\n", title)
	fmt.Fprintf(&b, "*From:* %s (%s)\n", name, identity)
	fmt.Fprintf(&b, "*Time:* %s\n\n", at.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&b, "*Message:*\n%s", body)
	return b.String()
}

func writeOrderDetails(b *strings.Builder, c *Catalog, o *models.Order) {
	fmt.Fprintf(b, "*Package:* %s\n", o.Duration)
	fmt.Fprintf(b, "*Device:* %s\n", o.DeviceType)
	fmt.Fprintf(b, "*Usage:* %s\n", o.UsageType)
	fmt.Fprintf(b, "*Price:* %s\n\n", c.Price(o.TotalPrice))
	fmt.Fprintf(b, "*Contact:* %s\n", o.ContactNumber)
	fmt.Fprintf(b, "*Email:* %s\n", o.Email)
	fmt.Fprintf(b, "*Username:* %s\n", o.Username)
}

// formatOrderSummary is the prompt of the order_confirm step.
func formatOrderSummary(c *Catalog, o *models.Order) string {
	var b strings.Builder
	b.WriteString("*Order Summary*\n\n")
	fmt.Fprintf(&b, "*Order ID:* %s\n", o.ID)
	writeOrderDetails(&b, c, o)
	b.WriteString("\n*To confirm your order, type 'confirm'*\n*To cancel, type 'cancel'*")
	return b.String()
}

func formatOrderConfirmed(o *models.Order) string {
	return fmt.Sprintf("*Order Confirmed!*\n\nThank you for your order. Your order ID is *%s*.\n\n"+
		"Our team will process your order shortly and contact you with payment instructions.", o.ID)
}

// formatOrderNotice is sent to the admin when an order is confirmed.
func formatOrderNotice(c *Catalog, o *models.Order, identity string) string {
	var b strings.Builder
	b.WriteString("*NEW ORDER RECEIVED*\n\n")
	fmt.Fprintf(&b, "*Order ID:* %s\n", o.ID)
	fmt.Fprintf(&b, "*Customer:* %s\n", o.Customer)
	fmt.Fprintf(&b, "*Customer ID:* %s\n", identity)
	fmt.Fprintf(&b, "*Date:* %s\n\n", o.Timestamp.Format("2006-01-02 15:04"))
	writeOrderDetails(&b, c, o)
	fmt.Fprintf(&b, "\n_Use !order %s to view details anytime._", o.ID)
	return b.String()
}

// formatOrder is the admin view of a recorded order.
func formatOrder(c *Catalog, o *models.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*Order #%s*\n\n", o.ID)
	fmt.Fprintf(&b, "*Customer:* %s\n", o.Customer)
	fmt.Fprintf(&b, "*Date:* %s\n", o.Timestamp.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "*Status:* %s\n\n", o.Status)
	writeOrderDetails(&b, c, o)
	return strings.TrimRight(b.String(), "\n")
}

func formatPromotionInfo(task models.PromotionTask, end *time.Time) string {
	var b strings.Builder
	b.WriteString("*NexGuard Promotion*\n\n")
	b.WriteString("Win free V2ray packages by completing a simple task!\n\n")
	fmt.Fprintf(&b, "*Task:* %s\n\n", task.Details)
	if end != nil {
		fmt.Fprintf(&b, "*Ends On:* %s\n", end.Format("2006-01-02"))
	}
	b.WriteString("*Prizes:* Free V2ray packages\n\n")
	b.WriteString("*Type 'join' to continue.*")
	return b.String()
}

func formatPromotionProof(task models.PromotionTask) string {
	return fmt.Sprintf("*Great! Please complete the following task and send proof:*\n\n%s\n\n"+
		"*Send a screenshot or photo as proof.*", task.Details)
}
