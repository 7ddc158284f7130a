package models

import "time"

// Order status values.
const (
	OrderPending   = "pending"
	OrderConfirmed = "confirmed"
)

// Order is a package order. While a customer is still answering prompts it
// is a draft held by the session; it reaches the order ledger only once
// confirmed.
type Order struct {
	ID            string    `json:"id"`
	Timestamp     time.Time `json:"timestamp"`
	Customer      string    `json:"customer"`
	Status        string    `json:"status"`
	Duration      string    `json:"duration"`
	DurationDays  int       `json:"durationDays"`
	DeviceType    string    `json:"deviceType"`
	UsageType     string    `json:"usageType"`
	TotalPrice    int       `json:"totalPrice"`
	ContactNumber string    `json:"contactNumber"`
	Email         string    `json:"email"`
	Username      string    `json:"username"`
}
