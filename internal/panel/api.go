package panel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Traffic is a client's usage record as reported by the panel.
type Traffic struct {
	Email      string `json:"email"`
	Up         int64  `json:"up"`
	Down       int64  `json:"down"`
	Total      int64  `json:"total"`
	ExpiryTime int64  `json:"expiryTime"` // unix millis, 0 = never
	Enable     bool   `json:"enable"`
}

// Expiry returns the expiry time, or the zero time when the client never expires.
func (t Traffic) Expiry() time.Time {
	if t.ExpiryTime <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.ExpiryTime)
}

// Inbound is one proxy inbound configured on the panel.
type Inbound struct {
	ID       int    `json:"id"`
	Remark   string `json:"remark"`
	Protocol string `json:"protocol"`
	Port     int    `json:"port"`
	Enable   bool   `json:"enable"`
}

// ClientSpec is the client definition accepted by addClient.
type ClientSpec struct {
	ID         string `json:"id"`
	Email      string `json:"email"`
	Flow       string `json:"flow"`
	LimitIP    int    `json:"limitIp"`
	TotalGB    int64  `json:"totalGB"` // bytes, 0 = unlimited
	ExpiryTime int64  `json:"expiryTime"`
	Enable     bool   `json:"enable"`
	TgID       string `json:"tgId"`
	SubID      string `json:"subId"`
}

// AccountRequest describes a subscription account to provision.
type AccountRequest struct {
	Username  string
	Email     string // defaults to Username
	Days      int
	TrafficGB int // 0 = unlimited
}

// Account is the result of a successful CreateAccount.
type Account struct {
	Username  string
	ClientID  string
	Expiry    time.Time
	InboundID int
}

// GetTraffic returns the traffic record for the client named name.
func (c *Client) GetTraffic(ctx context.Context, name string) (*Traffic, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrNotFound
	}
	env, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/getClientTraffics/"+url.PathEscape(name), nil)
	if err != nil {
		return nil, err
	}
	if !env.Success || len(env.Obj) == 0 || string(env.Obj) == "null" {
		return nil, fmt.Errorf("panel: traffic %q: %w", name, ErrNotFound)
	}
	var t Traffic
	if err := json.Unmarshal(env.Obj, &t); err != nil {
		return nil, fmt.Errorf("panel: traffic %q: decode: %w", name, err)
	}
	return &t, nil
}

// ListInbounds returns every inbound on the panel.
func (c *Client) ListInbounds(ctx context.Context) ([]Inbound, error) {
	env, err := c.do(ctx, http.MethodGet, "/panel/api/inbounds/list", nil)
	if err != nil {
		return nil, err
	}
	if !env.Success {
		return nil, fmt.Errorf("panel: list inbounds: %s", env.Msg)
	}
	var out []Inbound
	if err := json.Unmarshal(env.Obj, &out); err != nil {
		return nil, fmt.Errorf("panel: list inbounds: decode: %w", err)
	}
	return out, nil
}

// AddClient adds one client to the inbound.
func (c *Client) AddClient(ctx context.Context, inboundID int, spec ClientSpec) error {
	settings, err := json.Marshal(map[string][]ClientSpec{"clients": {spec}})
	if err != nil {
		return fmt.Errorf("panel: add client: %w", err)
	}
	body, err := json.Marshal(struct {
		ID       int    `json:"id"`
		Settings string `json:"settings"`
	}{ID: inboundID, Settings: string(settings)})
	if err != nil {
		return fmt.Errorf("panel: add client: %w", err)
	}
	env, err := c.do(ctx, http.MethodPost, "/panel/api/inbounds/addClient", body)
	if err != nil {
		return err
	}
	if !env.Success {
		return fmt.Errorf("panel: add client %q: rejected: %s", spec.Email, env.Msg)
	}
	return nil
}

// CreateAccount provisions a new client on the first inbound with an expiry
// req.Days from now and a traffic cap of req.TrafficGB (0 = unlimited).
func (c *Client) CreateAccount(ctx context.Context, req AccountRequest) (*Account, error) {
	if strings.TrimSpace(req.Username) == "" {
		return nil, fmt.Errorf("panel: create account: username is required")
	}
	if req.Days <= 0 {
		return nil, fmt.Errorf("panel: create account: days must be positive")
	}
	if req.TrafficGB < 0 {
		return nil, fmt.Errorf("panel: create account: traffic must not be negative")
	}
	inbounds, err := c.ListInbounds(ctx)
	if err != nil {
		return nil, err
	}
	if len(inbounds) == 0 {
		return nil, fmt.Errorf("panel: create account: no inbounds configured")
	}
	inboundID := inbounds[0].ID

	email := req.Email
	if email == "" {
		email = req.Username
	}
	expiry := c.now().AddDate(0, 0, req.Days)
	spec := ClientSpec{
		ID:         c.newID(),
		Email:      email,
		TotalGB:    int64(req.TrafficGB) * gigabyte,
		ExpiryTime: expiry.UnixMilli(),
		Enable:     true,
	}
	if err := c.AddClient(ctx, inboundID, spec); err != nil {
		return nil, err
	}
	return &Account{
		Username:  req.Username,
		ClientID:  spec.ID,
		Expiry:    expiry,
		InboundID: inboundID,
	}, nil
}
