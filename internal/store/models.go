package store

import (
	"encoding/json"
	"time"
)

// Campaign statuses.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
)

// Flow step types.
const (
	StepSendEmail = "SEND_EMAIL"
	StepWait      = "WAIT"
	StepSendPush  = "SEND_PUSH"
	StepExit      = "EXIT"
)

var campaignStatuses = map[string]struct{}{
	CampaignDraft:     {},
	CampaignActive:    {},
	CampaignPaused:    {},
	CampaignCompleted: {},
}

var stepTypes = map[string]struct{}{
	StepSendEmail: {},
	StepWait:      {},
	StepSendPush:  {},
	StepExit:      {},
}

// ValidCampaignStatus reports whether s is one of the campaign statuses.
func ValidCampaignStatus(s string) bool {
	_, ok := campaignStatuses[s]
	return ok
}

// ValidStepType reports whether s is a known flow step type.
func ValidStepType(s string) bool {
	_, ok := stepTypes[s]
	return ok
}

// User is a customer profile. Order aggregates are maintained by CreateOrder.
type User struct {
	ID              string         `json:"id"`
	Email           string         `json:"email"`
	Phone           *string        `json:"phone,omitempty"`
	FirstName       string         `json:"first_name"`
	LastName        string         `json:"last_name"`
	MarketingOptIn  bool           `json:"marketing_opt_in"`
	ShippingState   *string        `json:"shipping_state,omitempty"`
	ShippingCountry *string        `json:"shipping_country,omitempty"`
	TotalOrderValue float64        `json:"total_order_value"`
	OrderCount      int            `json:"order_count"`
	LastOrderDate   *time.Time     `json:"last_order_date,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
}

// FullName joins first and last name.
func (u User) FullName() string {
	return u.FirstName + " " + u.LastName
}

// UserFilter pages and searches the user list.
type UserFilter struct {
	Skip   int
	Limit  int
	Search string
}

// UserPatch carries optional user updates; nil fields are left unchanged.
type UserPatch struct {
	Email           *string        `json:"email,omitempty"`
	Phone           *string        `json:"phone,omitempty"`
	FirstName       *string        `json:"first_name,omitempty"`
	LastName        *string        `json:"last_name,omitempty"`
	MarketingOptIn  *bool          `json:"marketing_opt_in,omitempty"`
	ShippingState   *string        `json:"shipping_state,omitempty"`
	ShippingCountry *string        `json:"shipping_country,omitempty"`
	Attributes      map[string]any `json:"attributes,omitempty"`
}

// Apply copies the set fields of p onto u.
func (p UserPatch) Apply(u *User) {
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = p.Phone
	}
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.MarketingOptIn != nil {
		u.MarketingOptIn = *p.MarketingOptIn
	}
	if p.ShippingState != nil {
		u.ShippingState = p.ShippingState
	}
	if p.ShippingCountry != nil {
		u.ShippingCountry = p.ShippingCountry
	}
	if p.Attributes != nil {
		u.Attributes = p.Attributes
	}
}

// Product is a catalog entry.
type Product struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Category  string    `json:"category"`
	Brand     string    `json:"brand"`
	Price     float64   `json:"price"`
	CreatedAt time.Time `json:"created_at"`
}

// Order is a completed purchase with its line items.
type Order struct {
	ID          string      `json:"id"`
	UserID      string      `json:"user_id"`
	OrderDate   time.Time   `json:"order_date"`
	OrderStatus string      `json:"order_status"`
	TotalAmount float64     `json:"total_amount"`
	Currency    string      `json:"currency"`
	Channel     string      `json:"channel"`
	CouponCode  *string     `json:"coupon_code,omitempty"`
	Items       []OrderItem `json:"items,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// OrderItem is one product line of an order.
type OrderItem struct {
	ID        string  `json:"id"`
	OrderID   string  `json:"order_id"`
	ProductID string  `json:"product_id"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Segment is a named rule set. Definition holds the raw JSON as persisted,
// in either the canonical or the legacy flat format.
type Segment struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition"`
	CreatedAt   time.Time       `json:"created_at"`
}

// SegmentPatch carries optional segment updates.
type SegmentPatch struct {
	Name        *string         `json:"name,omitempty"`
	Description *string         `json:"description,omitempty"`
	Definition  json.RawMessage `json:"definition,omitempty"`
}

// Campaign targets a segment with an ordered list of steps.
type Campaign struct {
	ID             string     `json:"id"`
	SegmentID      string     `json:"segment_id"`
	FlowID         *string    `json:"flow_id,omitempty"`
	Name           string     `json:"name"`
	Description    *string    `json:"description,omitempty"`
	Status         string     `json:"status"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	StartTimeOfDay *string    `json:"start_time_of_day,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// CampaignPatch carries optional campaign updates.
type CampaignPatch struct {
	FlowID         *string    `json:"flow_id,omitempty"`
	Name           *string    `json:"name,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Status         *string    `json:"status,omitempty"`
	StartTime      *time.Time `json:"start_time,omitempty"`
	StartDate      *time.Time `json:"start_date,omitempty"`
	StartTimeOfDay *string    `json:"start_time_of_day,omitempty"`
}

// Apply copies the set fields of p onto c.
func (p CampaignPatch) Apply(c *Campaign) {
	if p.FlowID != nil {
		c.FlowID = p.FlowID
	}
	if p.Name != nil {
		c.Name = *p.Name
	}
	if p.Description != nil {
		c.Description = p.Description
	}
	if p.Status != nil {
		c.Status = *p.Status
	}
	if p.StartTime != nil {
		c.StartTime = p.StartTime
	}
	if p.StartDate != nil {
		c.StartDate = p.StartDate
	}
	if p.StartTimeOfDay != nil {
		c.StartTimeOfDay = p.StartTimeOfDay
	}
}

// CampaignStep is one message of a campaign, ordered by StepNumber.
type CampaignStep struct {
	ID         string    `json:"id"`
	CampaignID string    `json:"campaign_id"`
	StepNumber int       `json:"step_number"`
	Subject    string    `json:"subject"`
	BodyText   string    `json:"body_text"`
	DelayDays  int       `json:"delay_days"`
	CreatedAt  time.Time `json:"created_at"`
}

// Flow is an automated journey entered by members of a segment.
type Flow struct {
	ID                 string    `json:"id"`
	SegmentID          string    `json:"segment_id"`
	EntryConditionType *string   `json:"entry_condition_type,omitempty"`
	EntryCondition     *string   `json:"entry_condition,omitempty"`
	Name               *string   `json:"name,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
}

// FlowPatch carries optional flow updates.
type FlowPatch struct {
	EntryConditionType *string `json:"entry_condition_type,omitempty"`
	EntryCondition     *string `json:"entry_condition,omitempty"`
	Name               *string `json:"name,omitempty"`
}

// FlowStep is one node of a flow. NextStepID links steps in StepOrder.
type FlowStep struct {
	ID         string         `json:"id"`
	FlowID     string         `json:"flow_id"`
	StepType   string         `json:"step_type"`
	Config     map[string]any `json:"config"`
	NextStepID *string        `json:"next_step_id,omitempty"`
	StepOrder  int            `json:"step_order"`
	CreatedAt  time.Time      `json:"created_at"`
}

// FlowStepPatch carries optional flow step updates.
type FlowStepPatch struct {
	StepType   *string        `json:"step_type,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	NextStepID *string        `json:"next_step_id,omitempty"`
	StepOrder  *int           `json:"step_order,omitempty"`
}

// AdminUser is an operator allowed to use the mutating API.
type AdminUser struct {
	ID             string    `json:"id"`
	Email          string    `json:"email"`
	HashedPassword string    `json:"-"`
	IsActive       bool      `json:"is_active"`
	CreatedAt      time.Time `json:"created_at"`
}

// GenerationLog records one language-model generation.
type GenerationLog struct {
	ID        string          `json:"id"`
	Kind      string          `json:"kind"`
	Prompt    string          `json:"prompt"`
	Output    json.RawMessage `json:"output"`
	Failed    bool            `json:"failed"`
	CreatedAt time.Time       `json:"created_at"`
}
