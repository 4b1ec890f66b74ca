package store

import (
	"context"
	"errors"
)

// Sentinel errors shared by all store implementations.
var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store defines the persistence operations of the platform.
// Implementations must be thread-safe and support concurrent access.
type Store interface {
	UserStore
	ProductStore
	OrderStore
	SegmentStore
	CampaignStore
	FlowStore
	AdminStore
	GenerationLogStore

	// Ping checks that the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	// After Close is called, the store should not be used.
	Close() error
}

// UserStore persists customer profiles.
type UserStore interface {
	// ListUsers returns a page of users ordered by creation time.
	// Search matches email, first or last name case-insensitively.
	ListUsers(ctx context.Context, filter UserFilter) ([]User, error)

	// AllUsers returns the full user snapshot used for segment evaluation.
	AllUsers(ctx context.Context) ([]User, error)

	// GetUser returns ErrNotFound if the user does not exist.
	GetUser(ctx context.Context, id string) (*User, error)

	// CreateUser assigns ID and CreatedAt when empty.
	// Returns ErrConflict if the email is already taken.
	CreateUser(ctx context.Context, u *User) error

	UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error)
	DeleteUser(ctx context.Context, id string) error
}

// ProductStore persists the catalog.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]Product, error)
	GetProduct(ctx context.Context, id string) (*Product, error)
	CreateProduct(ctx context.Context, p *Product) error
	DeleteProduct(ctx context.Context, id string) error
}

// OrderStore persists orders and their items.
type OrderStore interface {
	// ListOrders returns orders of userID, or all orders when userID is empty.
	ListOrders(ctx context.Context, userID string) ([]Order, error)
	GetOrder(ctx context.Context, id string) (*Order, error)

	// CreateOrder stores the order with its items and folds it into the
	// owning user's total_order_value, order_count and last_order_date.
	// Returns ErrNotFound if the user does not exist.
	CreateOrder(ctx context.Context, o *Order) error

	// ListOrderItems returns items of productID, or all items when empty.
	ListOrderItems(ctx context.Context, productID string) ([]OrderItem, error)
}

// SegmentStore persists segment definitions.
type SegmentStore interface {
	ListSegments(ctx context.Context) ([]Segment, error)
	GetSegment(ctx context.Context, id string) (*Segment, error)
	CreateSegment(ctx context.Context, s *Segment) error
	UpdateSegment(ctx context.Context, id string, patch SegmentPatch) (*Segment, error)
	DeleteSegment(ctx context.Context, id string) error
}

// CampaignStore persists campaigns and their steps.
type CampaignStore interface {
	ListCampaigns(ctx context.Context) ([]Campaign, error)
	GetCampaign(ctx context.Context, id string) (*Campaign, error)
	CreateCampaign(ctx context.Context, c *Campaign) error
	UpdateCampaign(ctx context.Context, id string, patch CampaignPatch) (*Campaign, error)

	// DeleteCampaign removes the campaign and its steps.
	DeleteCampaign(ctx context.Context, id string) error

	// ListCampaignSteps returns steps ordered by step number.
	ListCampaignSteps(ctx context.Context, campaignID string) ([]CampaignStep, error)
	CreateCampaignStep(ctx context.Context, step *CampaignStep) error
}

// FlowStore persists flows and their steps.
type FlowStore interface {
	ListFlows(ctx context.Context) ([]Flow, error)
	GetFlow(ctx context.Context, id string) (*Flow, error)

	// CreateFlow stores the flow and steps atomically. Steps are sorted by
	// StepOrder and each step's NextStepID points at its successor.
	CreateFlow(ctx context.Context, f *Flow, steps []FlowStep) error
	UpdateFlow(ctx context.Context, id string, patch FlowPatch) (*Flow, error)

	// DeleteFlow removes the flow and its steps.
	DeleteFlow(ctx context.Context, id string) error

	// ListFlowSteps returns steps ordered by step order.
	ListFlowSteps(ctx context.Context, flowID string) ([]FlowStep, error)
	CreateFlowStep(ctx context.Context, step *FlowStep) error
	UpdateFlowStep(ctx context.Context, flowID, stepID string, patch FlowStepPatch) (*FlowStep, error)
	DeleteFlowStep(ctx context.Context, flowID, stepID string) error
}

// AdminStore persists operator accounts.
type AdminStore interface {
	GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error)
	CreateAdmin(ctx context.Context, a *AdminUser) error
}

// GenerationLogStore persists language-model generation records.
type GenerationLogStore interface {
	CreateGenerationLog(ctx context.Context, l *GenerationLog) error

	// ListGenerationLogs returns the newest logs first.
	ListGenerationLogs(ctx context.Context, limit int) ([]GenerationLog, error)
}
