package store

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// table keeps rows by ID and remembers insertion order so listings are stable.
type table[T any] struct {
	rows map[string]T
	ids  []string
}

func newTable[T any]() table[T] {
	return table[T]{rows: make(map[string]T)}
}

func (t *table[T]) put(id string, v T) {
	if _, exists := t.rows[id]; !exists {
		t.ids = append(t.ids, id)
	}
	t.rows[id] = v
}

func (t *table[T]) get(id string) (T, bool) {
	v, ok := t.rows[id]
	return v, ok
}

func (t *table[T]) remove(id string) bool {
	if _, exists := t.rows[id]; !exists {
		return false
	}
	delete(t.rows, id)
	t.ids = slices.DeleteFunc(t.ids, func(s string) bool { return s == id })
	return true
}

func (t *table[T]) list() []T {
	out := make([]T, 0, len(t.ids))
	for _, id := range t.ids {
		out = append(out, t.rows[id])
	}
	return out
}

// MemoryStore is an in-memory implementation of the Store interface.
// It uses maps for storage and an RWMutex for thread-safe concurrent access.
// This implementation is suitable for development, testing, or single-instance deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	now           func() time.Time
	users         table[User]
	products      table[Product]
	orders        table[Order]
	segments      table[Segment]
	campaigns     table[Campaign]
	campaignSteps table[CampaignStep]
	flows         table[Flow]
	flowSteps     table[FlowStep]
	admins        table[AdminUser]
	logs          table[GenerationLog]
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:           func() time.Time { return time.Now().UTC() },
		users:         newTable[User](),
		products:      newTable[Product](),
		orders:        newTable[Order](),
		segments:      newTable[Segment](),
		campaigns:     newTable[Campaign](),
		campaignSteps: newTable[CampaignStep](),
		flows:         newTable[Flow](),
		flowSteps:     newTable[FlowStep](),
		admins:        newTable[AdminUser](),
		logs:          newTable[GenerationLog](),
	}
}

func notFound(entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

func (m *MemoryStore) stamp(id *string, created *time.Time) {
	if *id == "" {
		*id = uuid.NewString()
	}
	if created.IsZero() {
		*created = m.now()
	}
}

func cloneUser(u User) User {
	u.Attributes = maps.Clone(u.Attributes)
	return u
}

// --- Users ---

func (m *MemoryStore) ListUsers(ctx context.Context, filter UserFilter) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	search := strings.ToLower(filter.Search)
	result := make([]User, 0)
	skipped := 0
	for _, u := range m.users.list() {
		if search != "" && !userMatchesSearch(u, search) {
			continue
		}
		if skipped < filter.Skip {
			skipped++
			continue
		}
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
		result = append(result, cloneUser(u))
	}
	return result, nil
}

func userMatchesSearch(u User, search string) bool {
	return strings.Contains(strings.ToLower(u.Email), search) ||
		strings.Contains(strings.ToLower(u.FirstName), search) ||
		strings.Contains(strings.ToLower(u.LastName), search)
}

func (m *MemoryStore) AllUsers(ctx context.Context) ([]User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	users := m.users.list()
	for i := range users {
		users[i] = cloneUser(users[i])
	}
	return users, nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users.get(id)
	if !ok {
		return nil, notFound("user", id)
	}
	u = cloneUser(u)
	return &u, nil
}

func (m *MemoryStore) emailTaken(email, exceptID string) bool {
	for _, u := range m.users.rows {
		if u.ID != exceptID && strings.EqualFold(u.Email, email) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateUser(ctx context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.emailTaken(u.Email, "") {
		return fmt.Errorf("%w: email %s already exists", ErrConflict, u.Email)
	}
	m.stamp(&u.ID, &u.CreatedAt)
	m.users.put(u.ID, cloneUser(*u))
	return nil
}

func (m *MemoryStore) UpdateUser(ctx context.Context, id string, patch UserPatch) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users.get(id)
	if !ok {
		return nil, notFound("user", id)
	}
	if patch.Email != nil && m.emailTaken(*patch.Email, id) {
		return nil, fmt.Errorf("%w: email %s already exists", ErrConflict, *patch.Email)
	}
	patch.Apply(&u)
	m.users.put(id, u)

	out := cloneUser(u)
	return &out, nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.users.remove(id) {
		return notFound("user", id)
	}
	for _, o := range m.orders.list() {
		if o.UserID == id {
			m.orders.remove(o.ID)
		}
	}
	return nil
}

// --- Products ---

func (m *MemoryStore) ListProducts(ctx context.Context) ([]Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.products.list(), nil
}

func (m *MemoryStore) GetProduct(ctx context.Context, id string) (*Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.products.get(id)
	if !ok {
		return nil, notFound("product", id)
	}
	return &p, nil
}

func (m *MemoryStore) CreateProduct(ctx context.Context, p *Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp(&p.ID, &p.CreatedAt)
	m.products.put(p.ID, *p)
	return nil
}

func (m *MemoryStore) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.products.get(id); !ok {
		return notFound("product", id)
	}
	for _, o := range m.orders.rows {
		for _, item := range o.Items {
			if item.ProductID == id {
				return fmt.Errorf("%w: product %s is referenced by orders", ErrConflict, id)
			}
		}
	}
	m.products.remove(id)
	return nil
}

// --- Orders ---

func (m *MemoryStore) ListOrders(ctx context.Context, userID string) ([]Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Order, 0)
	for _, o := range m.orders.list() {
		if userID == "" || o.UserID == userID {
			o.Items = slices.Clone(o.Items)
			result = append(result, o)
		}
	}
	return result, nil
}

func (m *MemoryStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders.get(id)
	if !ok {
		return nil, notFound("order", id)
	}
	o.Items = slices.Clone(o.Items)
	return &o, nil
}

func (m *MemoryStore) CreateOrder(ctx context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users.get(o.UserID)
	if !ok {
		return notFound("user", o.UserID)
	}
	for _, item := range o.Items {
		if _, ok := m.products.get(item.ProductID); !ok {
			return notFound("product", item.ProductID)
		}
	}

	m.stamp(&o.ID, &o.CreatedAt)
	if o.OrderDate.IsZero() {
		o.OrderDate = o.CreatedAt
	}
	for i := range o.Items {
		if o.Items[i].ID == "" {
			o.Items[i].ID = uuid.NewString()
		}
		o.Items[i].OrderID = o.ID
	}

	stored := *o
	stored.Items = slices.Clone(o.Items)
	m.orders.put(o.ID, stored)

	u.TotalOrderValue += o.TotalAmount
	u.OrderCount++
	if u.LastOrderDate == nil || o.OrderDate.After(*u.LastOrderDate) {
		d := o.OrderDate
		u.LastOrderDate = &d
	}
	m.users.put(u.ID, u)
	return nil
}

func (m *MemoryStore) ListOrderItems(ctx context.Context, productID string) ([]OrderItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]OrderItem, 0)
	for _, o := range m.orders.list() {
		for _, item := range o.Items {
			if productID == "" || item.ProductID == productID {
				result = append(result, item)
			}
		}
	}
	return result, nil
}

// --- Segments ---

func (m *MemoryStore) ListSegments(ctx context.Context) ([]Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.segments.list(), nil
}

func (m *MemoryStore) GetSegment(ctx context.Context, id string) (*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.segments.get(id)
	if !ok {
		return nil, notFound("segment", id)
	}
	return &s, nil
}

func (m *MemoryStore) CreateSegment(ctx context.Context, s *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp(&s.ID, &s.CreatedAt)
	if len(s.Definition) == 0 {
		s.Definition = []byte(emptyJSONObject)
	}
	m.segments.put(s.ID, *s)
	return nil
}

func (m *MemoryStore) UpdateSegment(ctx context.Context, id string, patch SegmentPatch) (*Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.segments.get(id)
	if !ok {
		return nil, notFound("segment", id)
	}
	if patch.Name != nil {
		s.Name = *patch.Name
	}
	if patch.Description != nil {
		s.Description = patch.Description
	}
	if len(patch.Definition) > 0 {
		s.Definition = slices.Clone(patch.Definition)
	}
	m.segments.put(id, s)
	return &s, nil
}

func (m *MemoryStore) DeleteSegment(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.segments.get(id); !ok {
		return notFound("segment", id)
	}
	for _, c := range m.campaigns.rows {
		if c.SegmentID == id {
			return fmt.Errorf("%w: segment %s is referenced by campaign %s", ErrConflict, id, c.ID)
		}
	}
	for _, f := range m.flows.rows {
		if f.SegmentID == id {
			return fmt.Errorf("%w: segment %s is referenced by flow %s", ErrConflict, id, f.ID)
		}
	}
	m.segments.remove(id)
	return nil
}

// --- Campaigns ---

func (m *MemoryStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.campaigns.list(), nil
}

func (m *MemoryStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.campaigns.get(id)
	if !ok {
		return nil, notFound("campaign", id)
	}
	return &c, nil
}

func (m *MemoryStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.segments.get(c.SegmentID); !ok {
		return notFound("segment", c.SegmentID)
	}
	if c.FlowID != nil {
		if _, ok := m.flows.get(*c.FlowID); !ok {
			return notFound("flow", *c.FlowID)
		}
	}
	m.stamp(&c.ID, &c.CreatedAt)
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	m.campaigns.put(c.ID, *c)
	return nil
}

func (m *MemoryStore) UpdateCampaign(ctx context.Context, id string, patch CampaignPatch) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.campaigns.get(id)
	if !ok {
		return nil, notFound("campaign", id)
	}
	if patch.FlowID != nil {
		if _, ok := m.flows.get(*patch.FlowID); !ok {
			return nil, notFound("flow", *patch.FlowID)
		}
	}
	patch.Apply(&c)
	m.campaigns.put(id, c)
	return &c, nil
}

func (m *MemoryStore) DeleteCampaign(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.campaigns.remove(id) {
		return notFound("campaign", id)
	}
	for _, step := range m.campaignSteps.list() {
		if step.CampaignID == id {
			m.campaignSteps.remove(step.ID)
		}
	}
	return nil
}

func (m *MemoryStore) ListCampaignSteps(ctx context.Context, campaignID string) ([]CampaignStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := make([]CampaignStep, 0)
	for _, step := range m.campaignSteps.list() {
		if step.CampaignID == campaignID {
			steps = append(steps, step)
		}
	}
	slices.SortStableFunc(steps, func(a, b CampaignStep) int { return a.StepNumber - b.StepNumber })
	return steps, nil
}

func (m *MemoryStore) CreateCampaignStep(ctx context.Context, step *CampaignStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.campaigns.get(step.CampaignID); !ok {
		return notFound("campaign", step.CampaignID)
	}
	m.stamp(&step.ID, &step.CreatedAt)
	m.campaignSteps.put(step.ID, *step)
	return nil
}

// --- Flows ---

func (m *MemoryStore) ListFlows(ctx context.Context) ([]Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.flows.list(), nil
}

func (m *MemoryStore) GetFlow(ctx context.Context, id string) (*Flow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.flows.get(id)
	if !ok {
		return nil, notFound("flow", id)
	}
	return &f, nil
}

func (m *MemoryStore) CreateFlow(ctx context.Context, f *Flow, steps []FlowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.segments.get(f.SegmentID); !ok {
		return notFound("segment", f.SegmentID)
	}
	m.stamp(&f.ID, &f.CreatedAt)
	m.flows.put(f.ID, *f)

	linked := LinkFlowSteps(f.ID, steps)
	for i := range linked {
		m.stamp(&linked[i].ID, &linked[i].CreatedAt)
	}
	linkNext(linked)
	for _, step := range linked {
		m.flowSteps.put(step.ID, step)
	}
	copy(steps, linked)
	return nil
}

func (m *MemoryStore) UpdateFlow(ctx context.Context, id string, patch FlowPatch) (*Flow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, ok := m.flows.get(id)
	if !ok {
		return nil, notFound("flow", id)
	}
	if patch.EntryConditionType != nil {
		f.EntryConditionType = patch.EntryConditionType
	}
	if patch.EntryCondition != nil {
		f.EntryCondition = patch.EntryCondition
	}
	if patch.Name != nil {
		f.Name = patch.Name
	}
	m.flows.put(id, f)
	return &f, nil
}

func (m *MemoryStore) DeleteFlow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.flows.remove(id) {
		return notFound("flow", id)
	}
	for _, step := range m.flowSteps.list() {
		if step.FlowID == id {
			m.flowSteps.remove(step.ID)
		}
	}
	for _, c := range m.campaigns.list() {
		if c.FlowID != nil && *c.FlowID == id {
			c.FlowID = nil
			m.campaigns.put(c.ID, c)
		}
	}
	return nil
}

func (m *MemoryStore) ListFlowSteps(ctx context.Context, flowID string) ([]FlowStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	steps := make([]FlowStep, 0)
	for _, step := range m.flowSteps.list() {
		if step.FlowID == flowID {
			step.Config = maps.Clone(step.Config)
			steps = append(steps, step)
		}
	}
	slices.SortStableFunc(steps, func(a, b FlowStep) int { return a.StepOrder - b.StepOrder })
	return steps, nil
}

func (m *MemoryStore) CreateFlowStep(ctx context.Context, step *FlowStep) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.flows.get(step.FlowID); !ok {
		return notFound("flow", step.FlowID)
	}
	m.stamp(&step.ID, &step.CreatedAt)
	if step.Config == nil {
		step.Config = map[string]any{}
	}
	m.flowSteps.put(step.ID, *step)
	return nil
}

func (m *MemoryStore) UpdateFlowStep(ctx context.Context, flowID, stepID string, patch FlowStepPatch) (*FlowStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.flowSteps.get(stepID)
	if !ok || step.FlowID != flowID {
		return nil, notFound("flow step", stepID)
	}
	patch.Apply(&step)
	m.flowSteps.put(stepID, step)
	return &step, nil
}

func (m *MemoryStore) DeleteFlowStep(ctx context.Context, flowID, stepID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	step, ok := m.flowSteps.get(stepID)
	if !ok || step.FlowID != flowID {
		return notFound("flow step", stepID)
	}
	m.flowSteps.remove(stepID)
	return nil
}

// --- Admins ---

func (m *MemoryStore) GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, a := range m.admins.rows {
		if strings.EqualFold(a.Email, email) {
			return &a, nil
		}
	}
	return nil, notFound("admin", email)
}

func (m *MemoryStore) CreateAdmin(ctx context.Context, a *AdminUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.admins.rows {
		if strings.EqualFold(existing.Email, a.Email) {
			return fmt.Errorf("%w: admin %s already exists", ErrConflict, a.Email)
		}
	}
	m.stamp(&a.ID, &a.CreatedAt)
	m.admins.put(a.ID, *a)
	return nil
}

// --- Generation logs ---

func (m *MemoryStore) CreateGenerationLog(ctx context.Context, l *GenerationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.stamp(&l.ID, &l.CreatedAt)
	m.logs.put(l.ID, *l)
	return nil
}

func (m *MemoryStore) ListGenerationLogs(ctx context.Context, limit int) ([]GenerationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.logs.list()
	slices.Reverse(all)
	if limit > 0 && len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

// Ping always succeeds for MemoryStore.
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for MemoryStore as there are no resources to release.
func (m *MemoryStore) Close() error {
	return nil
}
