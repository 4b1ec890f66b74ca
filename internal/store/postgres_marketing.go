package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
)

var segmentColumns = []string{"id", "name", "description", "definition", "created_at"}

type segmentRow struct {
	ID          string    `db:"id"`
	Name        string    `db:"name"`
	Description *string   `db:"description"`
	Definition  []byte    `db:"definition"`
	CreatedAt   time.Time `db:"created_at"`
}

func (r segmentRow) toSegment() Segment {
	def := json.RawMessage(r.Definition)
	if len(def) == 0 {
		def = json.RawMessage(emptyJSONObject)
	}
	return Segment{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		Definition:  def,
		CreatedAt:   r.CreatedAt,
	}
}

var campaignColumns = []string{
	"id", "segment_id", "flow_id", "name", "description", "status",
	"start_time", "start_date", "start_time_of_day", "created_at",
}

type campaignRow struct {
	ID             string     `db:"id"`
	SegmentID      string     `db:"segment_id"`
	FlowID         *string    `db:"flow_id"`
	Name           string     `db:"name"`
	Description    *string    `db:"description"`
	Status         string     `db:"status"`
	StartTime      *time.Time `db:"start_time"`
	StartDate      *time.Time `db:"start_date"`
	StartTimeOfDay *string    `db:"start_time_of_day"`
	CreatedAt      time.Time  `db:"created_at"`
}

var campaignStepColumns = []string{"id", "campaign_id", "step_number", "subject", "body_text", "delay_days", "created_at"}

type campaignStepRow struct {
	ID         string    `db:"id"`
	CampaignID string    `db:"campaign_id"`
	StepNumber int       `db:"step_number"`
	Subject    string    `db:"subject"`
	BodyText   string    `db:"body_text"`
	DelayDays  int       `db:"delay_days"`
	CreatedAt  time.Time `db:"created_at"`
}

var flowColumns = []string{"id", "segment_id", "entry_condition_type", "entry_condition", "name", "created_at"}

type flowRow struct {
	ID                 string    `db:"id"`
	SegmentID          string    `db:"segment_id"`
	EntryConditionType *string   `db:"entry_condition_type"`
	EntryCondition     *string   `db:"entry_condition"`
	Name               *string   `db:"name"`
	CreatedAt          time.Time `db:"created_at"`
}

var flowStepColumns = []string{"id", "flow_id", "step_type", "config", "next_step_id", "step_order", "created_at"}

type flowStepRow struct {
	ID         string    `db:"id"`
	FlowID     string    `db:"flow_id"`
	StepType   string    `db:"step_type"`
	Config     []byte    `db:"config"`
	NextStepID *string   `db:"next_step_id"`
	StepOrder  int       `db:"step_order"`
	CreatedAt  time.Time `db:"created_at"`
}

func (r flowStepRow) toStep() (FlowStep, error) {
	s := FlowStep{
		ID:         r.ID,
		FlowID:     r.FlowID,
		StepType:   r.StepType,
		NextStepID: r.NextStepID,
		StepOrder:  r.StepOrder,
		CreatedAt:  r.CreatedAt,
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &s.Config); err != nil {
			return FlowStep{}, fmt.Errorf("decode config of flow step %s: %w", r.ID, err)
		}
	}
	if s.Config == nil {
		s.Config = map[string]any{}
	}
	return s, nil
}

var adminColumns = []string{"id", "email", "hashed_password", "is_active", "created_at"}

type adminRow struct {
	ID             string    `db:"id"`
	Email          string    `db:"email"`
	HashedPassword string    `db:"hashed_password"`
	IsActive       bool      `db:"is_active"`
	CreatedAt      time.Time `db:"created_at"`
}

var generationLogColumns = []string{"id", "kind", "prompt", "output", "failed", "created_at"}

type generationLogRow struct {
	ID        string    `db:"id"`
	Kind      string    `db:"kind"`
	Prompt    string    `db:"prompt"`
	Output    []byte    `db:"output"`
	Failed    bool      `db:"failed"`
	CreatedAt time.Time `db:"created_at"`
}

// --- Segments ---

func (p *PostgresStore) ListSegments(ctx context.Context) ([]Segment, error) {
	var rows []segmentRow
	if err := selectAll(ctx, p.pool, &rows, psql.Select(segmentColumns...).From("segments").OrderBy("created_at", "id")); err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	segments := make([]Segment, 0, len(rows))
	for _, r := range rows {
		segments = append(segments, r.toSegment())
	}
	return segments, nil
}

func (p *PostgresStore) GetSegment(ctx context.Context, id string) (*Segment, error) {
	var row segmentRow
	b := psql.Select(segmentColumns...).From("segments").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "segment", id); err != nil {
		return nil, err
	}
	s := row.toSegment()
	return &s, nil
}

func (p *PostgresStore) CreateSegment(ctx context.Context, s *Segment) error {
	p.stamp(&s.ID, &s.CreatedAt)
	if len(s.Definition) == 0 {
		s.Definition = json.RawMessage(emptyJSONObject)
	}
	b := psql.Insert("segments").Columns(segmentColumns...).
		Values(s.ID, s.Name, s.Description, []byte(s.Definition), s.CreatedAt)
	return exec(ctx, p.pool, b, "segment", s.ID, false)
}

func (p *PostgresStore) UpdateSegment(ctx context.Context, id string, patch SegmentPatch) (*Segment, error) {
	b := psql.Update("segments").Where(sq.Eq{"id": id})
	changed := false
	if patch.Name != nil {
		b = b.Set("name", *patch.Name)
		changed = true
	}
	if patch.Description != nil {
		b = b.Set("description", *patch.Description)
		changed = true
	}
	if len(patch.Definition) > 0 {
		b = b.Set("definition", []byte(patch.Definition))
		changed = true
	}
	if changed {
		if err := exec(ctx, p.pool, b, "segment", id, true); err != nil {
			return nil, err
		}
	}
	return p.GetSegment(ctx, id)
}

func (p *PostgresStore) DeleteSegment(ctx context.Context, id string) error {
	return exec(ctx, p.pool, psql.Delete("segments").Where(sq.Eq{"id": id}), "segment", id, true)
}

// --- Campaigns ---

func (p *PostgresStore) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	var rows []campaignRow
	if err := selectAll(ctx, p.pool, &rows, psql.Select(campaignColumns...).From("campaigns").OrderBy("created_at", "id")); err != nil {
		return nil, fmt.Errorf("list campaigns: %w", err)
	}
	campaigns := make([]Campaign, 0, len(rows))
	for _, r := range rows {
		campaigns = append(campaigns, Campaign(r))
	}
	return campaigns, nil
}

func (p *PostgresStore) GetCampaign(ctx context.Context, id string) (*Campaign, error) {
	var row campaignRow
	b := psql.Select(campaignColumns...).From("campaigns").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "campaign", id); err != nil {
		return nil, err
	}
	c := Campaign(row)
	return &c, nil
}

func (p *PostgresStore) CreateCampaign(ctx context.Context, c *Campaign) error {
	p.stamp(&c.ID, &c.CreatedAt)
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	b := psql.Insert("campaigns").Columns(campaignColumns...).Values(
		c.ID, c.SegmentID, c.FlowID, c.Name, c.Description, c.Status,
		c.StartTime, c.StartDate, c.StartTimeOfDay, c.CreatedAt,
	)
	return exec(ctx, p.pool, b, "campaign", c.ID, false)
}

func (p *PostgresStore) UpdateCampaign(ctx context.Context, id string, patch CampaignPatch) (*Campaign, error) {
	c, err := p.GetCampaign(ctx, id)
	if err != nil {
		return nil, err
	}
	patch.Apply(c)

	b := psql.Update("campaigns").
		Set("flow_id", c.FlowID).
		Set("name", c.Name).
		Set("description", c.Description).
		Set("status", c.Status).
		Set("start_time", c.StartTime).
		Set("start_date", c.StartDate).
		Set("start_time_of_day", c.StartTimeOfDay).
		Where(sq.Eq{"id": id})
	if err := exec(ctx, p.pool, b, "campaign", id, true); err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) DeleteCampaign(ctx context.Context, id string) error {
	return exec(ctx, p.pool, psql.Delete("campaigns").Where(sq.Eq{"id": id}), "campaign", id, true)
}

func (p *PostgresStore) ListCampaignSteps(ctx context.Context, campaignID string) ([]CampaignStep, error) {
	var rows []campaignStepRow
	b := psql.Select(campaignStepColumns...).From("campaign_steps").
		Where(sq.Eq{"campaign_id": campaignID}).
		OrderBy("step_number", "id")
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list campaign steps: %w", err)
	}
	steps := make([]CampaignStep, 0, len(rows))
	for _, r := range rows {
		steps = append(steps, CampaignStep(r))
	}
	return steps, nil
}

func (p *PostgresStore) CreateCampaignStep(ctx context.Context, step *CampaignStep) error {
	p.stamp(&step.ID, &step.CreatedAt)
	b := psql.Insert("campaign_steps").Columns(campaignStepColumns...).Values(
		step.ID, step.CampaignID, step.StepNumber, step.Subject, step.BodyText, step.DelayDays, step.CreatedAt,
	)
	return exec(ctx, p.pool, b, "campaign step", step.ID, false)
}

// --- Flows ---

func (p *PostgresStore) ListFlows(ctx context.Context) ([]Flow, error) {
	var rows []flowRow
	if err := selectAll(ctx, p.pool, &rows, psql.Select(flowColumns...).From("flows").OrderBy("created_at", "id")); err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	flows := make([]Flow, 0, len(rows))
	for _, r := range rows {
		flows = append(flows, Flow(r))
	}
	return flows, nil
}

func (p *PostgresStore) GetFlow(ctx context.Context, id string) (*Flow, error) {
	var row flowRow
	b := psql.Select(flowColumns...).From("flows").Where(sq.Eq{"id": id})
	if err := selectOne(ctx, p.pool, &row, b, "flow", id); err != nil {
		return nil, err
	}
	f := Flow(row)
	return &f, nil
}

func (p *PostgresStore) CreateFlow(ctx context.Context, f *Flow, steps []FlowStep) error {
	p.stamp(&f.ID, &f.CreatedAt)
	linked := LinkFlowSteps(f.ID, steps)
	for i := range linked {
		p.stamp(&linked[i].ID, &linked[i].CreatedAt)
	}
	linkNext(linked)

	err := p.inTx(ctx, func(tx pgx.Tx) error {
		insert := psql.Insert("flows").Columns(flowColumns...).Values(
			f.ID, f.SegmentID, f.EntryConditionType, f.EntryCondition, f.Name, f.CreatedAt,
		)
		if err := exec(ctx, tx, insert, "flow", f.ID, false); err != nil {
			return err
		}
		if len(linked) == 0 {
			return nil
		}

		stepInsert := psql.Insert("flow_steps").Columns(flowStepColumns...)
		for _, s := range linked {
			cfg, err := marshalJSON(s.Config)
			if err != nil {
				return fmt.Errorf("encode config of flow step %d: %w", s.StepOrder, err)
			}
			stepInsert = stepInsert.Values(s.ID, s.FlowID, s.StepType, cfg, s.NextStepID, s.StepOrder, s.CreatedAt)
		}
		return exec(ctx, tx, stepInsert, "flow step", f.ID, false)
	})
	if err != nil {
		return err
	}
	copy(steps, linked)
	return nil
}

func (p *PostgresStore) UpdateFlow(ctx context.Context, id string, patch FlowPatch) (*Flow, error) {
	b := psql.Update("flows").Where(sq.Eq{"id": id})
	changed := false
	if patch.EntryConditionType != nil {
		b = b.Set("entry_condition_type", *patch.EntryConditionType)
		changed = true
	}
	if patch.EntryCondition != nil {
		b = b.Set("entry_condition", *patch.EntryCondition)
		changed = true
	}
	if patch.Name != nil {
		b = b.Set("name", *patch.Name)
		changed = true
	}
	if changed {
		if err := exec(ctx, p.pool, b, "flow", id, true); err != nil {
			return nil, err
		}
	}
	return p.GetFlow(ctx, id)
}

func (p *PostgresStore) DeleteFlow(ctx context.Context, id string) error {
	return exec(ctx, p.pool, psql.Delete("flows").Where(sq.Eq{"id": id}), "flow", id, true)
}

func (p *PostgresStore) ListFlowSteps(ctx context.Context, flowID string) ([]FlowStep, error) {
	var rows []flowStepRow
	b := psql.Select(flowStepColumns...).From("flow_steps").
		Where(sq.Eq{"flow_id": flowID}).
		OrderBy("step_order", "id")
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list flow steps: %w", err)
	}
	steps := make([]FlowStep, 0, len(rows))
	for _, r := range rows {
		s, err := r.toStep()
		if err != nil {
			return nil, err
		}
		steps = append(steps, s)
	}
	return steps, nil
}

func (p *PostgresStore) getFlowStep(ctx context.Context, flowID, stepID string) (*FlowStep, error) {
	var row flowStepRow
	b := psql.Select(flowStepColumns...).From("flow_steps").
		Where(sq.Eq{"id": stepID, "flow_id": flowID})
	if err := selectOne(ctx, p.pool, &row, b, "flow step", stepID); err != nil {
		return nil, err
	}
	s, err := row.toStep()
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (p *PostgresStore) CreateFlowStep(ctx context.Context, step *FlowStep) error {
	p.stamp(&step.ID, &step.CreatedAt)
	if step.Config == nil {
		step.Config = map[string]any{}
	}
	cfg, err := marshalJSON(step.Config)
	if err != nil {
		return fmt.Errorf("encode flow step config: %w", err)
	}
	b := psql.Insert("flow_steps").Columns(flowStepColumns...).Values(
		step.ID, step.FlowID, step.StepType, cfg, step.NextStepID, step.StepOrder, step.CreatedAt,
	)
	return exec(ctx, p.pool, b, "flow step", step.ID, false)
}

func (p *PostgresStore) UpdateFlowStep(ctx context.Context, flowID, stepID string, patch FlowStepPatch) (*FlowStep, error) {
	step, err := p.getFlowStep(ctx, flowID, stepID)
	if err != nil {
		return nil, err
	}
	patch.Apply(step)

	cfg, err := marshalJSON(step.Config)
	if err != nil {
		return nil, fmt.Errorf("encode flow step config: %w", err)
	}
	b := psql.Update("flow_steps").
		Set("step_type", step.StepType).
		Set("config", cfg).
		Set("next_step_id", step.NextStepID).
		Set("step_order", step.StepOrder).
		Where(sq.Eq{"id": stepID, "flow_id": flowID})
	if err := exec(ctx, p.pool, b, "flow step", stepID, true); err != nil {
		return nil, err
	}
	return step, nil
}

func (p *PostgresStore) DeleteFlowStep(ctx context.Context, flowID, stepID string) error {
	b := psql.Delete("flow_steps").Where(sq.Eq{"id": stepID, "flow_id": flowID})
	return exec(ctx, p.pool, b, "flow step", stepID, true)
}

// --- Admins ---

func (p *PostgresStore) GetAdminByEmail(ctx context.Context, email string) (*AdminUser, error) {
	var row adminRow
	b := psql.Select(adminColumns...).From("admin_users").Where(sq.Expr("lower(email) = lower(?)", email))
	if err := selectOne(ctx, p.pool, &row, b, "admin", email); err != nil {
		return nil, err
	}
	a := AdminUser(row)
	return &a, nil
}

func (p *PostgresStore) CreateAdmin(ctx context.Context, a *AdminUser) error {
	p.stamp(&a.ID, &a.CreatedAt)
	b := psql.Insert("admin_users").Columns(adminColumns...).
		Values(a.ID, a.Email, a.HashedPassword, a.IsActive, a.CreatedAt)
	return exec(ctx, p.pool, b, "admin", a.Email, false)
}

// --- Generation logs ---

func (p *PostgresStore) CreateGenerationLog(ctx context.Context, l *GenerationLog) error {
	p.stamp(&l.ID, &l.CreatedAt)
	output := []byte(l.Output)
	if len(output) == 0 {
		output = []byte(emptyJSONObject)
	}
	b := psql.Insert("generation_logs").Columns(generationLogColumns...).
		Values(l.ID, l.Kind, l.Prompt, output, l.Failed, l.CreatedAt)
	return exec(ctx, p.pool, b, "generation log", l.ID, false)
}

func (p *PostgresStore) ListGenerationLogs(ctx context.Context, limit int) ([]GenerationLog, error) {
	b := psql.Select(generationLogColumns...).From("generation_logs").OrderBy("created_at DESC", "id")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	var rows []generationLogRow
	if err := selectAll(ctx, p.pool, &rows, b); err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	logs := make([]GenerationLog, 0, len(rows))
	for _, r := range rows {
		logs = append(logs, GenerationLog{
			ID:        r.ID,
			Kind:      r.Kind,
			Prompt:    r.Prompt,
			Output:    json.RawMessage(r.Output),
			Failed:    r.Failed,
			CreatedAt: r.CreatedAt,
		})
	}
	return logs, nil
}
