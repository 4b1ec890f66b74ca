// Package audience resolves segments against the current user snapshot. Every
// caller that needs a segment's members or size goes through Service, so the
// count, list and campaign paths share one evaluation.
package audience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sumanism/ECA2/internal/logger"
	"github.com/sumanism/ECA2/internal/segment"
	"github.com/sumanism/ECA2/internal/store"
	"github.com/sumanism/ECA2/internal/telemetry"
)

// Errors returned by Service.
var (
	ErrSegmentNotFound   = errors.New("segment not found")
	ErrCampaignNotFound  = errors.New("campaign not found")
	ErrCampaignNotActive = errors.New("campaign is not active")
	ErrInvalidDefinition = errors.New("invalid segment definition")
)

// StatusScheduled is reported by SelectForCampaign; delivery happens elsewhere.
const StatusScheduled = "scheduled"

// DefaultLimit caps Filter pages when the caller passes no limit.
const DefaultLimit = 100

// Store is the subset of store.Store the service reads.
type Store interface {
	AllUsers(ctx context.Context) ([]store.User, error)
	GetSegment(ctx context.Context, id string) (*store.Segment, error)
	GetCampaign(ctx context.Context, id string) (*store.Campaign, error)
	ListCampaignSteps(ctx context.Context, campaignID string) ([]store.CampaignStep, error)
}

// Service evaluates persisted segments.
type Service struct {
	store  Store
	eval   *segment.Evaluator
	log    logger.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// NewService wires a Service. A nil evaluator gets a sequential default.
func NewService(st Store, eval *segment.Evaluator, log logger.Logger) *Service {
	if eval == nil {
		eval = segment.NewEvaluator()
	}
	return &Service{
		store:  st,
		eval:   eval,
		log:    log.Component("audience"),
		tracer: telemetry.Tracer(),
		now:    time.Now,
	}
}

// Page is one truncated slice of a segment's members.
type Page struct {
	SegmentID string
	// Total counts every match, not just the returned page.
	Total int
	Users []store.User
	// Column is the criteria field shown next to name and email, if any.
	Column string
	now    time.Time
}

// Report explains an evaluation: what matched and why the rest did not.
type Report struct {
	SegmentID string                    `json:"segment_id"`
	Count     int                       `json:"matching_users_count"`
	Evaluated int                       `json:"evaluated_users"`
	RuleSet   segment.RuleSet           `json:"rule_set"`
	Criteria  []segment.CriterionReport `json:"criteria"`
	Issues    []segment.Issue           `json:"issues"`
	Users     []store.User              `json:"users"`
}

// Selection is the audience of a campaign execution.
type Selection struct {
	CampaignID    string `json:"campaign_id"`
	UsersTargeted int    `json:"users_targeted"`
	Steps         int    `json:"steps"`
	Status        string `json:"status"`
}

// Count returns the number of users matching segmentID.
func (s *Service) Count(ctx context.Context, segmentID string) (int, error) {
	ctx, span := s.tracer.Start(ctx, "audience.Count", trace.WithAttributes(attribute.String("segment.id", segmentID)))
	defer span.End()

	_, res, err := s.evaluateSegment(ctx, segmentID, telemetry.OpCount)
	if err != nil {
		recordError(span, err)
		return 0, err
	}
	span.SetAttributes(attribute.Int("segment.matched", res.Count()))
	return res.Count(), nil
}

// Filter evaluates the full snapshot and returns at most limit members.
// limit <= 0 means DefaultLimit.
func (s *Service) Filter(ctx context.Context, segmentID string, limit int) (Page, error) {
	ctx, span := s.tracer.Start(ctx, "audience.Filter", trace.WithAttributes(attribute.String("segment.id", segmentID)))
	defer span.End()

	if limit <= 0 {
		limit = DefaultLimit
	}

	rs, res, err := s.evaluateSegment(ctx, segmentID, telemetry.OpFilter)
	if err != nil {
		recordError(span, err)
		return Page{}, err
	}

	users := res.Matches
	if len(users) > limit {
		users = users[:limit]
	}
	span.SetAttributes(attribute.Int("segment.matched", res.Count()))

	return Page{
		SegmentID: segmentID,
		Total:     res.Count(),
		Users:     nonNil(users),
		Column:    displayColumn(rs),
		now:       s.now().UTC(),
	}, nil
}

// Evaluate returns the full report for a persisted segment.
func (s *Service) Evaluate(ctx context.Context, segmentID string) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "audience.Evaluate", trace.WithAttributes(attribute.String("segment.id", segmentID)))
	defer span.End()

	rs, res, err := s.evaluateSegment(ctx, segmentID, telemetry.OpEvaluate)
	if err != nil {
		recordError(span, err)
		return Report{}, err
	}
	return newReport(segmentID, rs, res), nil
}

// Preview evaluates a definition that has not been saved.
func (s *Service) Preview(ctx context.Context, definition []byte) (Report, error) {
	ctx, span := s.tracer.Start(ctx, "audience.Preview")
	defer span.End()

	rs, err := segment.Parse(definition)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
		recordError(span, err)
		return Report{}, err
	}

	res, err := s.run(ctx, rs, telemetry.OpPreview)
	if err != nil {
		recordError(span, err)
		return Report{}, err
	}
	return newReport("", rs, res), nil
}

// SelectForCampaign resolves the audience of an active campaign. The status
// check runs before any evaluation.
func (s *Service) SelectForCampaign(ctx context.Context, campaignID string) (Selection, error) {
	ctx, span := s.tracer.Start(ctx, "audience.SelectForCampaign", trace.WithAttributes(attribute.String("campaign.id", campaignID)))
	defer span.End()

	campaign, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		err = lookupError(err, ErrCampaignNotFound, "campaign", campaignID)
		recordError(span, err)
		return Selection{}, err
	}

	if campaign.Status != store.CampaignActive {
		err := fmt.Errorf("%w: campaign %s has status %q", ErrCampaignNotActive, campaignID, campaign.Status)
		recordError(span, err)
		return Selection{}, err
	}

	_, res, err := s.evaluateSegment(ctx, campaign.SegmentID, telemetry.OpCampaign)
	if err != nil {
		recordError(span, err)
		return Selection{}, err
	}

	steps, err := s.store.ListCampaignSteps(ctx, campaignID)
	if err != nil {
		err = fmt.Errorf("list campaign steps: %w", err)
		recordError(span, err)
		return Selection{}, err
	}

	l := s.log.WithContext(ctx)
	l.Info().
		Str("campaign_id", campaignID).
		Str("campaign", campaign.Name).
		Int("users_targeted", res.Count()).
		Int("steps", len(steps)).
		Msg("campaign audience selected")

	span.SetAttributes(attribute.Int("campaign.users_targeted", res.Count()), attribute.Int("campaign.steps", len(steps)))

	return Selection{
		CampaignID:    campaignID,
		UsersTargeted: res.Count(),
		Steps:         len(steps),
		Status:        StatusScheduled,
	}, nil
}

// evaluateSegment loads and parses the segment, then evaluates it over a
// fresh user snapshot.
func (s *Service) evaluateSegment(ctx context.Context, segmentID, operation string) (segment.RuleSet, segment.Result, error) {
	seg, err := s.store.GetSegment(ctx, segmentID)
	if err != nil {
		return segment.RuleSet{}, segment.Result{}, lookupError(err, ErrSegmentNotFound, "segment", segmentID)
	}

	rs, err := segment.Parse(seg.Definition)
	if err != nil {
		return segment.RuleSet{}, segment.Result{}, fmt.Errorf("%w: segment %s: %v", ErrInvalidDefinition, segmentID, err)
	}

	res, err := s.run(ctx, rs, operation)
	if err != nil {
		return segment.RuleSet{}, segment.Result{}, err
	}
	return rs, res, nil
}

func (s *Service) run(ctx context.Context, rs segment.RuleSet, operation string) (segment.Result, error) {
	users, err := s.store.AllUsers(ctx)
	if err != nil {
		return segment.Result{}, fmt.Errorf("load users: %w", err)
	}

	start := time.Now()
	res := s.eval.Evaluate(rs, users)
	elapsed := time.Since(start)
	telemetry.ObserveEvaluation(operation, elapsed, res.Count())

	l := s.log.WithContext(ctx)
	l.Debug().
		Str("operation", operation).
		Int("users", res.Evaluated).
		Int("matched", res.Count()).
		Int("issues", len(res.Issues)).
		Dur("elapsed", elapsed).
		Msg("segment evaluated")

	return res, nil
}

func lookupError(err, notFound error, entity, id string) error {
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", notFound, id)
	}
	return fmt.Errorf("get %s %s: %w", entity, id, err)
}

func recordError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func newReport(segmentID string, rs segment.RuleSet, res segment.Result) Report {
	issues := res.Issues
	if issues == nil {
		issues = []segment.Issue{}
	}
	return Report{
		SegmentID: segmentID,
		Count:     res.Count(),
		Evaluated: res.Evaluated,
		RuleSet:   rs,
		Criteria:  res.Criteria,
		Issues:    issues,
		Users:     nonNil(res.Matches),
	}
}

func nonNil(users []store.User) []store.User {
	if users == nil {
		return []store.User{}
	}
	return users
}
