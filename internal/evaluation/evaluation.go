// Package evaluation composes the engine with persistence, caching and view
// recording. Handlers and binaries talk to Service only.
package evaluation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/TimurManjosov/contentship/internal/engine"
	"github.com/TimurManjosov/contentship/internal/rules"
	"github.com/TimurManjosov/contentship/internal/snapshot"
	"github.com/TimurManjosov/contentship/internal/store"
	"github.com/TimurManjosov/contentship/internal/telemetry"
	"github.com/TimurManjosov/contentship/internal/tracing"
	"github.com/TimurManjosov/contentship/internal/views"
)

// DefaultCacheTTL is used when no cache is supplied.
const DefaultCacheTTL = 30 * time.Second

// Rendered is the outcome of rendering a definition.
type Rendered struct {
	ID        string        `json:"id"`
	Content   string        `json:"content"`
	VariantID rules.ID      `json:"variantId,omitempty"`
	Reason    engine.Reason `json:"reason"`
}

// GuardResult is the outcome of an inline guard.
type GuardResult struct {
	Visible bool   `json:"visible"`
	Content string `json:"content"`
}

// Service is safe for concurrent use.
type Service struct {
	engine  *engine.Engine
	store   store.Store
	cache   *snapshot.Cache
	views   *views.Recorder
	metrics *telemetry.Metrics
	log     zerolog.Logger
}

type Option func(*Service)

func WithCache(c *snapshot.Cache) Option      { return func(s *Service) { s.cache = c } }
func WithRecorder(r *views.Recorder) Option   { return func(s *Service) { s.views = r } }
func WithMetrics(m *telemetry.Metrics) Option { return func(s *Service) { s.metrics = m } }
func WithLogger(log zerolog.Logger) Option    { return func(s *Service) { s.log = log } }

func New(eng *engine.Engine, st store.Store, opts ...Option) *Service {
	s := &Service{engine: eng, store: st, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(s)
	}
	if s.cache == nil {
		s.cache = snapshot.New(st.GetDefinition, DefaultCacheTTL)
	}
	return s
}

// Render selects the content of definition id for rc. A missing id returns
// store.ErrNotFound.
func (s *Service) Render(ctx context.Context, id string, rc *engine.RequestContext) (Rendered, error) {
	ctx, span := tracing.Tracer().Start(ctx, "evaluation.Render")
	defer span.End()
	span.SetAttributes(attribute.String("content.id", id))

	entry, err := s.cache.Get(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return Rendered{}, err
	}
	sel := s.engine.Select(entry.Definition, rc)
	span.SetAttributes(
		attribute.String("content.variant_id", string(sel.VariantID)),
		attribute.String("content.reason", string(sel.Reason)),
	)

	if s.metrics != nil {
		s.metrics.Selections.WithLabelValues(string(sel.Reason)).Inc()
	}
	if s.views != nil {
		s.views.Record(views.Event{ContentID: id, VariantID: string(sel.VariantID)})
	}
	s.log.Debug().Str("content_id", id).Str("variant_id", string(sel.VariantID)).
		Str("reason", string(sel.Reason)).Msg("content selected")

	return Rendered{ID: id, Content: sel.Content, VariantID: sel.VariantID, Reason: sel.Reason}, nil
}

// ExperimentIDs lists the ab_test ids referenced by definition id, so the
// caller can resolve buckets before rendering.
func (s *Service) ExperimentIDs(ctx context.Context, id string) ([]string, error) {
	entry, err := s.cache.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return entry.Definition.ExperimentIDs(), nil
}

// Test evaluates ad hoc conditions for an authoring preview.
func (s *Service) Test(conditions []rules.Condition, op rules.Combinator, rc *engine.RequestContext) engine.TestResult {
	return s.engine.Test(conditions, op, rc)
}

// Guard decides inline content guarded by attribute conditions.
func (s *Service) Guard(attrs map[string]string, mode rules.GuardMode, content string, rc *engine.RequestContext) GuardResult {
	conditions, op := rules.ConditionsFromAttributes(attrs)
	if s.engine.Visible(conditions, op, mode, rc) {
		return GuardResult{Visible: true, Content: content}
	}
	return GuardResult{}
}

// ValidateExpression reports why a custom_code expression cannot be saved.
func (s *Service) ValidateExpression(expr string) error {
	return s.engine.ValidateExpression(expr)
}

// Save validates d, assigns missing variant and condition ids, persists it
// and drops the cached copy. Validation failures wrap rules sentinels.
func (s *Service) Save(ctx context.Context, d rules.Definition) (rules.Definition, error) {
	d.ID = strings.TrimSpace(d.ID)
	if err := s.engine.ValidateDefinition(d); err != nil {
		return rules.Definition{}, err
	}
	saved, err := s.store.UpsertDefinition(ctx, rules.AssignIDs(d))
	if err != nil {
		return rules.Definition{}, fmt.Errorf("save definition %q: %w", d.ID, err)
	}
	s.cache.Invalidate(saved.ID)
	s.log.Info().Str("content_id", saved.ID).Int("variants", len(saved.Variants)).Msg("definition saved")
	return saved, nil
}

// Delete removes definition id. A missing id returns store.ErrNotFound.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteDefinition(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(id)
	s.log.Info().Str("content_id", id).Msg("definition deleted")
	return nil
}

// Definition returns definition id together with its ETag.
func (s *Service) Definition(ctx context.Context, id string) (*snapshot.Entry, error) {
	return s.cache.Get(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]rules.Definition, error) {
	return s.store.ListDefinitions(ctx)
}

// Views returns per-variant view counters of definition id. The default
// content is counted under the empty variant id.
func (s *Service) Views(ctx context.Context, id string) (map[string]int64, error) {
	return s.store.Views(ctx, id)
}
