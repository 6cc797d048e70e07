package pipeline

import (
	"context"
	"log/slog"

	"github.com/akoreshkov/modaflow/internal/config"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/parser"
	"github.com/akoreshkov/modaflow/internal/types"
)

// Stage processes a listing candidate and returns the (possibly modified)
// listing. Return nil to drop the candidate from the pipeline.
type Stage interface {
	// Name returns the stage's identifier.
	Name() string

	// Process transforms a listing. Return nil to drop it.
	Process(ctx context.Context, l *types.EnrichedListing) (*types.EnrichedListing, error)
}

// Pipeline chains listing stages together. One pipeline instance is shared
// by concurrent workers; stages must be safe for concurrent use.
type Pipeline struct {
	stages []Stage
	logger *slog.Logger
}

// New creates an empty Pipeline.
func New(logger *slog.Logger) *Pipeline {
	return &Pipeline{
		logger: logger.With("component", "pipeline"),
	}
}

// Default builds the standard chain: normalize, categorize, enrich, score.
// enricher may be nil; the enrich stage then always uses the template
// fallback.
func Default(cfg *config.Config, enricher Enricher, metrics *observability.Metrics, logger *slog.Logger) *Pipeline {
	bounds := parser.PriceBounds{Min: cfg.Import.PriceMin, Max: cfg.Import.PriceMax}

	p := New(logger)
	p.Use(NewNormalizer(bounds, logger))
	p.Use(NewClassifier(cfg.Import.MinCategory, logger))
	p.Use(NewEnrichStage(enricher, metrics, logger))
	p.Use(NewScorer(logger))
	return p
}

// Use adds a stage to the chain.
func (p *Pipeline) Use(s Stage) {
	p.stages = append(p.stages, s)
	p.logger.Debug("stage added", "name", s.Name(), "position", len(p.stages))
}

// Len returns the number of stages in the chain.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Run wraps a raw candidate with its extraction method and folds it through
// every stage in order. A nil listing with a nil error means the candidate
// was dropped.
func (p *Pipeline) Run(ctx context.Context, raw types.RawListing, method types.ExtractionMethod) (*types.EnrichedListing, error) {
	current := &types.EnrichedListing{
		NormalizedListing: types.NormalizedListing{
			RawListing: raw,
			Method:     method,
			Confidence: method.Confidence(),
		},
	}

	for _, s := range p.stages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := s.Process(ctx, current)
		if err != nil {
			return nil, &types.PipelineError{
				Stage: s.Name(),
				Err:   err,
			}
		}
		if result == nil {
			p.logger.Debug("listing dropped",
				"stage", s.Name(),
				"source_id", current.SourceID,
				"name", current.Name,
			)
			return nil, nil
		}
		current = result
	}

	return current, nil
}
