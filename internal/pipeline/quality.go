package pipeline

import (
	"context"
	"log/slog"

	"github.com/akoreshkov/modaflow/internal/types"
)

// Completeness weights added on top of the extraction confidence.
const (
	factorSKU          = 0.10
	factorName         = 0.20
	factorBrand        = 0.15
	factorPrice        = 0.20
	factorSourceURL    = 0.10
	factorPrimaryImage = 0.10
	factorDescription  = 0.05
	factorClothingType = 0.05
	factorGallery      = 0.05
)

// Scorer computes the final quality score of a candidate.
type Scorer struct {
	logger *slog.Logger
}

func NewScorer(logger *slog.Logger) *Scorer {
	return &Scorer{
		logger: logger.With("component", "scorer"),
	}
}

func (s *Scorer) Name() string { return "quality" }

func (s *Scorer) Process(_ context.Context, l *types.EnrichedListing) (*types.EnrichedListing, error) {
	l.QualityScore = Score(l)
	return l, nil
}

// Score adds completeness factors to the extraction confidence, capped at
// 1.0. A synthesized article does not count as a source SKU.
func Score(l *types.EnrichedListing) float64 {
	score := l.Confidence

	if l.SourceID != "" && !l.Enhanced("article") {
		score += factorSKU
	}
	if l.RawListing.Name != "" {
		score += factorName
	}
	if hasBrand(l.Brand) {
		score += factorBrand
	}
	if l.Price > 0 {
		score += factorPrice
	}
	if l.SourceURL != "" {
		score += factorSourceURL
	}
	if l.PrimaryImage() != "" {
		score += factorPrimaryImage
	}
	if l.Description != "" {
		score += factorDescription
	}
	if l.ClothingType != "" {
		score += factorClothingType
	}
	if len(l.ImageURLs) > 1 {
		score += factorGallery
	}

	if score > 1 {
		score = 1
	}
	return score
}
