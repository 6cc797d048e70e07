package types

// Category is the closed 5-way taxonomy a listing is classified into.
// The zero value means the classifier could not determine a category
// with enough confidence; it is never silently defaulted.
type Category string

const (
	CategoryUndetermined Category = ""
	CategoryTop          Category = "top"
	CategoryBottom       Category = "bottom"
	CategoryFootwear     Category = "footwear"
	CategoryAccessory    Category = "accessory"
	CategoryFragrance    Category = "fragrance"
)

// Categories lists the determinable categories in stable order.
var Categories = []Category{
	CategoryTop,
	CategoryBottom,
	CategoryFootwear,
	CategoryAccessory,
	CategoryFragrance,
}

// Valid reports whether c is one of the determinable categories.
func (c Category) Valid() bool {
	switch c {
	case CategoryTop, CategoryBottom, CategoryFootwear, CategoryAccessory, CategoryFragrance:
		return true
	}
	return false
}

// Determined reports whether a category was assigned.
func (c Category) Determined() bool { return c != CategoryUndetermined }

func (c Category) String() string {
	if c == CategoryUndetermined {
		return "undetermined"
	}
	return string(c)
}

// ParseCategory maps a label to a Category, returning false for anything
// outside the taxonomy.
func ParseCategory(s string) (Category, bool) {
	c := Category(s)
	if c.Valid() {
		return c, true
	}
	return CategoryUndetermined, false
}

// ExtractionMethod identifies which strategy produced a listing.
type ExtractionMethod string

const (
	MethodStructured ExtractionMethod = "structured"
	MethodDOM        ExtractionMethod = "dom"
	MethodText       ExtractionMethod = "text"
)

// Confidence returns the fixed extraction confidence for the method.
func (m ExtractionMethod) Confidence() float64 {
	switch m {
	case MethodStructured:
		return 0.9
	case MethodDOM:
		return 0.7
	case MethodText:
		return 0.3
	}
	return 0
}

// RawListing is one scraped product candidate as produced by an extraction
// strategy, before any normalization. Immutable once produced.
type RawListing struct {
	// SourceID is the site SKU. May be synthesized for text-strategy hits.
	SourceID string

	Name  string
	Brand string

	// Price in storefront currency units. 0 means unknown.
	Price float64

	// OldPrice is the pre-discount price when the page exposes one.
	OldPrice float64

	SourceURL string

	// ImageURLs is position-ordered, deduplicated, and capped at 8.
	// Index 0 is the primary image.
	ImageURLs []string

	// RawCategory is the site's own category label, when present.
	RawCategory string

	Description  string
	Color        string
	ClothingType string

	// Sizes holds the distinct size labels offered for the product.
	Sizes []string

	// Extra keeps unrecognized source attributes so downstream stages never
	// have to re-scan untyped payloads.
	Extra map[string]string
}

// PrimaryImage returns the first image URL, or "".
func (r *RawListing) PrimaryImage() string {
	if len(r.ImageURLs) == 0 {
		return ""
	}
	return r.ImageURLs[0]
}

// NormalizedListing is a RawListing after field normalization and category
// classification.
type NormalizedListing struct {
	RawListing

	Category      Category
	CategoryScore float64

	Method     ExtractionMethod
	Confidence float64
}

// EnrichedListing is a NormalizedListing after the (optional) enrichment
// step and quality scoring.
type EnrichedListing struct {
	NormalizedListing

	Materials      []string
	Style          string
	TargetAudience string
	Collection     string

	// EnhancedFields records which fields were filled by the enricher,
	// AI-backed or template.
	EnhancedFields []string

	// EnhanceConfidence is the enricher's own confidence in [0,1];
	// 0 when no enrichment ran.
	EnhanceConfidence float64

	// QualityScore is the completeness score in [0,1].
	QualityScore float64

	// Warnings collects non-fatal processing notes, surfaced on the
	// import outcome.
	Warnings []string
}

// AddWarning records a non-fatal processing note.
func (e *EnrichedListing) AddWarning(w string) {
	e.Warnings = append(e.Warnings, w)
}

// Enhanced reports whether the named field was filled by the enricher.
func (e *EnrichedListing) Enhanced(field string) bool {
	for _, f := range e.EnhancedFields {
		if f == field {
			return true
		}
	}
	return false
}

// MarkEnhanced records a field as enricher-sourced, once.
func (e *EnrichedListing) MarkEnhanced(field string) {
	if !e.Enhanced(field) {
		e.EnhancedFields = append(e.EnhancedFields, field)
	}
}
