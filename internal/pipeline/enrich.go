package pipeline

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"

	"github.com/akoreshkov/modaflow/internal/ai"
	"github.com/akoreshkov/modaflow/internal/observability"
	"github.com/akoreshkov/modaflow/internal/types"
)

// Enricher fills missing listing fields in place, recording what it touched
// in EnhancedFields.
type Enricher interface {
	Name() string
	Enhance(ctx context.Context, l *types.EnrichedListing) error
}

// materialsByType guesses garment materials from the clothing type.
var materialsByType = map[string][]string{
	"футболка": {"хлопок", "эластан"},
	"джинсы":   {"деним", "хлопок", "эластан"},
	"платье":   {"полиэстер", "эластан"},
	"рубашка":  {"хлопок", "полиэстер"},
	"куртка":   {"полиэстер", "нейлон"},
	"свитер":   {"шерсть", "акрил"},
}

var defaultMaterials = []string{"текстиль"}

// styleKeywords maps a style label to the phrases that indicate it. Order
// decides ties.
var styleKeywords = []struct {
	style string
	words []string
}{
	{"casual", []string{"повседневный", "комфортный", "расслабленный"}},
	{"formal", []string{"официальный", "деловой", "классический"}},
	{"sporty", []string{"спортивный", "активный", "для фитнеса"}},
	{"elegant", []string{"элегантный", "изысканный", "торжественный"}},
	{"trendy", []string{"модный", "современный", "трендовый"}},
	{"minimalist", []string{"минималистичный", "лаконичный", "простой"}},
}

const (
	templateConfidence  = 0.6
	aiDefaultConfidence = 0.8
)

// TemplateEnricher fills empty fields from deterministic templates. It never
// fails and needs no external services.
type TemplateEnricher struct {
	logger *slog.Logger
}

func NewTemplateEnricher(logger *slog.Logger) *TemplateEnricher {
	return &TemplateEnricher{
		logger: logger.With("component", "template_enricher"),
	}
}

func (t *TemplateEnricher) Name() string { return "template" }

func (t *TemplateEnricher) Enhance(_ context.Context, l *types.EnrichedListing) error {
	l.Materials = MaterialsFor(l.ClothingType)

	if l.Description == "" {
		l.Description = templateDescription(l)
		l.MarkEnhanced("description")
	}

	if l.Collection == "" && hasBrand(l.Brand) {
		l.Collection = l.Brand + " Collection"
		l.MarkEnhanced("collection")
	}

	if l.Style == "" {
		l.Style = DetectStyle(l.RawListing.Name, l.Description)
	}

	l.EnhanceConfidence = templateConfidence
	return nil
}

// templateDescription builds the fallback product description from whatever
// fields are present.
func templateDescription(l *types.EnrichedListing) string {
	var parts []string

	if hasBrand(l.Brand) {
		parts = append(parts, fmt.Sprintf("Стильный товар от бренда %s.", l.Brand))
	}
	if l.ClothingType != "" {
		parts = append(parts, fmt.Sprintf("Качественный(ая) %s", l.ClothingType))
	}
	if l.Color != "" {
		parts = append(parts, fmt.Sprintf("в %s цвете.", strings.ToLower(l.Color)))
	}
	if len(l.Materials) > 0 {
		parts = append(parts, fmt.Sprintf("Материал: %s.", strings.Join(l.Materials, ", ")))
	}
	parts = append(parts, "Отличное качество и современный дизайн.")

	return strings.Join(parts, " ")
}

// MaterialsFor returns the guessed materials for a clothing type.
func MaterialsFor(clothingType string) []string {
	if m, ok := materialsByType[strings.ToLower(clothingType)]; ok {
		return append([]string(nil), m...)
	}
	return append([]string(nil), defaultMaterials...)
}

// DetectStyle picks a style label from the listing text. Defaults to casual.
func DetectStyle(name, description string) string {
	text := strings.ToLower(name + " " + description)
	for _, s := range styleKeywords {
		for _, w := range s.words {
			if strings.Contains(text, w) {
				return s.style
			}
		}
	}
	return "casual"
}

const aiSystemPrompt = `Ты эксперт по fashion-товарам. Анализируй товары и дополняй недостающие данные.

ТРЕБОВАНИЯ:
1. Отвечай ТОЛЬКО в JSON формате
2. Дополни ВСЕ недостающие поля
3. Используй профессиональную терминологию
4. Будь точным и конкретным

ПОЛЯ ДЛЯ ЗАПОЛНЕНИЯ:
- name: улучшенное название товара
- brand: бренд (если можно определить)
- color: основной цвет
- clothing_type: тип одежды (платье, рубашка, и т.д.)
- description: профессиональное описание (100-200 слов)
- category: одна из top, bottom, footwear, accessory, fragrance
- style: стиль товара
- collection: коллекция (если можно определить)
- materials: список материалов
- target_audience: целевая аудитория
- confidence: уверенность в анализе (0-10)`

// aiEnhancement is the JSON shape the model is asked to return. Unknown
// keys are ignored.
type aiEnhancement struct {
	Name           string   `json:"name"`
	Brand          string   `json:"brand"`
	Color          string   `json:"color"`
	ClothingType   string   `json:"clothing_type"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Style          string   `json:"style"`
	Collection     string   `json:"collection"`
	Materials      []string `json:"materials"`
	TargetAudience string   `json:"target_audience"`
	Confidence     float64  `json:"confidence"`
}

// AIEnricher completes listing fields with one chat-completion call. Any
// failure is returned as an EnrichError; callers fall back to the template.
type AIEnricher struct {
	client  *ai.Client
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewAIEnricher(client *ai.Client, metrics *observability.Metrics, logger *slog.Logger) *AIEnricher {
	return &AIEnricher{
		client:  client,
		metrics: metrics,
		logger:  logger.With("component", "ai_enricher"),
	}
}

func (a *AIEnricher) Name() string { return "ai" }

func (a *AIEnricher) Enhance(ctx context.Context, l *types.EnrichedListing) error {
	a.metrics.EnrichCalls.Add(1)

	var enhancement aiEnhancement
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: aiSystemPrompt},
		{Role: ai.RoleUser, Content: analysisPrompt(l)},
	}
	if err := a.client.CompleteJSON(ctx, messages, &enhancement); err != nil {
		return &types.EnrichError{Err: err}
	}

	a.apply(l, &enhancement)
	return nil
}

func analysisPrompt(l *types.EnrichedListing) string {
	orUnset := func(s string) string {
		if s == "" {
			return "не указан"
		}
		return s
	}
	price := "не указана"
	if l.Price > 0 {
		price = fmt.Sprintf("%.0f", l.Price)
	}

	return fmt.Sprintf(`Проанализируй этот товар и дополни недостающие данные:

ИСХОДНЫЕ ДАННЫЕ:
Название: %s
Бренд: %s
Цвет: %s
Размеры: %s
Цена: %s
Описание: %s
Артикул: %s
Ссылка: %s

ЗАДАЧА:
Создай полные профессиональные данные для этого товара. Ответ должен быть в JSON формате со всеми полями.`,
		l.RawListing.Name,
		orUnset(l.Brand),
		orUnset(l.Color),
		orUnset(strings.Join(l.Sizes, ", ")),
		price,
		orUnset(l.Description),
		orUnset(l.SourceID),
		orUnset(l.SourceURL),
	)
}

// apply folds the model reply into the listing: name only when longer,
// brand/color only when empty, the rest whenever present.
func (a *AIEnricher) apply(l *types.EnrichedListing, e *aiEnhancement) {
	if e.Name != "" && len(e.Name) > len(l.RawListing.Name) {
		l.RawListing.Name = CleanName(e.Name)
		l.MarkEnhanced("name")
	}
	if e.Brand != "" && !hasBrand(l.Brand) {
		l.Brand = NormalizeBrand(e.Brand)
		l.MarkEnhanced("brand")
	}
	if e.Color != "" && l.Color == "" {
		l.Color = e.Color
		l.MarkEnhanced("color")
	}
	if e.ClothingType != "" {
		l.ClothingType = strings.ToLower(e.ClothingType)
		l.MarkEnhanced("clothing_type")
	}
	if e.Description != "" {
		l.Description = e.Description
		l.MarkEnhanced("description")
	}
	if cat, ok := types.ParseCategory(strings.ToLower(e.Category)); ok {
		l.Category = cat
		l.MarkEnhanced("category")
	}
	if e.Style != "" {
		l.Style = strings.ToLower(e.Style)
		l.MarkEnhanced("style")
	}
	if e.Collection != "" {
		l.Collection = e.Collection
		l.MarkEnhanced("collection")
	}

	if len(e.Materials) > 0 {
		l.Materials = e.Materials
	} else {
		l.Materials = MaterialsFor(l.ClothingType)
	}
	if e.TargetAudience != "" {
		l.TargetAudience = e.TargetAudience
	}
	if l.Style == "" {
		l.Style = DetectStyle(l.RawListing.Name, l.Description)
	}

	conf := e.Confidence / 10
	if conf <= 0 {
		conf = aiDefaultConfidence
	}
	if conf > 1 {
		conf = 1
	}
	l.EnhanceConfidence = conf
}

// EnrichStage runs the configured enricher with the template as a safety
// net. Enrichment failure is never fatal to a candidate.
type EnrichStage struct {
	primary  Enricher
	fallback *TemplateEnricher
	metrics  *observability.Metrics
	logger   *slog.Logger
}

// NewEnrichStage wires an optional primary enricher. A nil primary means
// every candidate takes the template path.
func NewEnrichStage(primary Enricher, metrics *observability.Metrics, logger *slog.Logger) *EnrichStage {
	return &EnrichStage{
		primary:  primary,
		fallback: NewTemplateEnricher(logger),
		metrics:  metrics,
		logger:   logger.With("component", "enrich_stage"),
	}
}

func (s *EnrichStage) Name() string { return "enrich" }

func (s *EnrichStage) Process(ctx context.Context, l *types.EnrichedListing) (*types.EnrichedListing, error) {
	enriched := false
	if s.primary != nil {
		if err := s.primary.Enhance(ctx, l); err != nil {
			s.logger.Warn("enrichment failed, using template fallback",
				"enricher", s.primary.Name(),
				"source_id", l.SourceID,
				"error", err,
			)
			l.AddWarning(fmt.Sprintf("enrich (%s): %v", s.primary.Name(), err))
		} else {
			enriched = true
		}
	}

	if !enriched {
		s.metrics.EnrichFallbacks.Add(1)
		_ = s.fallback.Enhance(ctx, l)
	}

	finalizeListing(l)
	return l, nil
}

// finalizeListing applies the closing normalization shared by both
// enrichment paths: casing, price validity, and a synthesized article for
// candidates without a source SKU.
func finalizeListing(l *types.EnrichedListing) {
	l.RawListing.Name = TitleCase(l.RawListing.Name)
	l.Brand = finalizeBrand(l.Brand)
	l.Color = strings.ToLower(strings.TrimSpace(l.Color))
	l.Style = strings.ToLower(strings.TrimSpace(l.Style))

	if l.Price < 0 {
		l.Price = 0
	}

	if l.SourceID == "" && l.RawListing.Name != "" {
		l.SourceID = GenerateArticle(l.Brand, l.RawListing.Name)
		l.MarkEnhanced("article")
	}
}

func finalizeBrand(brand string) string {
	if brand == "" || brand == "Unknown" {
		return brand
	}
	for _, known := range knownBrands {
		if strings.EqualFold(known, brand) {
			return known
		}
	}
	return TitleCase(brand)
}

func hasBrand(brand string) bool {
	return brand != "" && brand != "Unknown"
}

// GenerateArticle derives a stable catalog article from brand and name:
// "ART" plus the first 8 hex digits of MD5 over the lowercased
// concatenation with spaces removed.
func GenerateArticle(brand, name string) string {
	text := strings.ReplaceAll(strings.ToLower(brand+name), " ", "")
	sum := md5.Sum([]byte(text))
	return "ART" + strings.ToUpper(hex.EncodeToString(sum[:])[:8])
}
