package storage

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/akoreshkov/modaflow/internal/types"
)

// Export writes processed listings to a local file. The format is chosen by
// the path extension: .json, .jsonl or .csv.
func Export(path string, listings []*types.EnrichedListing, logger *slog.Logger) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = exportJSON(f, listings)
	case ".jsonl":
		err = exportJSONL(f, listings)
	case ".csv":
		err = exportCSV(f, listings)
	default:
		return fmt.Errorf("unsupported export format: %q", filepath.Ext(path))
	}
	if err != nil {
		return err
	}

	logger.Info("export written", "path", path, "listings", len(listings))
	return nil
}

func exportJSON(f *os.File, listings []*types.EnrichedListing) error {
	output := make([]map[string]any, len(listings))
	for i, l := range listings {
		output[i] = exportEntry(l)
	}

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}

func exportJSONL(f *os.File, listings []*types.EnrichedListing) error {
	enc := json.NewEncoder(f)
	for _, l := range listings {
		if err := enc.Encode(exportEntry(l)); err != nil {
			return fmt.Errorf("encode JSONL: %w", err)
		}
	}
	return nil
}

var csvHeaders = []string{
	"article", "name", "brand", "category", "price", "old_price", "color",
	"sizes", "clothing_type", "style", "quality", "method", "source_url", "image_url",
}

func exportCSV(f *os.File, listings []*types.EnrichedListing) error {
	w := csv.NewWriter(f)
	if err := w.Write(csvHeaders); err != nil {
		return fmt.Errorf("write CSV header: %w", err)
	}
	for _, l := range listings {
		if err := w.Write(csvRow(l)); err != nil {
			return fmt.Errorf("write CSV row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}

func exportEntry(l *types.EnrichedListing) map[string]any {
	entry := map[string]any{
		"article":    l.SourceID,
		"name":       l.Name,
		"brand":      l.Brand,
		"category":   string(l.Category),
		"price":      l.Price,
		"quality":    l.QualityScore,
		"method":     string(l.Method),
		"confidence": l.Confidence,
	}
	if l.OldPrice > 0 {
		entry["old_price"] = l.OldPrice
	}
	if l.Color != "" {
		entry["color"] = l.Color
	}
	if len(l.Sizes) > 0 {
		entry["sizes"] = l.Sizes
	}
	if l.ClothingType != "" {
		entry["clothing_type"] = l.ClothingType
	}
	if l.Description != "" {
		entry["description"] = l.Description
	}
	if l.Style != "" {
		entry["style"] = l.Style
	}
	if l.Collection != "" {
		entry["collection"] = l.Collection
	}
	if len(l.Materials) > 0 {
		entry["materials"] = l.Materials
	}
	if l.SourceURL != "" {
		entry["source_url"] = l.SourceURL
	}
	if len(l.ImageURLs) > 0 {
		entry["images"] = l.ImageURLs
	}
	return entry
}

func csvRow(l *types.EnrichedListing) []string {
	var imageURL string
	if len(l.ImageURLs) > 0 {
		imageURL = l.ImageURLs[0]
	}
	return []string{
		l.SourceID,
		l.Name,
		l.Brand,
		string(l.Category),
		formatPrice(l.Price),
		formatPrice(l.OldPrice),
		l.Color,
		strings.Join(l.Sizes, "|"),
		l.ClothingType,
		l.Style,
		strconv.FormatFloat(l.QualityScore, 'f', 2, 64),
		string(l.Method),
		l.SourceURL,
		imageURL,
	}
}

func formatPrice(v float64) string {
	if v <= 0 {
		return ""
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}
