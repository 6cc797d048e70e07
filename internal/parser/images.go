package parser

import (
	"sort"
	"strings"
)

const (
	// maxListingImages caps how many images one listing keeps.
	maxListingImages = 8
	// maxImageWalkDepth bounds recursion into nested payload structures.
	maxImageWalkDepth = 6

	cdnPrefix = "https://a.lmcdn.ru/"
	// cdnRendition is the higher-resolution CDN path variant raw image paths
	// are rewritten to.
	cdnRendition = "img600x866"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png", ".webp"}

// imagePriorityKeys are checked first when walking an object; they usually
// hold the URL directly.
var imagePriorityKeys = []string{"url", "src", "href", "path", "image_url"}

// imageFieldNames are the payload fields that may hold image references.
var imageFieldNames = []string{
	"image", "images", "photo", "photos", "picture", "pictures",
	"main_image", "preview_image", "thumb", "thumbs",
	"product_image", "product_images", "media", "assets",
	"thumbnail", "gallery",
}

func hasImageExtension(s string) bool {
	lower := strings.ToLower(s)
	for _, ext := range imageExtensions {
		if strings.Contains(lower, ext) {
			return true
		}
	}
	return false
}

// CanonicalImageURL normalizes an image reference to an absolute CDN URL at
// the high-resolution rendition. Protocol-relative and root-relative paths
// are made absolute; URLs that do not look like product images on the
// marketplace CDN are rejected. Idempotent: a canonical URL passes through
// unchanged.
func CanonicalImageURL(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}

	var full string
	switch {
	case strings.HasPrefix(raw, "//"):
		full = "https:" + raw
	case strings.HasPrefix(raw, "/"):
		full = strings.TrimSuffix(cdnPrefix, "/") + raw
	default:
		full = raw
	}

	if !hasImageExtension(full) {
		return "", false
	}
	if !strings.Contains(full, "lmcdn.ru") && !strings.Contains(full, "lamoda") {
		return "", false
	}

	// Raw CDN paths are rewritten to the fixed rendition.
	if strings.HasPrefix(full, cdnPrefix) && !strings.Contains(full, "/"+cdnRendition+"/") {
		path := strings.TrimPrefix(full, cdnPrefix)
		if path != "" {
			full = cdnPrefix + cdnRendition + "/" + path
		}
	}

	return full, true
}

// imageWalker accumulates canonical image URLs from nested payload
// structures, deduplicated and capped.
type imageWalker struct {
	found []string
	seen  map[string]bool
}

func newImageWalker() *imageWalker {
	return &imageWalker{seen: make(map[string]bool, maxListingImages)}
}

func (w *imageWalker) full() bool { return len(w.found) >= maxListingImages }

func (w *imageWalker) add(raw string) {
	if w.full() {
		return
	}
	u, ok := CanonicalImageURL(raw)
	if !ok || w.seen[u] {
		return
	}
	w.seen[u] = true
	w.found = append(w.found, u)
}

// promote puts the URL at position 0 so it becomes the primary image. A URL
// already collected is left where it is.
func (w *imageWalker) promote(raw string) {
	u, ok := CanonicalImageURL(raw)
	if !ok || w.seen[u] {
		return
	}
	w.seen[u] = true
	w.found = append([]string{u}, w.found...)
	if len(w.found) > maxListingImages {
		w.found = w.found[:maxListingImages]
	}
}

// walk descends into strings, arrays, and objects looking for image URLs.
// Recursion is bounded by depth and by the image cap.
func (w *imageWalker) walk(v any, depth int) {
	if w.full() || depth > maxImageWalkDepth {
		return
	}
	switch t := v.(type) {
	case string:
		if hasImageExtension(t) {
			w.add(t)
		}
	case []any:
		for _, elem := range t {
			if w.full() {
				return
			}
			w.walk(elem, depth+1)
		}
	case map[string]any:
		for _, key := range imagePriorityKeys {
			if inner, ok := t[key]; ok && !w.full() {
				w.walk(inner, depth+1)
			}
		}
		// Remaining keys in sorted order so extraction stays deterministic.
		rest := make([]string, 0, len(t))
		for key := range t {
			if !isImagePriorityKey(key) {
				rest = append(rest, key)
			}
		}
		sort.Strings(rest)
		for _, key := range rest {
			if w.full() {
				return
			}
			w.walk(t[key], depth+1)
		}
	}
}

func isImagePriorityKey(key string) bool {
	for _, k := range imagePriorityKeys {
		if k == key {
			return true
		}
	}
	return false
}

// collectItemImages gathers a product payload's images: the known image
// fields are walked in order, the thumbnail is promoted to primary, and the
// gallery is appended.
func collectItemImages(item map[string]any) []string {
	w := newImageWalker()

	for _, field := range imageFieldNames {
		if v, ok := item[field]; ok && !w.full() {
			w.walk(v, 0)
		}
	}

	if thumb, ok := item["thumbnail"].(string); ok && thumb != "" {
		w.promote(thumb)
	}

	if gallery, ok := item["gallery"].([]any); ok {
		for _, g := range gallery {
			if w.full() {
				break
			}
			if s, ok := g.(string); ok {
				w.add(s)
			}
		}
	}

	return w.found
}
