package extractor

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/kirillkom/agentic-search/internal/core/domain"
	"github.com/kirillkom/agentic-search/internal/core/ports"
)

// Dispatcher routes extraction to a format-specific extractor by filename
// extension. Unknown extensions fall through to the plain-text extractor,
// which rejects binary payloads itself.
type Dispatcher struct {
	byExtension map[string]ports.TextExtractor
	fallback    ports.TextExtractor
}

func NewDispatcher(fallback ports.TextExtractor) *Dispatcher {
	return &Dispatcher{
		byExtension: make(map[string]ports.TextExtractor),
		fallback:    fallback,
	}
}

func (d *Dispatcher) Register(extension string, extractor ports.TextExtractor) {
	d.byExtension[normalizeExtension(extension)] = extractor
}

func (d *Dispatcher) Extract(ctx context.Context, doc *domain.Document) (string, error) {
	ext := normalizeExtension(filepath.Ext(doc.Filename))
	if extractor, ok := d.byExtension[ext]; ok {
		return extractor.Extract(ctx, doc)
	}
	return d.fallback.Extract(ctx, doc)
}

func normalizeExtension(extension string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(extension), "."))
}
