// Package categorizer assigns spending categories to transactions and
// produces embedding vectors for semantic search.
//
// Classification is a two-stage fallback: a keyword rule match first, then an
// embedding-similarity comparison against precomputed per-category vectors
// when the rule confidence is low. Classification never fails; at worst it
// returns Uncategorized with zero confidence.
package categorizer

import (
	"context"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/dvloznov/finance-sync/internal/logger"
)

const (
	// ruleConfidenceCeiling bounds what keyword matching alone can claim.
	ruleConfidenceCeiling = 0.9
	// semanticThreshold is the rule confidence below which the semantic
	// stage is consulted. A confident rule match skips the embedding call
	// entirely.
	semanticThreshold = 0.8
	// semanticConfidenceCeiling bounds the semantic stage's confidence.
	semanticConfidenceCeiling = 0.95
)

// Categorizer holds the loaded model and precomputed category vectors. It is
// immutable after construction and safe to share across workers.
type Categorizer struct {
	model    *Model
	embedder Embedder

	// categoryVectors is nil when the semantic stage is disabled (no
	// embedder, or precomputation failed at startup).
	categoryVectors map[string][]float32
}

// New builds a Categorizer from a model. embedder may be nil, in which case
// only the rule stage runs and Embed always reports absence. Category vectors
// are computed once here; a precomputation failure disables the semantic
// stage rather than failing construction.
func New(ctx context.Context, model *Model, embedder Embedder) *Categorizer {
	log := logger.FromContext(ctx)

	c := &Categorizer{model: model, embedder: embedder}
	if embedder == nil {
		return c
	}

	vectors := make(map[string][]float32, len(model.Categories))
	for _, cat := range model.Categories {
		vec, err := embedder.Embed(ctx, cat.representativeText())
		if err != nil {
			log.Warn().
				Err(err).
				Str("category", cat.Name).
				Msg("Failed to precompute category embedding, semantic stage disabled")
			return c
		}
		vectors[cat.Name] = vec
	}
	c.categoryVectors = vectors

	log.Info().
		Int("categories", len(vectors)).
		Msg("Categorizer ready with semantic stage enabled")
	return c
}

// Classify maps a transaction's text and signed amount to a category and a
// confidence in [0, 1]. It never returns an error: any internal fault yields
// the Uncategorized result. Amounts follow the provider sign convention
// (negative = money in), so a negative amount short-circuits to Income.
func (c *Categorizer) Classify(ctx context.Context, description, merchant string, amount decimal.Decimal) (string, float64) {
	text := strings.ToLower(strings.TrimSpace(description + " " + merchant))

	if amount.IsNegative() {
		return c.classifyIncome(text)
	}

	ruleCategory, ruleConfidence := c.ruleMatch(text)
	if ruleConfidence >= semanticThreshold {
		return ruleCategory, ruleConfidence
	}

	semCategory, semConfidence := c.semanticMatch(ctx, text)
	if semConfidence > ruleConfidence {
		return semCategory, semConfidence
	}
	return ruleCategory, ruleConfidence
}

// classifyIncome handles deposits: high confidence with a keyword hit,
// moderate without one.
func (c *Categorizer) classifyIncome(text string) (string, float64) {
	for _, cat := range c.model.Categories {
		if cat.Name != CategoryIncome {
			continue
		}
		for _, kw := range cat.Keywords {
			if strings.Contains(text, kw) {
				return CategoryIncome, 0.9
			}
		}
	}
	return CategoryIncome, 0.7
}

// ruleMatch scores every category by keyword hits and returns the best.
func (c *Categorizer) ruleMatch(text string) (string, float64) {
	bestCategory := CategoryUncategorized
	bestConfidence := 0.0

	for _, cat := range c.model.Categories {
		hits := 0
		for _, kw := range cat.Keywords {
			if strings.Contains(text, kw) {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		confidence := math.Min(ruleConfidenceCeiling, 0.5+0.1*float64(hits))
		if confidence > bestConfidence {
			bestConfidence = confidence
			bestCategory = cat.Name
		}
	}
	return bestCategory, bestConfidence
}

// semanticMatch compares the text's embedding against the precomputed
// category vectors. Any fault degrades to (Uncategorized, 0).
func (c *Categorizer) semanticMatch(ctx context.Context, text string) (string, float64) {
	if c.categoryVectors == nil {
		return CategoryUncategorized, 0
	}

	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().
			Err(err).
			Msg("Semantic stage embedding failed, falling back to rule result")
		return CategoryUncategorized, 0
	}

	bestCategory := CategoryUncategorized
	bestSimilarity := 0.0
	for name, catVec := range c.categoryVectors {
		sim := cosineSimilarity(vec, catVec)
		if sim > bestSimilarity {
			bestSimilarity = sim
			bestCategory = name
		}
	}
	if bestCategory == CategoryUncategorized {
		return CategoryUncategorized, 0
	}

	// Raw cosine similarity clusters well below 1.0 even for clear
	// matches; rescale before capping.
	return bestCategory, math.Min(semanticConfidenceCeiling, bestSimilarity*1.2)
}

// Embed returns the embedding vector for text, or (nil, false) when no
// embedder is configured or the call fails. A transaction with no embedding
// is valid; it is simply excluded from semantic search.
func (c *Categorizer) Embed(ctx context.Context, text string) ([]float32, bool) {
	if c.embedder == nil {
		return nil, false
	}
	vec, err := c.embedder.Embed(ctx, text)
	if err != nil {
		log := logger.FromContext(ctx)
		log.Debug().
			Err(err).
			Msg("Embedding failed, storing transaction without vector")
		return nil, false
	}
	return vec, true
}

// cosineSimilarity returns the cosine of the angle between a and b, or 0 for
// mismatched or zero-length vectors.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
