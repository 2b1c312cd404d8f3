package relation

import (
	"context"
	"strings"

	"github.com/tracelight/kgraph/entity"
)

// Candidate is a relation proposed by an extractor, before persistence.
type Candidate struct {
	SourceEntityID string
	TargetEntityID string
	Type           Type
	CustomName     string
	Confidence     float64
	IsDirectional  bool
	SourceContext  string
}

// Extractor scans entity pairs within a text for candidate relations.
// Implementations must be stateless across calls.
type Extractor interface {
	Name() string
	ExtractRelations(ctx context.Context, text string, entities []entity.Entity) ([]Candidate, error)
}

// TriggerPattern binds a trigger phrase to the relation it implies between
// a source entity appearing before the phrase and a target appearing after.
type TriggerPattern struct {
	Phrase        string
	Type          Type
	IsDirectional bool
	// ConfidenceBoost is added to the extractor's base confidence when the
	// phrase matches.
	ConfidenceBoost float64
}

// DefaultTriggerPatterns are the built-in trigger phrases.
func DefaultTriggerPatterns() []TriggerPattern {
	return []TriggerPattern{
		{Phrase: "works at", Type: TypeWorksAt, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "works for", Type: TypeWorksAt, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "employed by", Type: TypeWorksAt, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "joined", Type: TypeWorksAt, IsDirectional: true, ConfidenceBoost: 0.2},
		{Phrase: "located in", Type: TypeLocatedIn, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "based in", Type: TypeLocatedIn, IsDirectional: true, ConfidenceBoost: 0.25},
		{Phrase: "part of", Type: TypePartOf, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "owns", Type: TypeOwns, IsDirectional: true, ConfidenceBoost: 0.3},
		{Phrase: "acquired", Type: TypeOwns, IsDirectional: true, ConfidenceBoost: 0.25},
		{Phrase: "founded", Type: TypeFounded, IsDirectional: true, ConfidenceBoost: 0.3},
	}
}

// entityMention is an entity occurrence located within the scanned text.
type entityMention struct {
	entity entity.Entity
	start  int
	end    int
	// token is the index of the mention's first word within the text.
	token int
}

// locateMentions finds each entity's first occurrence in the text. Entities
// whose value does not appear are skipped.
func locateMentions(text string, entities []entity.Entity) []entityMention {
	lower := strings.ToLower(text)
	var mentions []entityMention
	for _, e := range entities {
		idx := strings.Index(lower, strings.ToLower(e.Value))
		if idx < 0 {
			continue
		}
		mentions = append(mentions, entityMention{
			entity: e,
			start:  idx,
			end:    idx + len(e.Value),
			token:  len(strings.Fields(text[:idx])),
		})
	}
	return mentions
}

// mentionBetween reports whether any other mention sits entirely between
// src and tgt.
func mentionBetween(mentions []entityMention, src, tgt entityMention) bool {
	for _, m := range mentions {
		if m.start >= src.end && m.end <= tgt.start {
			return true
		}
	}
	return false
}

// PatternExtractor emits a relation when a trigger phrase appears between
// two entity mentions that sit within MaxTokenDistance of each other.
type PatternExtractor struct {
	// MaxTokenDistance bounds how far apart (in words) two mentions may be.
	MaxTokenDistance int
	// BaseConfidenceScore is the confidence floor, raised by the matched
	// pattern's boost.
	BaseConfidenceScore float64
	Patterns            []TriggerPattern
}

// NewPatternExtractor creates a pattern extractor with the default trigger
// phrases.
func NewPatternExtractor(maxTokenDistance int, baseConfidence float64) *PatternExtractor {
	if maxTokenDistance <= 0 {
		maxTokenDistance = 12
	}
	return &PatternExtractor{
		MaxTokenDistance:    maxTokenDistance,
		BaseConfidenceScore: baseConfidence,
		Patterns:            DefaultTriggerPatterns(),
	}
}

func (p *PatternExtractor) Name() string { return "pattern-relation" }

func (p *PatternExtractor) ExtractRelations(_ context.Context, text string, entities []entity.Entity) ([]Candidate, error) {
	mentions := locateMentions(text, entities)
	lower := strings.ToLower(text)

	var candidates []Candidate
	for i, src := range mentions {
		for j, tgt := range mentions {
			if i == j || src.start >= tgt.start {
				continue
			}
			if tgt.token-src.token > p.MaxTokenDistance {
				continue
			}
			if mentionBetween(mentions, src, tgt) {
				// The trigger must bind adjacent mentions; an intervening
				// entity claims it instead.
				continue
			}

			between := lower[src.end:tgt.start]
			for _, pat := range p.Patterns {
				if !strings.Contains(between, pat.Phrase) {
					continue
				}
				confidence := p.BaseConfidenceScore + pat.ConfidenceBoost
				if confidence > 1 {
					confidence = 1
				}
				candidates = append(candidates, Candidate{
					SourceEntityID: src.entity.ID,
					TargetEntityID: tgt.entity.ID,
					Type:           pat.Type,
					Confidence:     confidence,
					IsDirectional:  pat.IsDirectional,
					SourceContext:  text[src.start:tgt.end],
				})
				break
			}
		}
	}
	return candidates, nil
}

// CooccurrenceExtractor emits a low-confidence bidirectional related_to
// relation for every entity pair within MaxTokenDistance. It runs alongside
// the trigger-phrase extractor, so a pair matched by a trigger also gets a
// weak related_to fact under its own predicate.
type CooccurrenceExtractor struct {
	MaxTokenDistance    int
	BaseConfidenceScore float64
}

// NewCooccurrenceExtractor creates a co-occurrence extractor.
func NewCooccurrenceExtractor(maxTokenDistance int, baseConfidence float64) *CooccurrenceExtractor {
	if maxTokenDistance <= 0 {
		maxTokenDistance = 12
	}
	return &CooccurrenceExtractor{
		MaxTokenDistance:    maxTokenDistance,
		BaseConfidenceScore: baseConfidence,
	}
}

func (c *CooccurrenceExtractor) Name() string { return "cooccurrence-relation" }

func (c *CooccurrenceExtractor) ExtractRelations(_ context.Context, text string, entities []entity.Entity) ([]Candidate, error) {
	mentions := locateMentions(text, entities)

	var candidates []Candidate
	for i := 0; i < len(mentions); i++ {
		for j := i + 1; j < len(mentions); j++ {
			src, tgt := mentions[i], mentions[j]
			if src.start > tgt.start {
				src, tgt = tgt, src
			}
			if tgt.token-src.token > c.MaxTokenDistance {
				continue
			}
			candidates = append(candidates, Candidate{
				SourceEntityID: src.entity.ID,
				TargetEntityID: tgt.entity.ID,
				Type:           TypeRelatedTo,
				Confidence:     c.BaseConfidenceScore,
				IsDirectional:  false,
				SourceContext:  text[src.start:tgt.end],
			})
		}
	}
	return candidates, nil
}
