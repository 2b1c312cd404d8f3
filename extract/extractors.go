package extract

import (
	"context"
	"regexp"
	"strings"

	"github.com/tracelight/kgraph/entity"
)

// patternExtractor matches a compiled regular expression against the input
// text and emits one candidate per match.
type patternExtractor struct {
	name       string
	entityType entity.Type
	pattern    *regexp.Regexp
	confidence float64
	// group selects the capture group used as the entity value; 0 is the
	// whole match.
	group int
}

func (p *patternExtractor) Name() string { return p.name }

func (p *patternExtractor) Extract(_ context.Context, input Input) ([]Candidate, error) {
	var candidates []Candidate
	for _, m := range p.pattern.FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2*p.group], m[2*p.group+1]
		if start < 0 {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:       p.entityType,
			Value:      input.Text[start:end],
			Confidence: p.confidence,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	return candidates, nil
}

var (
	// Capitalized word sequences preceded by a personal title, or plain
	// First Last pairs.
	titledPersonPattern = regexp.MustCompile(`\b(?:Dr|Mr|Mrs|Ms|Prof)\.?\s+([A-Z][a-z]+(?:\s+[A-Z][a-z]+)*)`)
	personPattern       = regexp.MustCompile(`\b([A-Z][a-z]+\s+[A-Z][a-z]+)\b`)

	// Corporate suffix forms and "works at / employed by X" trigger forms.
	orgSuffixPattern  = regexp.MustCompile(`\b([A-Z][A-Za-z&]*(?:\s+[A-Z][A-Za-z&]*)*\s+(?:Inc|Corp|Corporation|LLC|Ltd|GmbH|AG|Co)\b\.?)`)
	orgTriggerPattern = regexp.MustCompile(`\b(?:works? at|employed by|joined|hired by|company named)\s+([A-Z][A-Za-z&]+(?:\s+[A-Z][A-Za-z&]+)*)`)

	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`)
	datePattern  = regexp.MustCompile(`\b(?:\d{4}-\d{2}-\d{2}|(?:January|February|March|April|May|June|July|August|September|October|November|December)\s+\d{1,2},?\s+\d{4})\b`)
	// Numbers with optional thousands separators and decimals, excluding
	// ones embedded in words.
	numberPattern = regexp.MustCompile(`\b\d{1,3}(?:,\d{3})*(?:\.\d+)?\b|\b\d+(?:\.\d+)?\b`)
)

// personExtractor prefers titled matches, falling back to bare First Last
// pairs at lower confidence.
type personExtractor struct{}

func (personExtractor) Name() string { return "pattern-person" }

func (personExtractor) Extract(_ context.Context, input Input) ([]Candidate, error) {
	var candidates []Candidate
	titledSpans := map[int]bool{}
	for _, m := range titledPersonPattern.FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2], m[3]
		titledSpans[start] = true
		candidates = append(candidates, Candidate{
			Type:       entity.TypePerson,
			Value:      input.Text[start:end],
			Confidence: 0.85,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	for _, m := range personPattern.FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2], m[3]
		if titledSpans[start] {
			continue
		}
		candidates = append(candidates, Candidate{
			Type:       entity.TypePerson,
			Value:      input.Text[start:end],
			Confidence: 0.6,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	// Single capitalized names in subject position ("Alice works at ...").
	for _, m := range regexp.MustCompile(`\b([A-Z][a-z]+)\s+(?:works?|worked|is|was|joined)\b`).FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2], m[3]
		candidates = append(candidates, Candidate{
			Type:       entity.TypePerson,
			Value:      input.Text[start:end],
			Confidence: 0.5,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	return candidates, nil
}

// organizationExtractor matches corporate suffixes and employment trigger
// phrases.
type organizationExtractor struct{}

func (organizationExtractor) Name() string { return "pattern-organization" }

func (organizationExtractor) Extract(_ context.Context, input Input) ([]Candidate, error) {
	var candidates []Candidate
	for _, m := range orgSuffixPattern.FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2], m[3]
		candidates = append(candidates, Candidate{
			Type:       entity.TypeOrganization,
			Value:      strings.TrimSuffix(input.Text[start:end], "."),
			Confidence: 0.8,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	for _, m := range orgTriggerPattern.FindAllStringSubmatchIndex(input.Text, -1) {
		start, end := m[2], m[3]
		candidates = append(candidates, Candidate{
			Type:       entity.TypeOrganization,
			Value:      input.Text[start:end],
			Confidence: 0.65,
			SpanStart:  start,
			SpanEnd:    end,
		})
	}
	return candidates, nil
}

// fieldExtractor turns structured field/value pairs into entities, typing
// values by shape (email, date, number) and falling back to a generic field
// entity carrying the field name as an attribute.
type fieldExtractor struct{}

func (fieldExtractor) Name() string { return "structured-field" }

func (fieldExtractor) Extract(_ context.Context, input Input) ([]Candidate, error) {
	var candidates []Candidate
	for field, value := range input.Fields {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}

		entityType := entity.TypeField
		confidence := 0.7
		switch {
		case emailPattern.MatchString(value):
			entityType = entity.TypeEmail
			confidence = 0.95
		case datePattern.MatchString(value):
			entityType = entity.TypeDate
			confidence = 0.9
		case numberPattern.FindString(value) == value:
			entityType = entity.TypeNumber
			confidence = 0.85
		}

		candidates = append(candidates, Candidate{
			Type:       entityType,
			Value:      value,
			Confidence: confidence,
			Attributes: map[string]string{"field": field},
		})
	}
	return candidates, nil
}

// BuiltinExtractors returns the default extractor set: person, organization,
// email, date, number pattern extractors plus the structured field
// extractor.
func BuiltinExtractors() []Extractor {
	return []Extractor{
		personExtractor{},
		organizationExtractor{},
		&patternExtractor{name: "pattern-email", entityType: entity.TypeEmail, pattern: emailPattern, confidence: 0.95},
		&patternExtractor{name: "pattern-date", entityType: entity.TypeDate, pattern: datePattern, confidence: 0.9},
		&patternExtractor{name: "pattern-number", entityType: entity.TypeNumber, pattern: numberPattern, confidence: 0.5},
		fieldExtractor{},
	}
}
