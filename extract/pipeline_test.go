package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/entity"
	"github.com/tracelight/kgraph/errors"
	kgtesting "github.com/tracelight/kgraph/internal/testing"
	"github.com/tracelight/kgraph/provenance"
)

// failingExtractor always errors, for failure-isolation tests.
type failingExtractor struct{}

func (failingExtractor) Name() string { return "always-fails" }

func (failingExtractor) Extract(context.Context, Input) ([]Candidate, error) {
	return nil, errors.New("extractor blew up")
}

// blockingExtractor waits for the context, for cancellation tests.
type blockingExtractor struct{}

func (blockingExtractor) Name() string { return "blocking" }

func (blockingExtractor) Extract(ctx context.Context, _ Input) ([]Candidate, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newTestPipeline(t *testing.T, extractors ...Extractor) *Pipeline {
	t.Helper()
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()
	store := entity.NewStore(database, db.DefaultRetryPolicy, logger)
	tracker := provenance.NewTracker(database, db.DefaultRetryPolicy, provenance.TrackerOptions{}, logger)

	p := NewPipeline(store, tracker, PipelineOptions{}, logger)
	if len(extractors) == 0 {
		extractors = BuiltinExtractors()
	}
	for _, e := range extractors {
		require.NoError(t, p.RegisterExtractor(e))
	}
	return p
}

func entityValuesByType(entities []entity.Entity, entityType entity.Type) []string {
	var values []string
	for _, e := range entities {
		if e.Type == entityType {
			values = append(values, e.Value)
		}
	}
	return values
}

func TestRegisterExtractor(t *testing.T) {
	p := newTestPipeline(t, failingExtractor{})

	assert.Equal(t, []string{"always-fails"}, p.GetRegisteredExtractors())

	err := p.RegisterExtractor(failingExtractor{})
	assert.True(t, errors.Is(err, errors.ErrConflict))

	err = p.RegisterExtractor(nil)
	assert.True(t, errors.IsValidationError(err))
}

func TestProcess_Validation(t *testing.T) {
	p := newTestPipeline(t)
	ctx := context.Background()

	_, err := p.Process(ctx, "", "some text", "doc-1")
	assert.True(t, errors.IsTenantIsolationError(err))

	_, err = p.Process(ctx, "t1", "", "doc-1")
	assert.True(t, errors.IsValidationError(err))

	_, err = p.Process(ctx, "t1", "some text", "doc-1", "no-such-extractor")
	assert.True(t, errors.IsNotFoundError(err))
}

func TestProcess_BuiltinExtraction(t *testing.T) {
	p := newTestPipeline(t)

	result, err := p.Process(context.Background(), "t1",
		"Dr. Alice Smith joined Acme Corp on 2024-03-15. Contact: alice@acme.example.",
		"doc-1")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
	assert.Empty(t, result.Failures)

	assert.Contains(t, entityValuesByType(result.Entities, entity.TypePerson), "Alice Smith")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeOrganization), "Acme Corp")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeDate), "2024-03-15")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeEmail), "alice@acme.example")
}

// One extractor failing yields partial success with the survivors' entities
// present and the failure itemized.
func TestProcess_PartialSuccess(t *testing.T) {
	extractors := append(BuiltinExtractors(), failingExtractor{})
	p := newTestPipeline(t, extractors...)

	result, err := p.Process(context.Background(), "t1", "Alice works at Acme", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, StatePartialSuccess, result.State)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "always-fails", result.Failures[0].Item)

	assert.Contains(t, entityValuesByType(result.Entities, entity.TypePerson), "Alice")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeOrganization), "Acme")

	partial := result.PartialError()
	require.NotNil(t, partial)
	assert.Equal(t, 1, partial.FailedCount())
}

func TestProcess_AllExtractorsFailed(t *testing.T) {
	p := newTestPipeline(t, failingExtractor{})

	result, err := p.Process(context.Background(), "t1", "Alice works at Acme", "doc-1")
	require.Error(t, err)
	assert.Equal(t, StateFailed, result.State)

	_, ok := errors.IsPartialFailure(err)
	assert.True(t, ok)
}

func TestProcess_Cancellation(t *testing.T) {
	p := newTestPipeline(t, blockingExtractor{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := p.Process(ctx, "t1", "Alice works at Acme", "doc-1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCancelled))
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, FailureReasonCancelled, result.FailureReason)
}

func TestProcess_RecordsProvenance(t *testing.T) {
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()
	store := entity.NewStore(database, db.DefaultRetryPolicy, logger)
	tracker := provenance.NewTracker(database, db.DefaultRetryPolicy, provenance.TrackerOptions{}, logger)
	p := NewPipeline(store, tracker, PipelineOptions{}, logger)
	for _, e := range BuiltinExtractors() {
		require.NoError(t, p.RegisterExtractor(e))
	}

	result, err := p.Process(context.Background(), "t1", "Alice works at Acme", "doc-1")
	require.NoError(t, err)
	require.NotEmpty(t, result.Entities)

	for _, e := range result.Entities {
		md, err := tracker.Get(context.Background(), "t1", e.ID, provenance.ElementEntity)
		require.NoError(t, err)
		assert.Equal(t, "doc-1", md.Source.SourceID)
		assert.Equal(t, e.Confidence, md.Confidence)
	}
}

func TestProcessStructuredData(t *testing.T) {
	p := newTestPipeline(t)

	result, err := p.ProcessStructuredData(context.Background(), "t1", map[string]string{
		"contact_email": "bob@example.com",
		"start_date":    "2024-01-02",
		"headcount":     "250",
		"nickname":      "bobby",
	}, "row-17", "structured-field")
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)

	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeEmail), "bob@example.com")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeDate), "2024-01-02")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeNumber), "250")
	assert.Contains(t, entityValuesByType(result.Entities, entity.TypeField), "bobby")

	_, err = p.ProcessStructuredData(context.Background(), "t1", nil, "row-17")
	assert.True(t, errors.IsValidationError(err))
}

func TestDedupe(t *testing.T) {
	candidates := []Candidate{
		{Type: entity.TypePerson, Value: "Alice Smith", Confidence: 0.5, Attributes: map[string]string{"a": "1"}},
		{Type: entity.TypePerson, Value: "alice  smith", Confidence: 0.9, Attributes: map[string]string{"b": "2"}},
		{Type: entity.TypeOrganization, Value: "Acme", Confidence: 0.2},
	}

	deduped := dedupe(candidates, 0.3)
	require.Len(t, deduped, 1)
	assert.Equal(t, 0.9, deduped[0].Confidence)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, deduped[0].Attributes)
}
