package entity

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	kgtesting "github.com/tracelight/kgraph/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database := kgtesting.CreateTestDB(t)
	return NewStore(database, db.DefaultRetryPolicy, zaptest.NewLogger(t).Sugar())
}

func TestSave_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("missing tenant", func(t *testing.T) {
		_, err := s.Save(ctx, "", Entity{Type: TypePerson, Value: "Alice"})
		assert.True(t, errors.IsTenantIsolationError(err))
	})

	t.Run("missing type", func(t *testing.T) {
		_, err := s.Save(ctx, "t1", Entity{Value: "Alice"})
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("blank value", func(t *testing.T) {
		_, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "   "})
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("confidence out of range", func(t *testing.T) {
		_, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: -0.1})
		assert.True(t, errors.IsValidationError(err))
	})
}

func TestSaveAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "t1", Entity{
		Type:             TypePerson,
		Value:            "Alice",
		Confidence:       0.9,
		SourceDocumentID: "doc-1",
		ExtractionMethod: "pattern-person",
		Attributes:       map[string]string{"title": "Dr."},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)
	assert.NotEmpty(t, saved.ID)

	got, err := s.Get(ctx, "t1", saved.ID)
	require.NoError(t, err)
	assert.Equal(t, "Alice", got.Value)
	assert.Equal(t, TypePerson, got.Type)
	assert.Equal(t, 0.9, got.Confidence)
	assert.Equal(t, map[string]string{"title": "Dr."}, got.Attributes)
}

func TestGet_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "t1", "ent-missing")
	assert.True(t, errors.IsNotFoundError(err))
}

// Re-extracting an entity with the same (type, normalized value) appends a
// new version instead of duplicating it.
func TestSave_ReextractionAppendsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, "t1", Entity{
		Type: TypePerson, Value: "Alice", Confidence: 0.6,
		Attributes: map[string]string{"title": "Dr."},
	})
	require.NoError(t, err)

	second, err := s.Save(ctx, "t1", Entity{
		Type: TypePerson, Value: "alice", Confidence: 0.9,
		ExtractionMethod: "pattern-v2",
		Attributes:       map[string]string{"org": "Acme"},
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Version)
	assert.Equal(t, 0.9, second.Confidence)
	assert.Equal(t, "pattern-v2", second.ExtractionMethod)
	assert.Equal(t, map[string]string{"title": "Dr.", "org": "Acme"}, second.Attributes)

	// The version-1 row is untouched.
	var v1Confidence float64
	err = s.db.QueryRow(
		"SELECT confidence FROM entities WHERE id = ? AND version = 1", first.ID,
	).Scan(&v1Confidence)
	require.NoError(t, err)
	assert.Equal(t, 0.6, v1Confidence)
}

func TestSave_LowerConfidenceKeepsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.9})
	require.NoError(t, err)

	merged, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 0.9, merged.Confidence)
	assert.Equal(t, int64(2), merged.Version)
}

func TestListByDocumentAndType(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.9, SourceDocumentID: "doc-1"})
	require.NoError(t, err)
	_, err = s.Save(ctx, "t1", Entity{Type: TypeOrganization, Value: "Acme", Confidence: 0.8, SourceDocumentID: "doc-1"})
	require.NoError(t, err)
	_, err = s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Bob", Confidence: 0.7, SourceDocumentID: "doc-2"})
	require.NoError(t, err)

	fromDoc1, err := s.ListByDocument(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Len(t, fromDoc1, 2)

	people, err := s.ListByType(ctx, "t1", TypePerson)
	require.NoError(t, err)
	assert.Len(t, people, 2)
}

func TestSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.9})
	require.NoError(t, err)

	require.NoError(t, s.SoftDelete(ctx, "t1", saved.ID))

	_, err = s.Get(ctx, "t1", saved.ID)
	assert.True(t, errors.IsNotFoundError(err))

	// Both version rows remain stored.
	var count int
	err = s.db.QueryRow("SELECT COUNT(*) FROM entities WHERE id = ?", saved.ID).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestSoftDelete_RefusedWhileReferenced(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "t1", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.9})
	require.NoError(t, err)

	now := time.Now().UTC()
	_, err = s.db.Exec(`
		INSERT INTO relations (id, version, tenant_id, source_entity_id, target_entity_id,
			relation_type, confidence, created_at, updated_at)
		VALUES ('rel-1', 1, 't1', ?, 'ent-other', 'works_at', 0.8, ?, ?)`,
		saved.ID, now, now,
	)
	require.NoError(t, err)

	err = s.SoftDelete(ctx, "t1", saved.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// The entity is still live.
	_, err = s.Get(ctx, "t1", saved.ID)
	assert.NoError(t, err)
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, "tenant-a", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.9})
	require.NoError(t, err)

	_, err = s.Get(ctx, "tenant-b", saved.ID)
	assert.True(t, errors.IsNotFoundError(err))

	// Same value in another tenant creates a distinct entity, not a merge.
	other, err := s.Save(ctx, "tenant-b", Entity{Type: TypePerson, Value: "Alice", Confidence: 0.5})
	require.NoError(t, err)
	assert.NotEqual(t, saved.ID, other.ID)
	assert.Equal(t, int64(1), other.Version)
}

func TestNormalizeValue(t *testing.T) {
	assert.Equal(t, "alice smith", NormalizeValue("  Alice   Smith "))
	assert.Equal(t, "", NormalizeValue("   "))
}
