package relation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	kgtesting "github.com/tracelight/kgraph/internal/testing"
	"github.com/tracelight/kgraph/provenance"
	"github.com/tracelight/kgraph/triple"
	"github.com/tracelight/kgraph/versioning"
)

func newTestMapper(t *testing.T) (*Mapper, *triple.Store, *provenance.Tracker) {
	t.Helper()
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()

	versions := versioning.NewManager(database, logger)
	triples := triple.NewStore(database, versions, db.DefaultRetryPolicy, logger)
	tracker := provenance.NewTracker(database, db.DefaultRetryPolicy, provenance.TrackerOptions{}, logger)
	relations := NewStore(database, db.DefaultRetryPolicy, logger)

	return NewMapper(relations, triples, tracker, logger), triples, tracker
}

func worksAt(source, target string) Relation {
	return Relation{
		SourceEntityID: source,
		TargetEntityID: target,
		Type:           TypeWorksAt,
		Confidence:     0.8,
		IsDirectional:  true,
		SourceContext:  "extracted from text",
	}
}

func TestMapAndStore(t *testing.T) {
	m, triples, tracker := newTestMapper(t)
	ctx := context.Background()

	stored, err := m.MapAndStore(ctx, "t1", worksAt("ent-alice", "ent-acme"), "")
	require.NoError(t, err)

	assert.Equal(t, "ent-alice", stored.SubjectID)
	assert.Equal(t, "kg://relations/works_at", stored.PredicateURI)
	assert.Equal(t, "ent-acme", stored.Object.Value)
	assert.False(t, stored.Object.IsLiteral)
	assert.Equal(t, triple.DefaultGraph, stored.GraphURI)

	// The triple is queryable by predicate.
	results, err := triples.Query(ctx, "t1", triple.Pattern{PredicateURI: "kg://relations/works_at"}, triple.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)

	// The triple's provenance carries the relation as a dependency.
	md, err := tracker.Get(ctx, "t1", stored.ID, provenance.ElementTriple)
	require.NoError(t, err)
	require.Len(t, md.Dependencies, 1)
	assert.Equal(t, provenance.ElementRelation, md.Dependencies[0].DependencyType)
	assert.Equal(t, "relation-mapper", md.ExtractionMethod)

	// The relation itself also has provenance, depending on its endpoints.
	relMD, err := tracker.Get(ctx, "t1", md.Dependencies[0].DependencyID, provenance.ElementRelation)
	require.NoError(t, err)
	assert.Len(t, relMD.Dependencies, 2)
}

func TestMapAndStore_CustomRelation(t *testing.T) {
	m, _, _ := newTestMapper(t)

	rel := Relation{
		SourceEntityID: "ent-a",
		TargetEntityID: "ent-b",
		Type:           TypeCustom,
		CustomName:     "mentors",
		Confidence:     0.6,
	}
	stored, err := m.MapAndStore(context.Background(), "t1", rel, "kg://graphs/hr")
	require.NoError(t, err)
	assert.Equal(t, "kg://relations/mentors", stored.PredicateURI)
	assert.Equal(t, "kg://graphs/hr", stored.GraphURI)
}

func TestMapAndStore_RemapIsIdempotent(t *testing.T) {
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()
	versions := versioning.NewManager(database, logger)
	triples := triple.NewStore(database, versions, db.DefaultRetryPolicy, logger)
	tracker := provenance.NewTracker(database, db.DefaultRetryPolicy, provenance.TrackerOptions{}, logger)
	m := NewMapper(NewStore(database, db.DefaultRetryPolicy, logger), triples, tracker, logger)
	ctx := context.Background()

	first, err := m.MapAndStore(ctx, "t1", worksAt("ent-alice", "ent-acme"), "")
	require.NoError(t, err)

	second, err := m.MapAndStore(ctx, "t1", worksAt("ent-alice", "ent-acme"), "")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	// Re-mapping must not leave a second relation row, and every persisted
	// relation has a provenance record.
	var relations, withProvenance int
	require.NoError(t, database.QueryRow(
		"SELECT COUNT(*) FROM relations WHERE tenant_id = ?", "t1",
	).Scan(&relations))
	require.NoError(t, database.QueryRow(
		"SELECT COUNT(DISTINCT element_id) FROM provenance WHERE tenant_id = ? AND element_type = 'relation'", "t1",
	).Scan(&withProvenance))
	assert.Equal(t, 1, relations)
	assert.Equal(t, relations, withProvenance)
}

func TestMapAndStoreBatch_RemapSucceeds(t *testing.T) {
	m, _, _ := newTestMapper(t)
	ctx := context.Background()

	rels := []Relation{
		worksAt("ent-alice", "ent-acme"),
		worksAt("ent-bob", "ent-acme"),
	}
	_, err := m.MapAndStoreBatch(ctx, "t1", rels, "")
	require.NoError(t, err)

	persisted, err := m.MapAndStoreBatch(ctx, "t1", rels, "")
	require.NoError(t, err)
	assert.Equal(t, 2, persisted)
}

func TestMapAndStoreBatch_PartialFailure(t *testing.T) {
	m, _, _ := newTestMapper(t)
	ctx := context.Background()

	rels := []Relation{
		worksAt("ent-alice", "ent-acme"),
		{SourceEntityID: "ent-bad", TargetEntityID: "ent-bad", Type: TypeWorksAt, Confidence: 0.5},
		worksAt("ent-bob", "ent-acme"),
	}

	persisted, err := m.MapAndStoreBatch(ctx, "t1", rels, "")
	assert.Equal(t, 2, persisted)

	partial, ok := errors.IsPartialFailure(err)
	require.True(t, ok)
	assert.Equal(t, 2, partial.Succeeded)
	assert.Equal(t, 1, partial.FailedCount())
}

func TestMapAndStoreBatch_AllSucceed(t *testing.T) {
	m, _, _ := newTestMapper(t)

	persisted, err := m.MapAndStoreBatch(context.Background(), "t1", []Relation{
		worksAt("ent-alice", "ent-acme"),
		worksAt("ent-bob", "ent-acme"),
	}, "")
	require.NoError(t, err)
	assert.Equal(t, 2, persisted)
}

func TestMapAndStoreBatch_Cancelled(t *testing.T) {
	m, _, _ := newTestMapper(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.MapAndStoreBatch(ctx, "t1", []Relation{worksAt("ent-a", "ent-b")}, "")
	assert.True(t, errors.Is(err, errors.ErrCancelled))
}
