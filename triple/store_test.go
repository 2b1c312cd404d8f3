package triple

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	kgtesting "github.com/tracelight/kgraph/internal/testing"
	"github.com/tracelight/kgraph/versioning"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()
	vm := versioning.NewManager(database, logger)
	return NewStore(database, vm, db.DefaultRetryPolicy, logger)
}

func asOfVersion(v int64) QueryOptions {
	return QueryOptions{AsOfVersion: &v}
}

func TestInsert_Validation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	t.Run("empty subject", func(t *testing.T) {
		_, err := s.Insert(ctx, "t1", Key{PredicateURI: "p"}, Literal("v"))
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("empty predicate", func(t *testing.T) {
		_, err := s.Insert(ctx, "t1", Key{SubjectID: "s"}, Literal("v"))
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("empty object", func(t *testing.T) {
		_, err := s.Insert(ctx, "t1", Key{SubjectID: "s", PredicateURI: "p"}, Object{})
		assert.True(t, errors.IsValidationError(err))
	})

	t.Run("missing tenant", func(t *testing.T) {
		_, err := s.Insert(ctx, "", Key{SubjectID: "s", PredicateURI: "p"}, Literal("v"))
		assert.True(t, errors.IsTenantIsolationError(err))
	})
}

func TestInsert_AssignsVersionAndDefaultGraph(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	got, err := s.Insert(ctx, "t1", Key{SubjectID: "doc1", PredicateURI: "hasTitle"}, Literal("Budget 2024"))
	require.NoError(t, err)

	assert.Equal(t, int64(1), got.Version)
	assert.Equal(t, DefaultGraph, got.GraphURI)
	assert.Equal(t, ChangeInsert, got.ChangeType)
	assert.Nil(t, got.ValidTo)
	assert.False(t, got.ValidFrom.IsZero())
}

func TestInsert_DuplicateLiveTripleConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{SubjectID: "doc1", PredicateURI: "hasTag"}

	_, err := s.Insert(ctx, "t1", key, Literal("finance"))
	require.NoError(t, err)

	_, err = s.Insert(ctx, "t1", key, Literal("finance"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	// A different object under the same key is a separate fact, not a conflict.
	_, err = s.Insert(ctx, "t1", key, Literal("fy2024"))
	assert.NoError(t, err)
}

// Version 1 holds "Budget 2024", version 2 supersedes it with
// "Budget FY24", and the version-1 snapshot still reproduces the
// original value.
func TestUpdate_TemporalRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{SubjectID: "doc1", PredicateURI: "hasTitle", GraphURI: "g1"}

	v1, err := s.Insert(ctx, "t1", key, Literal("Budget 2024"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), v1.Version)

	v2, err := s.Update(ctx, "t1", key, Literal("Budget FY24"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), v2.Version)
	assert.Equal(t, ChangeUpdate, v2.ChangeType)

	latest, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, "Budget FY24", latest[0].Object.Value)

	atV1, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, asOfVersion(1))
	require.NoError(t, err)
	require.Len(t, atV1, 1)
	assert.Equal(t, "Budget 2024", atV1[0].Object.Value)
}

func TestAppendOnlyInvariant(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{SubjectID: "doc1", PredicateURI: "hasTitle"}

	v1, err := s.Insert(ctx, "t1", key, Literal("original"))
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", key, Literal("revised"))
	require.NoError(t, err)

	history, err := s.History(ctx, "t1", key)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// The prior record keeps its identity, object, and validFrom; only
	// valid_to and superseded_version were set when it was closed.
	closed := history[0]
	assert.Equal(t, v1.ID, closed.ID)
	assert.Equal(t, "original", closed.Object.Value)
	assert.Equal(t, v1.ValidFrom.Unix(), closed.ValidFrom.Unix())
	require.NotNil(t, closed.ValidTo)
	require.NotNil(t, closed.SupersededVersion)
	assert.Equal(t, int64(2), *closed.SupersededVersion)

	current := history[1]
	assert.Nil(t, current.ValidTo)
	assert.Nil(t, current.SupersededVersion)
}

func TestUpdate_MissingKey(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Update(context.Background(), "t1", Key{SubjectID: "ghost", PredicateURI: "p"}, Literal("v"))
	require.Error(t, err)
	assert.True(t, errors.IsNotFoundError(err))
}

func TestSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{SubjectID: "doc1", PredicateURI: "hasTitle"}

	_, err := s.Insert(ctx, "t1", key, Literal("Budget 2024"))
	require.NoError(t, err)

	tombstone, err := s.SoftDelete(ctx, "t1", key)
	require.NoError(t, err)
	assert.Equal(t, ChangeDelete, tombstone.ChangeType)
	assert.True(t, tombstone.IsDeleted)
	assert.Equal(t, "Budget 2024", tombstone.Object.Value)

	t.Run("hidden by default", func(t *testing.T) {
		results, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, QueryOptions{})
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("visible with IncludeDeleted", func(t *testing.T) {
		results, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, QueryOptions{IncludeDeleted: true})
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.True(t, results[0].IsDeleted)
	})

	t.Run("pre-delete snapshot still sees the triple", func(t *testing.T) {
		results, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, asOfVersion(1))
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "Budget 2024", results[0].Object.Value)
	})
}

// Temporal round-trip over a full mutation sequence: the snapshot at each
// version must reproduce the observable state at the time that version was
// issued.
func TestTemporalRoundTripAcrossMutationSequence(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	key := Key{SubjectID: "doc1", PredicateURI: "status"}

	_, err := s.Insert(ctx, "t1", key, Literal("draft")) // v1
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", key, Literal("review")) // v2
	require.NoError(t, err)
	_, err = s.Update(ctx, "t1", key, Literal("final")) // v3
	require.NoError(t, err)
	_, err = s.SoftDelete(ctx, "t1", key) // v4
	require.NoError(t, err)

	expected := map[int64]string{1: "draft", 2: "review", 3: "final"}
	for version, want := range expected {
		results, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, asOfVersion(version))
		require.NoError(t, err)
		require.Len(t, results, 1, "as of version %d", version)
		assert.Equal(t, want, results[0].Object.Value, "as of version %d", version)
	}

	// After the delete the latest view is empty.
	results, err := s.Query(ctx, "t1", Pattern{SubjectID: "doc1"}, QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestQuery_PatternShapes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "t1", Key{SubjectID: "alice", PredicateURI: "worksAt", GraphURI: "g1"}, Ref("acme"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "t1", Key{SubjectID: "alice", PredicateURI: "knows", GraphURI: "g1"}, Ref("bob"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "t1", Key{SubjectID: "bob", PredicateURI: "worksAt", GraphURI: "g2"}, Ref("acme"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		pattern Pattern
		want    int
	}{
		{"by subject", Pattern{SubjectID: "alice"}, 2},
		{"by predicate", Pattern{PredicateURI: "worksAt"}, 2},
		{"by object", Pattern{Object: "acme"}, 2},
		{"by subject and predicate", Pattern{SubjectID: "alice", PredicateURI: "worksAt"}, 1},
		{"by predicate and object", Pattern{PredicateURI: "worksAt", Object: "acme"}, 2},
		{"by graph", Pattern{GraphURI: "g2"}, 1},
		{"wildcard", Pattern{}, 3},
		{"no match", Pattern{SubjectID: "carol"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results, err := s.Query(ctx, "t1", tt.pattern, QueryOptions{})
			require.NoError(t, err)
			assert.Len(t, results, tt.want)
		})
	}
}

func TestTenantIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "tenant-a", Key{SubjectID: "secret", PredicateURI: "value"}, Literal("a-data"))
	require.NoError(t, err)
	_, err = s.Insert(ctx, "tenant-b", Key{SubjectID: "secret", PredicateURI: "value"}, Literal("b-data"))
	require.NoError(t, err)

	results, err := s.Query(ctx, "tenant-a", Pattern{}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a-data", results[0].Object.Value)

	// Mutations in one tenant never touch the other's facts.
	_, err = s.SoftDelete(ctx, "tenant-a", Key{SubjectID: "secret", PredicateURI: "value"})
	require.NoError(t, err)

	results, err = s.Query(ctx, "tenant-b", Pattern{}, QueryOptions{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "b-data", results[0].Object.Value)
}

func TestQuerySeq_LazyAndRestartable(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, subj := range []string{"a", "b", "c"} {
		_, err := s.Insert(ctx, "t1", Key{SubjectID: subj, PredicateURI: "p"}, Literal("v-"+subj))
		require.NoError(t, err)
	}

	seq, err := s.QuerySeq(ctx, "t1", Pattern{}, QueryOptions{})
	require.NoError(t, err)

	// First pass: stop early.
	var first []string
	for tr, err := range seq {
		require.NoError(t, err)
		first = append(first, tr.SubjectID)
		if len(first) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"a", "b"}, first)

	// Second pass restarts from the beginning.
	var second []string
	for tr, err := range seq {
		require.NoError(t, err)
		second = append(second, tr.SubjectID)
	}
	assert.Equal(t, []string{"a", "b", "c"}, second)
}

func TestQuery_Limit(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, subj := range []string{"a", "b", "c", "d"} {
		_, err := s.Insert(ctx, "t1", Key{SubjectID: subj, PredicateURI: "p"}, Literal("v"))
		require.NoError(t, err)
	}

	results, err := s.Query(ctx, "t1", Pattern{}, QueryOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
