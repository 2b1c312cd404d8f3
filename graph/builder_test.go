package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/tracelight/kgraph/db"
	"github.com/tracelight/kgraph/errors"
	kgtesting "github.com/tracelight/kgraph/internal/testing"
	"github.com/tracelight/kgraph/internal/util"
	"github.com/tracelight/kgraph/triple"
	"github.com/tracelight/kgraph/versioning"
)

func newTestBuilder(t *testing.T) (*Builder, *triple.Store) {
	t.Helper()
	database := kgtesting.CreateTestDB(t)
	logger := zaptest.NewLogger(t).Sugar()
	versions := versioning.NewManager(database, logger)
	triples := triple.NewStore(database, versions, db.DefaultRetryPolicy, logger)
	return NewBuilder(triples, logger), triples
}

func mustInsert(t *testing.T, s *triple.Store, tenantID, subject, predicate string, object triple.Object) {
	t.Helper()
	_, err := s.Insert(context.Background(), tenantID,
		triple.Key{SubjectID: subject, PredicateURI: predicate}, object)
	require.NoError(t, err)
}

func TestBuild(t *testing.T) {
	b, triples := newTestBuilder(t)
	ctx := context.Background()

	mustInsert(t, triples, "t1", "ent-alice", "kg://relations/works_at", triple.Ref("ent-acme"))
	mustInsert(t, triples, "t1", "ent-alice", NodeTypePredicate, triple.Literal("person"))
	mustInsert(t, triples, "t1", "ent-alice", "kg://predicates/title", triple.Literal("Engineer"))
	mustInsert(t, triples, "t1", "ent-acme", NodeTypePredicate, triple.Literal("organization"))

	g, err := b.Build(ctx, "t1", triple.Pattern{}, triple.QueryOptions{})
	require.NoError(t, err)

	require.Len(t, g.Nodes, 2)
	assert.Equal(t, "ent-acme", g.Nodes[0].ID)
	assert.Equal(t, "organization", g.Nodes[0].Type)
	assert.Equal(t, "ent-alice", g.Nodes[1].ID)
	assert.Equal(t, "person", g.Nodes[1].Type)
	assert.Equal(t, "Engineer", g.Nodes[1].Metadata["kg://predicates/title"])

	require.Len(t, g.Links, 1)
	assert.Equal(t, "ent-alice", g.Links[0].Source)
	assert.Equal(t, "ent-acme", g.Links[0].Target)
	assert.Equal(t, "kg://relations/works_at", g.Links[0].Type)
	assert.Equal(t, defaultLinkWeight, g.Links[0].Weight)

	assert.Equal(t, 2, g.Meta.Stats.TotalNodes)
	assert.Equal(t, 1, g.Meta.Stats.TotalEdges)
	assert.Equal(t, []NodeTypeInfo{{Type: "organization", Count: 1}, {Type: "person", Count: 1}}, g.Meta.NodeTypes)
}

func TestBuild_WeightAccumulates(t *testing.T) {
	b, triples := newTestBuilder(t)
	ctx := context.Background()

	mustInsert(t, triples, "t1", "ent-a", "kg://relations/related_to", triple.Ref("ent-b"))
	// A second identical fact in another graph accumulates weight when
	// projected together.
	_, err := triples.Insert(ctx, "t1",
		triple.Key{SubjectID: "ent-a", PredicateURI: "kg://relations/related_to", GraphURI: "kg://graphs/other"},
		triple.Ref("ent-b"))
	require.NoError(t, err)

	g, err := b.Build(ctx, "t1", triple.Pattern{SubjectID: "ent-a"}, triple.QueryOptions{})
	require.NoError(t, err)
	require.Len(t, g.Links, 1)
	assert.Equal(t, defaultLinkWeight+linkWeightIncrement, g.Links[0].Weight)
}

func TestBuild_AsOfVersion(t *testing.T) {
	b, triples := newTestBuilder(t)
	ctx := context.Background()

	mustInsert(t, triples, "t1", "ent-a", "kg://relations/owns", triple.Ref("ent-b"))
	mustInsert(t, triples, "t1", "ent-c", "kg://relations/owns", triple.Ref("ent-d"))

	g, err := b.Build(ctx, "t1", triple.Pattern{}, triple.QueryOptions{AsOfVersion: util.Ptr(int64(1))})
	require.NoError(t, err)
	assert.Equal(t, 2, g.Meta.Stats.TotalNodes)
	assert.Equal(t, 1, g.Meta.Stats.TotalEdges)
	require.NotNil(t, g.Meta.AsOfVersion)
	assert.Equal(t, int64(1), *g.Meta.AsOfVersion)
}

func TestBuild_TenantIsolation(t *testing.T) {
	b, triples := newTestBuilder(t)
	ctx := context.Background()

	mustInsert(t, triples, "tenant-a", "ent-a", "kg://relations/owns", triple.Ref("ent-b"))

	g, err := b.Build(ctx, "tenant-b", triple.Pattern{}, triple.QueryOptions{})
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)
	assert.Empty(t, g.Links)

	_, err = b.Build(ctx, "", triple.Pattern{}, triple.QueryOptions{})
	assert.True(t, errors.IsTenantIsolationError(err))
}

func TestBuild_Deterministic(t *testing.T) {
	b, triples := newTestBuilder(t)
	ctx := context.Background()

	mustInsert(t, triples, "t1", "ent-z", "kg://relations/owns", triple.Ref("ent-a"))
	mustInsert(t, triples, "t1", "ent-m", "kg://relations/owns", triple.Ref("ent-b"))

	first, err := b.Build(ctx, "t1", triple.Pattern{}, triple.QueryOptions{})
	require.NoError(t, err)
	second, err := b.Build(ctx, "t1", triple.Pattern{}, triple.QueryOptions{})
	require.NoError(t, err)
	assert.Equal(t, first.Nodes, second.Nodes)
	assert.Equal(t, first.Links, second.Links)
}
