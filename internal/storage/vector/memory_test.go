package vector

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pkgerrors "civic-mesh/pkg/errors"
)

func seed(t *testing.T, s *MemoryStore) map[string]string {
	t.Helper()
	ctx := context.Background()
	ids := map[string]string{}
	for _, a := range []struct {
		title, status string
		congress      int
		vec           []float64
		topics        []string
	}{
		{"Healthcare Act", "passed", 118, []float64{1, 0, 0}, []string{"healthcare"}},
		{"Healthcare Expansion", "introduced", 118, []float64{0.9, 0.1, 0}, []string{"medicaid"}},
		{"Farm Bill", "passed", 117, []float64{0, 1, 0}, nil},
		{"Tax Reform", "passed", 118, []float64{0, 0, 1}, nil},
		{"Clean Air", "passed", 118, []float64{0.5, 0.5, 0}, nil},
	} {
		id, err := s.StoreArtifact(ctx, &Artifact{
			Title: a.title, Content: a.title + " text", Status: a.status, Congress: a.congress, KeyTopics: a.topics,
		}, a.vec)
		require.NoError(t, err)
		ids[a.title] = id
	}
	require.NoError(t, s.StoreClause(ctx, &Clause{Article: "I", Section: "8", Text: "commerce"}, []float64{1, 0, 0}))
	require.NoError(t, s.StoreClause(ctx, &Clause{Article: "II", Section: "1", Text: "executive"}, []float64{0, 1, 0}))
	require.NoError(t, s.StoreClause(ctx, &Clause{Article: "III", Section: "2", Text: "judicial"}, []float64{0, 0, 1}))
	return ids
}

func TestMemoryStore_SemanticSearch(t *testing.T) {
	s := NewMemoryStore(3)
	seed(t, s)
	ctx := context.Background()

	hits, err := s.SemanticSearch(ctx, []float64{1, 0, 0}, CollectionLegislative, nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "Healthcare Act", hits[0].Title)
	assert.Equal(t, "Healthcare Expansion", hits[1].Title)
	assert.InDelta(t, 1.0, hits[0].Similarity, 1e-9)
	assert.Equal(t, []string{"healthcare"}, hits[0].KeyTopics)

	hits, err = s.SemanticSearch(ctx, []float64{1, 0, 0}, CollectionLegislative, &SearchFilter{Congress: 117}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "Farm Bill", hits[0].Title)

	_, err = s.SemanticSearch(ctx, []float64{1, 0}, CollectionLegislative, nil, 10)
	assert.True(t, errors.Is(err, pkgerrors.ErrInvalidArg))
	_, err = s.SemanticSearch(ctx, []float64{1, 0, 0}, "civic", nil, 10)
	assert.Error(t, err)
}

func TestMemoryStore_RetrieveForRAG(t *testing.T) {
	s := NewMemoryStore(3)
	seed(t, s)
	rag, err := s.RetrieveForRAG(context.Background(), []float64{1, 0, 0}, []string{CollectionLegislative, CollectionConstitutional})
	require.NoError(t, err)

	// 只取已通过的法案，最多 3 条
	require.Len(t, rag.Legislation, 3)
	for _, h := range rag.Legislation {
		assert.NotEqual(t, "Healthcare Expansion", h.Title)
	}
	assert.Equal(t, "Healthcare Act", rag.Legislation[0].Title)

	require.Len(t, rag.Constitutional, 2)
	assert.Equal(t, "Art. I, Sec. 8", rag.Constitutional[0].Reference)
	assert.Equal(t, "commerce", rag.Constitutional[0].Clause)
	assert.Equal(t, []string{"legislation", "constitutional"}, rag.Keys())

	only, err := s.RetrieveForRAG(context.Background(), []float64{1, 0, 0}, []string{CollectionConstitutional})
	require.NoError(t, err)
	assert.Empty(t, only.Legislation)
	assert.Len(t, only.Constitutional, 2)
}

func TestMemoryStore_ArtifactDefaultsAndScore(t *testing.T) {
	s := NewMemoryStore(0)
	ctx := context.Background()
	id, err := s.StoreArtifact(ctx, &Artifact{Title: "T", Content: strings.Repeat("x", 800)}, []float64{1})
	require.NoError(t, err)

	a, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, "bill", a.Type)
	assert.Equal(t, 118, a.Congress)
	assert.Equal(t, 2, a.Session)
	assert.Equal(t, "introduced", a.Status)

	hits, err := s.SemanticSearch(ctx, []float64{1}, "", nil, 1)
	require.NoError(t, err)
	assert.Len(t, hits[0].Content, 500)
	assert.Nil(t, hits[0].Constitutionality)

	require.NoError(t, s.UpdateConstitutionalityScore(ctx, id, 0.7, []string{"commerce clause"}))
	a, _ = s.Get(id)
	require.NotNil(t, a.ConstitutionalityScore)
	assert.Equal(t, 0.7, *a.ConstitutionalityScore)
	assert.Equal(t, []string{"commerce clause"}, a.ConstitutionalIssues)

	err = s.UpdateConstitutionalityScore(ctx, "missing", 0.1, nil)
	assert.True(t, errors.Is(err, pkgerrors.ErrNotFound))

	_, err = s.StoreArtifact(ctx, &Artifact{Title: "no content"}, []float64{1})
	assert.True(t, errors.Is(err, pkgerrors.ErrInvalidArg))
}
