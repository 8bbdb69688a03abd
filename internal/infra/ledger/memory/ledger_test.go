package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carechain/pkg/domain"
)

func TestMintAndLookups(t *testing.T) {
	l := New()
	ctx := context.Background()

	anchorID, txRef, err := l.Mint(ctx, "owner", "p1", "a1", "records/p1/h1.json", "h1")
	require.NoError(t, err)
	assert.NotEmpty(t, anchorID)
	assert.NotEmpty(t, txRef)
	assert.Equal(t, 1, l.AnchorCount())

	bySubject, err := l.AnchorForSubject(ctx, "p1")
	require.NoError(t, err)
	byAnalysis, err := l.AnchorForAnalysis(ctx, "a1")
	require.NoError(t, err)
	assert.Equal(t, bySubject, byAnalysis)
	assert.Equal(t, "h1", bySubject.ContentHash)
	assert.Equal(t, "owner", bySubject.OwnerAddress)

	ref, err := l.ContentRefOf(ctx, anchorID)
	require.NoError(t, err)
	assert.Equal(t, "records/p1/h1.json", ref)
}

func TestMintUniquenessConflicts(t *testing.T) {
	l := New()
	ctx := context.Background()

	_, _, err := l.Mint(ctx, "owner", "p1", "a1", "u1", "h1")
	require.NoError(t, err)

	_, _, err = l.Mint(ctx, "owner", "p1", "a2", "u2", "h2")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))

	_, _, err = l.Mint(ctx, "owner", "p2", "a1", "u3", "h3")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))

	assert.Equal(t, 1, l.AnchorCount())
}

func TestUpdateContentRebinds(t *testing.T) {
	l := New()
	ctx := context.Background()

	anchorID, _, err := l.Mint(ctx, "owner", "p1", "a1", "u1", "h1")
	require.NoError(t, err)

	txRef, err := l.UpdateContent(ctx, anchorID, "a2", "u2", "h2")
	require.NoError(t, err)
	assert.NotEmpty(t, txRef)

	anchor, err := l.AnchorForSubject(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, "u2", anchor.ContentURI)
	assert.Equal(t, "h2", anchor.ContentHash)

	// Both analyses still resolve to the single anchor.
	a1, err := l.AnchorForAnalysis(ctx, "a1")
	require.NoError(t, err)
	a2, err := l.AnchorForAnalysis(ctx, "a2")
	require.NoError(t, err)
	assert.Equal(t, anchorID, a1.AnchorID)
	assert.Equal(t, anchorID, a2.AnchorID)
}

func TestUpdateContentDuplicateAnalysis(t *testing.T) {
	l := New()
	ctx := context.Background()

	anchorID, _, err := l.Mint(ctx, "owner", "p1", "a1", "u1", "h1")
	require.NoError(t, err)

	_, err = l.UpdateContent(ctx, anchorID, "a1", "u2", "h2")
	require.Error(t, err)
	assert.Equal(t, domain.KindConflict, domain.Kind(err))
}

func TestLookupsMissAsNotFound(t *testing.T) {
	l := New()
	ctx := context.Background()

	_, err := l.AnchorForSubject(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
	_, err = l.AnchorForAnalysis(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
	_, err = l.ContentRefOf(ctx, "ghost")
	assert.True(t, domain.IsNotFound(err))
}
