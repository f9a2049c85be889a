package identity

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/yungbote/brains-backend/internal/platform/logger"
	"github.com/yungbote/brains-backend/internal/types"
)

type fakeAliasRepo struct {
	mapping map[string]string // "vantage|alias" -> canonical
	err     error
	links   []*types.UserAlias
}

func (f *fakeAliasRepo) GetCanonical(_ context.Context, _ *gorm.DB, vantageID, aliasUserID string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.mapping[vantageID+"|"+aliasUserID], nil
}

func (f *fakeAliasRepo) Upsert(_ context.Context, _ *gorm.DB, alias *types.UserAlias) error {
	f.links = append(f.links, alias)
	return nil
}

func (f *fakeAliasRepo) ListByCanonical(_ context.Context, _ *gorm.DB, canonicalUserID string) ([]*types.UserAlias, error) {
	var out []*types.UserAlias
	for key, canonical := range f.mapping {
		if canonical == canonicalUserID {
			out = append(out, &types.UserAlias{AliasUserID: key[len("default|"):], CanonicalUserID: canonical})
		}
	}
	return out, nil
}

func (f *fakeAliasRepo) DeleteByCanonical(context.Context, *gorm.DB, string) (int64, error) {
	return 0, nil
}

func newTestService(t *testing.T, repo *fakeAliasRepo) Service {
	t.Helper()
	log, err := logger.New("development")
	require.NoError(t, err)
	return NewService(repo, log)
}

func TestCanonicalResolvesAlias(t *testing.T) {
	svc := newTestService(t, &fakeAliasRepo{mapping: map[string]string{"default|web-123": "max"}})

	require.Equal(t, "max", svc.Canonical(context.Background(), "default", "web-123"))
	// Unknown aliases pass through unchanged.
	require.Equal(t, "web-999", svc.Canonical(context.Background(), "default", "web-999"))
	// Empty vantage means the default namespace.
	require.Equal(t, "max", svc.Canonical(context.Background(), "", "web-123"))
	require.Equal(t, "", svc.Canonical(context.Background(), "default", "   "))
}

func TestCanonicalFallsBackOnStorageError(t *testing.T) {
	svc := newTestService(t, &fakeAliasRepo{err: errors.New("db down")})
	require.Equal(t, "web-123", svc.Canonical(context.Background(), "default", "web-123"))
}

func TestLinkValidatesInputs(t *testing.T) {
	repo := &fakeAliasRepo{}
	svc := newTestService(t, repo)

	require.Error(t, svc.Link(context.Background(), "default", "", "max"))
	require.Error(t, svc.Link(context.Background(), "default", "web-1", ""))

	require.NoError(t, svc.Link(context.Background(), "", "web-1", "max"))
	require.Len(t, repo.links, 1)
	require.Equal(t, "default", repo.links[0].VantageID)
}

func TestSingletonCardID(t *testing.T) {
	a := SingletonCardID("max", "style", "__singleton__")
	b := SingletonCardID("max", "style", "__singleton__")
	require.Equal(t, a, b, "same inputs must derive the same id")

	require.NotEqual(t, a, SingletonCardID("max", "preference", "__singleton__"))
	require.NotEqual(t, a, SingletonCardID("ana", "style", "__singleton__"))

	// The id is keyed off the canonical user, never an alias.
	require.NotEqual(t, a, SingletonCardID("web-123", "style", "__singleton__"))
}
