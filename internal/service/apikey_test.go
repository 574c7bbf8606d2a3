package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryKeys struct {
	mu   sync.Mutex
	keys map[uuid.UUID]*models.APIKey
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{keys: map[uuid.UUID]*models.APIKey{}}
}

func (m *memoryKeys) Create(_ context.Context, k *models.APIKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *k
	cp.CreatedAt = time.Now()
	m.keys[k.ID] = &cp
	return nil
}

func (m *memoryKeys) FindActive(_ context.Context, id uuid.UUID) (*models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || !k.IsActive {
		return nil, nil
	}
	cp := *k
	return &cp, nil
}

func (m *memoryKeys) ListByOwner(_ context.Context, owner string) ([]models.APIKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.APIKey
	for _, k := range m.keys {
		if k.OwnerUID == owner {
			out = append(out, *k)
		}
	}
	return out, nil
}

func (m *memoryKeys) UpdateLastUsed(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if k, ok := m.keys[id]; ok {
		k.LastUsedAt = &at
	}
	return nil
}

func (m *memoryKeys) Deactivate(_ context.Context, owner string, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k, ok := m.keys[id]
	if !ok || k.OwnerUID != owner {
		return storage.ErrNotFound
	}
	k.IsActive = false
	return nil
}

func newKeyService(t *testing.T) (*APIKeyService, *memoryKeys) {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	store := newMemoryKeys()
	return NewAPIKeyService(store, nil, c, nil), store
}

func TestAPIKeyService_CreateAndValidate(t *testing.T) {
	s, _ := newKeyService(t)
	ctx := context.Background()

	plain, key, err := s.Create(ctx, "owner-1", "ehr sync", "enterprise")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(plain, "plk_"+key.ID.String()+"_"))
	assert.NotContains(t, key.KeyHash, strings.TrimPrefix(plain, "plk_"+key.ID.String()+"_"))

	got, err := s.Validate(ctx, plain)
	require.NoError(t, err)
	assert.Equal(t, "owner-1", got.OwnerUID)
	assert.Equal(t, "enterprise", got.Tier)
}

func TestAPIKeyService_RequiresAPIFeature(t *testing.T) {
	s, _ := newKeyService(t)

	_, _, err := s.Create(context.Background(), "owner-1", "k", "professional")
	assert.ErrorIs(t, err, ErrAPIAccessRequired)

	_, _, err = s.Create(context.Background(), "owner-1", "k", "clinicPro")
	assert.NoError(t, err)
}

func TestAPIKeyService_RejectsBadKeys(t *testing.T) {
	s, _ := newKeyService(t)
	ctx := context.Background()

	plain, key, err := s.Create(ctx, "owner-1", "k", "enterprise")
	require.NoError(t, err)

	for _, bad := range []string{
		"",
		"plk_notauuid_secret",
		"sk_" + key.ID.String() + "_secret",
		"plk_" + key.ID.String() + "_",
		"plk_" + key.ID.String() + "_wrongsecret",
		"plk_" + uuid.NewString() + "_" + strings.SplitN(plain, "_", 3)[2],
	} {
		_, err := s.Validate(ctx, bad)
		assert.ErrorIs(t, err, ErrInvalidAPIKey, bad)
	}
}

func TestAPIKeyService_Revoke(t *testing.T) {
	s, _ := newKeyService(t)
	ctx := context.Background()

	plain, key, err := s.Create(ctx, "owner-1", "k", "enterprise")
	require.NoError(t, err)

	assert.ErrorIs(t, s.Revoke(ctx, "someone-else", key.ID.String()), storage.ErrNotFound)
	assert.ErrorIs(t, s.Revoke(ctx, "owner-1", "not-a-uuid"), storage.ErrNotFound)
	require.NoError(t, s.Revoke(ctx, "owner-1", key.ID.String()))

	_, err = s.Validate(ctx, plain)
	assert.ErrorIs(t, err, ErrInvalidAPIKey)

	keys, err := s.List(ctx, "owner-1")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.False(t, keys[0].IsActive)
}

func TestAPIKeyService_UpdateLastUsed(t *testing.T) {
	s, store := newKeyService(t)
	ctx := context.Background()

	_, key, err := s.Create(ctx, "owner-1", "k", "enterprise")
	require.NoError(t, err)

	s.UpdateLastUsed(ctx, key.ID)
	assert.NotNil(t, store.keys[key.ID].LastUsedAt)
}
