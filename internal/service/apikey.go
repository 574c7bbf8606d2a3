package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Carrie-PLH/plus/internal/catalog"
	"github.com/Carrie-PLH/plus/internal/models"
	"github.com/Carrie-PLH/plus/internal/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefix   = "plk"
	apiFeature  = "api"
	keyCacheTTL = 5 * time.Minute
)

var (
	ErrInvalidAPIKey     = errors.New("invalid API key")
	ErrAPIAccessRequired = errors.New("your plan does not include API access")
)

// APIKeyStore persists keys. repository.APIKeyRepository implements it.
type APIKeyStore interface {
	Create(ctx context.Context, apiKey *models.APIKey) error
	FindActive(ctx context.Context, id uuid.UUID) (*models.APIKey, error)
	ListByOwner(ctx context.Context, ownerUID string) ([]models.APIKey, error)
	UpdateLastUsed(ctx context.Context, id uuid.UUID, at time.Time) error
	Deactivate(ctx context.Context, ownerUID string, id uuid.UUID) error
}

type APIKeyService struct {
	store   APIKeyStore
	redis   *storage.RedisClient
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// NewAPIKeyService caches validated keys in redis when a client is given.
func NewAPIKeyService(store APIKeyStore, redis *storage.RedisClient, c *catalog.Catalog, logger *zap.Logger) *APIKeyService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIKeyService{
		store:   store,
		redis:   redis,
		catalog: c,
		logger:  logger,
	}
}

// Create issues a key for ownerUID, whose current tier must include API
// access. The plain key is returned once and never stored.
func (s *APIKeyService) Create(ctx context.Context, ownerUID, name, tier string) (string, *models.APIKey, error) {
	if !s.catalog.TierOrDefault(tier).HasFeature(apiFeature) {
		return "", nil, ErrAPIAccessRequired
	}

	// Generate random secret
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return "", nil, fmt.Errorf("failed to generate random key: %w", err)
	}
	secret := base64.RawURLEncoding.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", nil, fmt.Errorf("failed to hash key: %w", err)
	}

	apiKey := &models.APIKey{
		ID:       uuid.New(),
		KeyHash:  string(hash),
		Name:     name,
		OwnerUID: ownerUID,
		Tier:     tier,
		IsActive: true,
	}
	if err := s.store.Create(ctx, apiKey); err != nil {
		return "", nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return keyPrefix + "_" + apiKey.ID.String() + "_" + secret, apiKey, nil
}

// Validate returns the active key matching key, or ErrInvalidAPIKey.
func (s *APIKeyService) Validate(ctx context.Context, key string) (*models.APIKey, error) {
	id, secret, ok := parseKey(key)
	if !ok {
		return nil, ErrInvalidAPIKey
	}

	fp := fingerprint(key)
	if cached := s.cached(ctx, id, fp); cached != nil {
		return cached, nil
	}

	apiKey, err := s.store.FindActive(ctx, id)
	if err != nil {
		return nil, err
	}
	if apiKey == nil {
		return nil, ErrInvalidAPIKey
	}
	if err := bcrypt.CompareHashAndPassword([]byte(apiKey.KeyHash), []byte(secret)); err != nil {
		return nil, ErrInvalidAPIKey
	}

	s.cache(ctx, apiKey, fp)
	return apiKey, nil
}

func (s *APIKeyService) List(ctx context.Context, ownerUID string) ([]models.APIKey, error) {
	return s.store.ListByOwner(ctx, ownerUID)
}

// Revoke deactivates one of ownerUID's keys.
func (s *APIKeyService) Revoke(ctx context.Context, ownerUID, id string) error {
	keyID, err := uuid.Parse(id)
	if err != nil {
		return storage.ErrNotFound
	}
	if err := s.store.Deactivate(ctx, ownerUID, keyID); err != nil {
		return err
	}

	s.invalidateCache(ctx, keyID)
	return nil
}

func (s *APIKeyService) UpdateLastUsed(ctx context.Context, id uuid.UUID) {
	// Update asynchronously - don't block request
	if err := s.store.UpdateLastUsed(ctx, id, time.Now()); err != nil {
		s.logger.Warn("failed to update key last use", zap.String("key_id", id.String()), zap.Error(err))
	}
}

func parseKey(key string) (uuid.UUID, string, bool) {
	parts := strings.SplitN(strings.TrimSpace(key), "_", 3)
	if len(parts) != 3 || parts[0] != keyPrefix || parts[2] == "" {
		return uuid.Nil, "", false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.Nil, "", false
	}
	return id, parts[2], true
}

func fingerprint(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

type cachedKey struct {
	Fingerprint string        `json:"fingerprint"`
	Key         models.APIKey `json:"key"`
}

func cacheKey(id uuid.UUID) string {
	return fmt.Sprintf("apikey:cache:%s", id)
}

func (s *APIKeyService) cached(ctx context.Context, id uuid.UUID, fp string) *models.APIKey {
	if s.redis == nil {
		return nil
	}
	raw, err := s.redis.Get(ctx, cacheKey(id))
	if err != nil || raw == "" {
		return nil
	}
	var entry cachedKey
	if err := json.Unmarshal([]byte(raw), &entry); err != nil || entry.Fingerprint != fp {
		return nil
	}
	return &entry.Key
}

func (s *APIKeyService) cache(ctx context.Context, apiKey *models.APIKey, fp string) {
	if s.redis == nil {
		return
	}
	raw, err := json.Marshal(cachedKey{Fingerprint: fp, Key: *apiKey})
	if err != nil {
		return
	}
	if err := s.redis.Set(ctx, cacheKey(apiKey.ID), raw, keyCacheTTL); err != nil {
		s.logger.Debug("api key cache write failed", zap.Error(err))
	}
}

func (s *APIKeyService) invalidateCache(ctx context.Context, id uuid.UUID) {
	if s.redis == nil {
		return
	}
	if err := s.redis.Del(ctx, cacheKey(id)); err != nil {
		s.logger.Warn("api key cache invalidation failed", zap.String("key_id", id.String()), zap.Error(err))
	}
}
