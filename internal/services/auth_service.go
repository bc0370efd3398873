// Package services – Authenticator and KeyService
//
// Authenticator resolves a "key_id:secret" credential to an APIKey and
// enforces the read < write < admin ordering. Unknown key ids and wrong
// secrets produce the same error and take the same bcrypt time.
//
// KeyService is the admin side: it mints keys (returning the secret once),
// lists and deletes them, and bootstraps the first admin key.
package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
	"github.com/tbourn/ucp-shopping-agent/internal/utils"
)

var authFailures = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "ucp_auth_failures_total",
		Help: "Rejected API key authentications by reason.",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(authFailures)
}

var (
	dummyHashOnce sync.Once
	dummyHash     []byte
)

// dummySecretHash is compared against when the key id is unknown.
func dummySecretHash() []byte {
	dummyHashOnce.Do(func() {
		h, err := bcrypt.GenerateFromPassword([]byte("ucp_sk_dummy-secret-for-timing"), bcrypt.DefaultCost)
		if err != nil {
			panic(err)
		}
		dummyHash = h
	})
	return dummyHash
}

// Authenticator validates credentials against stored keys.
type Authenticator struct {
	DB    *gorm.DB
	Cache KeyCache
	Now   func() time.Time
}

// NewAuthenticator returns an Authenticator. A nil cache disables caching.
func NewAuthenticator(db *gorm.DB, cache KeyCache) *Authenticator {
	return &Authenticator{DB: db, Cache: cache, Now: func() time.Time { return time.Now().UTC() }}
}

// Authenticate checks credential for the required permission. An empty
// credential passes read checks with a nil key.
func (a *Authenticator) Authenticate(ctx context.Context, credential string, required domain.Permission) (*domain.APIKey, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		if required == domain.PermRead {
			return nil, nil
		}
		authFailures.WithLabelValues("missing").Inc()
		return nil, ErrAuthRequired
	}

	keyID, secret, ok := splitCredential(credential)
	if !ok {
		authFailures.WithLabelValues("format").Inc()
		return nil, ErrInvalidFormat
	}

	k, err := a.lookup(ctx, keyID)
	if err != nil {
		return nil, err
	}
	if k == nil {
		_ = bcrypt.CompareHashAndPassword(dummySecretHash(), []byte(secret))
		authFailures.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidKey
	}
	if bcrypt.CompareHashAndPassword([]byte(k.SecretHash), []byte(secret)) != nil {
		authFailures.WithLabelValues("invalid").Inc()
		return nil, ErrInvalidKey
	}
	if !k.Permissions.Allows(required) {
		authFailures.WithLabelValues("permission").Inc()
		return nil, ErrInsufficientPermission
	}

	now := a.Now()
	if err := repo.TouchAPIKey(ctx, a.DB, k.ID, now); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("key_id", k.KeyID).Msg("update last_access failed")
	} else {
		k.LastAccess = &now
	}
	return k, nil
}

// lookup returns the key for keyID, nil when it does not exist.
func (a *Authenticator) lookup(ctx context.Context, keyID string) (*domain.APIKey, error) {
	if a.Cache != nil {
		if k, hit := a.Cache.Get(ctx, keyID); hit {
			return k, nil
		}
	}
	k, err := repo.GetAPIKeyByKeyID(ctx, a.DB, keyID)
	if errors.Is(err, repo.ErrNotFound) {
		k = nil
	} else if err != nil {
		return nil, err
	}
	if a.Cache != nil {
		a.Cache.Set(ctx, keyID, k)
	}
	return k, nil
}

// splitCredential requires exactly two non-empty colon separated parts.
func splitCredential(s string) (keyID, secret string, ok bool) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// KeyService administers API keys.
type KeyService struct {
	DB    *gorm.DB
	Cache KeyCache
	// Cost is the bcrypt cost for new secrets.
	Cost int
}

// NewKeyService returns a KeyService using bcrypt.DefaultCost.
func NewKeyService(db *gorm.DB, cache KeyCache) *KeyService {
	return &KeyService{DB: db, Cache: cache, Cost: bcrypt.DefaultCost}
}

// Create mints a key. The plaintext secret is only ever returned here.
func (s *KeyService) Create(ctx context.Context, owner, description string, perm domain.Permission) (*domain.APIKey, string, error) {
	if _, ok := domain.ParsePermission(string(perm)); !ok {
		return nil, "", fmt.Errorf("unknown permission %q", perm)
	}
	idPart, err := randomAlnum(24)
	if err != nil {
		return nil, "", err
	}
	secretPart, err := randomAlnum(32)
	if err != nil {
		return nil, "", err
	}
	secret := "ucp_sk_" + secretPart

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), s.Cost)
	if err != nil {
		return nil, "", err
	}
	k := &domain.APIKey{
		KeyID:       "ucp_" + idPart,
		SecretHash:  string(hash),
		Permissions: perm,
		Owner:       strings.TrimSpace(owner),
		Description: strings.TrimSpace(description),
	}
	if err := repo.CreateAPIKey(ctx, s.DB, k); err != nil {
		return nil, "", err
	}
	// A cached miss for this id would hide the new key until it expires.
	if s.Cache != nil {
		s.Cache.Delete(ctx, k.KeyID)
	}
	return k, secret, nil
}

// ListPage returns a page of keys and the total count.
func (s *KeyService) ListPage(ctx context.Context, page, pageSize int) ([]domain.APIKey, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = utils.DefaultPerPage
	}
	total, err := repo.CountAPIKeys(ctx, s.DB)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.APIKey{}, 0, nil
	}
	items, err := repo.ListAPIKeysPage(ctx, s.DB, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Delete removes key id together with its webhook subscriptions.
func (s *KeyService) Delete(ctx context.Context, id uint) error {
	k, err := repo.GetAPIKey(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.DeleteWebhooksByKey(ctx, tx, id); err != nil {
			return err
		}
		return repo.DeleteAPIKey(ctx, tx, id)
	})
	if errors.Is(err, repo.ErrNotFound) {
		return ErrKeyNotFound
	}
	if err != nil {
		return err
	}
	if s.Cache != nil {
		s.Cache.Delete(ctx, k.KeyID)
	}
	return nil
}

// EnsureBootstrapAdmin creates an admin key for owner when no key exists yet.
// created is false when keys were already present.
func (s *KeyService) EnsureBootstrapAdmin(ctx context.Context, owner string) (k *domain.APIKey, secret string, created bool, err error) {
	n, err := repo.CountAPIKeys(ctx, s.DB)
	if err != nil || n > 0 {
		return nil, "", false, err
	}
	k, secret, err = s.Create(ctx, owner, "bootstrap admin key", domain.PermAdmin)
	if err != nil {
		return nil, "", false, err
	}
	return k, secret, true, nil
}

const alnum = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// randomAlnum returns n characters drawn uniformly from [a-zA-Z0-9].
func randomAlnum(n int) (string, error) {
	max := big.NewInt(int64(len(alnum)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(alnum[idx.Int64()])
	}
	return b.String(), nil
}
