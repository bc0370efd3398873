// Package signing manages the Ed25519 keys used to sign outbound webhooks.
// At most two keys exist: the current key signs, the previous key stays
// published so receivers can verify deliveries made just before a rotation.
//
// Public halves are exposed as a JWK set. Private halves never leave the
// process.
package signing

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/ucp-shopping-agent/internal/domain"
	"github.com/tbourn/ucp-shopping-agent/internal/repo"
)

// UnavailableSetting is the settings key recorded when no key could be
// generated.
const UnavailableSetting = "signing_unavailable"

// ErrNoKey is returned by Sign when no current key exists.
var ErrNoKey = errors.New("no signing key available")

// JWK is the public JSON Web Key form of a signing key.
type JWK struct {
	Kty       string `json:"kty"`
	Crv       string `json:"crv"`
	X         string `json:"x"`
	Kid       string `json:"kid"`
	Use       string `json:"use"`
	Alg       string `json:"alg"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
}

// Manager creates, rotates and uses signing keys.
type Manager struct {
	DB   *gorm.DB
	Log  zerolog.Logger
	Now  func() time.Time
	Rand io.Reader

	mu      sync.RWMutex
	current *domain.SigningKey
}

// NewManager returns a Manager backed by db.
func NewManager(db *gorm.DB, logger zerolog.Logger) *Manager {
	return &Manager{
		DB:   db,
		Log:  logger,
		Now:  func() time.Time { return time.Now().UTC() },
		Rand: rand.Reader,
	}
}

// EnsureKey makes sure a current key exists. A generation failure records
// the unavailable marker and is not returned; storage errors are.
func (m *Manager) EnsureKey(ctx context.Context) error {
	k, err := repo.GetSigningKeyByStatus(ctx, m.DB, domain.KeyCurrent)
	if err == nil {
		m.setCurrent(k)
		return nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return err
	}

	next, err := m.generate()
	if err != nil {
		m.Log.Error().Err(err).Msg("signing key generation failed; webhooks will carry HMAC signatures only")
		return repo.PutSetting(ctx, m.DB, UnavailableSetting, err.Error())
	}
	if err := repo.RotateSigningKeys(ctx, m.DB, next); err != nil {
		return err
	}
	m.setCurrent(next)
	m.Log.Info().Str("kid", next.KID).Msg("signing key created")
	return repo.DeleteSetting(ctx, m.DB, UnavailableSetting)
}

// Rotate demotes the current key to previous, drops the old previous key and
// installs a fresh current key.
func (m *Manager) Rotate(ctx context.Context) (*domain.SigningKey, error) {
	next, err := m.generate()
	if err != nil {
		_ = repo.PutSetting(ctx, m.DB, UnavailableSetting, err.Error())
		return nil, err
	}
	if err := repo.RotateSigningKeys(ctx, m.DB, next); err != nil {
		return nil, err
	}
	m.setCurrent(next)
	if err := repo.DeleteSetting(ctx, m.DB, UnavailableSetting); err != nil {
		m.Log.Warn().Err(err).Msg("clear signing marker failed")
	}
	m.Log.Info().Str("kid", next.KID).Msg("signing key rotated")
	return next, nil
}

// Available reports whether a current key exists.
func (m *Manager) Available(ctx context.Context) bool {
	_, err := m.currentKey(ctx)
	return err == nil
}

// PublicKeys returns the current and previous keys as JWKs.
func (m *Manager) PublicKeys(ctx context.Context) ([]JWK, error) {
	keys, err := repo.ListSigningKeys(ctx, m.DB)
	if err != nil {
		return nil, err
	}
	out := make([]JWK, 0, len(keys))
	for _, k := range keys {
		out = append(out, toJWK(k))
	}
	return out, nil
}

// Sign signs msg with the current key.
func (m *Manager) Sign(ctx context.Context, msg []byte) (kid string, sig []byte, err error) {
	k, err := m.currentKey(ctx)
	if err != nil {
		return "", nil, err
	}
	if len(k.PrivateKey) != ed25519.PrivateKeySize {
		return "", nil, fmt.Errorf("signing key %s is malformed", k.KID)
	}
	return k.KID, ed25519.Sign(ed25519.PrivateKey(k.PrivateKey), msg), nil
}

// Verify checks sig over msg against the key named kid.
func (m *Manager) Verify(ctx context.Context, kid string, msg, sig []byte) (bool, error) {
	k, err := repo.GetSigningKeyByKID(ctx, m.DB, kid)
	if errors.Is(err, repo.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if len(k.PublicKey) != ed25519.PublicKeySize {
		return false, nil
	}
	return ed25519.Verify(ed25519.PublicKey(k.PublicKey), msg, sig), nil
}

func (m *Manager) currentKey(ctx context.Context) (*domain.SigningKey, error) {
	m.mu.RLock()
	k := m.current
	m.mu.RUnlock()
	if k != nil {
		return k, nil
	}
	k, err := repo.GetSigningKeyByStatus(ctx, m.DB, domain.KeyCurrent)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrNoKey
	}
	if err != nil {
		return nil, err
	}
	m.setCurrent(k)
	return k, nil
}

func (m *Manager) setCurrent(k *domain.SigningKey) {
	m.mu.Lock()
	m.current = k
	m.mu.Unlock()
}

// generate returns a new key pair with a kid of ed25519-YYYY-MM-<8 hex>.
func (m *Manager) generate() (*domain.SigningKey, error) {
	pub, priv, err := ed25519.GenerateKey(m.Rand)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	suffix := make([]byte, 4)
	if _, err := io.ReadFull(m.Rand, suffix); err != nil {
		return nil, fmt.Errorf("generate kid: %w", err)
	}
	now := m.Now()
	return &domain.SigningKey{
		KID:        "ed25519-" + now.Format("2006-01") + "-" + hex.EncodeToString(suffix),
		PublicKey:  pub,
		PrivateKey: priv,
		Status:     domain.KeyCurrent,
		CreatedAt:  now,
	}, nil
}

func toJWK(k domain.SigningKey) JWK {
	return JWK{
		Kty:       "OKP",
		Crv:       "Ed25519",
		X:         base64.RawURLEncoding.EncodeToString(k.PublicKey),
		Kid:       k.KID,
		Use:       "sig",
		Alg:       "EdDSA",
		Status:    k.Status,
		CreatedAt: k.CreatedAt.UTC().Format(time.RFC3339),
	}
}
