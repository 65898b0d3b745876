package blob

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Signet-Labs/signet/pkg/contracts"
)

// FileStore is a filesystem-backed implementation of Store. Signed URLs
// are minted as HMAC JWTs a download handler can verify offline.
type FileStore struct {
	baseDir    string
	urlBase    string
	signingKey []byte
	mu         sync.RWMutex
}

// NewFileStore creates a blob store rooted at baseDir. urlBase is the
// external prefix signed URLs point at; signingKey authenticates them.
func NewFileStore(baseDir, urlBase string, signingKey []byte) (*FileStore, error) {
	//nolint:gosec // G301: shared blob directory
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to ensure blob dir: %w", err)
	}
	return &FileStore{baseDir: baseDir, urlBase: strings.TrimRight(urlBase, "/"), signingKey: signingKey}, nil
}

func (s *FileStore) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//nolint:gosec // G301: namespaced subdirectories under baseDir
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to ensure blob subdir: %w", err)
	}

	// Write to temp, then rename
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write blob: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to commit blob: %w", err)
	}

	if len(metadata) > 0 {
		metaBytes, err := json.Marshal(metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal blob metadata: %w", err)
		}
		if err := os.WriteFile(path+".meta", metaBytes, 0600); err != nil {
			return fmt.Errorf("failed to write blob metadata: %w", err)
		}
	}
	return nil
}

func (s *FileStore) Get(ctx context.Context, key string) ([]byte, error) {
	path, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(path) //nolint:gosec // key validated by pathFor
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &contracts.NotFoundError{Kind: "document", ID: key}
		}
		return nil, fmt.Errorf("failed to read blob: %w", err)
	}
	return data, nil
}

func (s *FileStore) Delete(ctx context.Context, key string) error {
	path, err := s.pathFor(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete blob: %w", err)
	}
	_ = os.Remove(path + ".meta")
	return nil
}

// SignedURL mints an HMAC JWT URL valid for ttl. The download handler
// verifies the token with the same key; no store round-trip needed.
func (s *FileStore) SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if len(s.signingKey) == 0 {
		return "", fmt.Errorf("file store has no URL signing key configured")
	}
	now := time.Now()
	claims := jwt.MapClaims{
		"sub": key,
		"iat": now.Unix(),
		"exp": now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign url token: %w", err)
	}
	return fmt.Sprintf("%s/%s?token=%s", s.urlBase, key, signed), nil
}

// VerifySignedURL checks a token minted by SignedURL and returns the key
// it grants access to.
func (s *FileStore) VerifySignedURL(tokenStr string) (string, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.signingKey, nil
	})
	if err != nil {
		return "", fmt.Errorf("invalid url token: %w", err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid url token claims")
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("url token missing subject")
	}
	return sub, nil
}

// pathFor validates the key and maps it into baseDir. Keys are
// namespaced like "documents/<uuid>"; traversal segments are rejected.
func (s *FileStore) pathFor(key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", fmt.Errorf("invalid blob key: %q", key)
	}
	return filepath.Join(s.baseDir, filepath.FromSlash(key)+".blob"), nil
}
