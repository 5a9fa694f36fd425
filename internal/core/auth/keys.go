package auth

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// KeyQueries is the query surface key management needs.
type KeyQueries interface {
	Queries
	Select(name string, dest interface{}, args ...interface{}) error
}

// KeyInfo describes a stored API key. The key itself is never stored.
type KeyInfo struct {
	ID        string       `db:"api_key_id"`
	AppID     string       `db:"app_id"`
	Name      string       `db:"name"`
	SecretID  string       `db:"secret_id"`
	CreatedAt string       `db:"created_at"`
	RevokedAt sql.NullTime `db:"revoked_at"`
}

// Keys issues and revokes collector API keys.
type Keys struct {
	secrets map[string][]byte
	queries KeyQueries
	now     func() time.Time
}

// NewKeys returns a key manager over the HMAC secrets the collector runs
// with.
func NewKeys(secrets map[string][]byte, queries KeyQueries) *Keys {
	return &Keys{secrets: secrets, queries: queries, now: time.Now}
}

// Issue creates a key for appID signed under secretID and returns it. The
// plaintext key is only available here.
func (k *Keys) Issue(appID, name, secretID string) (key string, id string, err error) {
	secret, ok := k.secrets[secretID]
	if !ok {
		return "", "", ErrUnknownKey
	}
	if strings.TrimSpace(appID) == "" {
		return "", "", fmt.Errorf("app id is required")
	}
	key, err = GenerateAPIKey(secretID)
	if err != nil {
		return "", "", err
	}
	id = uuid.Must(uuid.NewV7()).String()
	_, err = k.queries.Exec("insert-api-key", id, appID, name, secretID, ComputeHMAC(secret, key), k.now().UTC().Format(time.RFC3339))
	if err != nil {
		return "", "", fmt.Errorf("failed to store api key: %w", err)
	}
	return key, id, nil
}

// Revoke marks a key revoked. Revoking twice is not an error.
func (k *Keys) Revoke(id string) error {
	if _, err := k.queries.Exec("revoke-api-key", k.now().UTC(), id); err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	return nil
}

// List returns the keys of appID in creation order.
func (k *Keys) List(appID string) ([]KeyInfo, error) {
	var keys []KeyInfo
	if err := k.queries.Select("list-api-keys", &keys, appID); err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	return keys, nil
}
