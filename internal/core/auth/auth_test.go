package auth

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/db"
)

const testSecretID = "0123456789abcdef0123456789abcdef"

var testSecrets = map[string][]byte{testSecretID: []byte(strings.Repeat("s", 32))}

func openQueries(t *testing.T) *db.Queries {
	t.Helper()
	conn, queries, err := db.OpenMigrated("sqlite://" + filepath.Join(t.TempDir(), "auth.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close() })
	return queries
}

func TestParseAPIKey(t *testing.T) {
	valid, err := GenerateAPIKey(testSecretID)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"generated", valid, false},
		{"wrong prefix", strings.Replace(valid, "mt-", "tk-", 1), true},
		{"wrong version", strings.Replace(valid, "-v1-", "-v2-", 1), true},
		{"short secret id", "mt-v1-abc-" + strings.Repeat("a", 64), true},
		{"short random", "mt-v1-" + testSecretID + "-abc", true},
		{"uppercase hex", "mt-v1-" + strings.ToUpper(testSecretID) + "-" + strings.Repeat("a", 64), true},
		{"extra segment", valid + "-x", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secretID, random, err := ParseAPIKey(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAPIKey err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && (secretID != testSecretID || len(random) != randomDataLen) {
				t.Fatalf("ParseAPIKey = %q, %q", secretID, random)
			}
		})
	}
}

func TestGenerateAPIKeyUnique(t *testing.T) {
	a, _ := GenerateAPIKey(testSecretID)
	b, _ := GenerateAPIKey(testSecretID)
	if a == b {
		t.Fatal("two generated keys are equal")
	}
	if _, err := GenerateAPIKey("nothex"); !errors.Is(err, ErrInvalidKeyFormat) {
		t.Fatalf("err = %v", err)
	}
}

func TestVerifyHMAC(t *testing.T) {
	h := ComputeHMAC([]byte("secret"), "key")
	if !VerifyHMAC(h, ComputeHMAC([]byte("secret"), "key")) {
		t.Fatal("same input did not verify")
	}
	if VerifyHMAC(h, ComputeHMAC([]byte("other"), "key")) {
		t.Fatal("different secret verified")
	}
}

func TestAuthenticateLifecycle(t *testing.T) {
	q := openQueries(t)
	keys := NewKeys(testSecrets, q)
	a := NewAuthenticator(testSecrets, q)
	ctx := context.Background()

	key, id, err := keys.Issue("app-1", "ios", testSecretID)
	if err != nil {
		t.Fatal(err)
	}

	appID, err := a.Authenticate(ctx, key)
	if err != nil || appID != "app-1" {
		t.Fatalf("Authenticate = %q, %v", appID, err)
	}

	other, _ := GenerateAPIKey(testSecretID)
	if _, err := a.Authenticate(ctx, other); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("unissued key err = %v", err)
	}

	if err := keys.Revoke(id); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Authenticate(ctx, key); !errors.Is(err, ErrKeyRevoked) {
		t.Fatalf("revoked key err = %v", err)
	}

	list, err := keys.List("app-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].ID != id || !list[0].RevokedAt.Valid {
		t.Fatalf("List = %+v", list)
	}
}

func TestAuthenticateUnknownSecret(t *testing.T) {
	a := NewAuthenticator(map[string][]byte{}, openQueries(t))
	key, _ := GenerateAPIKey(testSecretID)
	if _, err := a.Authenticate(context.Background(), key); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("err = %v", err)
	}
}

func TestIssueRequiresKnownSecretAndApp(t *testing.T) {
	keys := NewKeys(testSecrets, openQueries(t))
	if _, _, err := keys.Issue("app", "x", strings.Repeat("f", 32)); !errors.Is(err, ErrUnknownKey) {
		t.Fatalf("unknown secret err = %v", err)
	}
	if _, _, err := keys.Issue(" ", "x", testSecretID); err == nil {
		t.Fatal("blank app id accepted")
	}
}

func TestShouldUpdateLastUsed(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if !shouldUpdateLastUsed(nullTime(time.Time{}, false), now) {
		t.Error("never used should update")
	}
	if shouldUpdateLastUsed(nullTime(now.Add(-30*time.Second), true), now) {
		t.Error("recent use should not update")
	}
	if !shouldUpdateLastUsed(nullTime(now.Add(-2*time.Minute), true), now) {
		t.Error("stale use should update")
	}
}

func TestUnaryInterceptor(t *testing.T) {
	q := openQueries(t)
	key, _, err := NewKeys(testSecrets, q).Issue("app-1", "ios", testSecretID)
	if err != nil {
		t.Fatal(err)
	}
	intercept := NewAuthenticator(testSecrets, q).UnaryInterceptor()

	var gotApp string
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		gotApp = AppIDFromContext(ctx)
		return "ok", nil
	}
	upload := &grpc.UnaryServerInfo{FullMethod: "/mtma.collector.v1.Collector/Upload"}

	withKey := func(k string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs(APIKeyHeader, k))
	}

	if _, err := intercept(withKey(key), nil, upload, handler); err != nil || gotApp != "app-1" {
		t.Fatalf("valid key: app %q err %v", gotApp, err)
	}

	tests := []struct {
		name string
		ctx  context.Context
		code codes.Code
	}{
		{"no metadata", context.Background(), codes.Unauthenticated},
		{"no key", metadata.NewIncomingContext(context.Background(), metadata.MD{}), codes.Unauthenticated},
		{"malformed", withKey("nope"), codes.Unauthenticated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := intercept(tt.ctx, nil, upload, handler)
			if status.Code(err) != tt.code {
				t.Fatalf("code = %v, want %v (%v)", status.Code(err), tt.code, err)
			}
		})
	}

	gotApp = "unset"
	health := &grpc.UnaryServerInfo{FullMethod: healthCheckMethod}
	if _, err := intercept(context.Background(), nil, health, handler); err != nil || gotApp != "" {
		t.Fatalf("health check: app %q err %v", gotApp, err)
	}
}

func nullTime(t time.Time, valid bool) sql.NullTime {
	return sql.NullTime{Time: t, Valid: valid}
}
