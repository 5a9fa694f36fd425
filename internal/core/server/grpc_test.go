package server

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/api"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/auth"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/config"
	"github.com/DevEngageLab/mtpush-sdk/internal/core/db"
	"github.com/DevEngageLab/mtpush-sdk/internal/store"
	"github.com/DevEngageLab/mtpush-sdk/internal/transport"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

const secretID = "0123456789abcdef0123456789abcdef"

type harness struct {
	conn     *grpc.ClientConn
	profiles *store.ProfileStore
	key      string
	dataDir  string
}

func startServer(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	dbConn, queries, err := db.OpenMigrated("sqlite://" + filepath.Join(dir, "collector.db"))
	require.NoError(t, err)
	t.Cleanup(func() { dbConn.Close() })

	secrets := map[string][]byte{secretID: []byte(strings.Repeat("k", 32))}
	key, _, err := auth.NewKeys(secrets, queries).Issue("app-1", "test", secretID)
	require.NoError(t, err)

	cfg := config.DefaultCollectorConfig()
	cfg.DataDir = dir
	cfg.MaxBatchSize = 10
	profiles := store.NewProfileStore(queries)
	svc, err := api.NewCollectorService(profiles, cfg, zerolog.Nop())
	require.NoError(t, err)
	srv, err := NewGRPCServer(cfg, svc, auth.NewAuthenticator(secrets, queries))
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go srv.Serve(lis)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return &harness{conn: conn, profiles: profiles, key: key, dataDir: dir}
}

func testBatch(events ...types.Event) *types.Batch {
	alice := types.Identity{UserID: "alice"}
	return &types.Batch{
		ID:        types.NewBatchID(),
		EUID:      "01J0000000000000000000000A",
		Identity:  alice,
		Contacts:  types.Contacts{"email": "a@example.com"},
		CreatedAt: time.Now(),
		Events:    events,
		Mutations: []types.Mutation{
			{Key: "score", Op: types.OpSet, Value: types.NumberValue(7), Identity: alice},
			{Key: "tags", Op: types.OpAppend, Value: types.SetValue("vip"), Identity: alice},
		},
		Tombstones: []types.Tombstone{{Key: "old", Identity: alice}},
	}
}

func event(name string, session types.SessionID) types.Event {
	return types.Event{
		ID:         types.NewEventID(),
		Name:       name,
		Timestamp:  time.Now(),
		SessionID:  session,
		Identity:   types.Identity{UserID: "alice"},
		Properties: types.Properties{"screen": types.StringValue("home")},
	}
}

func TestUploadEndToEnd(t *testing.T) {
	h := startServer(t)
	up := transport.NewUploader(h.conn, h.key, true, zerolog.Nop())

	session := types.NewSessionID()
	b := testBatch(event("open", session), event("purchase", session))
	require.NoError(t, up.Upload(context.Background(), b))

	events, err := h.profiles.SessionEvents("app-1", session)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, "alice", events[0].Principal)

	props, err := h.profiles.Properties("app-1", "alice")
	require.NoError(t, err)
	require.Equal(t, types.Properties{"score": types.NumberValue(7), "tags": types.SetValue("vip")}, props)

	p, ok, err := h.profiles.Profile("app-1", "alice")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "a@example.com", p.Contacts["email"])

	entries, err := os.ReadDir(filepath.Join(h.dataDir, "events"))
	require.NoError(t, err)
	require.Len(t, entries, 1)

	// Retried batch is idempotent for events.
	require.NoError(t, up.Upload(context.Background(), b))
	events, err = h.profiles.SessionEvents("app-1", session)
	require.NoError(t, err)
	require.Len(t, events, 2)
}

func TestUploadRejectsInvalidEventOnly(t *testing.T) {
	h := startServer(t)
	up := transport.NewUploader(h.conn, h.key, false, zerolog.Nop())

	session := types.NewSessionID()
	require.NoError(t, up.Upload(context.Background(), testBatch(event("elReserved", session), event("ok", session))))

	events, err := h.profiles.SessionEvents("app-1", session)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, "ok", events[0].Name)
}

func TestUploadRequiresKey(t *testing.T) {
	h := startServer(t)
	err := transport.NewUploader(h.conn, "", false, zerolog.Nop()).Upload(context.Background(), testBatch())
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestUploadRejectsOversizedBatch(t *testing.T) {
	h := startServer(t)
	var events []types.Event
	for i := 0; i < 11; i++ {
		events = append(events, event("e", ""))
	}
	err := transport.NewUploader(h.conn, h.key, false, zerolog.Nop()).Upload(context.Background(), testBatch(events...))
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestHealthWithoutKey(t *testing.T) {
	h := startServer(t)
	resp, err := grpc_health_v1.NewHealthClient(h.conn).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.Status)
}

func TestNewGRPCServerRequiresDeps(t *testing.T) {
	_, err := NewGRPCServer(nil, nil, nil)
	require.Error(t, err)
}
