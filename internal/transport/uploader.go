// Package transport uploads batches to the collector over gRPC.
package transport

import (
	"context"
	"crypto/tls"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DevEngageLab/mtpush-sdk/internal/types"
	"github.com/DevEngageLab/mtpush-sdk/internal/wire"
)

// APIKeyHeader carries the app's collector API key.
const APIKeyHeader = "x-api-key"

// Config describes the collector endpoint.
type Config struct {
	Address string
	APIKey  string
	// Insecure disables TLS. Local collectors only.
	Insecure bool
	// Compress sends requests zstd-compressed.
	Compress bool
}

// Uploader implements pipeline.Uploader against a collector.
type Uploader struct {
	conn     grpc.ClientConnInterface
	closer   func() error
	apiKey   string
	callOpts []grpc.CallOption
	logger   zerolog.Logger
}

// Dial creates a client connection for cfg. Connecting is lazy; the first
// Upload establishes it.
func Dial(cfg Config, logger zerolog.Logger) (*Uploader, error) {
	if cfg.Address == "" {
		return nil, errors.New("collector address is empty")
	}
	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if cfg.Insecure {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(cfg.Address, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create collector client for %s", cfg.Address)
	}
	u := NewUploader(conn, cfg.APIKey, cfg.Compress, logger)
	u.closer = conn.Close
	return u, nil
}

// NewUploader wraps an existing connection. The caller keeps ownership of
// conn.
func NewUploader(conn grpc.ClientConnInterface, apiKey string, compress bool, logger zerolog.Logger) *Uploader {
	u := &Uploader{
		conn:   conn,
		apiKey: apiKey,
		logger: logger.With().Str("component", "transport").Logger(),
	}
	if compress {
		u.callOpts = append(u.callOpts, grpc.UseCompressor(CompressorName))
	}
	return u
}

// Upload sends b and checks the per-event results. Events the collector
// rejected as invalid are logged and count as delivered; events it failed
// to store fail the upload.
func (u *Uploader) Upload(ctx context.Context, b *types.Batch) error {
	if u.apiKey != "" {
		ctx = metadata.AppendToOutgoingContext(ctx, APIKeyHeader, u.apiKey)
	}

	var resp structpb.Struct
	if err := u.conn.Invoke(ctx, wire.UploadMethod, wire.EncodeBatch(b), &resp, u.callOpts...); err != nil {
		return errors.Wrapf(err, "upload batch %s", b.ID)
	}

	result, err := wire.DecodeResult(&resp)
	if err != nil {
		return errors.Wrapf(err, "decode result of batch %s", b.ID)
	}

	for _, r := range result.Results {
		if r.Status == wire.StatusRejected {
			u.logger.Debug().Str("batch_id", string(b.ID)).Str("event_id", r.EventID).Str("reason", r.Error).Msg("collector rejected event")
		}
	}
	if failed := result.Failed(); len(failed) > 0 {
		return errors.Errorf("collector failed to store %d of %d events in batch %s: %s", len(failed), len(b.Events), b.ID, failed[0].Error)
	}

	u.logger.Debug().
		Str("batch_id", string(b.ID)).
		Int("accepted", result.Accepted).
		Int("mutations_applied", result.MutationsApplied).
		Int("mutations_ignored", result.MutationsIgnored).
		Msg("batch uploaded")
	return nil
}

// Close releases a connection created by Dial.
func (u *Uploader) Close() error {
	if u.closer == nil {
		return nil
	}
	return u.closer()
}
