package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/auth"
	"github.com/DevEngageLab/mtpush-sdk/internal/store"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
	"github.com/DevEngageLab/mtpush-sdk/internal/values"
	"github.com/DevEngageLab/mtpush-sdk/internal/wire"
)

// Upload ingests one batch from a pipeline.
// Events are stored individually so one bad event never sinks the batch;
// the header and the mutations are applied after them, the mutations in
// one transaction. JSONL output is a best-effort debugging aid.
func (s *CollectorService) Upload(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	appID := auth.AppIDFromContext(ctx)
	if appID == "" {
		return nil, status.Error(codes.Internal, "missing app_id in context")
	}

	batch, err := wire.DecodeBatch(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if batch.ID == "" {
		return nil, status.Error(codes.InvalidArgument, "batch_id required")
	}
	if len(batch.Events) > s.cfg.MaxBatchSize {
		return nil, status.Error(codes.InvalidArgument, fmt.Sprintf("batch size exceeds maximum of %d events", s.cfg.MaxBatchSize))
	}

	// One file per request even if processing spans midnight
	now := time.Now().UTC()
	jsonlFilename := filepath.Join(s.cfg.DataDir, "events", now.Format("2006-01-02.jsonl"))
	jsonlMutex := s.getJSONLMutex(jsonlFilename)

	result := wire.UploadResult{Results: make([]wire.EventResult, 0, len(batch.Events))}
	for _, e := range batch.Events {
		r := s.processEvent(appID, batch, e, jsonlFilename, jsonlMutex)
		if r.Status == wire.StatusAccepted {
			result.Accepted++
		}
		result.Results = append(result.Results, r)
	}

	if err := s.profiles.SaveHeader(appID, batch); err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}

	valid := make([]types.Mutation, 0, len(batch.Mutations))
	for _, m := range batch.Mutations {
		if err := values.ValidateMutation(m); err != nil {
			s.logger.Debug().Err(err).Str("app_id", appID).Str("key", m.Key).Msg("dropping invalid mutation")
			result.MutationsIgnored++
			continue
		}
		valid = append(valid, m)
	}
	batch.Mutations = valid

	applied, err := s.profiles.Apply(appID, batch)
	if err != nil {
		return nil, status.Error(codes.Unavailable, err.Error())
	}
	result.MutationsApplied = applied.Applied
	result.MutationsDeleted = applied.Deleted
	result.MutationsIgnored += applied.Ignored

	s.logger.Debug().
		Str("app_id", appID).
		Str("batch_id", string(batch.ID)).
		Int("events", len(batch.Events)).
		Int("accepted", result.Accepted).
		Int("mutations_applied", result.MutationsApplied).
		Msg("batch ingested")

	return wire.EncodeResult(result), nil
}

// jsonlRecord is the debugging line written per accepted event.
type jsonlRecord struct {
	AppID      string         `json:"app_id"`
	BatchID    string         `json:"batch_id"`
	EventID    string         `json:"event_id"`
	SessionID  string         `json:"session_id,omitempty"`
	Name       string         `json:"name"`
	UserID     string         `json:"user_id,omitempty"`
	Anonymous  string         `json:"anonymous_id,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// processEvent validates, persists, and logs a single event.
func (s *CollectorService) processEvent(appID string, batch *types.Batch, e types.Event, jsonlFilename string, jsonlMutex *sync.Mutex) wire.EventResult {
	if _, err := types.ParseEventID(string(e.ID)); err != nil {
		return wire.EventResult{EventID: string(e.ID), Status: wire.StatusRejected, Error: "event_id must be a UUID"}
	}
	if err := values.ValidateEvent(e); err != nil {
		return wire.EventResult{EventID: string(e.ID), Status: wire.StatusRejected, Error: err.Error()}
	}

	// Database is source of truth; JSONL may miss events the insert accepted
	err := s.profiles.SaveEvent(appID, batch, e)
	if errors.Is(err, store.ErrEventExists) {
		return wire.EventResult{EventID: string(e.ID), Status: wire.StatusAccepted}
	}
	if err != nil {
		s.logger.Warn().Err(err).Str("event_id", string(e.ID)).Msg("failed to store event")
		return wire.EventResult{EventID: string(e.ID), Status: wire.StatusError, Error: fmt.Sprintf("database error: %v", err)}
	}

	props := make(map[string]any, len(e.Properties))
	for k, v := range e.Properties {
		props[k] = v.Interface()
	}
	record := jsonlRecord{
		AppID:      appID,
		BatchID:    string(batch.ID),
		EventID:    string(e.ID),
		SessionID:  string(e.SessionID),
		Name:       e.Name,
		UserID:     e.Identity.UserID,
		Anonymous:  e.Identity.AnonymousID,
		Properties: props,
		Timestamp:  e.Timestamp,
	}

	jsonlMutex.Lock()
	defer jsonlMutex.Unlock()
	f, err := os.OpenFile(jsonlFilename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err == nil {
		defer f.Close()
		_ = json.NewEncoder(f).Encode(record)
	}

	return wire.EventResult{EventID: string(e.ID), Status: wire.StatusAccepted}
}
