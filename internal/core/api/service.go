// Package api implements the collector's gRPC Upload service.
package api

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/config"
	"github.com/DevEngageLab/mtpush-sdk/internal/store"
)

// CollectorService implements wire.CollectorServer.
// Thin orchestration layer delegating to auth, wire and store packages.
type CollectorService struct {
	profiles     *store.ProfileStore
	cfg          *config.CollectorConfig
	logger       zerolog.Logger
	jsonlMutexes map[string]*sync.Mutex
	mutexLock    sync.Mutex
}

// NewCollectorService creates service instance with dependencies.
// Auto-creates events directory if not exists.
func NewCollectorService(profiles *store.ProfileStore, cfg *config.CollectorConfig, logger zerolog.Logger) (*CollectorService, error) {
	if profiles == nil {
		return nil, fmt.Errorf("profiles cannot be nil")
	}
	if cfg == nil {
		return nil, fmt.Errorf("cfg cannot be nil")
	}

	eventsDir := filepath.Join(cfg.DataDir, "events")
	if err := os.MkdirAll(eventsDir, 0755); err != nil {
		return nil, err
	}

	return &CollectorService{
		profiles:     profiles,
		cfg:          cfg,
		logger:       logger.With().Str("component", "collector").Logger(),
		jsonlMutexes: make(map[string]*sync.Mutex),
	}, nil
}

// getJSONLMutex returns mutex for given filename, creating if not exists.
// Per-file mutex protects concurrent writes to same daily JSONL file.
// Mutex map grows by ~1 entry/day.
func (s *CollectorService) getJSONLMutex(filename string) *sync.Mutex {
	s.mutexLock.Lock()
	defer s.mutexLock.Unlock()

	if _, ok := s.jsonlMutexes[filename]; !ok {
		s.jsonlMutexes[filename] = &sync.Mutex{}
	}
	return s.jsonlMutexes[filename]
}
