package sdk

import (
	"time"

	"github.com/DevEngageLab/mtpush-sdk/internal/clock"
	"github.com/DevEngageLab/mtpush-sdk/internal/dispatch"
	"github.com/DevEngageLab/mtpush-sdk/internal/pipeline"
	"github.com/DevEngageLab/mtpush-sdk/internal/policy"
	"github.com/DevEngageLab/mtpush-sdk/internal/types"
)

// Result codes passed to a Completion. Zero is success.
const (
	CodeOK              = dispatch.CodeOK
	CodeInvalidArgument = dispatch.CodeInvalidArgument
	CodeMergeConflict   = dispatch.CodeMergeConflict
	CodeUploadFailed    = dispatch.CodeUploadFailed
	CodeNotStarted      = dispatch.CodeNotStarted
	CodeStartFailed     = dispatch.CodeStartFailed
)

// Completion receives the outcome of an operation, once, on a background
// goroutine.
type Completion = dispatch.Completion

// Uploader delivers batches to a collector.
type Uploader = pipeline.Uploader

// UploaderFunc adapts a function to Uploader.
type UploaderFunc = pipeline.UploaderFunc

// Batch is what an Uploader receives.
type Batch = types.Batch

// PlatformSignal supplies device identifiers.
type PlatformSignal = policy.PlatformSignal

// Identifiers are raw device identifier values.
type Identifiers = policy.Identifiers

// CollectControl is a partial change to the collection toggles; nil fields
// are left as they are. Use Bool to build one.
type CollectControl = policy.Update

// Control is the full set of collection toggles.
type Control = policy.Control

// Bool returns a pointer to b.
func Bool(b bool) *bool { return policy.Bool(b) }

// UserID identifies the user. UserID takes precedence over AnonymousID.
type UserID struct {
	UserID      string
	AnonymousID string
	Completion  Completion
}

// UserContact replaces the user's contact details.
type UserContact struct {
	Contacts   map[string]string
	Completion Completion
}

// CollectorConfig locates the built-in gRPC collector uploader.
type CollectorConfig struct {
	Address  string
	Insecure bool
	Compress bool
}

// Config configures Start. Zero values take defaults.
type Config struct {
	// AppKey authenticates against the collector.
	AppKey string
	// UserID, if set, is applied as part of Start.
	UserID *UserID
	// Completion reports the outcome of Start.
	Completion Completion

	FlushInterval      time.Duration
	MaxEventCacheCount int
	SessionTimeout     time.Duration
	UploadTimeout      time.Duration
	Collect            *CollectControl

	// Uploader overrides the collector client built from Collector.
	Uploader  Uploader
	Collector CollectorConfig
	Platform  PlatformSignal
	// CacheURL locates the identity cache (sqlite://path). Empty keeps the
	// EUID for the life of the process only.
	CacheURL string

	clock clock.Clock
}
