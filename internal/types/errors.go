package types

import "errors"

// Sentinel errors for validation and merge failures. Each rejects a single
// item; none of them aborts a batch or the scheduler.
var (
	// ErrEmptyEventName indicates an event was recorded without a name.
	ErrEmptyEventName = errors.New("event name is empty")

	// ErrNameTooLong indicates an event name or property key exceeds MaxNameLength.
	ErrNameTooLong = errors.New("name exceeds maximum length")

	// ErrReservedEventName indicates use of the reserved "el" event prefix.
	ErrReservedEventName = errors.New("event name uses reserved prefix")

	// ErrInvalidKey indicates a property key outside [a-zA-Z][a-zA-Z0-9_]*.
	ErrInvalidKey = errors.New("property key has invalid characters")

	// ErrTooManyProperties indicates an event carries more than MaxEventProperties.
	ErrTooManyProperties = errors.New("too many event properties")

	// ErrValueTooLong indicates a string value or set element exceeds MaxStringValueLength.
	ErrValueTooLong = errors.New("string value exceeds maximum length")

	// ErrUnsupportedValue indicates a value outside the string/number/string-set variant.
	ErrUnsupportedValue = errors.New("unsupported property value type")

	// ErrNotNumeric indicates an increase amount that is not a number.
	ErrNotNumeric = errors.New("increase amount is not numeric")

	// ErrReservedUTMKey indicates a UTM key outside the preset list.
	ErrReservedUTMKey = errors.New("unknown utm property")

	// ErrMergeConflict indicates ops on one key in one batch that cannot be combined,
	// for example INCREASE after APPEND.
	ErrMergeConflict = errors.New("conflicting property operations in one batch")

	// ErrNoUploader indicates a flush with nowhere to send the batch.
	ErrNoUploader = errors.New("no uploader configured")

	// ErrNotStarted indicates a call before Start.
	ErrNotStarted = errors.New("pipeline not started")
)
