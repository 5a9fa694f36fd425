package sdk

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

var (
	defaultOnce    sync.Once
	defaultService *Service
)

// Default returns the process-wide Service used by the package-level
// functions. It logs through the zerolog global logger.
func Default() *Service {
	defaultOnce.Do(func() {
		defaultService = NewService(log.Logger)
	})
	return defaultService
}

// Start starts the default service.
func Start(cfg Config) {
	Default().Start(cfg)
}

// Identify sets the user of the default service.
func Identify(id UserID) {
	Default().Identify(id)
}

// SetUserContact replaces the default service's user contacts.
func SetUserContact(c UserContact) {
	Default().SetUserContact(c)
}

// RecordEvent records an event on the default service.
func RecordEvent(name string, props map[string]any, fn Completion) {
	Default().RecordEvent(name, props, fn)
}

// SetReportInterval sets the default service's flush interval.
func SetReportInterval(d time.Duration) time.Duration {
	return Default().SetReportInterval(d)
}

// SetMaxEventCacheCount sets the default service's buffered-event threshold.
func SetMaxEventCacheCount(n int) int {
	return Default().SetMaxEventCacheCount(n)
}

// SetSessionTimeout sets the default service's background grace period.
func SetSessionTimeout(d time.Duration) time.Duration {
	return Default().SetSessionTimeout(d)
}

// SetCollectControl changes the default service's collection toggles.
func SetCollectControl(u CollectControl) Control {
	return Default().SetCollectControl(u)
}

// SetProperty sets one profile property through the default service.
func SetProperty(key string, value any, fn Completion) {
	Default().SetProperty(key, value, fn)
}

// SetProperties sets profile properties through the default service.
func SetProperties(props map[string]any, fn Completion) {
	Default().SetProperties(props, fn)
}

// IncreaseProperty adds to a numeric property through the default service.
func IncreaseProperty(key string, amount any, fn Completion) {
	Default().IncreaseProperty(key, amount, fn)
}

// IncreaseProperties adds to numeric properties through the default service.
func IncreaseProperties(amounts map[string]any, fn Completion) {
	Default().IncreaseProperties(amounts, fn)
}

// AddProperty adds set elements through the default service.
func AddProperty(key string, elems any, fn Completion) {
	Default().AddProperty(key, elems, fn)
}

// AddProperties adds set elements to several properties through the default service.
func AddProperties(props map[string]any, fn Completion) {
	Default().AddProperties(props, fn)
}

// RemoveProperty removes set elements through the default service.
func RemoveProperty(key string, elems any, fn Completion) {
	Default().RemoveProperty(key, elems, fn)
}

// DeleteProperty deletes a property through the default service.
func DeleteProperty(key string, fn Completion) {
	Default().DeleteProperty(key, fn)
}

// SetUtmProperties sets campaign attributes through the default service.
func SetUtmProperties(utm map[string]string, fn Completion) {
	Default().SetUtmProperties(utm, fn)
}

// EUID returns the default service's growth identifier.
func EUID() string {
	return Default().EUID()
}

// EnterBackground reports a background transition to the default service.
func EnterBackground() {
	Default().EnterBackground()
}

// EnterForeground reports a foreground transition to the default service.
func EnterForeground() {
	Default().EnterForeground()
}

// Flush flushes the default service.
func Flush(ctx context.Context) error {
	return Default().Flush(ctx)
}
