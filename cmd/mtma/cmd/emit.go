package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/DevEngageLab/mtpush-sdk/internal/core/config"
	"github.com/DevEngageLab/mtpush-sdk/sdk"
)

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Record events and property changes through a pipeline and flush them",
	Long: `Starts a pipeline against a collector, records the events and property
changes given as flags, flushes once and prints every completion.

Values that parse as numbers are sent as numbers. The API key is read from
MTMA_API_KEY.`,
	RunE: runEmit,
}

func init() {
	f := emitCmd.Flags()
	f.String("address", "", "collector address (overrides config)")
	f.Bool("insecure", false, "connect without TLS")
	f.String("user", "", "user id to identify as")
	f.String("anonymous", "", "anonymous id to identify as")
	f.StringArray("event", nil, "event name to record (repeatable)")
	f.StringArray("prop", nil, "event property key=value applied to every event (repeatable)")
	f.StringArray("set", nil, "profile property key=value to set (repeatable)")
	f.StringArray("increase", nil, "profile property key=number to increase (repeatable)")
	f.StringArray("add", nil, "string-set property key=element to add (repeatable)")
	f.StringArray("remove", nil, "string-set property key=element to remove (repeatable)")
	f.StringArray("delete", nil, "profile property to delete (repeatable)")
	f.StringArray("contact", nil, "contact type=value (repeatable)")
	f.StringArray("utm", nil, "utm_* key=value (repeatable)")
	rootCmd.AddCommand(emitCmd)
}

// completions collects operation outcomes for printing.
type completions struct {
	mu      sync.Mutex
	results []string
}

func (c *completions) track(op string) sdk.Completion {
	return func(code int, message string) {
		line := fmt.Sprintf("%-28s code=%d", op, code)
		if message != "" {
			line += " " + message
		}
		c.mu.Lock()
		c.results = append(c.results, line)
		c.mu.Unlock()
	}
}

func runEmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}
	pc := cfg.Pipeline
	f := cmd.Flags()
	if f.Changed("address") {
		pc.CollectorAddress, _ = f.GetString("address")
	}
	if f.Changed("insecure") {
		pc.Insecure, _ = f.GetBool("insecure")
	}

	props, err := pairs(f, "prop", true)
	if err != nil {
		return err
	}
	sets, err := pairs(f, "set", true)
	if err != nil {
		return err
	}
	increases, err := pairs(f, "increase", true)
	if err != nil {
		return err
	}
	adds, err := pairs(f, "add", false)
	if err != nil {
		return err
	}
	removes, err := pairs(f, "remove", false)
	if err != nil {
		return err
	}
	contacts, err := pairs(f, "contact", false)
	if err != nil {
		return err
	}
	utm, err := pairs(f, "utm", false)
	if err != nil {
		return err
	}

	svc := sdk.NewService(log.Logger)
	out := &completions{}

	started := make(chan int, 1)
	var startMsg string
	cfgStart := sdk.Config{
		AppKey:             config.APIKey(),
		FlushInterval:      pc.FlushInterval,
		MaxEventCacheCount: pc.MaxEventCacheCount,
		SessionTimeout:     pc.SessionTimeout,
		UploadTimeout:      pc.UploadTimeout,
		Collector: sdk.CollectorConfig{
			Address:  pc.CollectorAddress,
			Insecure: pc.Insecure,
			Compress: pc.Compress,
		},
		CacheURL: pc.CacheURL,
		Completion: func(code int, message string) {
			startMsg = message
			started <- code
		},
	}
	user, _ := f.GetString("user")
	anonymous, _ := f.GetString("anonymous")
	if user != "" || anonymous != "" {
		cfgStart.UserID = &sdk.UserID{UserID: user, AnonymousID: anonymous, Completion: out.track("identify")}
	}
	svc.Start(cfgStart)
	if code := <-started; code != sdk.CodeOK {
		svc.Close()
		return errors.Errorf("start failed (code %d): %s", code, startMsg)
	}

	if len(contacts) > 0 {
		c := make(map[string]string, len(contacts))
		for k, v := range contacts {
			c[k] = fmt.Sprint(v)
		}
		svc.SetUserContact(sdk.UserContact{Contacts: c, Completion: out.track("contacts")})
	}

	events, _ := f.GetStringArray("event")
	for _, name := range events {
		svc.RecordEvent(name, props, out.track("event "+name))
	}
	if len(sets) > 0 {
		svc.SetProperties(sets, out.track("set"))
	}
	if len(increases) > 0 {
		svc.IncreaseProperties(increases, out.track("increase"))
	}
	for k, v := range adds {
		svc.AddProperty(k, []string{fmt.Sprint(v)}, out.track("add "+k))
	}
	for k, v := range removes {
		svc.RemoveProperty(k, []string{fmt.Sprint(v)}, out.track("remove "+k))
	}
	deletes, _ := f.GetStringArray("delete")
	for _, k := range deletes {
		svc.DeleteProperty(k, out.track("delete "+k))
	}
	if len(utm) > 0 {
		u := make(map[string]string, len(utm))
		for k, v := range utm {
			u[k] = fmt.Sprint(v)
		}
		svc.SetUtmProperties(u, out.track("utm"))
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), pc.UploadTimeout+pc.FlushInterval)
	defer cancel()
	flushErr := svc.Flush(ctx)
	euid := svc.EUID()
	stats := svc.Stats()
	// Close delivers every outstanding completion before returning.
	svc.Close()

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "euid: %s\n", euid)
	for _, line := range out.results {
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "uploads=%d failures=%d events_sent=%d mutations_sent=%d events_rejected=%d\n",
		stats.Uploads, stats.Failures, stats.EventsSent, stats.MutationsSent, stats.EventsRejected)
	return flushErr
}

// pairs parses a repeatable key=value flag. With numeric set, values that
// parse as numbers become float64.
func pairs(f interface {
	GetStringArray(string) ([]string, error)
}, name string, numeric bool) (map[string]any, error) {
	raw, err := f.GetStringArray(name)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, errors.Errorf("--%s %q: want key=value", name, kv)
		}
		if numeric {
			if n, err := strconv.ParseFloat(v, 64); err == nil {
				out[k] = n
				continue
			}
		}
		out[k] = v
	}
	return out, nil
}
