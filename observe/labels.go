// Package observe carries run instrumentation: a label-cardinality filter
// for metric labels and the prometheus collectors the run loop reports to.
package observe

import (
	"regexp"
	"strings"
)

// DefaultBlockedKeys are label keys dropped by FilterLabels. They identify
// individual users, requests, or messages and would explode metric
// cardinality if exported.
var DefaultBlockedKeys = []string{
	"user_id",
	"session_id",
	"request_id",
	"trace_id",
	"span_id",
	"thread_id",
	"resource_id",
	"message_id",
	"run_id",
	"email",
	"ip",
	"address",
}

var uuidRe = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

type filterConfig struct {
	blockedKeys []string
	dropUUIDs   bool
}

// FilterOption adjusts FilterLabels behavior.
type FilterOption func(*filterConfig)

// WithBlockedKeys replaces the default blocked-key set. Pass nil to disable
// key blocking entirely.
func WithBlockedKeys(keys []string) FilterOption {
	return func(c *filterConfig) { c.blockedKeys = keys }
}

// KeepUUIDKeys disables dropping UUID-shaped keys and values.
func KeepUUIDKeys() FilterOption {
	return func(c *filterConfig) { c.dropUUIDs = false }
}

// FilterLabels returns a copy of labels without keys matching the blocked
// set (case-insensitive) and without UUID-shaped keys or values. Each rule
// can be disabled independently via options.
func FilterLabels(labels map[string]string, opts ...FilterOption) map[string]string {
	cfg := filterConfig{blockedKeys: DefaultBlockedKeys, dropUUIDs: true}
	for _, opt := range opts {
		opt(&cfg)
	}

	blocked := make(map[string]bool, len(cfg.blockedKeys))
	for _, k := range cfg.blockedKeys {
		blocked[strings.ToLower(k)] = true
	}

	out := make(map[string]string, len(labels))
	for k, v := range labels {
		if blocked[strings.ToLower(k)] {
			continue
		}
		if cfg.dropUUIDs && (uuidRe.MatchString(k) || uuidRe.MatchString(v)) {
			continue
		}
		out[k] = v
	}
	return out
}
