package mqtt

import (
	"fmt"
	"path/filepath"
	"strings"
)

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "sqlitehelper"

// Topics provides builders for sqlitehelper MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.NewTopics("sqlitehelper")
//	topics.MigrationEvent("app.db")
//	// Returns: "sqlitehelper/migrations/app_db/event"
type Topics struct {
	Prefix string
}

// NewTopics returns a topic builder for prefix, trimming surrounding
// slashes. An empty prefix selects DefaultTopicPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return Topics{Prefix: prefix}
}

// Status returns the retained online/offline status topic.
//
// Example: sqlitehelper/status
func (t Topics) Status() string {
	return t.Prefix + "/status"
}

// MigrationEvent returns the topic for per-step migration events.
//
// Example: sqlitehelper/migrations/app_db/event
func (t Topics) MigrationEvent(database string) string {
	return fmt.Sprintf("%s/migrations/%s/event", t.Prefix, TopicSegment(database))
}

// MigrationStatus returns the retained topic for the last run result.
//
// Example: sqlitehelper/migrations/app_db/status
func (t Topics) MigrationStatus(database string) string {
	return fmt.Sprintf("%s/migrations/%s/status", t.Prefix, TopicSegment(database))
}

// TopicSegment turns a database name or path into a single topic level.
// Directory components are dropped; separators, wildcards and dots
// become underscores.
func TopicSegment(name string) string {
	name = filepath.Base(name)
	if name == "." || name == string(filepath.Separator) || name == "" {
		return "unnamed"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '+', '#', '.', ' ', ':':
			return '_'
		}
		return r
	}, name)
}
