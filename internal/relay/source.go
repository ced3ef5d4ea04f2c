package relay

import (
	"fmt"
	"strings"

	"github.com/ppiankov/topicrelay/internal/config"
	"github.com/ppiankov/topicrelay/internal/state"
)

// Source is one validated group topic to poll. Index is its position in the
// config's sources list.
type Source struct {
	Key   state.Key
	Index int
}

// Skipped is a configured source whose type is not supported.
type Skipped struct {
	Index int
	Type  string
}

// Plan is the validated, ordered list of sources for a run.
type Plan struct {
	Sources []Source
	Skipped []Skipped
}

// ConfigError is a source entry that makes the whole run unusable.
type ConfigError struct {
	Index  int
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("sources[%d].%s: %s", e.Index, e.Field, e.Reason)
}

// PlanSources validates every source before anything is fetched.
// Unsupported types are skipped; a group_topic entry missing group or
// topic_id, or an entry without a type, fails the run.
func PlanSources(sources []config.SourceConfig) (Plan, error) {
	if len(sources) == 0 {
		return Plan{}, &ConfigError{Index: -1, Field: "sources", Reason: "at least one source must be configured"}
	}

	var plan Plan
	seen := make(map[state.Key]bool, len(sources))

	for i, sc := range sources {
		typ := strings.TrimSpace(sc.Type)
		switch typ {
		case "":
			return Plan{}, &ConfigError{Index: i, Field: "type", Reason: "is required"}
		case config.SourceTypeGroupTopic:
			// handled below
		default:
			plan.Skipped = append(plan.Skipped, Skipped{Index: i, Type: typ})
			continue
		}

		group := strings.TrimSpace(sc.Group)
		if group == "" {
			return Plan{}, &ConfigError{Index: i, Field: "group", Reason: "is required for group_topic sources"}
		}
		if sc.TopicID == nil {
			return Plan{}, &ConfigError{Index: i, Field: "topic_id", Reason: "is required for group_topic sources"}
		}
		if *sc.TopicID <= 0 {
			return Plan{}, &ConfigError{Index: i, Field: "topic_id", Reason: fmt.Sprintf("must be positive, got %d", *sc.TopicID)}
		}

		key := state.Key{Group: group, TopicID: *sc.TopicID}
		if seen[key] {
			continue
		}
		seen[key] = true
		plan.Sources = append(plan.Sources, Source{Key: key, Index: i})
	}

	return plan, nil
}
