// Package invalidation carries entity change events between server replicas.
package invalidation

import (
	"fmt"
	"strings"
	"time"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
)

const (
	OpCreate  = "create"
	OpReplace = "replace"
	OpUpdate  = "update"
	OpDelete  = "delete"
)

type Event struct {
	Version    int       `json:"version"`
	Op         string    `json:"op"`
	EntityType string    `json:"entityType"`
	IDs        []string  `json:"ids"`
	TS         time.Time `json:"ts"`
	Cells      []string  `json:"cells,omitempty"`
	// Source is the instance that published the event
	Source string `json:"source,omitempty"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpCreate, OpReplace, OpUpdate, OpDelete:
	default:
		return fmt.Errorf("op must be create|replace|update|delete")
	}
	if strings.TrimSpace(e.EntityType) == "" {
		return fmt.Errorf("entityType is required")
	}
	if _, ok := model.ParseEntityType(e.EntityType); !ok {
		return fmt.Errorf("unknown entityType %q", e.EntityType)
	}
	if len(e.IDs) == 0 {
		return fmt.Errorf("ids must not be empty")
	}
	if e.TS.IsZero() {
		return fmt.Errorf("ts is required")
	}
	return nil
}

// Type returns the parsed entity type. Only valid after Validate.
func (e Event) Type() model.EntityType {
	t, _ := model.ParseEntityType(e.EntityType)
	return t
}
