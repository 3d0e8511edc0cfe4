// Package audit records before/after snapshots of mutated entities as
// audit.change.v1 events. audit-service stores them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/hoaht-8203/courtops/libs/outbox"
	"github.com/jackc/pgx/v5"
)

const EventType = "audit.change.v1"

const (
	ActionCreate = "Create"
	ActionUpdate = "Update"
	ActionDelete = "Delete"
)

// Change describes one mutation. Old is nil for creates, New is nil for deletes.
type Change struct {
	Service  string
	Table    string
	EntityID string
	Action   string
	Actor    httpx.Actor
	Old      any
	New      any
}

// Payload is the wire form of audit.change.v1.
type Payload struct {
	Service        string         `json:"service"`
	TableName      string         `json:"table_name"`
	EntityID       string         `json:"entity_id"`
	Action         string         `json:"action"`
	UserID         string         `json:"user_id,omitempty"`
	UserName       string         `json:"user_name,omitempty"`
	IPAddress      string         `json:"ip_address,omitempty"`
	ChangedColumns []string       `json:"changed_columns,omitempty"`
	OldValues      map[string]any `json:"old_values,omitempty"`
	NewValues      map[string]any `json:"new_values,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// Record builds the payload for c and enqueues it in tx.
func Record(ctx context.Context, tx pgx.Tx, c Change) error {
	p, err := Build(c, time.Now().UTC())
	if err != nil {
		return err
	}
	return outbox.EnqueueJSON(ctx, tx, c.Table, c.EntityID, EventType, p)
}

// Build converts c to its payload. For updates only changed columns are kept
// in the old/new maps.
func Build(c Change, at time.Time) (Payload, error) {
	oldValues, err := toMap(c.Old)
	if err != nil {
		return Payload{}, fmt.Errorf("audit old values: %w", err)
	}
	newValues, err := toMap(c.New)
	if err != nil {
		return Payload{}, fmt.Errorf("audit new values: %w", err)
	}

	p := Payload{
		Service:    c.Service,
		TableName:  c.Table,
		EntityID:   c.EntityID,
		Action:     c.Action,
		UserID:     c.Actor.UserID,
		UserName:   c.Actor.Name,
		IPAddress:  c.Actor.IP,
		OccurredAt: at,
	}
	switch c.Action {
	case ActionCreate:
		p.NewValues = newValues
	case ActionDelete:
		p.OldValues = oldValues
	default:
		cols := Diff(oldValues, newValues)
		p.ChangedColumns = cols
		if len(cols) > 0 {
			p.OldValues = make(map[string]any, len(cols))
			p.NewValues = make(map[string]any, len(cols))
			for _, col := range cols {
				p.OldValues[col] = oldValues[col]
				p.NewValues[col] = newValues[col]
			}
		}
	}
	return p, nil
}

// Diff returns the sorted keys whose values differ between before and after.
func Diff(before, after map[string]any) []string {
	seen := map[string]struct{}{}
	var cols []string
	for k, v := range before {
		seen[k] = struct{}{}
		if !reflect.DeepEqual(v, after[k]) {
			cols = append(cols, k)
		}
	}
	for k, v := range after {
		if _, ok := seen[k]; ok {
			continue
		}
		if v != nil {
			cols = append(cols, k)
		}
	}
	sort.Strings(cols)
	return cols
}

func toMap(v any) (map[string]any, error) {
	if v == nil {
		return nil, nil
	}
	if m, ok := v.(map[string]any); ok {
		return m, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}
