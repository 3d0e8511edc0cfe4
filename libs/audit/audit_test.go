package audit

import (
	"testing"
	"time"

	"github.com/hoaht-8203/courtops/libs/httpx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type court struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

func TestDiffListsOnlyChangedColumns(t *testing.T) {
	before := map[string]any{"name": "A", "status": "Active", "price": 10.0}
	after := map[string]any{"name": "A", "status": "Maintenance", "price": 10.0, "note": "x"}
	assert.Equal(t, []string{"note", "status"}, Diff(before, after))
	assert.Empty(t, Diff(before, before))
}

func TestBuildUpdateKeepsChangedValues(t *testing.T) {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	p, err := Build(Change{
		Service:  "court-service",
		Table:    "courts",
		EntityID: "c1",
		Action:   ActionUpdate,
		Actor:    httpx.Actor{UserID: "u1", Name: "Lan", IP: "10.0.0.1"},
		Old:      court{ID: "c1", Name: "Court 1", Status: "Active"},
		New:      court{ID: "c1", Name: "Court 1", Status: "Maintenance"},
	}, at)
	require.NoError(t, err)

	assert.Equal(t, []string{"status"}, p.ChangedColumns)
	assert.Equal(t, map[string]any{"status": "Active"}, p.OldValues)
	assert.Equal(t, map[string]any{"status": "Maintenance"}, p.NewValues)
	assert.Equal(t, "u1", p.UserID)
	assert.Equal(t, at, p.OccurredAt)
}

func TestBuildCreateAndDelete(t *testing.T) {
	c := court{ID: "c1", Name: "Court 1", Status: "Active"}

	p, err := Build(Change{Table: "courts", EntityID: "c1", Action: ActionCreate, New: c}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, p.OldValues)
	assert.Equal(t, "Court 1", p.NewValues["name"])

	p, err = Build(Change{Table: "courts", EntityID: "c1", Action: ActionDelete, Old: c}, time.Now())
	require.NoError(t, err)
	assert.Nil(t, p.NewValues)
	assert.Equal(t, "Active", p.OldValues["status"])
}
