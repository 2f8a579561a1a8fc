package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/scheduledoc"
)

type scheduleStoreStub struct {
	states map[string]*models.ScheduleState
}

func newScheduleStoreStub() *scheduleStoreStub {
	return &scheduleStoreStub{states: map[string]*models.ScheduleState{}}
}

func (s *scheduleStoreStub) Get(ctx context.Context, ownerID string) (*models.ScheduleState, error) {
	state, ok := s.states[ownerID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return state, nil
}

func (s *scheduleStoreStub) Upsert(ctx context.Context, state *models.ScheduleState) error {
	copied := *state
	s.states[state.OwnerID] = &copied
	return nil
}

func (s *scheduleStoreStub) Delete(ctx context.Context, ownerID string) error {
	delete(s.states, ownerID)
	return nil
}

func TestScheduleServiceSeedsOnFirstAccess(t *testing.T) {
	store := newScheduleStoreStub()
	svc := NewScheduleService(store, nil)

	doc, _, err := svc.GetDocument(context.Background(), "u1")
	require.NoError(t, err)
	require.NotNil(t, doc)
	assert.Equal(t, scheduledoc.DefaultLocationID, doc.Locations[0].ID)
	assert.Contains(t, store.states, "u1")
}

func TestScheduleServiceUpgradesLegacyShape(t *testing.T) {
	store := newScheduleStoreStub()
	store.states["u1"] = &models.ScheduleState{
		OwnerID: "u1",
		Document: models.ScheduleDocument(`{"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}]}`),
	}
	svc := NewScheduleService(store, nil)

	doc, _, err := svc.GetDocument(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, scheduledoc.CurrentTemplateVersion, doc.Template.Version)

	// The canonical form was written back; a second read is a no-op.
	var persisted map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(store.states["u1"].Document), &persisted))
	assert.EqualValues(t, scheduledoc.CurrentTemplateVersion, persisted["template"].(map[string]interface{})["version"])
}

func TestScheduleServiceSaveRejectsInvalidDocument(t *testing.T) {
	store := newScheduleStoreStub()
	svc := NewScheduleService(store, nil)

	_, err := svc.SaveDocument(context.Background(), "u1", json.RawMessage(`{"rows": 42}`))
	require.Error(t, err)
	assert.NotContains(t, store.states, "u1", "nothing persisted on validation failure")
}

func TestScheduleServiceApplyAssignmentsIsIdempotent(t *testing.T) {
	store := newScheduleStoreStub()
	svc := NewScheduleService(store, nil)

	raw := json.RawMessage(`{"rows": [{"id": "ct", "name": "CT", "kind": "class",
		"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"clinicians": [{"id": "c1", "name": "One", "qualifiedSectionIds": ["ct"]}]}`)
	_, err := svc.SaveDocument(context.Background(), "u1", raw)
	require.NoError(t, err)

	produced := []scheduledoc.Assignment{{
		ID: "as-2026-01-05-c1-ct::s1::mon", RowID: "ct::s1::mon", DateISO: "2026-01-05",
		ClinicianID: "c1", Source: scheduledoc.SourceSolver,
	}}

	doc, err := svc.ApplyAssignments(context.Background(), "u1", produced)
	require.NoError(t, err)
	assert.Len(t, doc.Assignments, 1)

	doc, err = svc.ApplyAssignments(context.Background(), "u1", produced)
	require.NoError(t, err)
	assert.Len(t, doc.Assignments, 1, "replaying the same response does not duplicate")
}

func TestScheduleServiceSetWeekPublished(t *testing.T) {
	store := newScheduleStoreStub()
	svc := NewScheduleService(store, nil)

	doc, err := svc.SetWeekPublished(context.Background(), "u1", "2026-01-05", true)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-05"}, doc.PublishedWeeks)

	doc, err = svc.SetWeekPublished(context.Background(), "u1", "2026-01-05", false)
	require.NoError(t, err)
	assert.Empty(t, doc.PublishedWeeks)

	_, err = svc.SetWeekPublished(context.Background(), "u1", "2026-01-06", true)
	require.Error(t, err, "non-Monday rejected")
}
