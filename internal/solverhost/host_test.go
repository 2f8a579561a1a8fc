package solverhost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/solver"
)

func singleSlotDocument() *scheduledoc.Document {
	return &scheduledoc.Document{
		Locations: []scheduledoc.Location{{ID: scheduledoc.DefaultLocationID, Name: "Default"}},
		Rows: []scheduledoc.WorkplaceRow{
			{ID: "ct", Name: "CT", Kind: scheduledoc.RowKindClass, LocationID: scheduledoc.DefaultLocationID},
		},
		Clinicians: []scheduledoc.Clinician{
			{ID: "c1", Name: "Dr. One", QualifiedSectionIDs: []string{"ct"}},
		},
		Template: scheduledoc.WeeklyTemplate{
			Version: scheduledoc.CurrentTemplateVersion,
			Blocks:  []scheduledoc.Block{{ID: "b1", SectionID: "ct", RequiredSlots: 1}},
			Locations: []scheduledoc.TemplateLocation{{
				LocationID: scheduledoc.DefaultLocationID,
				RowBands:   []scheduledoc.RowBand{{ID: "rb1", Order: 0}},
				ColBands:   []scheduledoc.ColBand{{ID: "cb-mon", Order: 0, DayType: scheduledoc.DayMon}},
				Slots: []scheduledoc.Slot{{
					ID: "s", LocationID: scheduledoc.DefaultLocationID, RowBandID: "rb1",
					ColBandID: "cb-mon", BlockID: "b1", RequiredSlots: 1,
					StartTime: "08:00", EndTime: "16:00",
				}},
			}},
		},
		Settings: scheduledoc.DefaultSolverSettings(),
	}
}

func TestHostSolveDeliversResultAndEvents(t *testing.T) {
	host := New(Config{MonitorInterval: 5 * time.Millisecond}, nil)
	sub := host.Subscribe()
	defer host.Unsubscribe(sub)

	result, err := host.Solve(context.Background(), singleSlotDocument(), solver.Request{
		StartISO:         "2026-01-05",
		EndISO:           "2026-01-05",
		OnlyFillRequired: true,
		TimeoutSeconds:   5,
	})
	require.NoError(t, err)
	require.Len(t, result.Assignments, 1)
	assert.Equal(t, "c1", result.Assignments[0].ClinicianID)
	assert.Equal(t, "s", result.Assignments[0].RowID)
	assert.Equal(t, scheduledoc.SourceSolver, result.Assignments[0].Source)
	assert.False(t, host.IsRunning())

	seen := map[EventType]bool{}
	var solutionAssignments int
	timeout := time.After(2 * time.Second)
	for !(seen[EventStart] && seen[EventComplete]) {
		select {
		case ev := <-sub.Events:
			seen[ev.Type] = true
			if ev.Type == EventSolution {
				solutionAssignments = len(ev.Assignments)
			}
			if ev.Type == EventComplete {
				assert.Equal(t, "success", ev.Status)
			}
		case <-timeout:
			t.Fatalf("timed out waiting for events, saw %v", seen)
		}
	}
	assert.True(t, seen[EventPhase])
	assert.True(t, seen[EventSolution])
	assert.Equal(t, 1, solutionAssignments)
}

func TestHostAbortWhenIdle(t *testing.T) {
	host := New(Config{}, nil)
	assert.Equal(t, AbortNotRunning, host.Abort(false))
	assert.Equal(t, AbortNotRunning, host.Abort(true))
}

func TestHostRejectsConcurrentSolve(t *testing.T) {
	host := New(Config{}, nil)
	host.mu.Lock()
	host.running = true
	host.mu.Unlock()

	_, err := host.Solve(context.Background(), singleSlotDocument(), solver.Request{StartISO: "2026-01-05"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")

	host.mu.Lock()
	host.running = false
	host.mu.Unlock()
}

func TestHostInvalidRange(t *testing.T) {
	host := New(Config{}, nil)
	_, err := host.Solve(context.Background(), singleSlotDocument(), solver.Request{
		StartISO: "2026-01-10",
		EndISO:   "2026-01-05",
	})
	require.Error(t, err)
	assert.False(t, host.IsRunning())
}

func TestBusDropsWhenSubscriberFull(t *testing.T) {
	b := newBus(2, nil)
	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 5; i++ {
		b.Broadcast(Event{Type: EventPhase, Phase: PhaseSearch})
	}
	// Only the queue capacity survives; the rest were dropped, not blocked on.
	assert.Len(t, sub.Events, 2)
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	b := newBus(4, nil)
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	_, open := <-sub.Events
	assert.False(t, open)
	assert.Equal(t, 0, b.Count())
	// Double unsubscribe is a no-op.
	b.Unsubscribe(sub)
}
