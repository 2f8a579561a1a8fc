package solver

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
)

// testDoc builds a one-location document with the given class rows, slots,
// and clinicians. Slot day types are taken from the col band id suffix.
type slotSpec struct {
	id        string
	sectionID string
	dayType   scheduledoc.DayType
	start     string
	end       string
	required  int
	offset    int
}

func buildDoc(clinicians []scheduledoc.Clinician, slots []slotSpec) *scheduledoc.Document {
	doc := &scheduledoc.Document{
		Locations: []scheduledoc.Location{{ID: scheduledoc.DefaultLocationID, Name: "Default"}},
		Settings:  scheduledoc.DefaultSolverSettings(),
	}
	doc.Clinicians = clinicians

	sections := map[string]bool{}
	for _, s := range slots {
		sections[s.sectionID] = true
	}
	for id := range sections {
		doc.Rows = append(doc.Rows, scheduledoc.WorkplaceRow{
			ID: id, Name: strings.ToUpper(id), Kind: scheduledoc.RowKindClass, LocationID: scheduledoc.DefaultLocationID,
		})
	}

	loc := scheduledoc.TemplateLocation{
		LocationID: scheduledoc.DefaultLocationID,
		RowBands:   []scheduledoc.RowBand{{ID: "rb1", Order: 0}},
	}
	colBands := map[scheduledoc.DayType]bool{}
	for _, s := range slots {
		if !colBands[s.dayType] {
			colBands[s.dayType] = true
			loc.ColBands = append(loc.ColBands, scheduledoc.ColBand{
				ID: "cb-" + string(s.dayType), Order: len(loc.ColBands), DayType: s.dayType,
			})
		}
		blockID := "b-" + s.id
		doc.Template.Blocks = append(doc.Template.Blocks, scheduledoc.Block{
			ID: blockID, SectionID: s.sectionID, RequiredSlots: s.required,
		})
		loc.Slots = append(loc.Slots, scheduledoc.Slot{
			ID: s.id, LocationID: scheduledoc.DefaultLocationID, RowBandID: "rb1",
			ColBandID: "cb-" + string(s.dayType), BlockID: blockID,
			RequiredSlots: s.required, StartTime: s.start, EndTime: s.end, EndDayOffset: s.offset,
		})
	}
	doc.Template.Version = scheduledoc.CurrentTemplateVersion
	doc.Template.Locations = []scheduledoc.TemplateLocation{loc}
	return doc
}

func runSolve(t *testing.T, doc *scheduledoc.Document, req Request) *Result {
	t.Helper()
	result, err := Run(context.Background(), doc, req, time.Now(), nil)
	require.NoError(t, err)
	return result
}

func TestSingleSlotSingleClinician(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.Len(t, result.Assignments, 1)
	a := result.Assignments[0]
	assert.Equal(t, "s", a.RowID)
	assert.Equal(t, "2026-01-05", a.DateISO)
	assert.Equal(t, "c1", a.ClinicianID)
	assert.Equal(t, scheduledoc.SourceSolver, a.Source)
	assert.Equal(t, "as-2026-01-05-c1-s", a.ID)

	assert.Equal(t, StatusOptimal, result.Diagnostics.SolverStatus)
	assert.Equal(t, 0, result.Diagnostics.SubScores.SlotsUnfilled)
	foundCompleted := false
	for _, n := range result.Diagnostics.Notes {
		if strings.Contains(n, "completed in") && strings.HasSuffix(n, "ms") {
			foundCompleted = true
		}
	}
	assert.True(t, foundCompleted, "notes: %v", result.Diagnostics.Notes)
}

func TestMandatoryWindowExcludesSlot(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{
			ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"},
			PreferredWorkingTimes: map[scheduledoc.DayType]scheduledoc.WorkingWindow{
				scheduledoc.DayMon: {Requirement: scheduledoc.RequirementMandatory, Start: "09:00", End: "12:00"},
			},
		}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "13:00", end: "15:00", required: 1}},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Empty(t, result.Assignments)
	assert.NotEqual(t, StatusOptimal, result.Diagnostics.SolverStatus)
	assert.NotEqual(t, StatusFeasible, result.Diagnostics.SolverStatus)
	require.NotEmpty(t, result.Diagnostics.Notes)
	assert.Contains(t, result.Diagnostics.Notes[0], "No feasible assignment found")
}

func TestPreferenceWindowSteersChoice(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{
			{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}},
			{ID: "c2", Name: "Two", QualifiedSectionIDs: []string{"ct"},
				PreferredWorkingTimes: map[scheduledoc.DayType]scheduledoc.WorkingWindow{
					scheduledoc.DayMon: {Requirement: scheduledoc.RequirementPreference, Start: "07:00", End: "17:00"},
				}},
		},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.Len(t, result.Assignments, 1)
	assert.Equal(t, "c2", result.Assignments[0].ClinicianID)
	assert.Greater(t, result.Diagnostics.SubScores.TimeWindowScore, 0.0)
}

func TestWorkingHoursBalanceSplitsAdjacentSlots(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{
			{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}, WorkingHoursPerWeek: 7, WorkingHoursToleranceHours: 0},
			{ID: "c2", Name: "Two", QualifiedSectionIDs: []string{"ct"}, WorkingHoursPerWeek: 7, WorkingHoursToleranceHours: 0},
		},
		[]slotSpec{
			{id: "s1", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "09:00", required: 1},
			{id: "s2", sectionID: "ct", dayType: scheduledoc.DayMon, start: "09:00", end: "10:00", required: 1},
		},
	)
	// Clinician tolerance of zero must survive the settings default.
	doc.Settings.WorkingHoursToleranceHours = 0

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.Len(t, result.Assignments, 2)
	byClinician := map[string]int{}
	for _, a := range result.Assignments {
		byClinician[a.ClinicianID]++
	}
	assert.Equal(t, 1, byClinician["c1"])
	assert.Equal(t, 1, byClinician["c2"])
}

func TestOnCallRestDayBlocksPriorDay(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{
			{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct", "on-call"}},
			{ID: "c2", Name: "Two", QualifiedSectionIDs: []string{"ct"}},
		},
		[]slotSpec{
			{id: "s-mon", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1},
			{id: "s-oncall-tue", sectionID: "on-call", dayType: scheduledoc.DayTue, start: "08:00", end: "16:00", required: 1},
		},
	)
	doc.Settings.OnCallRestEnabled = true
	doc.Settings.OnCallRestSectionID = "on-call"
	doc.Settings.OnCallRestDaysBefore = 1
	doc.Settings.OnCallRestDaysAfter = 0
	// Manual on-call Tuesday for c1, one day outside the solved range.
	doc.Assignments = []scheduledoc.Assignment{
		{ID: "m1", RowID: "s-oncall-tue", DateISO: "2026-01-06", ClinicianID: "c1", Source: scheduledoc.SourceManual},
	}

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.Len(t, result.Assignments, 1)
	assert.Equal(t, "c2", result.Assignments[0].ClinicianID)
}

func TestRangeFallbackSolvesWeekByWeek(t *testing.T) {
	// The only clinician is on vacation for one mid-range day, leaving that
	// day's required slot hopeless: the full range is infeasible but most
	// weeks solve individually.
	doc := buildDoc(
		[]scheduledoc.Clinician{{
			ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"},
			Vacations: []scheduledoc.VacationRange{{StartISO: "2026-01-21", EndISO: "2026-01-21"}},
		}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayWed, start: "08:00", end: "16:00", required: 1}},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-02-03", OnlyFillRequired: true, TimeoutSeconds: 10})
	require.NotEmpty(t, result.Assignments)
	require.NotEmpty(t, result.Diagnostics.Notes)
	assert.Contains(t, result.Diagnostics.Notes[0], "Full-range solver failed")
	last := result.Diagnostics.Notes[len(result.Diagnostics.Notes)-1]
	assert.Contains(t, last, "Week-by-week fallback solved")

	for _, a := range result.Assignments {
		assert.NotEqual(t, "2026-01-21", a.DateISO)
	}
}

func TestInvalidRange(t *testing.T) {
	doc := buildDoc(nil, nil)
	_, err := Run(context.Background(), doc, Request{StartISO: "2026-01-10", EndISO: "2026-01-05"}, time.Now(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "before startISO")

	_, err = Run(context.Background(), doc, Request{StartISO: "not-a-date"}, time.Now(), nil)
	require.Error(t, err)
}

func TestEndISODefaultsToSixDaysOut(t *testing.T) {
	req := Request{StartISO: "2026-01-05"}
	require.NoError(t, ResolveRange(&req))
	assert.Equal(t, "2026-01-11", req.EndISO)
	assert.Equal(t, DefaultTimeoutSeconds, req.TimeoutSeconds)
}

func TestZeroRequiredSlotProducesNoAssignments(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 0}},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Empty(t, result.Assignments)
	assert.Equal(t, StatusOptimal, result.Diagnostics.SolverStatus)
}

func TestOverrideRaisesRequirement(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{
			{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}},
			{ID: "c2", Name: "Two", QualifiedSectionIDs: []string{"ct"}},
		},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)
	doc.Overrides = []scheduledoc.SlotOverride{{Key: "s__2026-01-05", Delta: 1}}

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Len(t, result.Assignments, 2)
}

func TestNoOverlapPerClinician(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{
			{id: "s1", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1},
			{id: "s2", sectionID: "ct", dayType: scheduledoc.DayMon, start: "12:00", end: "20:00", required: 1},
		},
	)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Len(t, result.Assignments, 1)
}

func TestCrossMidnightOverlapDetected(t *testing.T) {
	// A Monday shift starting 23:00 with endDayOffset=3 spans into Thursday;
	// a Tuesday day shift for the same clinician must conflict with it.
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{
			{id: "s-long", sectionID: "ct", dayType: scheduledoc.DayMon, start: "23:00", end: "23:00", required: 1, offset: 3},
			{id: "s-tue", sectionID: "ct", dayType: scheduledoc.DayTue, start: "00:00", end: "23:00", required: 1},
		},
	)

	model, err := BuildModel(doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-06", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.NoError(t, err)
	require.Len(t, model.Vars, 2)
	require.Len(t, model.Conflicts, 1)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-06", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Len(t, result.Assignments, 1)
}

func TestZeroLengthSlotNeverOverlaps(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{
			{id: "s-zero", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "08:00", required: 1},
			{id: "s-day", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1},
		},
	)

	model, err := BuildModel(doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.NoError(t, err)
	assert.Empty(t, model.Conflicts)

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5})
	assert.Len(t, result.Assignments, 2)
}

func TestVacationExcludesVariables(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{
			ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"},
			Vacations: []scheduledoc.VacationRange{{StartISO: "2026-01-01", EndISO: "2026-01-31"}},
		}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)

	model, err := BuildModel(doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true})
	require.NoError(t, err)
	assert.Empty(t, model.Vars)
}

func TestManualRestConflictDiagnostics(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct", "on-call"}}},
		[]slotSpec{
			{id: "s-mon", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1},
			{id: "s-oncall-tue", sectionID: "on-call", dayType: scheduledoc.DayTue, start: "08:00", end: "16:00", required: 1},
		},
	)
	doc.Settings.OnCallRestEnabled = true
	doc.Settings.OnCallRestSectionID = "on-call"
	doc.Settings.OnCallRestDaysBefore = 1
	doc.Settings.OnCallRestDaysAfter = 0
	doc.Assignments = []scheduledoc.Assignment{
		{ID: "m1", RowID: "s-mon", DateISO: "2026-01-05", ClinicianID: "c1", Source: scheduledoc.SourceManual},
		{ID: "m2", RowID: "s-oncall-tue", DateISO: "2026-01-06", ClinicianID: "c1", Source: scheduledoc.SourceManual},
	}

	result := runSolve(t, doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-06", OnlyFillRequired: true, TimeoutSeconds: 5})
	require.Len(t, result.Diagnostics.RestConflicts, 1)
	rc := result.Diagnostics.RestConflicts[0]
	assert.Equal(t, "c1", rc.ClinicianID)
	assert.Equal(t, "2026-01-06", rc.OnCallDateISO)
	assert.Equal(t, "2026-01-05", rc.RestDateISO)
}

func TestProgressCallbackPublishesSolutions(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)

	var solutions []ProgressSolution
	_, err := Run(context.Background(), doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true, TimeoutSeconds: 5}, time.Now(), func(p ProgressSolution) {
		solutions = append(solutions, p)
	})
	require.NoError(t, err)
	require.NotEmpty(t, solutions)
	assert.Equal(t, 1, solutions[0].SolutionIndex)
	assert.Len(t, solutions[0].Assignments, 1)
}

func TestHoursScaleMatchesHorizonFraction(t *testing.T) {
	doc := buildDoc(
		[]scheduledoc.Clinician{{ID: "c1", Name: "One", QualifiedSectionIDs: []string{"ct"}, WorkingHoursPerWeek: 35}},
		[]slotSpec{{id: "s", sectionID: "ct", dayType: scheduledoc.DayMon, start: "08:00", end: "16:00", required: 1}},
	)

	model, err := BuildModel(doc, Request{StartISO: "2026-01-05", EndISO: "2026-01-05", OnlyFillRequired: true})
	require.NoError(t, err)
	require.InDelta(t, 1.0/7.0, model.HoursScale, 1e-9)
	for _, b := range model.WeekBuckets {
		assert.InDelta(t, 35*60.0/7.0, b.TargetMinutes, 1e-6)
	}

	_, err = timeutil.ParseISODate("2026-01-05")
	require.NoError(t, err)
}
