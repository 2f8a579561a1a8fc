package scheduledoc

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeEmptyDocument(t *testing.T) {
	doc, changed, err := Normalize(nil)
	require.NoError(t, err)
	assert.True(t, changed)
	require.NotEmpty(t, doc.Locations)
	assert.Equal(t, DefaultLocationID, doc.Locations[0].ID)
	assert.True(t, doc.LocationsEnabled)
	assert.Equal(t, DefaultSolverSettings().WeightCoverage, doc.Settings.WeightCoverage)
}

func TestNormalizeIsIdempotent(t *testing.T) {
	raw := []byte(`{
		"rows": [
			{"id": "ct", "name": "CT", "kind": "class", "subShifts": [
				{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}
			]},
			{"id": "vac", "name": "Vacation", "kind": "pool"}
		],
		"clinicians": [
			{"id": "c1", "name": "One", "qualifiedSectionIds": ["ct"],
			 "preferredWorkingTimes": {"mon": {"requirement": "preferred", "start": "08:00", "end": "12:00"}}}
		],
		"assignments": [
			{"id": "a1", "rowId": "ct::s1", "dateISO": "2026-01-05", "clinicianId": "c1", "source": "manual"}
		],
		"overrides": [{"key": "ct::s1__2026-01-05", "delta": 1}],
		"publishedWeeks": ["2026-01-05", "2026-01-06"]
	}`)

	first, changed, err := Normalize(raw)
	require.NoError(t, err)
	assert.True(t, changed)

	encoded, err := json.Marshal(first)
	require.NoError(t, err)
	second, changedAgain, err := Normalize(encoded)
	require.NoError(t, err)
	assert.False(t, changedAgain, "second normalization must be a no-op")

	firstJSON, _ := json.Marshal(first)
	secondJSON, _ := json.Marshal(second)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))
}

func TestNormalizeRejectsInvalidJSON(t *testing.T) {
	_, _, err := Normalize([]byte(`{"rows": "not-an-array"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule document")
}

func TestNormalizeClinicianWindows(t *testing.T) {
	raw := []byte(`{"clinicians": [{"id": "c1", "name": "One", "preferredWorkingTimes": {
		"mon": {"requirement": "preferred", "start": "08:00", "end": "12:00"},
		"tue": {"requirement": "mandatory", "start": "12:00", "end": "08:00"},
		"wed": {"requirement": "sometimes", "start": "08:00", "end": "12:00"},
		"thu": {"requirement": "mandatory", "start": "junk", "end": "12:00"},
		"noday": {"requirement": "mandatory", "start": "08:00", "end": "12:00"}
	}}]}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Clinicians, 1)
	windows := doc.Clinicians[0].PreferredWorkingTimes

	assert.Equal(t, RequirementPreference, windows[DayMon].Requirement, "preferred coerces to preference")
	assert.Equal(t, RequirementNone, windows[DayTue].Requirement, "inverted window cleared")
	assert.Empty(t, windows[DayTue].Start)
	assert.Equal(t, RequirementNone, windows[DayWed].Requirement, "unknown requirement cleared")
	assert.Equal(t, RequirementNone, windows[DayThu].Requirement, "unparseable time cleared")
	_, hasBogusDay := windows["noday"]
	assert.False(t, hasBogusDay)
}

func TestNormalizeVacations(t *testing.T) {
	raw := []byte(`{"clinicians": [{"id": "c1", "name": "One", "vacations": [
		{"startISO": "2026-01-05", "endISO": "2026-01-09"},
		{"start": "2026-02-01", "end": "2026-02-02"},
		{"startISO": "2026-03-10", "endISO": "2026-03-01"},
		{"startISO": "bad", "endISO": "2026-04-01"}
	]}]}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	vacations := doc.Clinicians[0].Vacations
	require.Len(t, vacations, 2)
	assert.Equal(t, "2026-01-05", vacations[0].StartISO)
	assert.Equal(t, "2026-02-01", vacations[1].StartISO, "legacy positional form accepted")
}

func TestNormalizeSynthesizesTemplateFromSubShifts(t *testing.T) {
	raw := []byte(`{"rows": [
		{"id": "ct", "name": "CT", "kind": "class",
		 "subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "07:00", "endTime": "15:00"}],
		 "requiredByDayType": {"mon": 2, "sat": 0},
		 "enabledByDayType": {"sun": false}}
	]}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, CurrentTemplateVersion, doc.Template.Version)

	slots := doc.Template.AllSlots()
	// One slot per enabled day type: sun disabled leaves six weekdays plus
	// the holiday column.
	assert.Len(t, slots, 7)
	byID := doc.Template.SlotByID()
	mon, ok := byID["ct::s1::mon"]
	require.True(t, ok)
	assert.Equal(t, 2, mon.RequiredSlots)
	assert.Equal(t, "07:00", mon.StartTime)
	_, sunExists := byID["ct::s1::sun"]
	assert.False(t, sunExists)
	_, holidayExists := byID["ct::s1::holiday"]
	assert.True(t, holidayExists)
}

func TestNormalizeRemapsHolidayDatedLegacyIDs(t *testing.T) {
	raw := []byte(`{
		"holidays": ["2026-01-05"],
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"clinicians": [{"id": "c1", "name": "One"}],
		"assignments": [
			{"id": "a1", "rowId": "ct::s1", "dateISO": "2026-01-05", "clinicianId": "c1", "source": "manual"},
			{"id": "a2", "rowId": "ct::s1", "dateISO": "2026-01-06", "clinicianId": "c1", "source": "manual"}
		],
		"overrides": [{"key": "ct::s1__2026-01-05", "delta": 1}]
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Assignments, 2)
	// 2026-01-05 is a Monday but listed as a holiday: the holiday list wins.
	assert.Equal(t, "ct::s1::holiday", doc.Assignments[0].RowID)
	assert.Equal(t, "ct::s1::tue", doc.Assignments[1].RowID)

	require.Len(t, doc.Overrides, 1)
	assert.Equal(t, "ct::s1::holiday__2026-01-05", doc.Overrides[0].Key)
	assert.Equal(t, 1, doc.Overrides[0].Delta)
}

func TestNormalizeSynthesizesHolidaySlotFromDayTypeMaps(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"enabledByDayType": {"holiday": true, "sun": false},
			"requiredByDayType": {"holiday": 1, "mon": 2}}]
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	byID := doc.Template.SlotByID()
	holiday, ok := byID["ct::s1::holiday"]
	require.True(t, ok)
	assert.Equal(t, 1, holiday.RequiredSlots)
	_, sunExists := byID["ct::s1::sun"]
	assert.False(t, sunExists)
}

func TestNormalizeRemapsLegacyAssignments(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"clinicians": [{"id": "c1", "name": "One"}],
		"assignments": [
			{"id": "a1", "rowId": "ct::s1", "dateISO": "2026-01-05", "clinicianId": "c1", "source": "manual"},
			{"id": "a2", "rowId": "ct", "dateISO": "2026-01-06", "clinicianId": "c1", "source": "manual"},
			{"id": "a3", "rowId": "ghost", "dateISO": "2026-01-05", "clinicianId": "c1", "source": "manual"}
		]
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Assignments, 2, "unresolvable assignment dropped")
	assert.Equal(t, "ct::s1::mon", doc.Assignments[0].RowID)
	assert.Equal(t, "ct::s1::tue", doc.Assignments[1].RowID, "bare class id defaults to s1")
}

func TestNormalizeMergesCollidingOverrides(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"overrides": [
			{"key": "ct::s1__2026-01-05", "delta": 1},
			{"key": "ct__2026-01-05", "delta": 2},
			{"key": "nonsense", "delta": 5}
		]
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Overrides, 1)
	assert.Equal(t, "ct::s1::mon__2026-01-05", doc.Overrides[0].Key)
	assert.Equal(t, 3, doc.Overrides[0].Delta, "colliding legacy keys merge by summation")
}

func TestNormalizeSettings(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"settings": {
			"onCallRestEnabled": true,
			"onCallRestSectionId": "missing-row",
			"onCallRestDaysBefore": 12,
			"onCallRestDaysAfter": -3,
			"workingHoursToleranceHours": 99,
			"weightCoverage": 500
		}
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	s := doc.Settings
	assert.True(t, s.OnCallRestEnabled)
	assert.Equal(t, "ct", s.OnCallRestSectionID, "dangling rest section falls back to first class row")
	assert.Equal(t, 7, s.OnCallRestDaysBefore)
	assert.Equal(t, 0, s.OnCallRestDaysAfter)
	assert.Equal(t, 40.0, s.WorkingHoursToleranceHours)
	assert.Equal(t, 500.0, s.WeightCoverage)
	assert.Equal(t, 1000.0, s.WeightSlack, "unset weights keep defaults")
}

func TestNormalizeDisablesRulesWithDanglingRows(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class",
			"subShifts": [{"id": "s1", "name": "Early", "order": 1, "startTime": "08:00", "endTime": "16:00"}]}],
		"rules": [
			{"id": "r1", "enabled": true, "ifShiftRowId": "ct::s1::mon", "dayDelta": 1, "thenType": "forbid", "thenShiftRowId": "ct::s1::tue"},
			{"id": "r2", "enabled": true, "ifShiftRowId": "ghost", "dayDelta": 1, "thenType": "forbid", "thenShiftRowId": "ct::s1::tue"}
		]
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Rules, 2)
	assert.True(t, doc.Rules[0].Enabled)
	assert.False(t, doc.Rules[1].Enabled)
}

func TestNormalizePublishedWeeksKeepsOnlyMondays(t *testing.T) {
	raw := []byte(`{"publishedWeeks": ["2026-01-05", "2026-01-06", "2026-01-05", "bad"]}`)
	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-01-05"}, doc.PublishedWeeks)
}

func TestNormalizeLocationsDisabledForcesDefault(t *testing.T) {
	raw := []byte(`{
		"locationsEnabled": false,
		"locations": [{"id": "north", "name": "North Wing"}],
		"rows": [{"id": "ct", "name": "CT", "kind": "class", "locationId": "north"}]
	}`)
	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	require.Len(t, doc.Rows, 1)
	assert.Equal(t, DefaultLocationID, doc.Rows[0].LocationID)
}

func TestRepairTemplateDropsDanglingSlots(t *testing.T) {
	raw := []byte(`{
		"rows": [{"id": "ct", "name": "CT", "kind": "class"}],
		"template": {
			"version": 4,
			"blocks": [{"id": "b1", "sectionId": "ct", "requiredSlots": -2}],
			"locations": [{
				"locationId": "default",
				"rowBands": [{"id": "rb1", "order": 0}],
				"colBands": [{"id": "cb-mon", "order": 0, "dayType": "mon"}],
				"slots": [
					{"id": "ok", "locationId": "default", "rowBandId": "rb1", "colBandId": "cb-mon", "blockId": "b1", "requiredSlots": 1, "startTime": "08:00", "endTime": "16:00", "endDayOffset": 9},
					{"id": "dangling", "locationId": "default", "rowBandId": "nope", "colBandId": "cb-mon", "blockId": "b1", "requiredSlots": 1, "startTime": "08:00", "endTime": "16:00"}
				]
			}]
		}
	}`)

	doc, _, err := Normalize(raw)
	require.NoError(t, err)
	slots := doc.Template.AllSlots()
	require.Len(t, slots, 1)
	assert.Equal(t, "ok", slots[0].ID)
	assert.Equal(t, 3, slots[0].EndDayOffset, "endDayOffset clamped to 3")
	require.Len(t, doc.Template.Blocks, 1)
	assert.Equal(t, 0, doc.Template.Blocks[0].RequiredSlots, "negative requiredSlots clamped")

	// Every day type got a col band even though only mon was declared.
	require.Len(t, doc.Template.Locations, 1)
	assert.Len(t, doc.Template.Locations[0].ColBands, 8)
}
