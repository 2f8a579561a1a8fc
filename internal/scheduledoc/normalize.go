package scheduledoc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/shiftschedule/solverapi/internal/timeutil"
)

const legacyRowSeparator = "::"

// Normalize upgrades arbitrary previously-persisted JSON into the canonical
// Document, reporting whether anything actually changed. It is idempotent:
// feeding the output of one call back in reports changed=false.
func Normalize(data []byte) (*Document, bool, error) {
	raw, err := decodeRaw(data)
	if err != nil {
		return nil, false, fmt.Errorf("invalid schedule document: %w", err)
	}
	doc, err := project(raw)
	if err != nil {
		return nil, false, err
	}

	before, err := canonicalJSON(data)
	if err != nil {
		// Input wasn't parseable JSON at all (or was empty); that is by
		// definition a change from whatever we just produced.
		return doc, true, nil
	}
	after, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	afterCanonical, err := canonicalJSON(after)
	if err != nil {
		return nil, false, err
	}
	changed := !bytes.Equal(before, afterCanonical)
	return doc, changed, nil
}

// NormalizeDocument is a convenience wrapper for callers already holding a
// decoded canonical Document (e.g. round-trip tests).
func NormalizeDocument(doc *Document) (*Document, bool, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, false, err
	}
	return Normalize(data)
}

// canonicalJSON re-marshals arbitrary JSON through a generic map so that key
// order and formatting differences don't register as semantic changes.
func canonicalJSON(data []byte) ([]byte, error) {
	var generic interface{}
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, err
	}
	return json.Marshal(generic)
}

func project(raw rawDocument) (*Document, error) {
	doc := &Document{}

	// Rule 1: default location + class row location repair.
	locationsEnabled := true
	if raw.LocationsEnabled != nil {
		locationsEnabled = *raw.LocationsEnabled
	}
	doc.LocationsEnabled = locationsEnabled

	locByID := map[string]Location{DefaultLocationID: {ID: DefaultLocationID, Name: "Default"}}
	for _, l := range raw.Locations {
		if l.ID == "" {
			continue
		}
		locByID[l.ID] = Location{ID: l.ID, Name: l.Name}
	}
	doc.Locations = sortedLocations(locByID)

	doc.Rows = make([]WorkplaceRow, 0, len(raw.Rows))
	for _, r := range raw.Rows {
		kind := RowKind(r.Kind)
		if kind != RowKindPool {
			kind = RowKindClass
		}
		locID := r.LocationID
		if kind == RowKindClass {
			if !locationsEnabled {
				locID = DefaultLocationID
			} else if _, ok := locByID[locID]; !ok || locID == "" {
				locID = DefaultLocationID
			}
		}
		doc.Rows = append(doc.Rows, WorkplaceRow{
			ID: r.ID, Name: r.Name, Kind: kind, LocationID: locID, BlockColor: r.BlockColor,
		})
	}

	// Rule 2: clinician preferred-working-time normalization.
	doc.Clinicians = make([]Clinician, 0, len(raw.Clinicians))
	for _, c := range raw.Clinicians {
		doc.Clinicians = append(doc.Clinicians, normalizeClinician(c))
	}

	// Rules 3-5: template migration.
	template, slotIDRemap := migrateTemplate(raw, doc.Rows)
	doc.Template = template

	classRowSet := map[string]bool{}
	poolRowSet := map[string]bool{}
	for _, r := range doc.Rows {
		if r.Kind == RowKindClass {
			classRowSet[r.ID] = true
		} else {
			poolRowSet[r.ID] = true
		}
	}
	validRowIDs := map[string]bool{}
	for id := range doc.Template.SlotByID() {
		validRowIDs[id] = true
	}
	for id := range poolRowSet {
		validRowIDs[id] = true
	}

	// Holidays feed the day-type resolution of rules 6 and 7: a legacy row id
	// dated on a listed holiday must remap onto the holiday slot, not the
	// weekday one.
	doc.Holidays = normalizeHolidays(raw.Holidays)
	holidaySet := make(map[string]bool, len(doc.Holidays))
	for _, h := range doc.Holidays {
		holidaySet[h] = true
	}

	// Rule 6: rewrite assignments.
	doc.Assignments = make([]Assignment, 0, len(raw.Assignments))
	for _, a := range raw.Assignments {
		rowID, ok := resolveRowID(a.RowID, a.DateISO, validRowIDs, slotIDRemap, holidaySet)
		if !ok {
			continue
		}
		source := AssignmentSource(a.Source)
		if source != SourceSolver {
			source = SourceManual
		}
		doc.Assignments = append(doc.Assignments, Assignment{
			ID: a.ID, RowID: rowID, DateISO: a.DateISO, ClinicianID: a.ClinicianID, Source: source,
		})
	}

	// Rule 7: rewrite overrides, merging collisions by summation.
	mergedOverrides := map[string]int{}
	for _, o := range raw.Overrides {
		slotPart, dateISO, ok := splitOverrideKey(o.Key)
		if !ok {
			continue
		}
		rowID, ok := resolveRowID(slotPart, dateISO, validRowIDs, slotIDRemap, holidaySet)
		if !ok {
			continue
		}
		key := rowID + "__" + dateISO
		mergedOverrides[key] += o.Delta
	}
	doc.Overrides = make([]SlotOverride, 0, len(mergedOverrides))
	for key, delta := range mergedOverrides {
		doc.Overrides = append(doc.Overrides, SlotOverride{Key: key, Delta: delta})
	}
	sort.Slice(doc.Overrides, func(i, j int) bool { return doc.Overrides[i].Key < doc.Overrides[j].Key })

	// Rule 8: settings defaults + clamps.
	doc.Settings = normalizeSettings(raw.Settings, classRowSet)

	// Rule 9: drop rules referencing unknown shift-row ids.
	doc.Rules = make([]SolverRule, 0, len(raw.Rules))
	for _, r := range raw.Rules {
		rule := SolverRule{
			ID: r.ID, Enabled: r.Enabled, IfShiftRowID: r.IfShiftRowID, DayDelta: r.DayDelta,
			ThenType: r.ThenType, ThenShiftRowID: r.ThenShiftRowID,
		}
		if !validRowIDs[rule.IfShiftRowID] || !validRowIDs[rule.ThenShiftRowID] {
			rule.Enabled = false
		}
		doc.Rules = append(doc.Rules, rule)
	}

	doc.PublishedWeeks = make([]string, 0, len(raw.PublishedWeeks))
	seenWeeks := map[string]bool{}
	for _, w := range raw.PublishedWeeks {
		start, err := timeutil.WeekStartISO(w)
		if err != nil || start != w {
			continue
		}
		if seenWeeks[w] {
			continue
		}
		seenWeeks[w] = true
		doc.PublishedWeeks = append(doc.PublishedWeeks, w)
	}
	sort.Strings(doc.PublishedWeeks)

	return doc, nil
}

func sortedLocations(byID map[string]Location) []Location {
	out := make([]Location, 0, len(byID))
	for _, l := range byID {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID == DefaultLocationID {
			return true
		}
		if out[j].ID == DefaultLocationID {
			return false
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func normalizeClinician(c rawClinician) Clinician {
	windows := make(map[DayType]WorkingWindow, 8)
	for _, day := range append(append([]DayType{}, OrderedWeekdays...), DayHoliday) {
		windows[day] = WorkingWindow{Requirement: RequirementNone}
	}
	for key, w := range c.PreferredWorkingTimes {
		day := DayType(key)
		if _, ok := windows[day]; !ok {
			continue
		}
		req := Requirement(w.Requirement)
		if req == "preferred" {
			req = RequirementPreference
		}
		if req != RequirementPreference && req != RequirementMandatory {
			req = RequirementNone
		}
		if req == RequirementNone {
			windows[day] = WorkingWindow{Requirement: RequirementNone}
			continue
		}
		startM, errS := timeutil.ParseClock(w.Start)
		endM, errE := timeutil.ParseClock(w.End)
		if errS != nil || errE != nil || endM <= startM {
			windows[day] = WorkingWindow{Requirement: RequirementNone}
			continue
		}
		windows[day] = WorkingWindow{Requirement: req, Start: w.Start, End: w.End}
	}

	vacations := make([]VacationRange, 0, len(c.Vacations))
	for _, v := range c.Vacations {
		start, end := v.StartISO, v.EndISO
		if start == "" {
			start = v.Start
		}
		if end == "" {
			end = v.End
		}
		if start == "" || end == "" {
			continue
		}
		if _, err := timeutil.ParseISODate(start); err != nil {
			continue
		}
		if _, err := timeutil.ParseISODate(end); err != nil {
			continue
		}
		if end < start {
			continue
		}
		vacations = append(vacations, VacationRange{StartISO: start, EndISO: end})
	}

	tolerance := 5.0
	if c.WorkingHoursToleranceHours != nil {
		tolerance = *c.WorkingHoursToleranceHours
	}

	return Clinician{
		ID:                         c.ID,
		Name:                       c.Name,
		QualifiedSectionIDs:        append([]string{}, c.QualifiedSectionIDs...),
		PreferredSectionIDs:        append([]string{}, c.PreferredSectionIDs...),
		Vacations:                  vacations,
		PreferredWorkingTimes:      windows,
		WorkingHoursPerWeek:        c.WorkingHoursPerWeek,
		WorkingHoursToleranceHours: tolerance,
	}
}

func normalizeSettings(s rawSettings, classRows map[string]bool) SolverSettings {
	out := DefaultSolverSettings()
	if s.EnforceSameLocationPerDay != nil {
		out.EnforceSameLocationPerDay = *s.EnforceSameLocationPerDay
	}
	if s.OnCallRestEnabled != nil {
		out.OnCallRestEnabled = *s.OnCallRestEnabled
	}
	if s.PreferContinuousShifts != nil {
		out.PreferContinuousShifts = *s.PreferContinuousShifts
	}
	out.OnCallRestDaysBefore = clampInt(derefInt(s.OnCallRestDaysBefore, out.OnCallRestDaysBefore), 0, 7)
	out.OnCallRestDaysAfter = clampInt(derefInt(s.OnCallRestDaysAfter, out.OnCallRestDaysAfter), 0, 7)
	out.WorkingHoursToleranceHours = clampFloat(derefFloat(s.WorkingHoursToleranceHours, out.WorkingHoursToleranceHours), 0, 40)

	out.WeightCoverage = derefFloat(s.WeightCoverage, out.WeightCoverage)
	out.WeightSlack = derefFloat(s.WeightSlack, out.WeightSlack)
	out.WeightTotalAssignments = derefFloat(s.WeightTotalAssignments, out.WeightTotalAssignments)
	out.WeightSlotPriority = derefFloat(s.WeightSlotPriority, out.WeightSlotPriority)
	out.WeightSectionPreference = derefFloat(s.WeightSectionPreference, out.WeightSectionPreference)
	out.WeightTimeWindow = derefFloat(s.WeightTimeWindow, out.WeightTimeWindow)
	out.WeightGapPenalty = derefFloat(s.WeightGapPenalty, out.WeightGapPenalty)
	out.WeightWorkingHours = derefFloat(s.WeightWorkingHours, out.WeightWorkingHours)

	out.OnCallRestSectionID = s.OnCallRestSectionID
	if !classRows[out.OnCallRestSectionID] {
		out.OnCallRestSectionID = firstClassRow(classRows)
	}
	return out
}

func firstClassRow(classRows map[string]bool) string {
	ids := make([]string, 0, len(classRows))
	for id := range classRows {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	if len(ids) == 0 {
		return ""
	}
	return ids[0]
}

func derefInt(p *int, fallback int) int {
	if p == nil {
		return fallback
	}
	return *p
}

func derefFloat(p *float64, fallback float64) float64 {
	if p == nil {
		return fallback
	}
	return *p
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// splitOverrideKey splits a raw "{rowId}__{dateISO}" override key. The row
// id half may itself still be a legacy "classId::subShiftId" pair.
func splitOverrideKey(key string) (rowID, dateISO string, ok bool) {
	idx := bytes.LastIndex([]byte(key), []byte("__"))
	if idx < 0 {
		return "", "", false
	}
	return key[:idx], key[idx+2:], true
}

// resolveRowID maps a (possibly legacy) row id plus its assignment date to a
// canonical row id: ids that already resolve (pool rows, current-template
// slot ids) pass through unchanged; anything else is treated as a legacy
// "classId::subShiftId" pair and resolved via the slot remap table keyed by
// (classId, subShiftId-or-"s1", dayType). The day type comes from the
// holiday list first, then the weekday.
func resolveRowID(rowID, dateISO string, validRowIDs map[string]bool, remap map[legacySlotKey]string, holidays map[string]bool) (string, bool) {
	if validRowIDs[rowID] {
		return rowID, true
	}
	classID, subShiftID := parseLegacyRowID(rowID)
	if subShiftID == "" {
		subShiftID = "s1"
	}
	idx, err := timeutil.DayTypeIndex(dateISO)
	if err != nil {
		return "", false
	}
	dayType := ResolveDayType(holidays, dateISO, OrderedWeekdays[idx])
	canonical, ok := remap[legacySlotKey{classID: classID, subShiftID: subShiftID, dayType: dayType}]
	if !ok {
		return "", false
	}
	return canonical, true
}

func parseLegacyRowID(rowID string) (classID, subShiftID string) {
	idx := bytes.Index([]byte(rowID), []byte(legacyRowSeparator))
	if idx < 0 {
		return rowID, ""
	}
	return rowID[:idx], rowID[idx+len(legacyRowSeparator):]
}

// normalizeHolidays dedupes, validates, and sorts a raw holiday-date list.
func normalizeHolidays(raw []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(raw))
	for _, h := range raw {
		if _, err := timeutil.ParseISODate(h); err != nil {
			continue
		}
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}
