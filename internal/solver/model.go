package solver

import (
	"fmt"
	"sort"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/slotctx"
	"github.com/shiftschedule/solverapi/internal/timeutil"
)

// Var is one boolean decision variable x[clinician,date,slot].
type Var struct {
	Index               int
	ClinicianID         string
	DateISO             string
	SlotID              string
	SectionID           string
	LocationForInterval string
	StartAbs            int
	EndAbs              int
	WeekStartISO        string
	DurationMinutes     int
	SlotOrderWeight     float64
	PreferenceWeight    float64
	TimeWindowFit       float64
}

// fixedAssignment is a manual assignment the search must honor as-is.
type fixedAssignment struct {
	ClinicianID         string
	DateISO             string
	RowID               string
	SlotID              string
	IsSlot              bool
	SectionID           string
	LocationForInterval string
	StartAbs            int
	EndAbs              int
	WeekStartISO        string
	DurationMinutes     int
}

// coverageGroup is every variable (and fixed manual assignment) competing to
// fill one slot on one date.
type coverageGroup struct {
	DateISO         string
	SlotID          string
	Required        int // target headcount, base requirement plus any override
	BaseRequired    int // requirement before overrides, used for wave distribution
	SlotOrderWeight float64
	VarIndices      []int
	ManualCount     int

	// Missing, Capacity, and ForceZero are computed in a second pass
	// once every group's variables are known (wave_multiplier needs the full
	// document's clinician/requirement totals); see finalizeCoverage.
	Missing   int
	Capacity  int
	ForceZero bool
}

// gapCandidate is a pair of same-clinician same-day decision variables whose
// intervals are adjacent-but-not-touching: choosing both leaves an idle gap.
type gapCandidate struct {
	A, B int
}

// Model is the fully built constraint system: everything the search needs to
// evaluate feasibility and objective value for a candidate boolean
// assignment, without re-reading the source document.
type Model struct {
	Vars              []Var
	Conflicts         [][2]int
	CoverageGroups    []coverageGroup
	Fixed             []fixedAssignment
	GapCandidates     []gapCandidate
	FixedGapPenalty   map[int]float64 // var index -> +penalty if that var and a fixed neighbor leave a gap
	FixedGapConstant  float64         // one unit per manual-manual gapped pair, bridgeable or not
	FixedGapBridge     []int          // var indices that, chosen, cancel one unit of FixedGapConstant
	ForcedZero        map[int]bool    // vars that overlap a fixed manual assignment: never selectable
	WeekBuckets       map[string]*weekBucket
	HoursScale        float64
	Settings          scheduledoc.SolverSettings
	HorizonStartISO   string
	HorizonEndISO     string
	Notes             []string
}

// weekBucket accumulates one clinician's fixed + candidate minutes for one
// ISO week, used by the working-hours soft term.
type weekBucket struct {
	ClinicianID   string
	WeekStartISO  string
	TargetMinutes float64
	ToleranceMins float64
	FixedMinutes  int
	VarIndices    []int
}

// BuildModel expands a normalized document over [req.StartISO, req.EndISO]
// into decision variables, hard-constraint conflict edges, and the
// bookkeeping the objective needs. Eligibility rules (qualification,
// vacation, mandatory time windows) are enforced by omitting ineligible
// variables entirely rather than by adding constraints over them.
func BuildModel(doc *scheduledoc.Document, req Request) (*Model, error) {
	if _, err := timeutil.ParseISODate(req.StartISO); err != nil {
		return nil, err
	}
	if _, err := timeutil.ParseISODate(req.EndISO); err != nil {
		return nil, err
	}
	days, err := timeutil.DaysBetweenISO(req.StartISO, req.EndISO)
	if err != nil {
		return nil, err
	}
	if days < 0 {
		return nil, fmt.Errorf("endISO %q is before startISO %q", req.EndISO, req.StartISO)
	}

	contexts := slotctx.Collect(doc)
	orderWeights := slotctx.SlotOrderWeights(contexts)
	blockByID := doc.Template.BlockByID()
	clinicianByID := doc.ClinicianByID()
	overrideByKey := make(map[string]int, len(doc.Overrides))
	for _, o := range doc.Overrides {
		overrideByKey[o.Key] = o.Delta
	}

	model := &Model{
		Settings:        doc.Settings,
		HorizonStartISO: req.StartISO,
		HorizonEndISO:   req.EndISO,
		FixedGapPenalty: map[int]float64{},
		ForcedZero:      map[int]bool{},
		WeekBuckets:     map[string]*weekBucket{},
		// Weekly hour targets scale down to the fraction of a week actually
		// being solved, so a two-day request is not judged against a full
		// week's contract.
		HoursScale: float64(days+1) / 7.0,
	}

	dateISOs := make([]string, 0, days+1)
	for d := 0; d <= days; d++ {
		iso, err := timeutil.AddDaysISO(req.StartISO, d)
		if err != nil {
			return nil, err
		}
		dateISOs = append(dateISOs, iso)
	}

	// Index manual assignments by date for fast lookup while building
	// variables, and retain all of them (slot or pool-row) as fixed facts the
	// search must respect. The context horizon runs one day past each end of
	// the target range so cross-midnight overlaps and rest-day windows
	// against manual assignments just outside it are still seen.
	manualByDate := map[string][]scheduledoc.Assignment{}
	for _, a := range doc.Assignments {
		if a.Source != scheduledoc.SourceManual {
			continue
		}
		idx, err := timeutil.DaysBetweenISO(req.StartISO, a.DateISO)
		if err != nil || idx < -1 || idx > days+1 {
			continue
		}
		manualByDate[a.DateISO] = append(manualByDate[a.DateISO], a)
	}

	slotByID := doc.Template.SlotByID()
	dayOffset := map[string]int{}
	for d, iso := range dateISOs {
		dayOffset[iso] = d
	}
	contextDateISOs := append([]string{}, dateISOs...)
	if before, err := timeutil.AddDaysISO(req.StartISO, -1); err == nil {
		dayOffset[before] = -1
		contextDateISOs = append([]string{before}, contextDateISOs...)
	}
	if after, err := timeutil.AddDaysISO(req.EndISO, 1); err == nil {
		dayOffset[after] = days + 1
		contextDateISOs = append(contextDateISOs, after)
	}
	holidays := doc.HolidaySet()

	// Fixed (manual) assignments across the whole context horizon first, so
	// variable eligibility and rest windows can be checked against them.
	for _, dateISO := range contextDateISOs {
		weekStart, err := timeutil.WeekStartISO(dateISO)
		if err != nil {
			return nil, err
		}
		for _, a := range manualByDate[dateISO] {
			fa := fixedAssignment{
				ClinicianID:  a.ClinicianID,
				DateISO:      dateISO,
				RowID:        a.RowID,
				WeekStartISO: weekStart,
			}
			if s, ok := slotByID[a.RowID]; ok {
				blk := blockByID[s.BlockID]
				start := parseOrDefault(s.StartTime, 8*60)
				end := parseOrDefault(s.EndTime, start+8*60)
				end += clampOffset(s.EndDayOffset) * 1440
				if end <= start {
					end = start
				}
				locForInterval := s.LocationID
				if !doc.LocationsEnabled {
					locForInterval = scheduledoc.DefaultLocationID
				}
				fa.IsSlot = true
				fa.SlotID = s.ID
				fa.SectionID = blk.SectionID
				fa.LocationForInterval = locForInterval
				fa.StartAbs = dayOffset[dateISO]*1440 + start
				fa.EndAbs = dayOffset[dateISO]*1440 + end
				fa.DurationMinutes = end - start
			}
			model.Fixed = append(model.Fixed, fa)
			model.addWeekMinutes(clinicianByID, fa.ClinicianID, weekStart, fa.DurationMinutes, doc.Settings)
		}
	}

	for _, dateISO := range dateISOs {
		dayIdx, _ := timeutil.DayTypeIndex(dateISO)
		weekday := scheduledoc.OrderedWeekdays[dayIdx]
		dayType := scheduledoc.ResolveDayType(holidays, dateISO, weekday)
		weekStart, err := timeutil.WeekStartISO(dateISO)
		if err != nil {
			return nil, err
		}

		for _, ctx := range contexts {
			if ctx.DayType != dayType {
				continue
			}
			baseRequired := 0
			if blk, ok := blockByID[ctx.BlockID]; ok {
				baseRequired = blk.RequiredSlots
			}
			if s, ok := slotByID[ctx.SlotID]; ok && s.RequiredSlots > baseRequired {
				baseRequired = s.RequiredSlots
			}
			required := baseRequired + overrideByKey[ctx.SlotID+"__"+dateISO]
			if required < 0 {
				required = 0
			}
			if req.OnlyFillRequired && required == 0 {
				continue
			}

			group := coverageGroup{DateISO: dateISO, SlotID: ctx.SlotID, Required: required, BaseRequired: baseRequired, SlotOrderWeight: orderWeights[ctx.SlotID]}
			// A manual assignment already sitting on this exact slot/date
			// counts toward its own coverage.
			for _, a := range manualByDate[dateISO] {
				if a.RowID == ctx.SlotID {
					group.ManualCount++
				}
			}

			startAbs := dayOffset[dateISO]*1440 + ctx.StartMinutes
			endAbs := dayOffset[dateISO]*1440 + ctx.EndMinutes

			for _, c := range doc.Clinicians {
				if !eligible(c, ctx.SectionID, dateISO, dayType, ctx.StartMinutes, ctx.EndMinutes) {
					continue
				}
				v := Var{
					Index:               len(model.Vars),
					ClinicianID:         c.ID,
					DateISO:             dateISO,
					SlotID:              ctx.SlotID,
					SectionID:           ctx.SectionID,
					LocationForInterval: ctx.LocationForInterval,
					StartAbs:            startAbs,
					EndAbs:              endAbs,
					WeekStartISO:        weekStart,
					DurationMinutes:     ctx.EndMinutes - ctx.StartMinutes,
					SlotOrderWeight:     orderWeights[ctx.SlotID],
					PreferenceWeight:    preferenceWeight(c, ctx.SectionID),
					TimeWindowFit:       timeWindowFit(c, dayType, ctx.StartMinutes, ctx.EndMinutes),
				}
				model.Vars = append(model.Vars, v)
				group.VarIndices = append(group.VarIndices, v.Index)
			}
			model.CoverageGroups = append(model.CoverageGroups, group)
		}
	}

	model.buildConflicts(doc.Settings)
	model.buildGapCandidates(doc.Settings)
	model.finalizeWeekBuckets(clinicianByID, doc.Settings)
	model.finalizeCoverage(req.OnlyFillRequired)
	return model, nil
}

// finalizeCoverage computes each group's missing headcount, fill capacity,
// and force-zero flag. Wave multiplier arithmetic is adopted verbatim from
// the solver this service replaces: with only_fill_required off, every
// group's capacity is allowed to grow past its bare requirement so that
// available clinicians are spread across waves of the same slot pattern
// rather than piling onto the first occurrence. The multiplier is the number
// of clinicians with at least one variable divided by the summed base
// requirement, rounded down and never below 1.
func (m *Model) finalizeCoverage(onlyFillRequired bool) {
	clinicianSet := map[string]bool{}
	for _, v := range m.Vars {
		clinicianSet[v.ClinicianID] = true
	}
	totalAvailable := len(clinicianSet)

	totalBaseRequired := 0
	for _, g := range m.CoverageGroups {
		if g.BaseRequired > 0 {
			totalBaseRequired += g.BaseRequired
		}
	}

	waveMultiplier := 1
	if !onlyFillRequired && totalBaseRequired > 0 {
		waveMultiplier = totalAvailable / totalBaseRequired
		if waveMultiplier < 1 {
			waveMultiplier = 1
		}
	}

	for i := range m.CoverageGroups {
		g := &m.CoverageGroups[i]
		missing := g.Required - g.ManualCount
		if missing < 0 {
			missing = 0
		}
		g.Missing = missing
		if missing == 0 {
			g.ForceZero = onlyFillRequired && len(g.VarIndices) > 0
			continue
		}
		if onlyFillRequired {
			g.Capacity = missing
			continue
		}
		waveTarget := g.BaseRequired * waveMultiplier
		capacity := waveTarget - g.ManualCount
		if capacity < missing {
			capacity = missing
		}
		g.Capacity = capacity
	}
}

// eligible applies the qualification, vacation, and mandatory-window
// eligibility rules: a clinician with no mandatory window for the day, or
// whose window fully contains the slot, is eligible; a mandatory window that
// excludes the slot makes that slot ineligible for them, and one whose bounds
// do not parse makes every slot on that day ineligible, which is how
// "mandatory window excludes slot" infeasibility shows up in practice.
func eligible(c scheduledoc.Clinician, sectionID, dateISO string, dayType scheduledoc.DayType, startMin, endMin int) bool {
	if !containsString(c.QualifiedSectionIDs, sectionID) {
		return false
	}
	for _, v := range c.Vacations {
		if dateISO >= v.StartISO && dateISO <= v.EndISO {
			return false
		}
	}
	win, ok := c.PreferredWorkingTimes[dayType]
	if !ok || win.Requirement != scheduledoc.RequirementMandatory {
		return true
	}
	ws, err1 := timeutil.ParseClock(win.Start)
	we, err2 := timeutil.ParseClock(win.End)
	if err1 != nil || err2 != nil {
		return false
	}
	if we <= ws {
		we += 1440
	}
	return startMin >= ws && endMin <= we
}

// timeWindowFit scores how well a slot's interval sits inside a clinician's
// declared preference window for the day (1 = fully inside, 0 otherwise). A
// mandatory window that the slot falls outside of already made the
// clinician ineligible in eligible(); this only grades preference windows.
func timeWindowFit(c scheduledoc.Clinician, dayType scheduledoc.DayType, startMin, endMin int) float64 {
	win, ok := c.PreferredWorkingTimes[dayType]
	if !ok || win.Requirement != scheduledoc.RequirementPreference {
		return 0
	}
	ws, err1 := timeutil.ParseClock(win.Start)
	we, err2 := timeutil.ParseClock(win.End)
	if err1 != nil || err2 != nil {
		return 0
	}
	if we <= ws {
		we += 1440
	}
	if startMin >= ws && endMin <= we {
		return 1
	}
	return 0
}

func preferenceWeight(c scheduledoc.Clinician, sectionID string) float64 {
	for i, id := range c.PreferredSectionIDs {
		if id == sectionID {
			return float64(len(c.PreferredSectionIDs) - i)
		}
	}
	return 0
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

func parseOrDefault(hhmm string, fallback int) int {
	m, err := timeutil.ParseClock(hhmm)
	if err != nil {
		return fallback
	}
	return m
}

func clampOffset(v int) int {
	if v < 0 {
		return 0
	}
	if v > 3 {
		return 3
	}
	return v
}

// buildConflicts wires the no-overlap, same-location-per-day, and on-call
// rest-day hard constraints as pairwise mutual-exclusion edges between
// decision variables. A variable that conflicts with a fixed manual
// assignment instead of another variable is recorded in ForcedZero, since a
// fixed fact can never be un-chosen to resolve the conflict the other way.
func (m *Model) buildConflicts(settings scheduledoc.SolverSettings) {
	byClinician := map[string][]int{}
	for _, v := range m.Vars {
		byClinician[v.ClinicianID] = append(byClinician[v.ClinicianID], v.Index)
	}

	fixedByClinician := map[string][]fixedAssignment{}
	for _, f := range m.Fixed {
		fixedByClinician[f.ClinicianID] = append(fixedByClinician[f.ClinicianID], f)
	}

	keys := make([]string, 0, len(byClinician))
	for k := range byClinician {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	keep := make(map[int]bool, len(m.Vars))

	for _, key := range keys {
		idxs := byClinician[key]
		fixed := fixedByClinician[key]

		for _, idx := range idxs {
			v := m.Vars[idx]
			ok := true
			for _, f := range fixed {
				if !f.IsSlot {
					continue
				}
				// Absolute-minute intervals catch cross-midnight overlap with
				// manuals on neighbouring dates.
				if timeutil.Overlaps(v.StartAbs, v.EndAbs, f.StartAbs, f.EndAbs) {
					ok = false
					break
				}
				if settings.EnforceSameLocationPerDay && f.DateISO == v.DateISO && f.LocationForInterval != v.LocationForInterval {
					ok = false
					break
				}
			}
			if ok {
				keep[idx] = true
			} else {
				m.ForcedZero[idx] = true
			}
		}

		for i := 0; i < len(idxs); i++ {
			a := m.Vars[idxs[i]]
			if !keep[idxs[i]] {
				continue
			}
			for j := i + 1; j < len(idxs); j++ {
				b := m.Vars[idxs[j]]
				if !keep[idxs[j]] {
					continue
				}
				conflict := timeutil.Overlaps(a.StartAbs, a.EndAbs, b.StartAbs, b.EndAbs)
				if !conflict && settings.EnforceSameLocationPerDay && a.DateISO == b.DateISO && a.LocationForInterval != b.LocationForInterval {
					conflict = true
				}
				if conflict {
					m.Conflicts = append(m.Conflicts, [2]int{idxs[i], idxs[j]})
				}
			}
		}
	}

	if settings.OnCallRestEnabled {
		m.buildOnCallRestConflicts(keep)
	}
}

// buildOnCallRestConflicts forbids a clinician from working any section other
// than OnCallRestSectionID on the days within OnCallRestDaysBefore/After of an
// on-call candidate of theirs (a conflict edge), and forces to zero every
// candidate of theirs on the days within that window of a manual on-call
// assignment. The on-call day itself is never part of the window.
func (m *Model) buildOnCallRestConflicts(keep map[int]bool) {
	before := m.Settings.OnCallRestDaysBefore
	after := m.Settings.OnCallRestDaysAfter
	section := m.Settings.OnCallRestSectionID
	if section == "" {
		return
	}

	onCallVarsByClinician := map[string][]int{}
	restVarsByClinician := map[string][]int{}
	for idx, v := range m.Vars {
		if !keep[idx] {
			continue
		}
		if v.SectionID == section {
			onCallVarsByClinician[v.ClinicianID] = append(onCallVarsByClinician[v.ClinicianID], idx)
		} else {
			restVarsByClinician[v.ClinicianID] = append(restVarsByClinician[v.ClinicianID], idx)
		}
	}

	withinRest := func(onCallDate, candidateDate string) bool {
		delta, err := timeutil.DaysBetweenISO(onCallDate, candidateDate)
		if err != nil {
			return false
		}
		return delta >= -before && delta <= after && delta != 0
	}

	for clinicianID, onCallIdx := range onCallVarsByClinician {
		restIdx := restVarsByClinician[clinicianID]
		for _, oc := range onCallIdx {
			ocDate := m.Vars[oc].DateISO
			for _, r := range restIdx {
				if withinRest(ocDate, m.Vars[r].DateISO) {
					m.Conflicts = append(m.Conflicts, [2]int{oc, r})
				}
			}
		}
	}

	// Manual on-call assignments force the rest-window variables to zero
	// outright (they never become decision variables the search could pick),
	// since a fixed fact cannot be un-chosen.
	for _, f := range m.Fixed {
		if f.SectionID != section {
			continue
		}
		for idx, v := range m.Vars {
			if !keep[idx] || v.ClinicianID != f.ClinicianID {
				continue
			}
			if withinRest(f.DateISO, v.DateISO) {
				m.ForcedZero[idx] = true
			}
		}
	}
}

// buildGapCandidates finds same-clinician, same-day variable pairs (and variable/fixed, fixed/fixed pairs) that are adjacent on the
// clinician's working day but leave an idle interval between them.
func (m *Model) buildGapCandidates(settings scheduledoc.SolverSettings) {
	if !settings.PreferContinuousShifts {
		return
	}
	byClinicianDate := map[string][]int{}
	for idx, v := range m.Vars {
		key := v.ClinicianID + "|" + v.DateISO
		byClinicianDate[key] = append(byClinicianDate[key], idx)
	}
	fixedByClinicianDate := map[string][]fixedAssignment{}
	for _, f := range m.Fixed {
		if !f.IsSlot {
			continue
		}
		key := f.ClinicianID + "|" + f.DateISO
		fixedByClinicianDate[key] = append(fixedByClinicianDate[key], f)
	}

	for key, idxs := range byClinicianDate {
		fixed := fixedByClinicianDate[key]
		for i := 0; i < len(idxs); i++ {
			a := m.Vars[idxs[i]]
			for j := i + 1; j < len(idxs); j++ {
				b := m.Vars[idxs[j]]
				if gapBetween(a.StartAbs, a.EndAbs, b.StartAbs, b.EndAbs) {
					m.GapCandidates = append(m.GapCandidates, gapCandidate{A: idxs[i], B: idxs[j]})
				}
			}
			for _, f := range fixed {
				if gapBetween(a.StartAbs, a.EndAbs, f.StartAbs, f.EndAbs) {
					m.FixedGapPenalty[idxs[i]] = m.FixedGapPenalty[idxs[i]] + 1
				}
			}
		}
		bridged := false
		for i := 0; i < len(fixed); i++ {
			for j := i + 1; j < len(fixed); j++ {
				if !gapBetween(fixed[i].StartAbs, fixed[i].EndAbs, fixed[j].StartAbs, fixed[j].EndAbs) {
					continue
				}
				bridgeFound := false
				for _, idx := range idxs {
					v := m.Vars[idx]
					if touches(v.StartAbs, v.EndAbs, fixed[i].EndAbs) && touches(v.StartAbs, v.EndAbs, fixed[j].StartAbs) {
						m.FixedGapBridge = append(m.FixedGapBridge, idx)
						bridgeFound = true
					}
				}
				m.FixedGapConstant++
				if !bridgeFound {
					bridged = true
				}
			}
		}
		_ = bridged
	}
}

func gapBetween(aStart, aEnd, bStart, bEnd int) bool {
	if aStart > bStart {
		aStart, aEnd, bStart, bEnd = bStart, bEnd, aStart, aEnd
	}
	if timeutil.Overlaps(aStart, aEnd, bStart, bEnd) {
		return false
	}
	return bStart > aEnd
}

func touches(start, end, point int) bool {
	return start == point || end == point
}

func (m *Model) addWeekMinutes(clinicians map[string]scheduledoc.Clinician, clinicianID, weekStart string, minutes int, settings scheduledoc.SolverSettings) {
	key := clinicianID + "|" + weekStart
	b, ok := m.WeekBuckets[key]
	if !ok {
		c := clinicians[clinicianID]
		tolerance := c.WorkingHoursToleranceHours
		if tolerance == 0 {
			tolerance = settings.WorkingHoursToleranceHours
		}
		b = &weekBucket{
			ClinicianID:   clinicianID,
			WeekStartISO:  weekStart,
			TargetMinutes: c.WorkingHoursPerWeek * 60 * m.HoursScale,
			ToleranceMins: tolerance * 60 * m.HoursScale,
		}
		m.WeekBuckets[key] = b
	}
	b.FixedMinutes += minutes
}

// finalizeWeekBuckets attaches every decision variable to its clinician/week
// bucket so the working-hours soft term can evaluate deviations, creating
// the bucket if no fixed assignment touched that clinician/week already.
func (m *Model) finalizeWeekBuckets(clinicians map[string]scheduledoc.Clinician, settings scheduledoc.SolverSettings) {
	for idx, v := range m.Vars {
		key := v.ClinicianID + "|" + v.WeekStartISO
		b, ok := m.WeekBuckets[key]
		if !ok {
			c := clinicians[v.ClinicianID]
			tolerance := c.WorkingHoursToleranceHours
			if tolerance == 0 {
				tolerance = settings.WorkingHoursToleranceHours
			}
			b = &weekBucket{
				ClinicianID:   v.ClinicianID,
				WeekStartISO:  v.WeekStartISO,
				TargetMinutes: c.WorkingHoursPerWeek * 60 * m.HoursScale,
				ToleranceMins: tolerance * 60 * m.HoursScale,
			}
			m.WeekBuckets[key] = b
		}
		b.VarIndices = append(b.VarIndices, idx)
	}
}
