package solver

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"time"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
)

const (
	defaultTimeoutSeconds = 30
	maxGapRepairPasses    = 200
)

// Solve searches a built model for a feasible-or-better boolean assignment,
// reporting each improved incumbent through onProgress (may be nil). There is
// no constraint-solver library in this service's dependency stack (see
// DESIGN.md), so the search is a greedy priority construction followed by a
// bounded local-search gap-repair pass, mirroring the construct-then-repair
// shape this codebase already uses for timetabling.
func Solve(ctx context.Context, model *Model, req Request, onProgress func(ProgressSolution)) (*Result, error) {
	start := time.Now()
	timeoutSeconds := req.TimeoutSeconds
	if timeoutSeconds <= 0 {
		timeoutSeconds = defaultTimeoutSeconds
	}
	deadline := start.Add(time.Duration(timeoutSeconds) * time.Second)
	sctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	d := &driver{
		model:       model,
		settings:    model.Settings,
		chosen:      map[int]bool{},
		conflictSet: buildConflictSet(model),
		weekMinutes: map[string]float64{},
		start:       start,
		onProgress:  onProgress,
	}
	for key, b := range model.WeekBuckets {
		d.weekMinutes[key] = float64(b.FixedMinutes)
	}

	var checkpoints []Checkpoint
	var solutionTimes []SolutionTime

	d.construct()
	checkpoints = append(checkpoints, Checkpoint{Name: "construction", DurationMs: time.Since(start).Milliseconds()})
	solutionTimes = append(solutionTimes, SolutionTime{Solution: 1, TimeMs: time.Since(start).Milliseconds(), Objective: d.objective()})
	d.publish(1)

	if model.Settings.PreferContinuousShifts {
		repairStart := time.Now()
		improved := d.repairGaps(sctx)
		checkpoints = append(checkpoints, Checkpoint{Name: "gap_repair", DurationMs: time.Since(repairStart).Milliseconds()})
		if improved > 0 {
			solutionTimes = append(solutionTimes, SolutionTime{Solution: 2, TimeMs: time.Since(start).Milliseconds(), Objective: d.objective()})
			d.publish(2)
		}
	}

	sub := d.subScores()
	restConflicts := detectManualRestConflicts(model)
	status := d.status(sub)

	cores := runtime.NumCPU()
	workers := cores - 2
	if workers < 1 {
		workers = 1
	}

	numDays, _ := timeutil.DaysBetweenISO(model.HorizonStartISO, model.HorizonEndISO)
	diagnostics := Diagnostics{
		TotalMs:           time.Since(start).Milliseconds(),
		Checkpoints:       checkpoints,
		SolutionTimes:     solutionTimes,
		NumVariables:      len(model.Vars),
		NumDays:           numDays + 1,
		NumSlots:          len(model.CoverageGroups),
		SolverStatus:      status,
		CPUWorkersUsed:    workers,
		CPUCoresAvailable: cores,
		SubScores:         sub,
		RestConflicts:     restConflicts,
		Notes:             model.Notes,
	}

	return &Result{
		Assignments: d.assignments(),
		Diagnostics: diagnostics,
	}, nil
}

// driver holds one in-progress search's mutable state: the chosen variable
// set and the adjacency it must respect.
type driver struct {
	model       *Model
	settings    scheduledoc.SolverSettings
	chosen      map[int]bool
	conflictSet map[int][]int
	weekMinutes map[string]float64
	start       time.Time
	onProgress  func(ProgressSolution)
}

func buildConflictSet(m *Model) map[int][]int {
	out := make(map[int][]int, len(m.Vars))
	for _, pair := range m.Conflicts {
		out[pair[0]] = append(out[pair[0]], pair[1])
		out[pair[1]] = append(out[pair[1]], pair[0])
	}
	return out
}

func (d *driver) conflictsWithChosen(idx int) bool {
	for _, other := range d.conflictSet[idx] {
		if d.chosen[other] {
			return true
		}
	}
	return false
}

// construct greedily fills every coverage group up to its computed capacity,
// processing groups highest-priority first and candidates within a group
// highest-score first, skipping anything forced to zero or already ruled out
// by a chosen neighbor.
func (d *driver) construct() {
	groups := make([]int, len(d.model.CoverageGroups))
	for i := range groups {
		groups[i] = i
	}
	sort.Slice(groups, func(i, j int) bool {
		a, b := d.model.CoverageGroups[groups[i]], d.model.CoverageGroups[groups[j]]
		if a.SlotOrderWeight != b.SlotOrderWeight {
			return a.SlotOrderWeight > b.SlotOrderWeight
		}
		if a.Required != b.Required {
			return a.Required > b.Required
		}
		if a.DateISO != b.DateISO {
			return a.DateISO < b.DateISO
		}
		return a.SlotID < b.SlotID
	})

	for _, gi := range groups {
		g := d.model.CoverageGroups[gi]
		if g.ForceZero || g.Capacity <= 0 {
			continue
		}
		candidates := make([]int, 0, len(g.VarIndices))
		for _, idx := range g.VarIndices {
			if !d.model.ForcedZero[idx] {
				candidates = append(candidates, idx)
			}
		}

		// Pick one candidate at a time so the hours-balance term can react to
		// the minutes already committed this round: a clinician who just
		// crossed their weekly target loses priority to one with headroom.
		picked := 0
		for picked < g.Capacity {
			best, bestScore := -1, 0.0
			for _, idx := range candidates {
				if d.chosen[idx] || d.conflictsWithChosen(idx) {
					continue
				}
				score := d.pickScore(idx)
				if best < 0 || score > bestScore {
					best, bestScore = idx, score
				}
			}
			if best < 0 {
				break
			}
			d.choose(best)
			picked++
		}
	}
}

func (d *driver) bucketKey(idx int) string {
	v := d.model.Vars[idx]
	return v.ClinicianID + "|" + v.WeekStartISO
}

func (d *driver) choose(idx int) {
	d.chosen[idx] = true
	d.weekMinutes[d.bucketKey(idx)] += float64(d.model.Vars[idx].DurationMinutes)
}

func (d *driver) unchoose(idx int) {
	delete(d.chosen, idx)
	d.weekMinutes[d.bucketKey(idx)] -= float64(d.model.Vars[idx].DurationMinutes)
}

// pickScore is varScore minus the marginal working-hours penalty choosing
// this variable would incur for its clinician's week.
func (d *driver) pickScore(idx int) float64 {
	score := d.varScore(idx)
	key := d.bucketKey(idx)
	b, ok := d.model.WeekBuckets[key]
	if !ok || b.TargetMinutes <= 0 {
		return score
	}
	before := hourBlocks(d.weekMinutes[key], b.TargetMinutes, b.ToleranceMins)
	after := hourBlocks(d.weekMinutes[key]+float64(d.model.Vars[idx].DurationMinutes), b.TargetMinutes, b.ToleranceMins)
	return score - d.settings.WeightWorkingHours*(after-before)
}

// varScore ranks candidates within a coverage group: preference and
// time-window fit first, slot-order weight as a final tiebreak.
func (d *driver) varScore(idx int) float64 {
	v := d.model.Vars[idx]
	return v.PreferenceWeight*d.settings.WeightSectionPreference +
		v.TimeWindowFit*d.settings.WeightTimeWindow +
		v.SlotOrderWeight*0.001
}

// repairGaps retries each gap-causing chosen pair by re-homing its
// lower-scored half onto a spare, gap-free candidate in the same coverage
// group, bounded by maxGapRepairPasses and the search deadline.
func (d *driver) repairGaps(ctx context.Context) int {
	groupByVar := d.groupIndexByVar()
	improved := 0

	for pass := 0; pass < maxGapRepairPasses; pass++ {
		select {
		case <-ctx.Done():
			return improved
		default:
		}
		movedAny := false
		for _, gap := range d.model.GapCandidates {
			if !d.chosen[gap.A] || !d.chosen[gap.B] {
				continue
			}
			victim := gap.A
			if d.varScore(gap.B) < d.varScore(gap.A) {
				victim = gap.B
			}
			gi, ok := groupByVar[victim]
			if !ok {
				continue
			}
			g := d.model.CoverageGroups[gi]
			replacement := d.findReplacement(g, victim, gap)
			if replacement < 0 {
				continue
			}
			d.unchoose(victim)
			d.choose(replacement)
			if d.stillGapped(gap) {
				d.unchoose(replacement)
				d.choose(victim)
				continue
			}
			movedAny = true
			improved++
		}
		if !movedAny {
			break
		}
	}
	return improved
}

func (d *driver) groupIndexByVar() map[int]int {
	out := make(map[int]int, len(d.model.Vars))
	for gi, g := range d.model.CoverageGroups {
		for _, idx := range g.VarIndices {
			out[idx] = gi
		}
	}
	return out
}

func (d *driver) findReplacement(g coverageGroup, victim int, gap gapCandidate) int {
	for _, idx := range g.VarIndices {
		if idx == victim || d.chosen[idx] || d.model.ForcedZero[idx] {
			continue
		}
		if d.conflictsWithChosen(idx) {
			continue
		}
		if idx == gap.A || idx == gap.B {
			continue
		}
		return idx
	}
	return -1
}

func (d *driver) stillGapped(gap gapCandidate) bool {
	return d.chosen[gap.A] && d.chosen[gap.B]
}

func (d *driver) publish(solutionIndex int) {
	if d.onProgress == nil {
		return
	}
	d.onProgress(ProgressSolution{
		SolutionIndex: solutionIndex,
		ElapsedMs:     time.Since(d.start).Milliseconds(),
		Objective:     d.objective(),
		Assignments:   d.assignments(),
	})
}

func (d *driver) assignments() []scheduledoc.Assignment {
	out := make([]scheduledoc.Assignment, 0, len(d.chosen))
	for idx := range d.chosen {
		v := d.model.Vars[idx]
		out = append(out, scheduledoc.Assignment{
			ID:          fmt.Sprintf("as-%s-%s-%s", v.DateISO, v.ClinicianID, v.SlotID),
			RowID:       v.SlotID,
			DateISO:     v.DateISO,
			ClinicianID: v.ClinicianID,
			Source:      scheduledoc.SourceSolver,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DateISO != out[j].DateISO {
			return out[i].DateISO < out[j].DateISO
		}
		if out[i].RowID != out[j].RowID {
			return out[i].RowID < out[j].RowID
		}
		return out[i].ClinicianID < out[j].ClinicianID
	})
	return out
}

func (d *driver) subScores() SubScores {
	var sub SubScores
	for _, g := range d.model.CoverageGroups {
		filled := g.ManualCount
		for _, idx := range g.VarIndices {
			if d.chosen[idx] {
				filled++
			}
		}
		if filled > g.Required {
			filled = g.Required
		}
		sub.SlotsFilled += filled
		if g.Required > filled {
			sub.SlotsUnfilled += g.Required - filled
		}
	}
	sub.TotalAssignments = len(d.chosen)
	for idx := range d.chosen {
		v := d.model.Vars[idx]
		sub.PreferenceScore += v.PreferenceWeight
		sub.TimeWindowScore += v.TimeWindowFit
	}
	sub.GapPenalty = d.gapPenalty()
	sub.HoursPenalty = d.hoursPenalty()
	return sub
}

func (d *driver) gapPenalty() float64 {
	penalty := d.model.FixedGapConstant
	for _, gap := range d.model.GapCandidates {
		if d.chosen[gap.A] && d.chosen[gap.B] {
			penalty++
		}
	}
	for idx, count := range d.model.FixedGapPenalty {
		if d.chosen[idx] {
			penalty += count
		}
	}
	for _, idx := range d.model.FixedGapBridge {
		if d.chosen[idx] {
			penalty--
		}
	}
	if penalty < 0 {
		penalty = 0
	}
	return penalty
}

// hoursPenalty sums, per clinician-week, the deviation beyond tolerance
// quantized into 15-minute blocks.
func (d *driver) hoursPenalty() float64 {
	var penalty float64
	for _, b := range d.model.WeekBuckets {
		if b.TargetMinutes <= 0 {
			continue
		}
		actual := float64(b.FixedMinutes)
		for _, idx := range b.VarIndices {
			if d.chosen[idx] {
				actual += float64(d.model.Vars[idx].DurationMinutes)
			}
		}
		penalty += hourBlocks(actual, b.TargetMinutes, b.ToleranceMins)
	}
	return penalty
}

// hourBlocks converts a minute total's deviation beyond tolerance into
// 15-minute penalty blocks.
func hourBlocks(actual, target, tolerance float64) float64 {
	diff := actual - target
	if diff < 0 {
		diff = -diff
	}
	diff -= tolerance
	if diff <= 0 {
		return 0
	}
	return math.Ceil(diff / 15)
}

func (d *driver) objective() float64 {
	sub := d.subScores()
	s := d.settings
	weightedOrder := 0.0
	for idx := range d.chosen {
		weightedOrder += d.model.Vars[idx].SlotOrderWeight
	}
	return s.WeightCoverage*float64(sub.SlotsFilled) -
		s.WeightSlack*float64(sub.SlotsUnfilled) +
		s.WeightTotalAssignments*float64(sub.TotalAssignments) +
		s.WeightSlotPriority*weightedOrder +
		s.WeightSectionPreference*sub.PreferenceScore +
		s.WeightTimeWindow*sub.TimeWindowScore -
		s.WeightGapPenalty*sub.GapPenalty -
		s.WeightWorkingHours*sub.HoursPenalty
}

// status interprets the finished search the way a CP-SAT solver's status
// would read: a required slot no eligible clinician could ever cover is a
// hard INFEASIBLE, a request with no staffing demand at all or one fully met
// is OPTIMAL, and anything else that filled at least something is FEASIBLE.
func (d *driver) status(sub SubScores) Status {
	anyDemand := false
	for _, g := range d.model.CoverageGroups {
		if g.Required <= 0 {
			continue
		}
		anyDemand = true
		if g.ManualCount >= g.Required {
			continue
		}
		eligible := 0
		for _, idx := range g.VarIndices {
			if !d.model.ForcedZero[idx] {
				eligible++
			}
		}
		if eligible == 0 {
			return StatusInfeasible
		}
	}
	if !anyDemand {
		return StatusOptimal
	}
	if sub.SlotsUnfilled == 0 {
		return StatusOptimal
	}
	if sub.SlotsFilled > 0 {
		return StatusFeasible
	}
	return StatusUnknown
}

// detectManualRestConflicts flags manual-on-manual on-call rest-day overlaps
// that the solver can only report, never resolve, since neither side of a
// manual-manual pair is a decision variable it could move.
func detectManualRestConflicts(m *Model) []RestConflict {
	section := m.Settings.OnCallRestSectionID
	if !m.Settings.OnCallRestEnabled || section == "" {
		return nil
	}
	before := m.Settings.OnCallRestDaysBefore
	after := m.Settings.OnCallRestDaysAfter

	var onCall, others []fixedAssignment
	for _, f := range m.Fixed {
		if f.SectionID == section {
			onCall = append(onCall, f)
		} else if f.IsSlot {
			others = append(others, f)
		}
	}

	var conflicts []RestConflict
	for _, oc := range onCall {
		for _, other := range others {
			if other.ClinicianID != oc.ClinicianID {
				continue
			}
			delta, err := timeutil.DaysBetweenISO(oc.DateISO, other.DateISO)
			if err != nil || delta == 0 || delta < -before || delta > after {
				continue
			}
			atBoundary := other.DateISO < m.HorizonStartISO || other.DateISO > m.HorizonEndISO
			conflicts = append(conflicts, RestConflict{
				ClinicianID:   oc.ClinicianID,
				OnCallDateISO: oc.DateISO,
				RestDateISO:   other.DateISO,
				AtBoundary:    atBoundary,
			})
			if len(conflicts) >= 10 {
				return conflicts
			}
		}
	}
	return conflicts
}
