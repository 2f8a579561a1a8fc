// Package scheduledoc defines the canonical shift-schedule document and the
// normalizer that upgrades whatever shape was last persisted into it.
package scheduledoc

// CurrentTemplateVersion is the WeeklyTemplate schema version normalization
// upgrades everything to.
const CurrentTemplateVersion = 4

// Requirement classifies a clinician's preferred-working-time window.
type Requirement string

const (
	RequirementNone       Requirement = "none"
	RequirementPreference Requirement = "preference"
	RequirementMandatory  Requirement = "mandatory"
)

// RowKind distinguishes qualifying "class" rows from bookkeeping "pool" rows.
type RowKind string

const (
	RowKindClass RowKind = "class"
	RowKindPool  RowKind = "pool"
)

// AssignmentSource marks who produced an assignment.
type AssignmentSource string

const (
	SourceManual AssignmentSource = "manual"
	SourceSolver AssignmentSource = "solver"
)

// DayType is one of the seven weekdays plus the holiday override.
type DayType string

const (
	DayMon     DayType = "mon"
	DayTue     DayType = "tue"
	DayWed     DayType = "wed"
	DayThu     DayType = "thu"
	DayFri     DayType = "fri"
	DaySat     DayType = "sat"
	DaySun     DayType = "sun"
	DayHoliday DayType = "holiday"
)

// WeekdayOrder returns the 0..6 Monday-first index for a plain weekday
// DayType; Holiday has no fixed index and callers must resolve it first.
var WeekdayOrder = map[DayType]int{
	DayMon: 0, DayTue: 1, DayWed: 2, DayThu: 3, DayFri: 4, DaySat: 5, DaySun: 6,
}

// OrderedWeekdays lists the seven plain weekday keys in Monday-first order.
var OrderedWeekdays = []DayType{DayMon, DayTue, DayWed, DayThu, DayFri, DaySat, DaySun}

// Location is a physical site assignments can be pinned to.
type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DefaultLocationID is the id every document is guaranteed to carry.
const DefaultLocationID = "default"

// WorkplaceRow is either a qualifying class row or a bookkeeping pool row.
type WorkplaceRow struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Kind       RowKind `json:"kind"`
	LocationID string  `json:"locationId"`
	BlockColor string  `json:"blockColor,omitempty"`
}

// VacationRange is an inclusive ISO-date span a clinician is unavailable.
type VacationRange struct {
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO"`
}

// WorkingWindow is a clinician's preference or requirement for one weekday.
type WorkingWindow struct {
	Requirement Requirement `json:"requirement"`
	Start       string      `json:"start,omitempty"`
	End         string      `json:"end,omitempty"`
}

// Clinician is a roster member eligible for assignment.
type Clinician struct {
	ID                         string                     `json:"id"`
	Name                       string                     `json:"name"`
	QualifiedSectionIDs        []string                   `json:"qualifiedSectionIds"`
	PreferredSectionIDs        []string                   `json:"preferredSectionIds"`
	Vacations                  []VacationRange            `json:"vacations"`
	PreferredWorkingTimes      map[DayType]WorkingWindow  `json:"preferredWorkingTimes"`
	WorkingHoursPerWeek        float64                    `json:"workingHoursPerWeek,omitempty"`
	WorkingHoursToleranceHours float64                    `json:"workingHoursToleranceHours"`
}

// Block ties template slots to a qualifying section and a display color.
type Block struct {
	ID            string `json:"id"`
	SectionID     string `json:"sectionId"`
	RequiredSlots int    `json:"requiredSlots"`
	Label         string `json:"label,omitempty"`
	Color         string `json:"color,omitempty"`
}

// RowBand is a template row grouping (e.g. a shift lane) within a location.
type RowBand struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Label string `json:"label,omitempty"`
}

// ColBand is a template column grouping, one per day-type, within a location.
type ColBand struct {
	ID      string  `json:"id"`
	Order   int     `json:"order"`
	DayType DayType `json:"dayType"`
}

// Slot is a single template cell: a row band x col band x block, carrying a
// time interval and a required headcount.
type Slot struct {
	ID            string `json:"id"`
	LocationID    string `json:"locationId"`
	RowBandID     string `json:"rowBandId"`
	ColBandID     string `json:"colBandId"`
	BlockID       string `json:"blockId"`
	RequiredSlots int    `json:"requiredSlots"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	EndDayOffset  int    `json:"endDayOffset"`
}

// TemplateLocation groups one location's row/col bands and slots.
type TemplateLocation struct {
	LocationID string    `json:"locationId"`
	RowBands   []RowBand `json:"rowBands"`
	ColBands   []ColBand `json:"colBands"`
	Slots      []Slot    `json:"slots"`
}

// WeeklyTemplate is the recurring weekly skeleton assignments are generated
// against.
type WeeklyTemplate struct {
	Version   int                `json:"version"`
	Blocks    []Block            `json:"blocks"`
	Locations []TemplateLocation `json:"locations"`
}

// Assignment binds a clinician to a slot (or pool row) on one date.
type Assignment struct {
	ID          string           `json:"id"`
	RowID       string           `json:"rowId"`
	DateISO     string           `json:"dateISO"`
	ClinicianID string           `json:"clinicianId"`
	Source      AssignmentSource `json:"source"`
}

// SlotOverride adjusts a single slot's required headcount on one date.
type SlotOverride struct {
	Key   string `json:"key"`
	Delta int    `json:"delta"`
}

// SolverRule is a simple "if shift X on day d then shift Y on day d+delta"
// derivation rule, disabled when it references an unknown row.
type SolverRule struct {
	ID             string  `json:"id"`
	Enabled        bool    `json:"enabled"`
	IfShiftRowID   string  `json:"ifShiftRowId"`
	DayDelta       int     `json:"dayDelta"`
	ThenType       string  `json:"thenType"`
	ThenShiftRowID string  `json:"thenShiftRowId"`
}

// SolverSettings configures hard/soft behavior of the solver, always fully
// populated after normalization.
type SolverSettings struct {
	EnforceSameLocationPerDay bool `json:"enforceSameLocationPerDay"`
	OnCallRestEnabled         bool `json:"onCallRestEnabled"`
	OnCallRestSectionID       string `json:"onCallRestSectionId"`
	OnCallRestDaysBefore      int  `json:"onCallRestDaysBefore"`
	OnCallRestDaysAfter       int  `json:"onCallRestDaysAfter"`
	PreferContinuousShifts    bool `json:"preferContinuousShifts"`
	WorkingHoursToleranceHours float64 `json:"workingHoursToleranceHours"`

	WeightCoverage         float64 `json:"weightCoverage"`
	WeightSlack            float64 `json:"weightSlack"`
	WeightTotalAssignments float64 `json:"weightTotalAssignments"`
	WeightSlotPriority     float64 `json:"weightSlotPriority"`
	WeightSectionPreference float64 `json:"weightSectionPreference"`
	WeightTimeWindow       float64 `json:"weightTimeWindow"`
	WeightGapPenalty       float64 `json:"weightGapPenalty"`
	WeightWorkingHours     float64 `json:"weightWorkingHours"`
}

// DefaultSolverSettings returns the spec's documented default weights.
func DefaultSolverSettings() SolverSettings {
	return SolverSettings{
		EnforceSameLocationPerDay: false,
		OnCallRestEnabled:         false,
		OnCallRestDaysBefore:      1,
		OnCallRestDaysAfter:       1,
		PreferContinuousShifts:    false,
		WorkingHoursToleranceHours: 5,
		WeightCoverage:          1000,
		WeightSlack:             1000,
		WeightTotalAssignments:  100,
		WeightSlotPriority:      10,
		WeightSectionPreference: 1,
		WeightTimeWindow:        5,
		WeightGapPenalty:        50,
		WeightWorkingHours:      1,
	}
}

// Document is the canonical per-owner schedule state.
type Document struct {
	Locations      []Location     `json:"locations"`
	Rows           []WorkplaceRow `json:"rows"`
	Clinicians     []Clinician    `json:"clinicians"`
	Template       WeeklyTemplate `json:"template"`
	Assignments    []Assignment   `json:"assignments"`
	Overrides      []SlotOverride `json:"overrides"`
	Rules          []SolverRule   `json:"rules"`
	Settings       SolverSettings `json:"settings"`
	PublishedWeeks []string       `json:"publishedWeeks"`
	LocationsEnabled bool         `json:"locationsEnabled"`
	Holidays       []string       `json:"holidays"`
}

// HolidaySet indexes a document's holiday ISO dates for O(1) membership
// checks.
func (d *Document) HolidaySet() map[string]bool {
	m := make(map[string]bool, len(d.Holidays))
	for _, h := range d.Holidays {
		m[h] = true
	}
	return m
}

// ResolveDayType returns the DayType a date resolves to: the holiday
// override if dateISO is listed in holidays, otherwise its plain weekday.
func ResolveDayType(holidays map[string]bool, dateISO string, weekday DayType) DayType {
	if holidays[dateISO] {
		return DayHoliday
	}
	return weekday
}

// RowByID indexes rows by id for O(1) lookup.
func (d *Document) RowByID() map[string]WorkplaceRow {
	m := make(map[string]WorkplaceRow, len(d.Rows))
	for _, r := range d.Rows {
		m[r.ID] = r
	}
	return m
}

// ClinicianByID indexes clinicians by id.
func (d *Document) ClinicianByID() map[string]Clinician {
	m := make(map[string]Clinician, len(d.Clinicians))
	for _, c := range d.Clinicians {
		m[c.ID] = c
	}
	return m
}

// BlockByID indexes template blocks by id.
func (t *WeeklyTemplate) BlockByID() map[string]Block {
	m := make(map[string]Block, len(t.Blocks))
	for _, b := range t.Blocks {
		m[b.ID] = b
	}
	return m
}

// AllSlots flattens every location's slots into one slice, in location
// order; each slot keeps the LocationID it was stored with.
func (t *WeeklyTemplate) AllSlots() []Slot {
	var out []Slot
	for _, loc := range t.Locations {
		out = append(out, loc.Slots...)
	}
	return out
}

// SlotByID indexes every slot across every location by id.
func (t *WeeklyTemplate) SlotByID() map[string]Slot {
	m := make(map[string]Slot)
	for _, s := range t.AllSlots() {
		m[s.ID] = s
	}
	return m
}
