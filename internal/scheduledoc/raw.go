package scheduledoc

import "encoding/json"

// rawDocument is the loosest possible shape a persisted document can take:
// every field a current or historical schema might populate. Normalize
// decodes into this before projecting down to the canonical Document.
type rawDocument struct {
	Locations        []rawLocation     `json:"locations"`
	Rows             []rawRow          `json:"rows"`
	Clinicians       []rawClinician    `json:"clinicians"`
	Template         rawTemplate       `json:"template"`
	Assignments      []rawAssignment   `json:"assignments"`
	Overrides        []rawOverride     `json:"overrides"`
	Rules            []rawRule         `json:"rules"`
	Settings         rawSettings       `json:"settings"`
	PublishedWeeks   []string          `json:"publishedWeeks"`
	LocationsEnabled *bool             `json:"locationsEnabled"`
	Holidays         []string          `json:"holidays"`
}

type rawLocation struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type rawSubShift struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Order     int    `json:"order"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

type rawRow struct {
	ID                string          `json:"id"`
	Name              string          `json:"name"`
	Kind              string          `json:"kind"`
	LocationID        string          `json:"locationId"`
	BlockColor        string          `json:"blockColor"`
	SubShifts         []rawSubShift   `json:"subShifts"`
	EnabledByDayType  map[string]bool `json:"enabledByDayType"`
	RequiredByDayType map[string]int  `json:"requiredByDayType"`
}

type rawVacation struct {
	StartISO string `json:"startISO"`
	EndISO   string `json:"endISO"`
	// legacy positional form
	Start string `json:"start"`
	End   string `json:"end"`
}

type rawWindow struct {
	Requirement string `json:"requirement"`
	Start       string `json:"start"`
	End         string `json:"end"`
}

type rawClinician struct {
	ID                         string                 `json:"id"`
	Name                       string                 `json:"name"`
	QualifiedSectionIDs        []string               `json:"qualifiedSectionIds"`
	PreferredSectionIDs        []string               `json:"preferredSectionIds"`
	Vacations                  []rawVacation          `json:"vacations"`
	PreferredWorkingTimes      map[string]rawWindow   `json:"preferredWorkingTimes"`
	WorkingHoursPerWeek        float64                `json:"workingHoursPerWeek"`
	WorkingHoursToleranceHours *float64               `json:"workingHoursToleranceHours"`
}

type rawBlock struct {
	ID            string `json:"id"`
	SectionID     string `json:"sectionId"`
	RequiredSlots int    `json:"requiredSlots"`
	Label         string `json:"label"`
	Color         string `json:"color"`
}

type rawRowBand struct {
	ID    string `json:"id"`
	Order int    `json:"order"`
	Label string `json:"label"`
}

type rawColBand struct {
	ID      string `json:"id"`
	Order   int    `json:"order"`
	DayType string `json:"dayType"`
}

type rawSlot struct {
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

type rawTemplateLocation struct {
	LocationID string       `json:"locationId"`
	RowBands   []rawRowBand `json:"rowBands"`
	ColBands   []rawColBand `json:"colBands"`
	Slots      []rawSlot    `json:"slots"`
	// legacy: a single implicit col-band set, no explicit colBands
}

type rawTemplate struct {
	Version   int                   `json:"version"`
	Blocks    []rawBlock            `json:"blocks"`
	Locations []rawTemplateLocation `json:"locations"`
}

type rawAssignment struct {
	ID          string `json:"id"`
	RowID       string `json:"rowId"`
	DateISO     string `json:"dateISO"`
	ClinicianID string `json:"clinicianId"`
	Source      string `json:"source"`
}

type rawOverride struct {
	Key   string `json:"key"`
	Delta int    `json:"delta"`
}

type rawRule struct {
	ID             string `json:"id"`
	Enabled        bool   `json:"enabled"`
	IfShiftRowID   string `json:"ifShiftRowId"`
	DayDelta       int    `json:"dayDelta"`
	ThenType       string `json:"thenType"`
	ThenShiftRowID string `json:"thenShiftRowId"`
}

type rawSettings struct {
	EnforceSameLocationPerDay *bool    `json:"enforceSameLocationPerDay"`
	OnCallRestEnabled         *bool    `json:"onCallRestEnabled"`
	OnCallRestSectionID       string   `json:"onCallRestSectionId"`
	OnCallRestDaysBefore      *int     `json:"onCallRestDaysBefore"`
	OnCallRestDaysAfter       *int     `json:"onCallRestDaysAfter"`
	PreferContinuousShifts    *bool    `json:"preferContinuousShifts"`
	WorkingHoursToleranceHours *float64 `json:"workingHoursToleranceHours"`

	WeightCoverage          *float64 `json:"weightCoverage"`
	WeightSlack             *float64 `json:"weightSlack"`
	WeightTotalAssignments  *float64 `json:"weightTotalAssignments"`
	WeightSlotPriority      *float64 `json:"weightSlotPriority"`
	WeightSectionPreference *float64 `json:"weightSectionPreference"`
	WeightTimeWindow        *float64 `json:"weightTimeWindow"`
	WeightGapPenalty        *float64 `json:"weightGapPenalty"`
	WeightWorkingHours      *float64 `json:"weightWorkingHours"`
}

func decodeRaw(data []byte) (rawDocument, error) {
	var doc rawDocument
	if len(data) == 0 {
		return doc, nil
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return rawDocument{}, err
	}
	return doc, nil
}
