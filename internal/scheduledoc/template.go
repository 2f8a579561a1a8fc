package scheduledoc

import (
	"fmt"
	"sort"
)

// legacySlotKey identifies a pre-v4 (class row, sub-shift, day-type) cell,
// used to remap legacy assignment/override row ids onto synthesized slots.
type legacySlotKey struct {
	classID    string
	subShiftID string
	dayType    DayType
}

var defaultRowBandLabels = []string{"Early", "Morning", "Midday", "Afternoon", "Late"}

// migrateTemplate implements spec rules 3-5: synthesizing a v4 template out
// of legacy per-row sub-shifts or day-type maps when needed, or repairing a
// current-version template's referential integrity otherwise. It returns
// the canonical template and the legacy-key remap table assignments and
// overrides are rewritten through.
func migrateTemplate(raw rawDocument, rows []WorkplaceRow) (WeeklyTemplate, map[legacySlotKey]string) {
	needsSynthesis := raw.Template.Version < CurrentTemplateVersion || len(raw.Template.Blocks) == 0 || len(raw.Template.Locations) == 0
	if needsSynthesis {
		return synthesizeTemplate(raw, rows)
	}
	return repairTemplate(raw.Template, rows)
}

func classRowIDs(rows []WorkplaceRow) []string {
	var ids []string
	for _, r := range rows {
		if r.Kind == RowKindClass {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	return ids
}

// synthesizeTemplate builds one block + slot per (class row, sub-shift,
// day-type) from whichever legacy shape is present: explicit per-row
// subShifts (rule 3), or the coarser enabledByDayType/requiredByDayType
// day-type maps (rule 4). Both land in the same v4 shape so rule 3 and 4
// share this implementation; a row with no legacy hints at all gets no
// slots (consistent with "no template exists").
func synthesizeTemplate(raw rawDocument, rows []WorkplaceRow) (WeeklyTemplate, map[legacySlotKey]string) {
	rowByID := make(map[string]rawRow, len(raw.Rows))
	for _, r := range raw.Rows {
		rowByID[r.ID] = r
	}

	template := WeeklyTemplate{Version: CurrentTemplateVersion}
	remap := map[legacySlotKey]string{}

	locBlocks := map[string][]Block{}
	locRowBands := map[string][]RowBand{}
	locColBands := map[string][]ColBand{}
	locSlots := map[string][]Slot{}

	for _, classID := range classRowIDs(rows) {
		row := rowByID[classID]
		subShifts := row.SubShifts
		if len(subShifts) == 0 {
			if len(row.EnabledByDayType) == 0 && len(row.RequiredByDayType) == 0 {
				continue
			}
			subShifts = []rawSubShift{{ID: "s1", Name: row.Name, Order: 1, StartTime: "08:00", EndTime: "16:00"}}
		}
		locID := DefaultLocationID
		for _, r := range rows {
			if r.ID == classID {
				locID = r.LocationID
				break
			}
		}

		for i, sub := range subShifts {
			if i >= 3 {
				break
			}
			subID := sub.ID
			if subID == "" {
				subID = fmt.Sprintf("s%d", i+1)
			}
			blockID := fmt.Sprintf("%s__%s", classID, subID)
			required := defaultRequired(raw.Rows, classID, subID)
			locBlocks[locID] = append(locBlocks[locID], Block{
				ID: blockID, SectionID: classID, RequiredSlots: required, Label: sub.Name,
			})
			rowBandID := fmt.Sprintf("rb-%s", subID)
			if !hasRowBand(locRowBands[locID], rowBandID) {
				label := sub.Name
				if label == "" && i < len(defaultRowBandLabels) {
					label = defaultRowBandLabels[i]
				}
				locRowBands[locID] = append(locRowBands[locID], RowBand{ID: rowBandID, Order: i, Label: label})
			}

			// Holiday is a first-class day type alongside the seven weekdays;
			// legacy enabled/required maps may carry a "holiday" key and
			// holiday-dated legacy assignments need a slot to remap onto.
			for dayIdx, dayType := range append(append([]DayType{}, OrderedWeekdays...), DayHoliday) {
				enabled := true
				if row.EnabledByDayType != nil {
					if v, ok := row.EnabledByDayType[string(dayType)]; ok {
						enabled = v
					}
				}
				if !enabled {
					continue
				}
				colBandID := fmt.Sprintf("cb-%s", dayType)
				if !hasColBand(locColBands[locID], colBandID) {
					locColBands[locID] = append(locColBands[locID], ColBand{ID: colBandID, Order: dayIdx, DayType: dayType})
				}
				slotID := fmt.Sprintf("%s::%s::%s", classID, subID, dayType)
				dayRequired := required
				if row.RequiredByDayType != nil {
					if v, ok := row.RequiredByDayType[string(dayType)]; ok {
						dayRequired = v
					}
				}
				start, end := sub.StartTime, sub.EndTime
				if start == "" {
					start = "08:00"
				}
				if end == "" {
					end = "16:00"
				}
				locSlots[locID] = append(locSlots[locID], Slot{
					ID: slotID, LocationID: locID, RowBandID: rowBandID, ColBandID: colBandID,
					BlockID: blockID, RequiredSlots: clampInt(dayRequired, 0, 1<<20),
					StartTime: start, EndTime: end,
				})
				remap[legacySlotKey{classID: classID, subShiftID: subID, dayType: dayType}] = slotID
				// Bare legacy ids (no sub-shift suffix) default to s1.
				if subID == "s1" {
					remap[legacySlotKey{classID: classID, subShiftID: "s1", dayType: dayType}] = slotID
				}
			}
		}
	}

	locIDs := make([]string, 0, len(locSlots))
	seen := map[string]bool{}
	for id := range locSlots {
		if !seen[id] {
			seen[id] = true
			locIDs = append(locIDs, id)
		}
	}
	sort.Strings(locIDs)
	for _, locID := range locIDs {
		colBands := locColBands[locID]
		// Every day-type carries a col-band even when no slot landed on it,
		// matching what the repair pass enforces for current templates.
		sort.Slice(colBands, func(i, j int) bool { return colBands[i].Order < colBands[j].Order })
		for _, dt := range append(append([]DayType{}, OrderedWeekdays...), DayHoliday) {
			id := fmt.Sprintf("cb-%s", dt)
			if !hasColBand(colBands, id) {
				colBands = append(colBands, ColBand{ID: id, Order: len(colBands), DayType: dt})
			}
		}
		template.Blocks = append(template.Blocks, locBlocks[locID]...)
		template.Locations = append(template.Locations, TemplateLocation{
			LocationID: locID,
			RowBands:   locRowBands[locID],
			ColBands:   colBands,
			Slots:      locSlots[locID],
		})
	}
	return template, remap
}

func defaultRequired(rawRows []rawRow, classID, subID string) int {
	for _, r := range rawRows {
		if r.ID != classID {
			continue
		}
		if r.RequiredByDayType != nil {
			total := 0
			for _, v := range r.RequiredByDayType {
				if v > total {
					total = v
				}
			}
			if total > 0 {
				return total
			}
		}
	}
	return 1
}

func hasRowBand(bands []RowBand, id string) bool {
	for _, b := range bands {
		if b.ID == id {
			return true
		}
	}
	return false
}

func hasColBand(bands []ColBand, id string) bool {
	for _, b := range bands {
		if b.ID == id {
			return true
		}
	}
	return false
}

// repairTemplate implements rule 5 for a template that is already current
// version: drop dangling references, ensure every location has at least one
// col-band per day-type, clamp requiredSlots.
func repairTemplate(raw rawTemplate, rows []WorkplaceRow) (WeeklyTemplate, map[legacySlotKey]string) {
	template := WeeklyTemplate{Version: CurrentTemplateVersion}

	blockByID := map[string]Block{}
	classRows := map[string]bool{}
	for _, r := range rows {
		if r.Kind == RowKindClass {
			classRows[r.ID] = true
		}
	}
	for _, b := range raw.Blocks {
		if !classRows[b.SectionID] {
			continue
		}
		block := Block{ID: b.ID, SectionID: b.SectionID, RequiredSlots: clampInt(b.RequiredSlots, 0, 1<<20), Label: b.Label, Color: b.Color}
		blockByID[block.ID] = block
		template.Blocks = append(template.Blocks, block)
	}

	for _, loc := range raw.Locations {
		rowBandByID := map[string]bool{}
		var rowBands []RowBand
		for _, rb := range loc.RowBands {
			if rowBandByID[rb.ID] {
				continue
			}
			rowBandByID[rb.ID] = true
			rowBands = append(rowBands, RowBand{ID: rb.ID, Order: rb.Order, Label: rb.Label})
		}

		colBandByID := map[string]ColBand{}
		colBandByDayType := map[DayType]string{}
		var colBands []ColBand
		for _, cb := range loc.ColBands {
			dt := DayType(cb.DayType)
			if !isKnownDayType(dt) || colBandByDayType[dt] != "" {
				continue
			}
			band := ColBand{ID: cb.ID, Order: cb.Order, DayType: dt}
			colBandByID[band.ID] = band
			colBandByDayType[dt] = band.ID
			colBands = append(colBands, band)
		}
		// Ensure each day-type has at least one col-band.
		nextOrder := len(colBands)
		for _, dt := range append(append([]DayType{}, OrderedWeekdays...), DayHoliday) {
			if colBandByDayType[dt] != "" {
				continue
			}
			id := fmt.Sprintf("cb-%s", dt)
			band := ColBand{ID: id, Order: nextOrder, DayType: dt}
			nextOrder++
			colBandByID[id] = band
			colBandByDayType[dt] = id
			colBands = append(colBands, band)
		}

		var slots []Slot
		for _, s := range loc.Slots {
			if !rowBandByID[s.RowBandID] {
				continue
			}
			if _, ok := colBandByID[s.ColBandID]; !ok {
				continue
			}
			if _, ok := blockByID[s.BlockID]; !ok {
				continue
			}
			slots = append(slots, Slot{
				ID: s.ID, LocationID: loc.LocationID, RowBandID: s.RowBandID, ColBandID: s.ColBandID,
				BlockID: s.BlockID, RequiredSlots: clampInt(s.RequiredSlots, 0, 1<<20),
				StartTime: s.StartTime, EndTime: s.EndTime, EndDayOffset: clampInt(s.EndDayOffset, 0, 3),
			})
		}

		template.Locations = append(template.Locations, TemplateLocation{
			LocationID: loc.LocationID, RowBands: rowBands, ColBands: colBands, Slots: slots,
		})
	}

	return template, map[legacySlotKey]string{}
}

func isKnownDayType(dt DayType) bool {
	if dt == DayHoliday {
		return true
	}
	_, ok := WeekdayOrder[dt]
	return ok
}
