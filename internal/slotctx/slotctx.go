// Package slotctx expands a normalized schedule document's weekly template
// into an ordered list of slot contexts the solver model builder iterates
// over.
package slotctx

import (
	"sort"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
)

// Context is one template slot resolved to concrete minute offsets and
// ordering keys.
type Context struct {
	SlotID              string
	SectionID           string
	LocationID          string
	DayType             scheduledoc.DayType
	BlockID             string
	StartMinutes        int
	EndMinutes          int
	LocationForInterval string

	blockOrder    int
	locationOrder int
	rowBandOrder  int
	dayOrder      int
	colBandOrder  int
}

// Collect builds the ordered slot-context list from a normalized document.
func Collect(doc *scheduledoc.Document) []Context {
	blockByID := doc.Template.BlockByID()
	blockOrder := make(map[string]int, len(doc.Template.Blocks))
	for i, b := range doc.Template.Blocks {
		blockOrder[b.ID] = i
	}

	locationOrder := make(map[string]int, len(doc.Locations))
	for i, l := range doc.Locations {
		locationOrder[l.ID] = i
	}

	var out []Context
	for locIdx, loc := range doc.Template.Locations {
		rowBandOrder := make(map[string]int, len(loc.RowBands))
		for _, rb := range loc.RowBands {
			rowBandOrder[rb.ID] = rb.Order
		}
		colBandOrder := make(map[string]int, len(loc.ColBands))
		colBandDayType := make(map[string]scheduledoc.DayType, len(loc.ColBands))
		for _, cb := range loc.ColBands {
			colBandOrder[cb.ID] = cb.Order
			colBandDayType[cb.ID] = cb.DayType
		}

		locOrder, ok := locationOrder[loc.LocationID]
		if !ok {
			locOrder = locIdx + len(doc.Locations)
		}

		for _, s := range loc.Slots {
			block, ok := blockByID[s.BlockID]
			if !ok {
				continue
			}
			dayType, ok := colBandDayType[s.ColBandID]
			if !ok {
				continue
			}

			locationForInterval := s.LocationID
			if !doc.LocationsEnabled {
				locationForInterval = scheduledoc.DefaultLocationID
			}

			start := parseOrDefault(s.StartTime, 8*60)
			end := parseOrDefault(s.EndTime, start+8*60)
			end += clampOffset(s.EndDayOffset) * 1440
			if end <= start {
				end = start
			}

			out = append(out, Context{
				SlotID:              s.ID,
				SectionID:           block.SectionID,
				LocationID:          s.LocationID,
				DayType:             dayType,
				BlockID:             s.BlockID,
				StartMinutes:        start,
				EndMinutes:          end,
				LocationForInterval: locationForInterval,

				blockOrder:    blockOrder[s.BlockID],
				locationOrder: locOrder,
				rowBandOrder:  rowBandOrder[s.RowBandID],
				dayOrder:      dayTypeOrder(dayType),
				colBandOrder:  colBandOrder[s.ColBandID],
			})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.blockOrder != b.blockOrder {
			return a.blockOrder < b.blockOrder
		}
		if a.locationOrder != b.locationOrder {
			return a.locationOrder < b.locationOrder
		}
		if a.rowBandOrder != b.rowBandOrder {
			return a.rowBandOrder < b.rowBandOrder
		}
		if a.dayOrder != b.dayOrder {
			return a.dayOrder < b.dayOrder
		}
		return a.colBandOrder < b.colBandOrder
	})
	return out
}

// SlotOrderWeights assigns each slot a descending weight by its position in
// the ordered context list (rank 0 gets the highest weight). The solver uses
// it for the slot-priority soft term, as a tiebreak between candidates, and
// to order coverage groups during construction; its coverage and slack terms
// count filled and unfilled headcount without this weight.
func SlotOrderWeights(contexts []Context) map[string]float64 {
	weights := make(map[string]float64, len(contexts))
	n := len(contexts)
	for i, ctx := range contexts {
		weights[ctx.SlotID] = float64(n - i)
	}
	return weights
}

func dayTypeOrder(dt scheduledoc.DayType) int {
	if order, ok := scheduledoc.WeekdayOrder[dt]; ok {
		return order
	}
	return len(scheduledoc.OrderedWeekdays)
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
