// Package icalgen renders a schedule document's published assignments into
// RFC 5545 iCalendar text. The output is deterministic for a fixed input and
// DTSTAMP, so feed responses can be cached and compared byte-for-byte.
package icalgen

import (
	"sort"
	"strings"
	"time"

	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/timeutil"
)

const (
	crlf        = "\r\n"
	maxLineLen  = 75
	uidSuffix   = "@shiftschedule"
	prodID      = "-//shiftschedule//solverapi//EN"
	dtstampUTC  = "20060102T150405Z"
	compactDate = "20060102"
)

// Options selects which assignments become events.
type Options struct {
	CalendarName      string
	FilterClinicianID string
	DTStamp           time.Time
}

// Generate serializes the document's assignments that fall inside a
// published week into a VCALENDAR. Only assignments resolving to a class-row
// template slot are rendered; pool-row bookkeeping entries and assignments
// whose clinician is on vacation that day are skipped.
func Generate(doc *scheduledoc.Document, publishedWeeks []string, opts Options) string {
	published := make(map[string]bool, len(publishedWeeks))
	for _, w := range publishedWeeks {
		published[w] = true
	}

	slotByID := doc.Template.SlotByID()
	blockByID := doc.Template.BlockByID()
	rowByID := doc.RowByID()
	clinicianByID := doc.ClinicianByID()

	type event struct {
		uid     string
		dateISO string
		summary string
	}
	var events []event

	for _, a := range doc.Assignments {
		slot, ok := slotByID[a.RowID]
		if !ok {
			continue
		}
		block, ok := blockByID[slot.BlockID]
		if !ok {
			continue
		}
		section, ok := rowByID[block.SectionID]
		if !ok || section.Kind != scheduledoc.RowKindClass {
			continue
		}
		weekStart, err := timeutil.WeekStartISO(a.DateISO)
		if err != nil || !published[weekStart] {
			continue
		}
		if opts.FilterClinicianID != "" && a.ClinicianID != opts.FilterClinicianID {
			continue
		}
		clinician, ok := clinicianByID[a.ClinicianID]
		if !ok || onVacation(clinician, a.DateISO) {
			continue
		}

		summary := section.Name
		if block.Label != "" {
			summary += " (" + block.Label + ")"
		}
		summary += " - " + clinician.Name

		events = append(events, event{
			uid:     a.ID + uidSuffix,
			dateISO: a.DateISO,
			summary: summary,
		})
	}

	sort.Slice(events, func(i, j int) bool {
		if events[i].dateISO != events[j].dateISO {
			return events[i].dateISO < events[j].dateISO
		}
		return events[i].uid < events[j].uid
	})

	dtstamp := opts.DTStamp.UTC().Format(dtstampUTC)

	var b strings.Builder
	writeLine(&b, "BEGIN:VCALENDAR")
	writeLine(&b, "VERSION:2.0")
	writeLine(&b, "PRODID:"+prodID)
	if opts.CalendarName != "" {
		writeLine(&b, "X-WR-CALNAME:"+Escape(opts.CalendarName))
	}
	for _, ev := range events {
		start, err := timeutil.ParseISODate(ev.dateISO)
		if err != nil {
			continue
		}
		writeLine(&b, "BEGIN:VEVENT")
		writeLine(&b, "UID:"+Escape(ev.uid))
		writeLine(&b, "DTSTAMP:"+dtstamp)
		writeLine(&b, "DTSTART;VALUE=DATE:"+start.Format(compactDate))
		writeLine(&b, "DTEND;VALUE=DATE:"+start.AddDate(0, 0, 1).Format(compactDate))
		writeLine(&b, "SUMMARY:"+Escape(ev.summary))
		writeLine(&b, "END:VEVENT")
	}
	writeLine(&b, "END:VCALENDAR")
	return b.String()
}

func onVacation(c scheduledoc.Clinician, dateISO string) bool {
	for _, v := range c.Vacations {
		if dateISO >= v.StartISO && dateISO <= v.EndISO {
			return true
		}
	}
	return false
}

// Escape applies RFC 5545 text escaping: backslash, CR/LF, comma, semicolon.
func Escape(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '\r':
			// CRLF collapses to a single escaped newline.
			if i+1 < len(s) && s[i+1] == '\n' {
				i++
			}
			b.WriteString(`\n`)
		case '\n':
			b.WriteString(`\n`)
		case ',':
			b.WriteString(`\,`)
		case ';':
			b.WriteString(`\;`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// writeLine folds a logical content line at 75 octets (74 payload octets on
// continuation lines, leaving room for the leading space), splitting only on
// UTF-8 rune boundaries, and terminates every physical line with CRLF.
func writeLine(b *strings.Builder, line string) {
	for _, physical := range Fold(line) {
		b.WriteString(physical)
		b.WriteString(crlf)
	}
}

// Fold splits one logical line into RFC 5545 physical lines. The first
// physical line carries at most 75 bytes; every continuation starts with a
// single space and carries at most 74 more, so no physical line exceeds 75
// bytes total.
func Fold(line string) []string {
	if len(line) <= maxLineLen {
		return []string{line}
	}
	var out []string
	budget := maxLineLen
	for len(line) > budget {
		cut := budget
		// Back up to a rune boundary so folding never splits a code point.
		for cut > 0 && !utf8StartByte(line[cut]) {
			cut--
		}
		if cut == 0 {
			cut = budget
		}
		out = append(out, prefixFor(len(out))+line[:cut])
		line = line[cut:]
		budget = maxLineLen - 1
	}
	out = append(out, prefixFor(len(out))+line)
	return out
}

func prefixFor(physicalIndex int) string {
	if physicalIndex == 0 {
		return ""
	}
	return " "
}

func utf8StartByte(b byte) bool {
	return b&0xC0 != 0x80
}

// Unfold reverses Fold: physical continuation lines (leading space) are
// joined back onto their logical line. Exposed for tests and feed debugging.
func Unfold(text string) []string {
	physical := strings.Split(text, crlf)
	var logical []string
	for _, line := range physical {
		if strings.HasPrefix(line, " ") && len(logical) > 0 {
			logical[len(logical)-1] += line[1:]
			continue
		}
		if line == "" {
			continue
		}
		logical = append(logical, line)
	}
	return logical
}
