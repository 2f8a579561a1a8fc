package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/internal/slotctx"
	"github.com/shiftschedule/solverapi/internal/timeutil"
	"github.com/shiftschedule/solverapi/pkg/export"
	"github.com/shiftschedule/solverapi/pkg/storage"
)

type scheduleDocumentSource interface {
	GetDocument(ctx context.Context, ownerID string) (*scheduledoc.Document, time.Time, error)
}

type fileStorage interface {
	Save(filename string, data []byte) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
	CleanupOlderThan(ttl time.Duration) ([]string, error)
}

// ExportConfig tunes export behaviour.
type ExportConfig struct {
	APIPrefix string
	ResultTTL time.Duration
}

// ExportResult captures successful generation metadata.
type ExportResult struct {
	RelativePath string
	Token        string
	URL          string
	Format       models.ReportFormat
	ExpiresAt    time.Time
}

// ExportService builds report datasets from the owner's schedule document
// and persists rendered files.
type ExportService struct {
	schedules scheduleDocumentSource
	storage   fileStorage
	csv       csvRenderer
	pdf       pdfRenderer
	signer    *storage.SignedURLSigner
	logger    *zap.Logger
	cfg       ExportConfig
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

type pdfRenderer interface {
	Render(data export.Dataset, title string) ([]byte, error)
}

// NewExportService constructs an ExportService.
func NewExportService(schedules scheduleDocumentSource, storage fileStorage, signer *storage.SignedURLSigner, cfg ExportConfig, logger *zap.Logger, csv csvRenderer, pdf pdfRenderer) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 24 * time.Hour
	}
	if csv == nil {
		csv = export.NewCSVExporter()
	}
	if pdf == nil {
		pdf = export.NewPDFExporter()
	}
	return &ExportService{
		schedules: schedules,
		storage:   storage,
		csv:       csv,
		pdf:       pdf,
		signer:    signer,
		logger:    logger,
		cfg:       cfg,
	}
}

// Generate builds the dataset according to job definition and stores the rendered export.
func (s *ExportService) Generate(ctx context.Context, job *models.ReportJob) (*ExportResult, error) {
	if job == nil {
		return nil, fmt.Errorf("job nil")
	}
	dataset, title, err := s.buildDataset(ctx, job)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch job.Params.Format {
	case models.ReportFormatCSV:
		payload, err = s.csv.Render(dataset)
	case models.ReportFormatPDF:
		payload, err = s.pdf.Render(dataset, title)
	default:
		err = fmt.Errorf("unsupported format %s", job.Params.Format)
	}
	if err != nil {
		return nil, err
	}

	filename := s.buildFilename(job)
	relPath, err := s.storage.Save(filename, payload)
	if err != nil {
		return nil, err
	}

	token, expiresAt, err := s.signer.Generate(job.ID, relPath)
	if err != nil {
		return nil, err
	}
	signedURL := strings.TrimRight(s.cfg.APIPrefix, "/")
	if signedURL == "" {
		signedURL = "/api/v1"
	}
	signedURL = fmt.Sprintf("%s/export/%s", signedURL, token)

	return &ExportResult{
		RelativePath: relPath,
		Token:        token,
		URL:          signedURL,
		Format:       job.Params.Format,
		ExpiresAt:    expiresAt,
	}, nil
}

// ParseToken validates download token metadata.
func (s *ExportService) ParseToken(token string, allowExpired bool) (jobID, relPath string, expiresAt time.Time, err error) {
	return s.signer.Parse(token, allowExpired)
}

// Open returns a handle to the stored file.
func (s *ExportService) Open(relPath string) (*os.File, error) {
	return s.storage.Open(relPath)
}

// Delete removes a stored export file.
func (s *ExportService) Delete(relPath string) error {
	return s.storage.Delete(relPath)
}

// Cleanup removes files older than ttl (defaults to configured ResultTTL when ttl <= 0).
func (s *ExportService) Cleanup(ttl time.Duration) ([]string, error) {
	if ttl <= 0 {
		ttl = s.cfg.ResultTTL
	}
	return s.storage.CleanupOlderThan(ttl)
}

func (s *ExportService) buildFilename(job *models.ReportJob) string {
	timestamp := time.Now().UTC().Format("20060102_150405")
	rangePart := sanitizeFilename(job.Params.StartISO + "_" + job.Params.EndISO)
	return fmt.Sprintf("%s_%s_%s.%s", strings.ToLower(string(job.Type)), rangePart, timestamp, job.Params.Format)
}

func sanitizeFilename(raw string) string {
	if raw == "" {
		return "na"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "-", "\\", "-", ":", "-", "..", ".", "__", "_")
	result := replacer.Replace(raw)
	if len(result) > 100 {
		return result[:100]
	}
	return result
}

func (s *ExportService) buildDataset(ctx context.Context, job *models.ReportJob) (export.Dataset, string, error) {
	doc, _, err := s.schedules.GetDocument(ctx, job.CreatedBy)
	if err != nil {
		return export.Dataset{}, "", err
	}
	switch job.Type {
	case models.ReportTypeRoster:
		return buildRosterDataset(doc, job.Params)
	case models.ReportTypeUnfilled:
		return buildUnfilledDataset(doc, job.Params)
	case models.ReportTypeRestConflicts:
		return buildRestConflictDataset(doc, job.Params)
	default:
		return export.Dataset{}, "", fmt.Errorf("unsupported report type %s", job.Type)
	}
}

// buildRosterDataset lists every assignment in the requested range, resolved
// to human-readable section/shift/clinician names.
func buildRosterDataset(doc *scheduledoc.Document, params models.ReportJobParams) (export.Dataset, string, error) {
	slotByID := doc.Template.SlotByID()
	blockByID := doc.Template.BlockByID()
	rowByID := doc.RowByID()
	clinicianByID := doc.ClinicianByID()

	type rosterRow struct {
		date, start string
		cells       map[string]string
	}
	var rows []rosterRow
	for _, a := range doc.Assignments {
		if a.DateISO < params.StartISO || a.DateISO > params.EndISO {
			continue
		}
		if params.ClinicianID != nil && *params.ClinicianID != a.ClinicianID {
			continue
		}
		clinician := clinicianByID[a.ClinicianID]

		section, shift, start, end := "", "", "", ""
		if slot, ok := slotByID[a.RowID]; ok {
			block := blockByID[slot.BlockID]
			section = rowByID[block.SectionID].Name
			shift = block.Label
			start, end = slot.StartTime, slot.EndTime
		} else if row, ok := rowByID[a.RowID]; ok {
			section = row.Name
		}

		rows = append(rows, rosterRow{
			date:  a.DateISO,
			start: start,
			cells: map[string]string{
				"Date":      a.DateISO,
				"Clinician": clinician.Name,
				"Section":   section,
				"Shift":     shift,
				"Start":     start,
				"End":       end,
				"Source":    string(a.Source),
			},
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].date != rows[j].date {
			return rows[i].date < rows[j].date
		}
		return rows[i].start < rows[j].start
	})

	dataRows := make([]map[string]string, 0, len(rows))
	for _, r := range rows {
		dataRows = append(dataRows, r.cells)
	}
	dataset := export.Dataset{
		Headers: []string{"Date", "Clinician", "Section", "Shift", "Start", "End", "Source"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Roster %s to %s", params.StartISO, params.EndISO)
	return dataset, title, nil
}

// buildUnfilledDataset lists every (date, slot) in the range whose required
// headcount (after overrides) exceeds the assignments already on it.
func buildUnfilledDataset(doc *scheduledoc.Document, params models.ReportJobParams) (export.Dataset, string, error) {
	contexts := slotctx.Collect(doc)
	blockByID := doc.Template.BlockByID()
	rowByID := doc.RowByID()
	slotByID := doc.Template.SlotByID()
	holidays := doc.HolidaySet()

	overrideByKey := map[string]int{}
	for _, o := range doc.Overrides {
		overrideByKey[o.Key] = o.Delta
	}
	assignedCount := map[string]int{}
	for _, a := range doc.Assignments {
		assignedCount[a.RowID+"__"+a.DateISO]++
	}

	spanDays, err := timeutil.DaysBetweenISO(params.StartISO, params.EndISO)
	if err != nil || spanDays < 0 {
		return export.Dataset{}, "", fmt.Errorf("invalid report range %s..%s", params.StartISO, params.EndISO)
	}

	var dataRows []map[string]string
	for d := 0; d <= spanDays; d++ {
		dateISO, err := timeutil.AddDaysISO(params.StartISO, d)
		if err != nil {
			return export.Dataset{}, "", err
		}
		dayIdx, _ := timeutil.DayTypeIndex(dateISO)
		dayType := scheduledoc.ResolveDayType(holidays, dateISO, scheduledoc.OrderedWeekdays[dayIdx])

		for _, ctx := range contexts {
			if ctx.DayType != dayType {
				continue
			}
			required := blockByID[ctx.BlockID].RequiredSlots
			if slot, ok := slotByID[ctx.SlotID]; ok && slot.RequiredSlots > required {
				required = slot.RequiredSlots
			}
			required += overrideByKey[ctx.SlotID+"__"+dateISO]
			if required < 0 {
				required = 0
			}
			assigned := assignedCount[ctx.SlotID+"__"+dateISO]
			if assigned >= required {
				continue
			}
			block := blockByID[ctx.BlockID]
			dataRows = append(dataRows, map[string]string{
				"Date":     dateISO,
				"Section":  rowByID[block.SectionID].Name,
				"Shift":    block.Label,
				"Required": fmt.Sprintf("%d", required),
				"Assigned": fmt.Sprintf("%d", assigned),
				"Missing":  fmt.Sprintf("%d", required-assigned),
			})
		}
	}

	dataset := export.Dataset{
		Headers: []string{"Date", "Section", "Shift", "Required", "Assigned", "Missing"},
		Rows:    dataRows,
	}
	title := fmt.Sprintf("Unfilled Slots %s to %s", params.StartISO, params.EndISO)
	return dataset, title, nil
}

// buildRestConflictDataset lists manual assignments that fall inside the
// configured rest window of a manual on-call assignment for the same
// clinician.
func buildRestConflictDataset(doc *scheduledoc.Document, params models.ReportJobParams) (export.Dataset, string, error) {
	settings := doc.Settings
	dataset := export.Dataset{
		Headers: []string{"Clinician", "On-Call Date", "Conflicting Date", "Conflicting Section"},
	}
	title := fmt.Sprintf("Rest-Day Conflicts %s to %s", params.StartISO, params.EndISO)
	if !settings.OnCallRestEnabled || settings.OnCallRestSectionID == "" {
		return dataset, title, nil
	}

	slotByID := doc.Template.SlotByID()
	blockByID := doc.Template.BlockByID()
	rowByID := doc.RowByID()
	clinicianByID := doc.ClinicianByID()

	sectionOf := func(a scheduledoc.Assignment) string {
		if slot, ok := slotByID[a.RowID]; ok {
			return blockByID[slot.BlockID].SectionID
		}
		return ""
	}

	var onCall, others []scheduledoc.Assignment
	for _, a := range doc.Assignments {
		if a.Source != scheduledoc.SourceManual {
			continue
		}
		if a.DateISO < params.StartISO || a.DateISO > params.EndISO {
			continue
		}
		if sectionOf(a) == settings.OnCallRestSectionID {
			onCall = append(onCall, a)
		} else if _, ok := slotByID[a.RowID]; ok {
			others = append(others, a)
		}
	}

	for _, oc := range onCall {
		for _, other := range others {
			if other.ClinicianID != oc.ClinicianID {
				continue
			}
			delta, err := timeutil.DaysBetweenISO(oc.DateISO, other.DateISO)
			if err != nil || delta == 0 || delta < -settings.OnCallRestDaysBefore || delta > settings.OnCallRestDaysAfter {
				continue
			}
			dataset.Rows = append(dataset.Rows, map[string]string{
				"Clinician":           clinicianByID[oc.ClinicianID].Name,
				"On-Call Date":        oc.DateISO,
				"Conflicting Date":    other.DateISO,
				"Conflicting Section": rowByID[sectionOf(other)].Name,
			})
		}
	}
	return dataset, title, nil
}
