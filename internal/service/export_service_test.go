package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/shiftschedule/solverapi/internal/models"
	"github.com/shiftschedule/solverapi/internal/scheduledoc"
	"github.com/shiftschedule/solverapi/pkg/storage"
)

type scheduleSourceStub struct {
	doc *scheduledoc.Document
}

func (s scheduleSourceStub) GetDocument(ctx context.Context, ownerID string) (*scheduledoc.Document, time.Time, error) {
	return s.doc, time.Now().UTC(), nil
}

func exportTestDocument() *scheduledoc.Document {
	settings := scheduledoc.DefaultSolverSettings()
	settings.OnCallRestEnabled = true
	settings.OnCallRestSectionID = "on-call"
	settings.OnCallRestDaysBefore = 1
	settings.OnCallRestDaysAfter = 1

	return &scheduledoc.Document{
		Locations: []scheduledoc.Location{{ID: scheduledoc.DefaultLocationID, Name: "Default"}},
		Rows: []scheduledoc.WorkplaceRow{
			{ID: "ct", Name: "CT", Kind: scheduledoc.RowKindClass, LocationID: scheduledoc.DefaultLocationID},
			{ID: "on-call", Name: "On Call", Kind: scheduledoc.RowKindClass, LocationID: scheduledoc.DefaultLocationID},
		},
		Clinicians: []scheduledoc.Clinician{
			{ID: "c1", Name: "Dr. One", QualifiedSectionIDs: []string{"ct", "on-call"}},
		},
		Template: scheduledoc.WeeklyTemplate{
			Version: scheduledoc.CurrentTemplateVersion,
			Blocks: []scheduledoc.Block{
				{ID: "b-ct", SectionID: "ct", RequiredSlots: 2, Label: "Day"},
				{ID: "b-oc", SectionID: "on-call", RequiredSlots: 1, Label: "Night"},
			},
			Locations: []scheduledoc.TemplateLocation{{
				LocationID: scheduledoc.DefaultLocationID,
				RowBands:   []scheduledoc.RowBand{{ID: "rb1", Order: 0}},
				ColBands: []scheduledoc.ColBand{
					{ID: "cb-mon", Order: 0, DayType: scheduledoc.DayMon},
					{ID: "cb-tue", Order: 1, DayType: scheduledoc.DayTue},
				},
				Slots: []scheduledoc.Slot{
					{ID: "s-ct-mon", LocationID: scheduledoc.DefaultLocationID, RowBandID: "rb1", ColBandID: "cb-mon", BlockID: "b-ct", RequiredSlots: 2, StartTime: "08:00", EndTime: "16:00"},
					{ID: "s-oc-tue", LocationID: scheduledoc.DefaultLocationID, RowBandID: "rb1", ColBandID: "cb-tue", BlockID: "b-oc", RequiredSlots: 1, StartTime: "16:00", EndTime: "23:00"},
				},
			}},
		},
		Assignments: []scheduledoc.Assignment{
			{ID: "a1", RowID: "s-ct-mon", DateISO: "2026-01-05", ClinicianID: "c1", Source: scheduledoc.SourceManual},
			{ID: "a2", RowID: "s-oc-tue", DateISO: "2026-01-06", ClinicianID: "c1", Source: scheduledoc.SourceManual},
		},
		Settings: settings,
	}
}

func newExportServiceForTest(t *testing.T) (*ExportService, scheduleSourceStub) {
	t.Helper()
	source := scheduleSourceStub{doc: exportTestDocument()}
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Hour)
	return NewExportService(source, store, signer, ExportConfig{APIPrefix: "/api/v1", ResultTTL: time.Hour}, zap.NewNop(), nil, nil), source
}

func TestExportGenerateRosterCSV(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-1",
		Type:      models.ReportTypeRoster,
		Params:    models.ReportJobParams{StartISO: "2026-01-05", EndISO: "2026-01-11", Format: models.ReportFormatCSV},
		CreatedBy: "owner-1",
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.URL, "/api/v1/export/"))
	assert.Equal(t, models.ReportFormatCSV, result.Format)

	file, err := svc.Open(result.RelativePath)
	require.NoError(t, err)
	defer file.Close()
	buf := make([]byte, 4096)
	n, _ := file.Read(buf)
	content := string(buf[:n])
	assert.Contains(t, content, "Dr. One")
	assert.Contains(t, content, "2026-01-05")
	assert.Contains(t, content, "CT")
}

func TestExportGenerateUnfilledPDF(t *testing.T) {
	svc, _ := newExportServiceForTest(t)
	job := &models.ReportJob{
		ID:        "job-2",
		Type:      models.ReportTypeUnfilled,
		Params:    models.ReportJobParams{StartISO: "2026-01-05", EndISO: "2026-01-11", Format: models.ReportFormatPDF},
		CreatedBy: "owner-1",
	}

	result, err := svc.Generate(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, models.ReportFormatPDF, result.Format)
}

func TestBuildUnfilledDataset(t *testing.T) {
	dataset, _, err := buildUnfilledDataset(exportTestDocument(), models.ReportJobParams{StartISO: "2026-01-05", EndISO: "2026-01-06"})
	require.NoError(t, err)
	// Monday's CT slot needs 2 and has 1 manual; Tuesday's on-call is full.
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "2026-01-05", dataset.Rows[0]["Date"])
	assert.Equal(t, "1", dataset.Rows[0]["Missing"])
}

func TestBuildRestConflictDataset(t *testing.T) {
	dataset, _, err := buildRestConflictDataset(exportTestDocument(), models.ReportJobParams{StartISO: "2026-01-01", EndISO: "2026-01-31"})
	require.NoError(t, err)
	// The Monday CT shift falls one day before the Tuesday on-call shift for
	// the same clinician.
	require.Len(t, dataset.Rows, 1)
	assert.Equal(t, "2026-01-06", dataset.Rows[0]["On-Call Date"])
	assert.Equal(t, "2026-01-05", dataset.Rows[0]["Conflicting Date"])
}
