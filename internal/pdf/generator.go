package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/vcscsvcscs/regimen/pkg/model"
	"go.uber.org/zap"
)

// maxListedDoses caps the per-dose table so a long window stays readable
const maxListedDoses = 200

// PDFGenerator renders adherence reports
type PDFGenerator struct {
	logger *zap.Logger
}

// NewPDFGenerator creates a new PDFGenerator
func NewPDFGenerator(logger *zap.Logger) *PDFGenerator {
	return &PDFGenerator{
		logger: logger,
	}
}

// ScheduleSummary is one row of the per-schedule table
type ScheduleSummary struct {
	ScheduleID   string
	MedicationID string
	Recurrence   string
	Times        []model.TimeOfDay
	Timezone     string
	Stat         model.AdherenceStat
}

// ReportData contains all data needed for report generation
type ReportData struct {
	SubjectID   string
	Start       time.Time
	End         time.Time
	GeneratedAt time.Time
	Overall     model.AdherenceStat
	Schedules   []ScheduleSummary
	// Exceptions lists the missed, late and skipped doses
	Exceptions []model.DoseEvent
}

// DateRange formats the reporting window
func (d *ReportData) DateRange() string {
	return fmt.Sprintf("%s to %s", d.Start.Format("2006-01-02"), d.End.Format("2006-01-02"))
}

// Generate creates a PDF report from the provided data
func (g *PDFGenerator) Generate(data *ReportData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("report data is required")
	}

	g.logger.Info("generating adherence report",
		zap.String("subject_id", data.SubjectID),
		zap.String("date_range", data.DateRange()),
	)

	generatedAt := data.GeneratedAt
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	g.addTitle(pdf, "Medication Adherence Report", data.SubjectID, data.DateRange(), generatedAt)
	g.addOverall(pdf, data.Overall)
	g.addScheduleTable(pdf, data.Schedules)
	g.addExceptions(pdf, data.Exceptions)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		g.logger.Error("failed to generate PDF", zap.Error(err), zap.String("subject_id", data.SubjectID))
		return nil, fmt.Errorf("failed to generate PDF: %w", err)
	}

	g.logger.Info("adherence report generated",
		zap.String("subject_id", data.SubjectID),
		zap.Int("size_bytes", buf.Len()),
	)

	return buf.Bytes(), nil
}

func (g *PDFGenerator) addTitle(pdf *gofpdf.Fpdf, title, subjectID, dateRange string, generatedAt time.Time) {
	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Ln(5)

	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("Subject: %s", subjectID), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Period: %s", dateRange), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 8, fmt.Sprintf("Generated: %s", generatedAt.UTC().Format("2006-01-02 15:04 UTC")), "", 1, "L", false, 0, "")
	pdf.Ln(10)
}

func (g *PDFGenerator) addSectionHeader(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Arial", "B", 14)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(0, 10, title, "", 1, "L", true, 0, "")
	pdf.Ln(3)
	pdf.SetFont("Arial", "", 10)
}

func (g *PDFGenerator) addOverall(pdf *gofpdf.Fpdf, stat model.AdherenceStat) {
	g.addSectionHeader(pdf, "Overall Adherence")

	pdf.SetFont("Arial", "B", 16)
	pdf.CellFormat(0, 10, fmt.Sprintf("%.2f%%", stat.AdherenceRate), "", 1, "L", false, 0, "")
	pdf.SetFont("Arial", "", 10)
	if stat.Total == 0 {
		pdf.CellFormat(0, 6, "No resolved doses in this period.", "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 6, fmt.Sprintf("Expected doses: %d", stat.Total), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Taken on time: %d", stat.Taken), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Taken late: %d", stat.Late), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Missed: %d", stat.Missed), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Skipped: %d", stat.Skipped), "", 1, "L", false, 0, "")
	pdf.Ln(5)
}

func (g *PDFGenerator) addScheduleTable(pdf *gofpdf.Fpdf, schedules []ScheduleSummary) {
	g.addSectionHeader(pdf, "Schedules")

	if len(schedules) == 0 {
		pdf.CellFormat(0, 8, "No active schedules.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	widths := []float64{40, 30, 45, 20, 35}
	headers := []string{"Medication", "Recurrence", "Times", "Doses", "Adherence"}
	pdf.SetFont("Arial", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "C", false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Arial", "", 10)
	for _, s := range schedules {
		times := make([]string, 0, len(s.Times))
		for _, t := range s.Times {
			times = append(times, t.String())
		}
		pdf.CellFormat(widths[0], 6, s.MedicationID, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[1], 6, s.Recurrence, "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[2], 6, strings.Join(times, ", "), "1", 0, "L", false, 0, "")
		pdf.CellFormat(widths[3], 6, fmt.Sprintf("%d", s.Stat.Total), "1", 0, "C", false, 0, "")
		pdf.CellFormat(widths[4], 6, fmt.Sprintf("%.2f%%", s.Stat.AdherenceRate), "1", 0, "C", false, 0, "")
		pdf.Ln(-1)
	}
	pdf.Ln(5)
}

func (g *PDFGenerator) addExceptions(pdf *gofpdf.Fpdf, events []model.DoseEvent) {
	g.addSectionHeader(pdf, "Missed, Late and Skipped Doses")

	if len(events) == 0 {
		pdf.CellFormat(0, 8, "None.", "", 1, "L", false, 0, "")
		pdf.Ln(5)
		return
	}

	listed := events
	if len(listed) > maxListedDoses {
		listed = listed[:maxListedDoses]
	}
	for _, ev := range listed {
		line := fmt.Sprintf("%s  %-8s  %s", ev.ScheduledTime.UTC().Format("2006-01-02 15:04"), ev.Status, ev.MedicationID)
		if ev.TakenTime != nil {
			line += fmt.Sprintf("  (taken %s)", ev.TakenTime.UTC().Format("15:04"))
		}
		pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
	}
	if rest := len(events) - len(listed); rest > 0 {
		pdf.CellFormat(0, 5, fmt.Sprintf("... and %d more", rest), "", 1, "L", false, 0, "")
	}
	pdf.Ln(5)
}
