// Package reporting renders reports into shareable documents.
package reporting

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/mmdatafocus/fieldreport_backend/compliance"
	"github.com/mmdatafocus/fieldreport_backend/models"
)

const ContentTypePDF = "application/pdf"

var (
	colorPrimary     = [3]int{30, 58, 95}
	colorTextDark    = [3]int{44, 62, 80}
	colorTextMuted   = [3]int{127, 140, 141}
	colorPass        = [3]int{46, 204, 113}
	colorFail        = [3]int{231, 76, 60}
	colorUnknown     = [3]int{241, 196, 15}
	colorTableHeader = [3]int{30, 58, 95}
	colorTableAlt    = [3]int{241, 245, 249}
)

// PDFRenderer lays out a report on A4 pages.
type PDFRenderer struct {
	checker *compliance.TemperatureChecker
	now     func() time.Time
}

// NewPDFRenderer builds a renderer. With a nil directory every reading shows as unknown.
func NewPDFRenderer(equipment compliance.ThresholdDirectory) *PDFRenderer {
	return &PDFRenderer{checker: compliance.NewTemperatureChecker(equipment), now: time.Now}
}

func (g *PDFRenderer) Render(ctx context.Context, report *models.Report) ([]byte, string, error) {
	if report == nil {
		return nil, "", fmt.Errorf("nothing to render")
	}
	readings := g.checker.CheckAll(ctx, report.TemperatureReadings)
	checks := g.checker.ComposeChecks(ctx, report.Checks, report.TemperatureReadings)
	verdict := compliance.Evaluate(checks)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(true, 25)
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	generatedAt := g.now().UTC()
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont("Arial", "", 8)
		setText(pdf, colorTextMuted)
		pdf.CellFormat(0, 10, fmt.Sprintf("Report %s - generated %s - page %d", report.ID, generatedAt.Format(time.RFC3339), pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	g.writeHeader(pdf, tr, report)
	g.writeVerdict(pdf, verdict)
	g.writeChecks(pdf, tr, checks)
	g.writeReadings(pdf, tr, readings)
	g.writeNarrative(pdf, tr, report.Narrative, report.RejectionReason)
	g.writeAttachments(pdf, tr, report.Attachments)
	g.writeSignatures(pdf, tr, report.Signatures)

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", fmt.Errorf("PDF output error: %w", err)
	}
	return buf.Bytes(), ContentTypePDF, nil
}

func setText(pdf *fpdf.Fpdf, c [3]int) {
	pdf.SetTextColor(c[0], c[1], c[2])
}

func sectionTitle(pdf *fpdf.Fpdf, title string) {
	pdf.Ln(6)
	pdf.SetFont("Arial", "B", 13)
	setText(pdf, colorPrimary)
	pdf.CellFormat(0, 8, title, "B", 1, "L", false, 0, "")
	pdf.Ln(2)
	pdf.SetFont("Arial", "", 10)
	setText(pdf, colorTextDark)
}

func (g *PDFRenderer) writeHeader(pdf *fpdf.Fpdf, tr func(string) string, r *models.Report) {
	pageWidth, _ := pdf.GetPageSize()
	pdf.SetFillColor(colorPrimary[0], colorPrimary[1], colorPrimary[2])
	pdf.Rect(0, 0, pageWidth, 8, "F")

	pdf.SetY(16)
	pdf.SetFont("Arial", "B", 20)
	setText(pdf, colorTextDark)
	pdf.CellFormat(0, 10, tr(strings.ToUpper(string(r.Kind))+" REPORT"), "", 1, "L", false, 0, "")

	pdf.SetFont("Arial", "", 10)
	setText(pdf, colorTextMuted)
	rows := [][2]string{
		{"Report", r.ID},
		{"Status", string(r.LifecycleState)},
		{"Created", r.CreatedAt.UTC().Format("2006-01-02 15:04")},
	}
	if r.FinalizedAt != nil {
		rows = append(rows, [2]string{"Finalized", r.FinalizedAt.UTC().Format("2006-01-02 15:04")})
	}
	for _, row := range rows {
		pdf.CellFormat(30, 6, row[0], "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, tr(row[1]), "", 1, "L", false, 0, "")
	}
}

func (g *PDFRenderer) writeVerdict(pdf *fpdf.Fpdf, v compliance.Verdict) {
	sectionTitle(pdf, "Compliance")
	label, c := "COMPLIANT", colorPass
	if !v.Compliant {
		label, c = "NOT COMPLIANT", colorFail
	}
	pdf.SetFillColor(c[0], c[1], c[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(50, 8, label, "", 1, "C", true, 0, "")
	setText(pdf, colorTextDark)
	pdf.SetFont("Arial", "", 10)
	if len(v.Failing) > 0 {
		pdf.Ln(1)
		pdf.MultiCell(0, 5, "Failing checks: "+strings.Join(v.Failing, ", "), "", "L", false)
	}
}

func valueColor(v models.CheckValue) [3]int {
	switch v.Normalize() {
	case models.CheckTrue:
		return colorPass
	case models.CheckFalse:
		return colorFail
	}
	return colorUnknown
}

func tableHeader(pdf *fpdf.Fpdf, widths []float64, titles []string) {
	pdf.SetFillColor(colorTableHeader[0], colorTableHeader[1], colorTableHeader[2])
	pdf.SetTextColor(255, 255, 255)
	pdf.SetFont("Arial", "B", 9)
	for i, title := range titles {
		pdf.CellFormat(widths[i], 7, title, "", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetFont("Arial", "", 9)
	setText(pdf, colorTextDark)
}

func (g *PDFRenderer) writeChecks(pdf *fpdf.Fpdf, tr func(string) string, checks models.Checks) {
	sectionTitle(pdf, "Checks")
	if len(checks) == 0 {
		pdf.CellFormat(0, 6, "No checks recorded.", "", 1, "L", false, 0, "")
		return
	}
	widths := []float64{120, 50}
	tableHeader(pdf, widths, []string{"Check", "Result"})
	for i, check := range checks {
		fill := i%2 == 1
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		setText(pdf, colorTextDark)
		pdf.CellFormat(widths[0], 6, tr(check.Name), "", 0, "L", fill, 0, "")
		setText(pdf, valueColor(check.Value))
		pdf.CellFormat(widths[1], 6, string(check.Value.Normalize()), "", 1, "L", fill, 0, "")
	}
	setText(pdf, colorTextDark)
}

func (g *PDFRenderer) writeReadings(pdf *fpdf.Fpdf, tr func(string) string, readings []compliance.ReadingVerdict) {
	sectionTitle(pdf, "Temperature readings")
	if len(readings) == 0 {
		pdf.CellFormat(0, 6, "No readings recorded.", "", 1, "L", false, 0, "")
		return
	}
	widths := []float64{55, 30, 30, 30, 25}
	tableHeader(pdf, widths, []string{"Equipment", "Value", "Celsius", "Captured", "Result"})
	for i, rv := range readings {
		fill := i%2 == 1
		unit := "F"
		if rv.Reading.UnitCelsius {
			unit = "C"
		}
		pdf.SetFillColor(colorTableAlt[0], colorTableAlt[1], colorTableAlt[2])
		setText(pdf, colorTextDark)
		pdf.CellFormat(widths[0], 6, tr(rv.Reading.EquipmentID), "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[1], 6, rv.Reading.Value.String()+" "+unit, "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[2], 6, rv.Reading.Celsius().StringFixed(1), "", 0, "L", fill, 0, "")
		pdf.CellFormat(widths[3], 6, rv.Reading.CapturedAt.UTC().Format("01-02 15:04"), "", 0, "L", fill, 0, "")
		setText(pdf, valueColor(rv.Value))
		pdf.CellFormat(widths[4], 6, string(rv.Value), "", 1, "L", fill, 0, "")
	}
	setText(pdf, colorTextDark)
}

func (g *PDFRenderer) writeNarrative(pdf *fpdf.Fpdf, tr func(string) string, n models.Narrative, rejectionReason string) {
	sectionTitle(pdf, "Notes")
	blocks := [][2]string{
		{"Notes", n.Notes},
		{"Recommendations", n.Recommendations},
		{"Corrective actions", n.CorrectiveActions},
		{"Rejection reason", rejectionReason},
	}
	for _, b := range blocks {
		if strings.TrimSpace(b[1]) == "" {
			continue
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, b[0], "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.MultiCell(0, 5, tr(b[1]), "", "L", false)
		pdf.Ln(1)
	}
}

func (g *PDFRenderer) writeAttachments(pdf *fpdf.Fpdf, tr func(string) string, attachments []models.Attachment) {
	if len(attachments) == 0 {
		return
	}
	sectionTitle(pdf, "Attachments")
	for _, a := range attachments {
		pdf.MultiCell(0, 5, tr(fmt.Sprintf("%s (%s) %s", a.FileName, a.MimeType, a.Reference)), "", "L", false)
	}
}

func (g *PDFRenderer) writeSignatures(pdf *fpdf.Fpdf, tr func(string) string, s models.Signatures) {
	sectionTitle(pdf, "Signatures")
	for _, sig := range []*models.Signature{s.Technician, s.Counterpart} {
		if sig == nil || len(sig.Image) == 0 {
			continue
		}
		if pdf.GetY() > 240 {
			pdf.AddPage()
		}
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s: %s", sig.SignerRole, sig.SignerName)), "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 9)
		imageType := "PNG"
		if sig.MimeType == "image/jpeg" {
			imageType = "JPG"
		}
		name := "signature-" + string(sig.SignerRole)
		opts := fpdf.ImageOptions{ImageType: imageType}
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(sig.Image))
		if pdf.Ok() {
			pdf.ImageOptions(name, pdf.GetX(), pdf.GetY(), 60, 30, true, opts, 0, "")
		}
		pdf.CellFormat(0, 5, "Signed "+sig.CapturedAt.UTC().Format("2006-01-02 15:04"), "", 1, "L", false, 0, "")
	}
	if s.Technician == nil && s.Counterpart == nil {
		pdf.CellFormat(0, 6, "Not signed.", "", 1, "L", false, 0, "")
	}
}
