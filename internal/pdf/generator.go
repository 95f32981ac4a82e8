package pdf

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"
	"github.com/shopspring/decimal"

	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

const fontName = "Helvetica"

type Generator struct {
	title string
}

func NewGenerator(title string) *Generator {
	if strings.TrimSpace(title) == "" {
		title = "Waste Collection Quotation"
	}
	return &Generator{title: title}
}

func (g *Generator) Generate(doc model.QuoteDocument) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont(fontName, "B", 14)
	pdf.CellFormat(0, 10, tr(g.title), "", 1, "C", false, 0, "")

	pdf.SetFont(fontName, "", 10)
	pdf.CellFormat(0, 6, fmt.Sprintf("Request %s", doc.Request.ID), "", 1, "C", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Issued %s, rule set v%d", formatDate(doc.GeneratedAt), doc.Request.RuleSetVersion), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Collection details", "", 1, "L", false, 0, "")
	details := []string{
		fmt.Sprintf("Category: %s", safeValue(doc.Request.Category)),
		fmt.Sprintf("Quantity: %s", decimal.NewFromFloat(doc.Request.Quantity).String()),
		fmt.Sprintf("Community: %s", safeValue(doc.Request.CommunityType)),
		fmt.Sprintf("Address: %s", safeValue(doc.Request.Address)),
		fmt.Sprintf("Urgent: %s", yesNo(doc.Request.Urgent)),
		fmt.Sprintf("Status: %s", doc.Request.Status),
	}
	pdf.SetFont(fontName, "", 10)
	for _, line := range details {
		pdf.MultiCell(0, 5, tr(line), "", "L", false)
	}
	pdf.Ln(4)

	pdf.SetFont(fontName, "B", 12)
	pdf.CellFormat(0, 8, "Charges", "", 1, "L", false, 0, "")

	colWidths := []float64{130, 50}
	drawTableRow(pdf, []string{"Description", "Amount, " + doc.Currency}, colWidths, true)
	for _, line := range doc.Lines {
		drawTableRow(pdf, []string{tr(line.Label), formatAmount(line.Amount)}, colWidths, false)
	}
	drawTableRow(pdf, []string{"Total", formatAmount(doc.Total)}, colWidths, true)

	if !doc.UnitRate.IsZero() {
		pdf.Ln(2)
		pdf.SetFont(fontName, "", 9)
		pdf.CellFormat(0, 5, fmt.Sprintf("Unit rate: %s %s", doc.UnitRate.String(), doc.Currency), "", 1, "L", false, 0, "")
	}

	if doc.Request.DiscrepancyFlag {
		pdf.Ln(2)
		pdf.SetTextColor(200, 0, 0)
		pdf.SetFont(fontName, "", 9)
		pdf.MultiCell(0, 5, "The amount submitted with this request differed from the calculated price. The total above is the amount that will be charged.", "", "L", false)
		pdf.SetTextColor(0, 0, 0)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func drawTableRow(pdf *gofpdf.Fpdf, cols []string, widths []float64, header bool) {
	style := ""
	if header {
		style = "B"
	}
	pdf.SetFont(fontName, style, 10)
	for i, col := range cols {
		align := "L"
		if i > 0 {
			align = "R"
		}
		pdf.CellFormat(widths[i], 8, col, "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func safeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}

func formatAmount(value decimal.Decimal) string {
	return value.StringFixed(pricing.MinorUnitPlaces)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format("02.01.2006")
}
