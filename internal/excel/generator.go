package excel

import (
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/nurpe/wasteops-pricing/internal/model"
	"github.com/nurpe/wasteops-pricing/internal/pricing"
)

const (
	SummarySheet = "Summary"
	EntriesSheet = "Mismatches"
)

type Generator struct{}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Generate(report model.AuditReport) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, err
	}
	if err := g.writeSummary(file, report); err != nil {
		return nil, err
	}

	if _, err := file.NewSheet(EntriesSheet); err != nil {
		return nil, err
	}
	if err := g.writeEntries(file, report); err != nil {
		return nil, err
	}

	file.SetActiveSheet(0)
	buf, err := file.WriteToBuffer()
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *Generator) writeSummary(file *excelize.File, report model.AuditReport) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(SummarySheet, cell, value)
	}

	set("A1", "Period start")
	set("B1", formatDate(report.PeriodStart))
	set("A2", "Period end")
	set("B2", formatDate(report.PeriodEnd))
	set("A3", "Currency")
	set("B3", report.Currency)
	set("A4", "Mismatches")
	set("B4", len(report.Entries))
	set("A5", "Total difference")
	set("B5", formatAmount(sumDifference(report.Entries)))

	tableRow := 7
	set(fmt.Sprintf("A%d", tableRow), "Rule set version")
	set(fmt.Sprintf("B%d", tableRow), "Mismatches")
	set(fmt.Sprintf("C%d", tableRow), "Total difference")

	for i, group := range groupByVersion(report.Entries) {
		row := tableRow + 1 + i
		set(fmt.Sprintf("A%d", row), group.version)
		set(fmt.Sprintf("B%d", row), group.count)
		set(fmt.Sprintf("C%d", row), formatAmount(group.difference))
	}

	_ = file.SetColWidth(SummarySheet, "A", "A", 24)
	_ = file.SetColWidth(SummarySheet, "B", "C", 18)
	return nil
}

func (g *Generator) writeEntries(file *excelize.File, report model.AuditReport) error {
	set := func(cell string, value interface{}) {
		_ = file.SetCellValue(EntriesSheet, cell, value)
	}

	headers := []string{
		"Time",
		"Request",
		"Actor",
		"Operation",
		"Rule set version",
		"Client amount",
		"Server amount",
		"Difference",
	}
	for i, header := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		set(cell, header)
	}

	for i, entry := range report.Entries {
		row := 2 + i
		set(fmt.Sprintf("A%d", row), formatDateTime(entry.CreatedAt))
		set(fmt.Sprintf("B%d", row), entry.RequestID.String())
		set(fmt.Sprintf("C%d", row), entry.ActorID.String())
		set(fmt.Sprintf("D%d", row), entry.Operation)
		set(fmt.Sprintf("E%d", row), entry.RuleSetVersion)
		set(fmt.Sprintf("F%d", row), formatAmount(entry.ClientAmount))
		set(fmt.Sprintf("G%d", row), formatAmount(entry.ServerAmount))
		set(fmt.Sprintf("H%d", row), formatAmount(entry.Difference))
	}

	_ = file.SetColWidth(EntriesSheet, "A", "A", 20)
	_ = file.SetColWidth(EntriesSheet, "B", "C", 38)
	_ = file.SetColWidth(EntriesSheet, "D", "H", 16)
	return nil
}

type versionGroup struct {
	version    int64
	count      int
	difference decimal.Decimal
}

func groupByVersion(entries []model.ReconciliationAudit) []versionGroup {
	index := make(map[int64]*versionGroup)
	for _, entry := range entries {
		group, ok := index[entry.RuleSetVersion]
		if !ok {
			group = &versionGroup{version: entry.RuleSetVersion}
			index[entry.RuleSetVersion] = group
		}
		group.count++
		group.difference = group.difference.Add(entry.Difference)
	}

	groups := make([]versionGroup, 0, len(index))
	for _, group := range index {
		groups = append(groups, *group)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].version < groups[j].version })
	return groups
}

func sumDifference(entries []model.ReconciliationAudit) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range entries {
		total = total.Add(entry.Difference)
	}
	return total
}

func formatAmount(value decimal.Decimal) string {
	return value.StringFixed(pricing.MinorUnitPlaces)
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}

func formatDateTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}
