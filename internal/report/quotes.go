// Package report builds quote comparisons for a project.
package report

import (
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/contractr/contractr/internal/compose"
	"github.com/contractr/contractr/internal/model"
	"github.com/contractr/contractr/internal/store"
)

// Row is one provider's latest quote.
type Row struct {
	ProviderID string
	Provider   string
	Website    string
	Total      *float64
	PriceType  model.PriceType
	LeadTime   string
	Warranty   string
	Fees       string
	Discounts  string
	Notes      string
	Source     model.QuoteSource
	Quotes     int
	ReceivedAt time.Time
}

// Comparison ranks quotes for a project, cheapest first.
type Comparison struct {
	Project *model.Project
	Rows    []Row
}

// Compare loads the latest quote of every provider on the project.
// Providers without a quote are left out.
func Compare(ctx context.Context, st store.Store, projectID string) (*Comparison, error) {
	project, err := st.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	providers, err := st.ListProviders(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "report: list providers")
	}
	quotes, err := st.ListQuotes(ctx, projectID)
	if err != nil {
		return nil, eris.Wrap(err, "report: list quotes")
	}

	byID := make(map[string]model.Provider, len(providers))
	for _, p := range providers {
		byID[p.ID] = p
	}
	latest := map[string]*Row{}
	for _, q := range quotes {
		r, ok := latest[q.ProviderID]
		if !ok {
			prov := byID[q.ProviderID]
			r = &Row{ProviderID: q.ProviderID, Provider: prov.Name, Website: prov.Website}
			latest[q.ProviderID] = r
		}
		r.Quotes++
		if !q.CreatedAt.Before(r.ReceivedAt) {
			fill(r, q)
		}
	}

	c := &Comparison{Project: project}
	for _, r := range latest {
		c.Rows = append(c.Rows, *r)
	}
	sort.SliceStable(c.Rows, func(i, j int) bool {
		a, b := c.Rows[i].Total, c.Rows[j].Total
		switch {
		case a == nil && b == nil:
			return c.Rows[i].Provider < c.Rows[j].Provider
		case a == nil:
			return false
		case b == nil:
			return true
		}
		return *a < *b
	})
	return c, nil
}

func fill(r *Row, q model.Quote) {
	r.Total = q.TotalEstimated
	r.PriceType = q.PriceType
	r.LeadTime = q.LeadTime
	r.Warranty = q.Warranty
	r.Fees = joinItems(q.Fees)
	r.Discounts = joinItems(q.Discounts)
	r.Notes = q.Notes
	r.Source = q.Source
	r.ReceivedAt = q.CreatedAt
}

func joinItems(items []model.LineItem) string {
	parts := make([]string, 0, len(items))
	for _, it := range items {
		if it.Amount != nil {
			parts = append(parts, it.Description+" "+compose.FormatMoney(*it.Amount))
			continue
		}
		parts = append(parts, it.Description)
	}
	return strings.Join(parts, "; ")
}

const sheet = "Quotes"

var headers = []string{
	"Rank", "Provider", "Website", "Total", "Price Type", "Lead Time",
	"Warranty", "Fees", "Discounts", "Notes", "Source", "Quotes", "Received",
}

// WriteXLSX writes the comparison as a workbook with a single Quotes sheet.
func WriteXLSX(w io.Writer, c *Comparison) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName(f.GetSheetName(0), sheet); err != nil {
		return eris.Wrap(err, "report: rename sheet")
	}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return eris.Wrap(err, "report: write header")
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return eris.Wrap(err, "report: header style")
	}
	_ = f.SetRowStyle(sheet, 1, 1, bold)
	currency := "$#,##0.00"
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &currency})
	if err != nil {
		return eris.Wrap(err, "report: currency style")
	}

	for i, r := range c.Rows {
		row := i + 2
		var total any
		if r.Total != nil {
			total = *r.Total
		}
		values := []any{
			i + 1, r.Provider, r.Website, total, string(r.PriceType), r.LeadTime,
			r.Warranty, r.Fees, r.Discounts, r.Notes, string(r.Source), r.Quotes,
			r.ReceivedAt.Format(time.RFC3339),
		}
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow(sheet, cell, &values); err != nil {
			return eris.Wrapf(err, "report: write row %d", row)
		}
		totalCell, _ := excelize.CoordinatesToCellName(4, row)
		_ = f.SetCellStyle(sheet, totalCell, totalCell, moneyStyle)
	}

	_ = f.SetColWidth(sheet, "B", "C", 28)
	_ = f.SetColWidth(sheet, "D", "D", 14)
	_ = f.SetColWidth(sheet, "H", "J", 40)
	_ = f.SetColWidth(sheet, "M", "M", 22)

	if _, err := f.WriteTo(w); err != nil {
		return eris.Wrap(err, "report: write xlsx")
	}
	projectID := ""
	if c.Project != nil {
		projectID = c.Project.ID
	}
	zap.L().Info("report: quotes exported", zap.String("project_id", projectID), zap.Int("rows", len(c.Rows)))
	return nil
}
