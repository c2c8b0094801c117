package export

import (
	"bytes"
	"context"
	"fmt"
	"strconv"

	"github.com/phpdave11/gofpdf"

	"dukapos/internal/domain"
)

const (
	pdfRowHeight    = 7.0
	pdfBottomMargin = 12.0
)

type pdfColumn struct {
	title string
	width float64
	align string
}

var profitLossColumns = []pdfColumn{
	{"Date", 26, "L"},
	{"Product", 75, "L"},
	{"Qty", 18, "R"},
	{"Buy", 26, "R"},
	{"Sell", 26, "R"},
	{"Revenue", 36, "R"},
	{"Cost", 34, "R"},
	{"Profit", 36, "R"},
}

// LocalRenderer draws the report with gofpdf, without any external service.
type LocalRenderer struct{}

func NewLocalRenderer() *LocalRenderer {
	return &LocalRenderer{}
}

func (r *LocalRenderer) RenderProfitLoss(ctx context.Context, report domain.ProfitLossReport, currency string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("L", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	title := Title(report)
	pdf.SetTitle(title, true)
	pdf.SetCreator("dukapos", true)
	pdf.SetMargins(10, 10, 10)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(0, 10, tr(title), "", 1, "C", false, 0, "")
	pdf.Ln(2)

	header := func() {
		pdf.SetFont("Helvetica", "B", 10)
		pdf.SetFillColor(230, 230, 230)
		for _, col := range profitLossColumns {
			pdf.CellFormat(col.width, pdfRowHeight, col.title, "1", 0, "C", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	header()

	_, pageHeight := pdf.GetPageSize()
	for _, line := range report.Lines {
		if pdf.GetY()+pdfRowHeight > pageHeight-pdfBottomMargin {
			pdf.AddPage()
			header()
		}
		cells := []string{
			line.SaleDate.Format("2006-01-02"),
			tr(line.ProductName),
			strconv.Itoa(line.Quantity),
			displayMoney(line.BuyingPrice),
			displayMoney(line.SellingPrice),
			displayMoney(line.Revenue),
			displayMoney(line.Cost),
			displayMoney(line.Profit),
		}
		for i, col := range profitLossColumns {
			pdf.CellFormat(col.width, pdfRowHeight, cells[i], "1", 0, col.align, false, 0, "")
		}
		pdf.Ln(-1)
	}

	if pdf.GetY()+4*pdfRowHeight > pageHeight-pdfBottomMargin {
		pdf.AddPage()
	}
	pdf.Ln(6)
	pdf.SetFont("Helvetica", "B", 11)
	totals := []struct {
		label string
		value string
	}{
		{"Total Revenue", displayMoney(report.Totals.Revenue)},
		{"Total Cost", displayMoney(report.Totals.Cost)},
		{"Total Profit", displayMoney(report.Totals.Profit)},
	}
	for _, total := range totals {
		pdf.CellFormat(0, pdfRowHeight, tr(fmt.Sprintf("%s: %s %s", total.label, total.value, currency)), "", 1, "L", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
