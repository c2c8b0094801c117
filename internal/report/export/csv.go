// Package export renders profit and loss reports as CSV and PDF.
package export

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/shopspring/decimal"

	"dukapos/internal/domain"
)

const CSVFilename = "ProfitAndLoss.csv"

var csvHeader = []string{"Date", "Product", "Qty", "Buying Price", "Selling Price", "Revenue", "Cost", "Profit"}

// WriteProfitLossCSV writes one row per report line. Totals are not part of
// the CSV layout.
func WriteProfitLossCSV(w io.Writer, report domain.ProfitLossReport) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(csvHeader); err != nil {
		return err
	}
	for _, line := range report.Lines {
		if err := writer.Write([]string{
			line.SaleDate.Format("2006-01-02"),
			line.ProductName,
			strconv.Itoa(line.Quantity),
			formatMoney(line.BuyingPrice),
			formatMoney(line.SellingPrice),
			formatMoney(line.Revenue),
			formatMoney(line.Cost),
			formatMoney(line.Profit),
		}); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatMoney(v decimal.Decimal) string {
	return v.StringFixed(domain.MoneyScale)
}
