package export

import (
	"bytes"
	"html/template"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"dukapos/internal/domain"
)

var printer = message.NewPrinter(language.English)

// displayMoney groups thousands and keeps two decimals, e.g. 12,500.00.
// The digits come from the decimal itself, never from a float.
func displayMoney(v decimal.Decimal) string {
	fixed := v.StringFixed(domain.MoneyScale)
	sign := ""
	if strings.HasPrefix(fixed, "-") {
		sign, fixed = "-", fixed[1:]
	}
	whole, frac, _ := strings.Cut(fixed, ".")
	return sign + groupThousands(whole) + "." + frac
}

func groupThousands(digits string) string {
	if n, err := strconv.ParseInt(digits, 10, 64); err == nil {
		return printer.Sprint(number.Decimal(n))
	}
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	return b.String()
}

var profitLossTmpl = template.Must(template.New("profit-loss").Funcs(template.FuncMap{
	"money": displayMoney,
	"date":  func(r domain.ProfitLossLine) string { return r.SaleDate.Format("2006-01-02") },
}).Parse(`<!doctype html>
<html>
<head>
  <meta charset="utf-8" />
  <title>{{.Title}}</title>
  <style>
    @page { size: A4; margin: 30px; }
    body { font-family: sans-serif; margin: 24px; }
    h2 { text-align: center; }
    table { width: 100%; border-collapse: collapse; margin-top: 8px; }
    th, td { border: 1px solid #ddd; padding: 6px; font-size: 12px; }
    td.num { text-align: right; }
    .totals { margin-top: 20px; }
  </style>
</head>
<body>
  <h2>{{.Title}}</h2>
  <table>
    <thead><tr><th>Date</th><th>Product</th><th>Qty</th><th>Buy</th><th>Sell</th><th>Revenue</th><th>Cost</th><th>Profit</th></tr></thead>
    <tbody>{{range .Report.Lines}}
      <tr><td>{{date .}}</td><td>{{.ProductName}}</td><td class="num">{{.Quantity}}</td><td class="num">{{money .BuyingPrice}}</td><td class="num">{{money .SellingPrice}}</td><td class="num">{{money .Revenue}}</td><td class="num">{{money .Cost}}</td><td class="num">{{money .Profit}}</td></tr>{{end}}
    </tbody>
  </table>
  <div class="totals">
    <p>Total Revenue: {{money .Report.Totals.Revenue}} {{.Currency}}</p>
    <p>Total Cost: {{money .Report.Totals.Cost}} {{.Currency}}</p>
    <p>Total Profit: {{money .Report.Totals.Profit}} {{.Currency}}</p>
  </div>
</body>
</html>
`))

// Title is the heading shared by the HTML and PDF renditions.
func Title(report domain.ProfitLossReport) string {
	return "Profit and Loss Report (" + report.From.Format("2006-01-02") + " to " + report.To.Format("2006-01-02") + ")"
}

// RenderProfitLossHTML returns the printable document Gotenberg converts to PDF.
func RenderProfitLossHTML(report domain.ProfitLossReport, currency string) ([]byte, error) {
	var buf bytes.Buffer
	err := profitLossTmpl.Execute(&buf, struct {
		Title    string
		Currency string
		Report   domain.ProfitLossReport
	}{
		Title:    Title(report),
		Currency: currency,
		Report:   report,
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
