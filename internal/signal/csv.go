package signal

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/bleakplain/etf-arb-tracker/internal/domain"
)

var csvHeader = []string{
	"timestamp", "stock_code", "stock_name", "stock_price",
	"etf_code", "etf_name", "etf_weight", "confidence", "risk_level", "reason",
}

// utf8BOM keeps Excel from mangling the Chinese names in exports
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV renders signals as a UTF-8 CSV with a BOM. Every field is
// quoted, which is why this does not go through encoding/csv: its
// writer only quotes when forced to.
func WriteCSV(w io.Writer, signals []*domain.TradingSignal) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("write csv bom: %w", err)
	}

	bw := bufio.NewWriter(w)
	if err := writeCSVRow(bw, csvHeader); err != nil {
		return err
	}

	for _, s := range signals {
		row := []string{
			s.Timestamp.Format(timeLayout),
			s.StockCode,
			s.StockName,
			fmt.Sprintf("%.2f", s.StockPrice),
			s.ETFCode,
			s.ETFName,
			fmt.Sprintf("%.4f", s.Weight),
			string(s.ConfidenceLevel),
			string(s.RiskLevel),
			s.Reason,
		}
		if err := writeCSVRow(bw, row); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeCSVRow(w *bufio.Writer, fields []string) error {
	for i, f := range fields {
		if i > 0 {
			if err := w.WriteByte(','); err != nil {
				return err
			}
		}
		quoted := `"` + strings.ReplaceAll(f, `"`, `""`) + `"`
		if _, err := w.WriteString(quoted); err != nil {
			return err
		}
	}
	return w.WriteByte('\n')
}
