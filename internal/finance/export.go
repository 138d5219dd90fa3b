package finance

import (
	"encoding/csv"
	"io"
	"strconv"
)

// WriteRecordsCSV emits records followed by a totals row.
func WriteRecordsCSV(w io.Writer, records []Record) error {
	writer := csv.NewWriter(w)
	if err := writer.Write([]string{"date", "type", "amount", "description", "reference_type", "reference_id"}); err != nil {
		return err
	}
	for _, rec := range records {
		var refType, refID string
		if rec.ReferenceType != nil {
			refType = string(*rec.ReferenceType)
		}
		if rec.ReferenceID != nil {
			refID = rec.ReferenceID.String()
		}
		if err := writer.Write([]string{
			rec.Date.Format("2006-01-02"),
			string(rec.Type),
			formatAmount(rec.Amount),
			rec.Description,
			refType,
			refID,
		}); err != nil {
			return err
		}
	}
	summary := Summarize(records)
	for _, total := range [][]string{
		{"", "total_income", formatAmount(summary.TotalIncome)},
		{"", "total_expense", formatAmount(summary.TotalExpense)},
		{"", "profit", formatAmount(summary.Profit)},
	} {
		if err := writer.Write(append(total, "", "", "")); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}
