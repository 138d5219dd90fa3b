package finance

import "math"

// Summarize totals income and expense over records. Unknown types are ignored.
func Summarize(records []Record) Summary {
	var s Summary
	for _, r := range records {
		switch r.Type {
		case TypeIncome:
			s.TotalIncome += r.Amount
		case TypeExpense:
			s.TotalExpense += r.Amount
		}
	}
	s.Profit = s.TotalIncome - s.TotalExpense
	return s
}

// Combine adds two summaries. Summarize(a ++ b) equals Summarize(a).Combine(Summarize(b)).
func (s Summary) Combine(other Summary) Summary {
	return Summary{
		TotalIncome:  s.TotalIncome + other.TotalIncome,
		TotalExpense: s.TotalExpense + other.TotalExpense,
		Profit:       s.Profit + other.Profit,
	}
}

// MarginPercent is profit over income as a whole percentage, 0 without income.
func (s Summary) MarginPercent() float64 {
	if s.TotalIncome <= 0 {
		return 0
	}
	return math.Round(s.Profit / s.TotalIncome * 100)
}
