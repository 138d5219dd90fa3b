package finance

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// StockEntryDescription renders "Entrada de estoque: <product> (<qty> un)".
func StockEntryDescription(productName string, quantity float64) string {
	return printer.Sprintf("Entrada de estoque: %s (%v un)", productName, number.Decimal(quantity, number.MaxFractionDigits(4)))
}

// ServiceDescription renders "Serviço: <type> - Cliente: <client>".
func ServiceDescription(serviceTypeName, clientName string) string {
	return printer.Sprintf("Serviço: %s - Cliente: %s", serviceTypeName, clientName)
}

// FormatCurrency renders an amount as Brazilian reais.
func FormatCurrency(amount float64) string {
	return printer.Sprintf("R$ %v", number.Decimal(amount, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}
