package notifications

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.BrazilianPortuguese)

// FormatMoney renders an amount as Brazilian reais, e.g. "R$ 1.331,00".
func FormatMoney(amount decimal.Decimal) string {
	value, _ := amount.Round(2).Float64()
	return printer.Sprintf("R$ %.2f", value)
}

// FormatDate renders dd/mm/yyyy.
func FormatDate(t time.Time) string {
	return t.Format("02/01/2006")
}

func storeLabel(name, number string) string {
	if number == "" {
		return name
	}
	return fmt.Sprintf("%s (%s)", name, number)
}

func overdueMessage(inv DueInvoice, days int) string {
	return fmt.Sprintf("Pagamento em atraso há %d dia(s). Loja: %s. Valor: %s. Vencimento: %s.",
		days, storeLabel(inv.StoreName, inv.StoreNumber), FormatMoney(inv.Amount), FormatDate(inv.DueDate))
}

func dueSoonMessage(inv DueInvoice, days int) string {
	return fmt.Sprintf("Pagamento vence em %d dia(s). Loja: %s. Valor: %s. Vencimento: %s.",
		days, storeLabel(inv.StoreName, inv.StoreNumber), FormatMoney(inv.Amount), FormatDate(inv.DueDate))
}

func paidMessage(inv DueInvoice, paidOn time.Time) string {
	return fmt.Sprintf("Pagamento confirmado! Loja: %s. Valor: %s. Data: %s.",
		storeLabel(inv.StoreName, inv.StoreNumber), FormatMoney(inv.Amount), FormatDate(paidOn))
}

// ContractExpiringMessage composes the lease expiry alert for one urgency level.
func ContractExpiringMessage(urgency, storeName, storeNumber string, endDate time.Time, days int) string {
	store := storeLabel(storeName, storeNumber)
	if days <= 0 {
		return fmt.Sprintf("[%s] Contrato da loja %s vence hoje (%s).", urgency, store, FormatDate(endDate))
	}
	return fmt.Sprintf("[%s] Contrato da loja %s vence em %d dia(s), em %s.", urgency, store, days, FormatDate(endDate))
}
