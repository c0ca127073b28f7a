package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/transfa/atm-cli/internal/domain"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Formatter renders amounts and timestamps for the configured locale.
type Formatter struct {
	printer *message.Printer
	symbol  string
	loc     *time.Location
}

// NewFormatter builds a formatter for locale (a BCP 47 tag such as "id"). Unknown
// tags fall back to Indonesian grouping.
func NewFormatter(locale, symbol string) Formatter {
	tag, err := language.Parse(strings.TrimSpace(locale))
	if err != nil {
		tag = language.Indonesian
	}
	return Formatter{printer: message.NewPrinter(tag), symbol: strings.TrimSpace(symbol), loc: time.Local}
}

// Money formats amount with the currency symbol, e.g. "Rp 150.000".
func (f Formatter) Money(amount int64) string {
	n := f.printer.Sprintf("%d", amount)
	if f.symbol == "" {
		return n
	}
	return f.symbol + " " + n
}

// Time formats an entry timestamp in local time.
func (f Formatter) Time(t time.Time) string {
	return t.In(f.loc).Format("02/01/2006 15:04:05")
}

// HistoryLine renders one ledger entry for the history screen.
func (f Formatter) HistoryLine(item domain.HistoryItem) string {
	line := fmt.Sprintf("%s | %-12s | %s", f.Time(item.CreatedAt), strings.ToUpper(string(item.Kind)), f.Money(item.Amount))
	counterparty := "Unknown"
	if item.CounterpartyName != nil {
		counterparty = *item.CounterpartyName
	}
	switch item.Kind {
	case domain.EntryTransferIn:
		line += " from " + counterparty
	case domain.EntryTransferOut:
		line += " to " + counterparty
	}
	return line
}

// ErrorMessage maps an operation error to the text shown to the user.
func ErrorMessage(err error) string {
	var de *domain.Error
	if !errors.As(err, &de) {
		return "Something went wrong: " + err.Error()
	}
	switch de.Kind {
	case domain.KindValidation:
		return de.Message + "."
	case domain.KindConflict:
		return "That name is already taken. Please choose another one."
	case domain.KindNotFound:
		return "Account not found."
	case domain.KindAuth:
		if de.Message == "incorrect PIN" {
			return "Incorrect PIN."
		}
		return de.Message + "."
	case domain.KindInsufficientFunds:
		return "Insufficient balance."
	case domain.KindSelfTransfer:
		return "You cannot transfer to yourself."
	case domain.KindTransferFailed:
		if de.Err != nil {
			var cause *domain.Error
			if errors.As(de.Err, &cause) && cause.Kind != domain.KindStorage {
				return "Transfer failed: " + ErrorMessage(cause)
			}
		}
		return "Transfer failed. No money was moved."
	case domain.KindStorage:
		return "The bank is unavailable right now. Please try again later."
	}
	return "Something went wrong: " + err.Error()
}
