package receipt

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// FormatRupiah groups n the Indonesian way: 65000 -> "65.000".
func FormatRupiah(n int64) string {
	return message.NewPrinter(language.Indonesian).Sprintf("%d", n)
}
