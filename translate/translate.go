// Package translate formats user facing messages for the current locale.
package translate

import (
	"log"
	"sync"

	"github.com/jeandeaual/go-locale"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var (
	printer     *message.Printer
	printerOnce sync.Once
)

func current() *message.Printer {
	printerOnce.Do(func() {
		locales, err := locale.GetLocales()
		if err != nil {
			log.Printf("regvm: locale: %v", err)
		}

		if len(locales) == 0 {
			locales = []string{"en-US"}
		}

		printer = message.NewPrinter(message.MatchLanguage(locales...))
	})

	return printer
}

// SetLanguage overrides the detected locale.
func SetLanguage(tag language.Tag) {
	printerOnce.Do(func() {})
	printer = message.NewPrinter(tag)
}

// From an en-US Sprintf() format, translate to string.
func From(key message.Reference, args ...any) string {
	return current().Sprintf(key, args...)
}
