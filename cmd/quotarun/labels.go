package main

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// terminationLabel renders a termination code such as "budget_exhausted" as
// "Budget Exhausted".
func terminationLabel(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "-"
	}
	return cases.Title(language.English).String(strings.ReplaceAll(code, "_", " "))
}
