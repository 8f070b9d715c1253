package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

var statusKinds = map[statusKind]struct {
	label string
	color string
}{
	statusInfo:  {"INFO", ansiBlue},
	statusOK:    {"OK", ansiGreen},
	statusWarn:  {"WARN", ansiYellow},
	statusError: {"ERROR", ansiRed},
}

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

// statusPrinter writes sectioned status output, colored only on terminals.
type statusPrinter struct {
	w        io.Writer
	colorize bool
}

func newStatusPrinter(w io.Writer) *statusPrinter {
	return &statusPrinter{w: w, colorize: shouldColorize(w)}
}

func (p *statusPrinter) section(title string) {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	fmt.Fprintln(p.w, p.paint(ansiBlue, line))
	fmt.Fprintln(p.w, p.paint(ansiBlue, rule))
}

func (p *statusPrinter) status(label string, kind statusKind, message string) {
	fmt.Fprintln(p.w, renderStatusLine(label, kind, message, p.colorize))
}

func (p *statusPrinter) raw(line string) {
	fmt.Fprintln(p.w, statusIndent+statusIndent+line)
}

func (p *statusPrinter) blank() {
	fmt.Fprintln(p.w)
}

func (p *statusPrinter) paint(color, s string) string {
	if !p.colorize || color == "" {
		return s
	}
	return color + s + ansiReset
}

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	meta := statusKinds[kind]
	text := "[" + meta.label + "]"
	if message != "" {
		text += " " + message
	}
	line := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", text)
	if colorize && meta.color != "" {
		return meta.color + line + ansiReset
	}
	return line
}

func passedKind(passed bool, failed statusKind) statusKind {
	if passed {
		return statusOK
	}
	return failed
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
