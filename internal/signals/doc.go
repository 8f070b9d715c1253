// Package signals extracts quota signals from the trailing window of the run
// log.
//
// Parsing is pure and total: it never fails and never touches disk. Missing
// or malformed markers degrade to zero units, no exhaustion and an undefined
// long-term consumption.
package signals
