// Package fuzztests holds Go fuzz harnesses for the IR front end and the
// translator: arbitrary text goes through ir.Parse, ir.Validate and
// codegen. They guard against panics, hangs and printer/parser drift.
package fuzztests
