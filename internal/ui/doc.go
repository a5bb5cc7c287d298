// Package ui renders fleetrun's console output: phase progress while a run
// is in flight and the summary printed when it ends.
//
// Colors are ANSI codes rendered through Lip Gloss. SetColor switches the
// whole package between colored and plain output; the CLI enables color
// with --color or when stdout is a terminal.
package ui
