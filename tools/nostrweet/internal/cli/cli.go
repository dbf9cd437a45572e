// Package cli provides styled console output for the commands.
package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
)

// Console writes styled status lines to stderr.
type Console struct {
	isQuiet bool

	Bold   *color.Color
	Lime   *color.Color
	Yellow *color.Color
	Orange *color.Color
	Gray   *color.Color
}

// New creates a Console. Quiet mode suppresses everything but errors.
func New(quiet bool) *Console {
	return &Console{
		isQuiet: quiet,
		Bold:    color.New(color.Bold),
		Lime:    color.New(color.FgHiGreen),
		Yellow:  color.New(color.FgHiYellow),
		Orange:  color.New(color.FgYellow),
		Gray:    color.New(color.FgHiBlack),
	}
}

func (c *Console) print(msg string) {
	if c.isQuiet {
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

// Info prints a plain status line.
func (c *Console) Info(format string, a ...interface{}) { c.print(fmt.Sprintf(format, a...)) }

// Success prints a green check line.
func (c *Console) Success(format string, a ...interface{}) {
	c.print(c.Lime.Sprintf("✓ %s", fmt.Sprintf(format, a...)))
}

// Warn prints a yellow warning line.
func (c *Console) Warn(format string, a ...interface{}) {
	c.print(c.Yellow.Sprintf("! %s", fmt.Sprintf(format, a...)))
}

// Error prints an error line, even in quiet mode.
func (c *Console) Error(format string, a ...interface{}) {
	fmt.Fprintln(os.Stderr, c.Orange.Sprintf("✗ %s", fmt.Sprintf(format, a...)))
}
