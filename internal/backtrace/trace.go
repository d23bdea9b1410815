// Package backtrace renders guest failures for a terminal.
package backtrace

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/xirelogy/go-starhost/internal/interp"
)

// FormatCLITraceInto writes a trace of err to w, most recent call last:
//
//	Traceback (most recent call last):
//		1: from main.star:4:1 in <toplevel>
//	main.star:2:5 in f: fail: boom (RuntimeError)
//
// Errors that carry no guest stack are written as a single line.
func FormatCLITraceInto(w io.Writer, color bool, err error) error {
	if err == nil {
		return nil
	}
	var b strings.Builder

	var rte *interp.RuntimeError
	if !errors.As(err, &rte) {
		writeMessage(&b, color, "", err.Error(), "Error")
		_, werr := io.WriteString(w, b.String())
		return werr
	}

	stack := rte.Stack
	if len(stack) == 0 && (rte.Frame != interp.FrameTrace{}) {
		stack = []interp.FrameTrace{rte.Frame}
	}
	if len(stack) > 1 {
		header := "Traceback (most recent call last):"
		if color {
			header = dim(header)
		}
		b.WriteString(header)
		b.WriteByte('\n')
		for i := len(stack) - 1; i >= 1; i-- {
			fmt.Fprintf(&b, "\t%d: from %s\n", i, stack[i])
		}
	}

	loc := ""
	if len(stack) > 0 {
		loc = stack[0].String()
	}
	kind := "RuntimeError"
	if rte.Syntax() {
		kind = "SyntaxError"
	}
	writeMessage(&b, color, loc, rte.Message, kind)
	_, werr := io.WriteString(w, b.String())
	return werr
}

func writeMessage(b *strings.Builder, color bool, loc, msg, kind string) {
	if loc != "" {
		b.WriteString(loc)
		b.WriteString(": ")
	}
	if color {
		b.WriteString(bold(msg))
		b.WriteString(" (")
		b.WriteString(red(kind))
		b.WriteString(")\n")
		return
	}
	fmt.Fprintf(b, "%s (%s)\n", msg, kind)
}
