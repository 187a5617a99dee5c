package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/muesli/termenv"
)

// PrintBanner writes the kernelctx banner and version to w.
func PrintBanner(w io.Writer, version string) {
	p := termenv.ColorProfile()
	lines := []struct {
		text  string
		color string
	}{
		{" _                        _      _        ", "#818cf8"},
		{"| | _____ _ __ _ __   ___| | ___| |___  __", "#a78bfa"},
		{"| |/ / _ \\ '__| '_ \\ / _ \\ |/ __| __\\ \\/ /", "#c084fc"},
		{"|   <  __/ |  | | | |  __/ | (__| |_ >  < ", "#e879f9"},
		{"|_|\\_\\___|_|  |_| |_|\\___|_|\\___|\\__/_/\\_\\", "#f472b6"},
	}

	fmt.Fprintln(w)
	for _, l := range lines {
		fmt.Fprintln(w, termenv.String(l.text).Foreground(p.Color(l.color)))
	}
	fmt.Fprintln(w, termenv.String("  v"+strings.TrimSpace(version)).Faint())
	fmt.Fprintln(w)
}
