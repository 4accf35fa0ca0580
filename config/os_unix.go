//go:build !windows

package config

import (
	"os"
	"strings"

	"golang.org/x/term"
)

// reservedRune reports characters which cannot appear in output directory name.
func reservedRune(sym rune) bool {
	return sym == 0 || strings.ContainsRune(string(os.PathSeparator)+string(os.PathListSeparator), sym)
}

// reservedName reports names file system would not let us use as is.
func reservedName(string) bool {
	return false
}

// colorConsole checks if log stream is a terminal able to show colors.
func colorConsole(stream *os.File) bool {
	return term.IsTerminal(int(stream.Fd()))
}
