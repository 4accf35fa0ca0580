package config

import (
	"fmt"
	"strings"
)

// OutputName turns pack identity into a name of directory pack is extracted
// to. Characters file system does not allow are dropped, as are leading dots
// and trailing dots and spaces. Identity which leaves nothing usable is an
// error rather than a made up name, so two broken packs never share output.
func OutputName(uuid string) (string, error) {
	name := strings.Map(func(sym rune) rune {
		if reservedRune(sym) {
			return -1
		}
		return sym
	}, uuid)
	name = strings.TrimRight(strings.TrimLeft(name, "."), ". ")
	if len(strings.TrimSpace(name)) == 0 {
		return "", fmt.Errorf("pack identity %q does not produce usable directory name", uuid)
	}
	if reservedName(name) {
		name = "_" + name
	}
	return name, nil
}
