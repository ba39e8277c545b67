package protocol

import (
	"strings"
)

// Verb returns the lower-cased first word of a command line.
func Verb(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Quote quotes a command argument value when the director's argument
// scanner would otherwise split it.
func Quote(v string) string {
	if v != "" && !strings.ContainsAny(v, " \t\"=") {
		return v
	}
	return `"` + strings.ReplaceAll(v, `"`, `\"`) + `"`
}

// Arg renders key=value with the value quoted as needed.
func Arg(key, value string) string {
	return key + "=" + Quote(value)
}
