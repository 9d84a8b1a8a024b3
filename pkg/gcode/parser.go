package gcode

import (
	"regexp"
	"strings"
)

var reParenComment = regexp.MustCompile(`\([^)]*\)`)

// Parse splits one line of G-code into a Command. Blank and comment-only
// lines return nil. Parameters are accepted as NAME=value (extended
// commands) or as a letter followed by a value (G1 X10).
func Parse(line string) *Command {
	ln := strings.TrimSpace(line)
	if idx := strings.IndexByte(ln, ';'); idx >= 0 {
		ln = ln[:idx]
	}
	ln = strings.TrimSpace(reParenComment.ReplaceAllString(ln, " "))
	// line numbers are accepted and ignored
	if strings.HasPrefix(ln, "N") || strings.HasPrefix(ln, "n") {
		if fields := strings.Fields(ln); len(fields) > 1 && isNumber(fields[0][1:]) {
			ln = strings.Join(fields[1:], " ")
		}
	}
	fields := strings.Fields(ln)
	if len(fields) == 0 {
		return nil
	}

	cmd := &Command{
		Name:   strings.ToUpper(fields[0]),
		Params: make(map[string]string),
		Raw:    strings.TrimSpace(line),
	}
	for _, f := range fields[1:] {
		if k, v, ok := strings.Cut(f, "="); ok {
			k = strings.ToUpper(strings.TrimSpace(k))
			if k != "" {
				cmd.Params[k] = strings.TrimSpace(v)
			}
			continue
		}
		if len(f) < 2 {
			// bare flags such as "G28 X" are recorded with an empty value
			cmd.Params[strings.ToUpper(f)] = ""
			continue
		}
		cmd.Params[strings.ToUpper(f[:1])] = f[1:]
	}
	return cmd
}

func isNumber(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
