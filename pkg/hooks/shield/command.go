package shield

import (
	"path"
	"strings"
	"unicode"
)

// segments splits a shell command line into simple commands on ;, &&, ||,
// | and newlines, and each simple command into words. Quotes group words
// and are removed; nothing is expanded.
func segments(command string) [][]string {
	var (
		out  [][]string
		cur  []string
		word strings.Builder
		in   bool
	)
	flushWord := func() {
		if in {
			cur = append(cur, word.String())
			word.Reset()
			in = false
		}
	}
	flushSegment := func() {
		flushWord()
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	rs := []rune(command)
	var quote rune
	for i := 0; i < len(rs); i++ {
		c := rs[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
				continue
			}
			if c == '\\' && quote == '"' && i+1 < len(rs) {
				i++
				c = rs[i]
			}
			word.WriteRune(c)
		case c == '\'' || c == '"':
			quote = c
			in = true
		case c == '\\' && i+1 < len(rs):
			i++
			word.WriteRune(rs[i])
			in = true
		case c == '\n' || c == ';':
			flushSegment()
		case c == '&' && i > 0 && rs[i-1] == '>':
			// 2>&1
			word.WriteRune(c)
			in = true
		case c == '|' || c == '&':
			flushSegment()
			if i+1 < len(rs) && rs[i+1] == c {
				i++
			}
		case unicode.IsSpace(c):
			flushWord()
		default:
			word.WriteRune(c)
			in = true
		}
	}
	flushSegment()
	return out
}

// program strips leading environment assignments and wrapper commands so
// that words[0] is the program being run.
func program(words []string) []string {
	for len(words) > 0 {
		w := words[0]
		switch {
		case w == "sudo" || w == "env" || w == "command" || w == "exec" || w == "nohup" || w == "time":
			words = words[1:]
		case strings.Contains(w, "=") && !strings.HasPrefix(w, "-") && !strings.HasPrefix(w, "="):
			words = words[1:]
		default:
			return words
		}
	}
	return words
}

// tokens returns every word of the command line with redirection and
// option prefixes removed, for scanning file references.
func tokens(command string) []string {
	var out []string
	for _, seg := range segments(command) {
		for _, w := range seg {
			w = strings.TrimLeft(w, "<>0123456789&")
			if i := strings.LastIndex(w, "="); i >= 0 {
				w = w[i+1:]
			}
			if w != "" {
				out = append(out, w)
			}
		}
	}
	return out
}

// baseName is path.Base for slash or backslash separated paths.
func baseName(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	return path.Base(strings.TrimRight(p, "/"))
}
