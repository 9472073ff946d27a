// Package keys builds the redis keys of the listing cache.
package keys

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

const prefix = "csa"

// List keys one cached response of an entity type at a cache generation
func List(entityType string, gen int64, canonical string) string {
	return fmt.Sprintf("%s:%s:g%d:%016x", prefix, sanitizeForKey(entityType), gen, xxhash.Sum64String(canonical))
}

// Generation keys the counter that invalidates every List key of a type when bumped
func Generation(entityType string) string {
	return prefix + ":gen:" + sanitizeForKey(entityType)
}

// Canonical renders a request so that equivalent query strings hash the same.
// Keys are sorted, values keep their order and lose surrounding whitespace.
func Canonical(path string, q url.Values, format string) string {
	names := make([]string, 0, len(q))
	for k := range q {
		names = append(names, k)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(strings.TrimRight(path, "/"))
	b.WriteByte('?')
	for i, k := range names {
		if i > 0 {
			b.WriteByte('&')
		}
		vals := make([]string, len(q[k]))
		for j, v := range q[k] {
			vals[j] = url.QueryEscape(collapseASCIIWhitespace(v))
		}
		b.WriteString(url.QueryEscape(k))
		b.WriteByte('=')
		b.WriteString(strings.Join(vals, ","))
	}
	b.WriteString("#f=")
	b.WriteString(format)
	return b.String()
}

func sanitizeForKey(s string) string {
	if s == "" {
		return ""
	}
	var b strings.Builder
	b.Grow(len(s))

	var prev rune
	for _, r := range s {
		out := rune(0)
		switch {
		case r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f':
			out = '_'
		case isAlphaNum(r) || r == '_' || r == '-':
			out = r
		default:
			// any other rune (including ':' and non-ASCII) becomes '-'
			out = '-'
		}
		if (out == '_' || out == '-') && out == prev {
			continue
		}
		b.WriteRune(out)
		prev = out
	}
	return b.String()
}

// converts any run of ASCII whitespace to a single space.
func collapseASCIIWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	wasWS := false
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' {
			if !wasWS {
				b.WriteByte(' ')
				wasWS = true
			}
			continue
		}
		b.WriteRune(r)
		wasWS = false
	}
	return strings.TrimSpace(b.String())
}

func isAlphaNum(r rune) bool {
	return (r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		unicode.IsDigit(r)
}
