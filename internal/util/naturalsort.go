package util

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

var naturalTokens = regexp.MustCompile(`(\d+|\D+)`)

type token struct {
	text  string
	num   int
	isNum bool
}

func splitTokens(s string) []token {
	parts := naturalTokens.FindAllString(s, -1)
	tokens := make([]token, len(parts))
	for i, p := range parts {
		if n, err := strconv.Atoi(p); err == nil {
			tokens[i] = token{num: n, isNum: true}
		} else {
			tokens[i] = token{text: strings.ToLower(p)}
		}
	}
	return tokens
}

// NaturalLess orders "Provider 2" before "Provider 10", ignoring case.
func NaturalLess(a, b string) bool {
	ta, tb := splitTokens(a), splitTokens(b)
	for i := 0; i < min(len(ta), len(tb)); i++ {
		x, y := ta[i], tb[i]
		switch {
		case x.isNum && !y.isNum:
			return true
		case !x.isNum && y.isNum:
			return false
		case x.isNum && x.num != y.num:
			return x.num < y.num
		case !x.isNum && x.text != y.text:
			return x.text < y.text
		}
	}
	return len(ta) < len(tb)
}

// SortNaturalBy sorts items in place by the natural order of key(item).
// Items with equal keys keep their relative order.
func SortNaturalBy[T any](items []T, key func(T) string) {
	sort.SliceStable(items, func(i, j int) bool {
		return NaturalLess(key(items[i]), key(items[j]))
	})
}
