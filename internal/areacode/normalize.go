package areacode

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// postalPrefix matches a leading Japanese postal code ("〒150-0001").
var postalPrefix = regexp.MustCompile(`^〒?\d{3}-?\d{4}`)

// fold applies NFKC (full-width digits and letters become ASCII) and removes
// whitespace and a leading postal code.
func fold(s string) string {
	s = norm.NFKC.String(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, s)
	return postalPrefix.ReplaceAllString(s, "")
}

// prefixSet strips known administrative prefixes from folded strings.
type prefixSet struct {
	prefixes []string          // folded, longest first
	cities   map[string]string // folded city name -> display name
}

func newPrefixSet(prefectures []string, cities map[string]string) prefixSet {
	seen := make(map[string]bool)
	var all []string
	add := func(p string) {
		if p == "" || seen[p] {
			return
		}
		seen[p] = true
		all = append(all, p)
	}
	for _, p := range prefectures {
		add(fold(p))
	}
	for c := range cities {
		add(c)
	}
	sort.Slice(all, func(i, j int) bool {
		li, lj := utf8.RuneCountInString(all[i]), utf8.RuneCountInString(all[j])
		if li != lj {
			return li > lj
		}
		return all[i] < all[j]
	})
	return prefixSet{prefixes: all, cities: cities}
}

// strip removes leading prefixes repeatedly and reports the innermost city
// prefix encountered, if any.
func (p prefixSet) strip(folded string) (rest, city string) {
	rest = folded
	for {
		stripped := false
		for _, pre := range p.prefixes {
			if pre == rest || !strings.HasPrefix(rest, pre) {
				continue
			}
			if _, ok := p.cities[pre]; ok {
				city = pre
			}
			rest = strings.TrimPrefix(rest, pre)
			stripped = true
			break
		}
		if !stripped {
			return rest, city
		}
	}
}

// Normalize folds an address and strips prefecture and city prefixes using
// the registry's known names.
func (r *Registry) Normalize(address string) string {
	rest, _ := r.prefixes.strip(fold(address))
	return rest
}
