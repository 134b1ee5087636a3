// Package slug converts category names into deterministic storage
// identifiers.
package slug

import (
	_ "embed"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"
)

//go:embed shortcuts.yaml
var shortcutsYAML []byte

// shortcuts maps well-known category aliases to their fixed slug. Loaded
// once at init; never mutated afterwards.
var shortcuts map[string]string

func init() {
	var doc struct {
		Shortcuts map[string]string `yaml:"shortcuts"`
	}
	if err := yaml.Unmarshal(shortcutsYAML, &doc); err != nil {
		panic("slug: parse shortcuts.yaml: " + err.Error())
	}
	shortcuts = doc.Shortcuts
}

var (
	foldTransformer = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	nonSlugChars    = regexp.MustCompile(`[^a-z0-9_]+`)
	whitespace      = regexp.MustCompile(`[\s-]+`)
	underscoreRuns  = regexp.MustCompile(`_+`)
)

// Category returns the slug for a category name. Known categories resolve
// through the shortcut table; everything else is lowercased, stripped of
// diacritics, and collapsed to snake case.
func Category(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if s, ok := shortcuts[lower]; ok {
		return s
	}

	folded, _, err := transform.String(foldTransformer, lower)
	if err != nil {
		folded = lower
	}
	// Dotless i survives NFD folding; map it by hand along with its friends.
	folded = strings.NewReplacer("ı", "i", "ø", "o", "ß", "ss", "æ", "ae").Replace(folded)

	s := whitespace.ReplaceAllString(folded, "_")
	s = nonSlugChars.ReplaceAllString(s, "")
	s = underscoreRuns.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return "category"
	}
	return s
}

// LeadsTable returns the lead table name for a category.
func LeadsTable(category string) string {
	return Category(category) + "_leads"
}

// FilterTable returns the classification result table name for a category.
func FilterTable(category string) string {
	return Category(category) + "_ai_filter"
}
