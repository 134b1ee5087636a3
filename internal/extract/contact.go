// Package extract mines phone numbers and email addresses from fetched
// pages, with plausibility filtering to keep false positives out of the
// lead records.
package extract

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"
)

// Source identifies where on a page a contact candidate came from, in
// decreasing order of confidence.
type Source int

const (
	SourceStructured Source = iota
	SourceLink
	SourceContactText
	SourcePageText
)

func (s Source) String() string {
	switch s {
	case SourceStructured:
		return "structured"
	case SourceLink:
		return "link"
	case SourceContactText:
		return "contact_text"
	default:
		return "page_text"
	}
}

// Candidate is one extracted phone value with its provenance.
type Candidate struct {
	Value  string
	Source Source
}

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	phonePatterns = []*regexp.Regexp{
		// International: +90 212 123 45 67, +1 (415) 555-0100
		regexp.MustCompile(`\+\d{1,3}[\s().-]?\d[\d\s().-]{6,16}\d`),
		// National with area code in parens: (212) 123-4567, (0212) 123 45 67
		regexp.MustCompile(`\(0?\d{3}\)[\s.-]?\d{3}[\s.-]?\d{2,4}([\s.-]?\d{2})?`),
		// Trunk-prefixed national: 0212 123 45 67
		regexp.MustCompile(`\b0\d{3}[\s.-]?\d{3}[\s.-]?\d{2}[\s.-]?\d{2}\b`),
	}

	versionShape = regexp.MustCompile(`^\d{1,2}\.\d{1,5}$`)
	ipv4Shape    = regexp.MustCompile(`^\d{1,3}(\.\d{1,3}){3}$`)
	rangeShape   = regexp.MustCompile(`^\d+\s*-\s*\d+$`)
	yearShape    = regexp.MustCompile(`^(19|20)\d{2}$`)

	letterOrAt = regexp.MustCompile(`[A-Za-z@]`)
)

// contactKeywords mark text near a match as contact-related. Turkish
// variants included since much of the source corpus is Turkish directories.
var contactKeywords = []string{
	"phone", "tel", "telefon", "call", "contact", "contacts",
	"iletişim", "iletisim", "gsm", "fax", "faks", "whatsapp",
}

// deniedEmailDomains are placeholder or asset domains that never belong to
// a real inbox.
var deniedEmailDomains = map[string]bool{
	"example.com":         true,
	"example.org":         true,
	"example.net":         true,
	"domain.com":          true,
	"yourdomain.com":      true,
	"yoursite.com":        true,
	"email.com":           true,
	"test.com":            true,
	"sentry.io":           true,
	"sentry.wixpress.com": true,
}

// deniedEmailLocals are local parts that indicate machine or placeholder
// addresses.
var deniedEmailLocals = map[string]bool{
	"noreply":      true,
	"no-reply":     true,
	"donotreply":   true,
	"do-not-reply": true,
	"test":         true,
	"example":      true,
}

var assetExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp", ".svg", ".css", ".js"}

// ValidEmail reports whether addr looks like a deliverable, non-placeholder
// address.
func ValidEmail(addr string) bool {
	at := strings.IndexByte(addr, '@')
	if at <= 0 || at == len(addr)-1 {
		return false
	}
	local := strings.ToLower(addr[:at])
	domain := strings.ToLower(addr[at+1:])
	if !strings.Contains(domain, ".") {
		return false
	}
	if deniedEmailLocals[local] || deniedEmailDomains[domain] {
		return false
	}
	// Retina image names like logo@2x.png match the email pattern.
	for _, ext := range assetExtensions {
		if strings.HasSuffix(domain, ext) {
			return false
		}
	}
	return true
}

// Emails returns the plausible addresses found in text, deduplicated
// case-insensitively in first-seen order.
func Emails(text string) []string {
	matches := emailPattern.FindAllString(text, -1)
	seen := make(map[string]bool, len(matches))
	var out []string
	for _, m := range matches {
		key := strings.ToLower(m)
		if seen[key] || !ValidEmail(m) {
			continue
		}
		seen[key] = true
		out = append(out, strings.ToLower(m))
	}
	return out
}

// IsNumericRange reports whether s is a bare numeric range such as
// "201-500". Employee-count fields bleed through scrapes in this shape
// and must never be stored as a phone.
func IsNumericRange(s string) bool {
	return rangeShape.MatchString(strings.TrimSpace(s))
}

func digitCount(s string) int {
	n := 0
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			n++
		}
	}
	return n
}

// PlausiblePhone applies the shape filter to a raw candidate. Matches from
// low-confidence page text must additionally carry a dialing prefix,
// visible separators, or a contact keyword within the surrounding context
// window.
func PlausiblePhone(candidate string, src Source, context string) bool {
	s := strings.TrimSpace(candidate)
	if s == "" {
		return false
	}
	if letterOrAt.MatchString(s) {
		return false
	}
	if versionShape.MatchString(s) || ipv4Shape.MatchString(s) ||
		rangeShape.MatchString(s) || yearShape.MatchString(s) {
		return false
	}
	if n := digitCount(s); n < 10 || n > 15 {
		return false
	}
	// A run of more than 3 space-separated groups without a dialing prefix
	// reads as prose, not a formatted number.
	if len(strings.Fields(s)) > 3 && !strings.HasPrefix(s, "+") && !strings.HasPrefix(s, "0") && !strings.HasPrefix(s, "(") {
		return false
	}
	if src == SourcePageText {
		hasPrefix := strings.HasPrefix(s, "+") || strings.HasPrefix(s, "0")
		hasSeparators := strings.ContainsAny(s, "()-.")
		if !hasPrefix && !hasSeparators && !nearContactKeyword(context) {
			return false
		}
	}
	return true
}

func nearContactKeyword(context string) bool {
	lower := strings.ToLower(context)
	for _, kw := range contactKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// contextWindow bounds the text inspected around a page-text match when
// looking for contact keywords.
const contextWindow = 80

// Phones returns plausible phone candidates found in text, attributed to
// src, deduplicated on digits in first-seen order.
func Phones(text string, src Source) []Candidate {
	seen := make(map[string]bool)
	var out []Candidate
	for _, pat := range phonePatterns {
		for _, loc := range pat.FindAllStringIndex(text, -1) {
			raw := strings.TrimSpace(text[loc[0]:loc[1]])
			ctx := contextAround(text, loc[0], loc[1])
			if !PlausiblePhone(raw, src, ctx) {
				continue
			}
			key := digitsOnly(raw)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, Candidate{Value: raw, Source: src})
		}
	}
	return out
}

func contextAround(text string, start, end int) string {
	lo := start - contextWindow
	if lo < 0 {
		lo = 0
	}
	hi := end + contextWindow
	if hi > len(text) {
		hi = len(text)
	}
	return text[lo:hi]
}

func digitsOnly(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] >= '0' && s[i] <= '9' {
			out = append(out, s[i])
		}
	}
	return string(out)
}

// PageContacts holds everything mined from one fetched page.
type PageContacts struct {
	Phones []Candidate
	Emails []string
}

// Page parses an HTML document and extracts contact candidates from, in
// preference order, JSON-LD structured data, tel:/mailto: links, contact
// section text, and finally the whole page text.
func Page(body string) (*PageContacts, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "extract: parse html")
	}

	pc := &PageContacts{}
	seenPhones := make(map[string]bool)
	seenEmails := make(map[string]bool)

	addPhone := func(c Candidate) {
		key := digitsOnly(c.Value)
		if key == "" || seenPhones[key] {
			return
		}
		seenPhones[key] = true
		pc.Phones = append(pc.Phones, c)
	}
	addEmails := func(emails []string) {
		for _, e := range emails {
			if seenEmails[e] {
				continue
			}
			seenEmails[e] = true
			pc.Emails = append(pc.Emails, e)
		}
	}

	// JSON-LD blocks
	doc.Find(`script[type="application/ld+json"]`).Each(func(_ int, sel *goquery.Selection) {
		var data any
		if err := json.Unmarshal([]byte(sel.Text()), &data); err != nil {
			return
		}
		phones, emails := walkStructured(data)
		for _, p := range phones {
			if PlausiblePhone(p, SourceStructured, "") {
				addPhone(Candidate{Value: strings.TrimSpace(p), Source: SourceStructured})
			}
		}
		for _, e := range emails {
			if ValidEmail(e) {
				addEmails([]string{strings.ToLower(e)})
			}
		}
	})

	// Protocol links
	doc.Find(`a[href^="tel:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		raw := strings.TrimPrefix(href, "tel:")
		if PlausiblePhone(raw, SourceLink, "") {
			addPhone(Candidate{Value: strings.TrimSpace(raw), Source: SourceLink})
		}
	})
	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if ValidEmail(addr) {
			addEmails([]string{strings.ToLower(strings.TrimSpace(addr))})
		}
	})

	// Contact sections
	contactText := doc.Find(`[id*="contact"], [class*="contact"], [id*="iletisim"], [class*="iletisim"]`).Text()
	for _, c := range Phones(contactText, SourceContactText) {
		addPhone(c)
	}
	addEmails(Emails(contactText))

	// Whole page, lowest confidence
	pageText := doc.Find("body").Text()
	for _, c := range Phones(pageText, SourcePageText) {
		addPhone(c)
	}
	addEmails(Emails(pageText))

	return pc, nil
}

// walkStructured collects telephone and email values from a decoded
// JSON-LD tree.
func walkStructured(node any) (phones, emails []string) {
	switch v := node.(type) {
	case map[string]any:
		for key, child := range v {
			switch strings.ToLower(key) {
			case "telephone":
				if s, ok := child.(string); ok {
					phones = append(phones, s)
				}
			case "email":
				if s, ok := child.(string); ok {
					emails = append(emails, s)
				}
			default:
				p, e := walkStructured(child)
				phones = append(phones, p...)
				emails = append(emails, e...)
			}
		}
	case []any:
		for _, child := range v {
			p, e := walkStructured(child)
			phones = append(phones, p...)
			emails = append(emails, e...)
		}
	}
	return phones, emails
}
