// Package contentpolicy detects attempts to exchange contact details before a
// job is confirmed. It is a heuristic deterrent: determined users can evade it
// and some legitimate text (a postcode-shaped part number, say) will trip it.
package contentpolicy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const maxSnippetRunes = 60

// Rule is one named pattern contributing findings for a category.
type Rule struct {
	Category Category
	Name     string
	Pattern  *regexp.Regexp
}

// Detector is the default TextScanner. It is safe for concurrent use.
type Detector struct {
	rules []Rule
}

// NewDetector builds a detector from rules. With no rules it uses DefaultRules.
func NewDetector(rules ...Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Detector{rules: rules}
}

// Scan runs every rule independently and accumulates all findings.
func (d *Detector) Scan(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Result{}
	}

	var res Result
	for _, rule := range d.rules {
		for _, match := range rule.Pattern.FindAllString(text, -1) {
			snippet := snip(match)
			if snippet == "" {
				continue
			}
			res.Findings = append(res.Findings, Finding{
				Category: rule.Category,
				Rule:     rule.Name,
				Snippet:  snippet,
			})
		}
	}
	res.Matched = len(res.Findings) > 0
	return res
}

// Rules returns a copy of the configured rules.
func (d *Detector) Rules() []Rule {
	out := make([]Rule, len(d.rules))
	copy(out, d.rules)
	return out
}

func snip(match string) string {
	s := strings.TrimSpace(match)
	if utf8.RuneCountInString(s) <= maxSnippetRunes {
		return s
	}
	runes := []rune(s)
	return string(runes[:maxSnippetRunes])
}

const numberWord = `(?:zero|one|two|three|four|five|six|seven|eight|nine)`

// DefaultRules returns the built-in UK-oriented rule set.
func DefaultRules() []Rule {
	return []Rule{
		// Phone
		{CategoryPhone, "phone_national", regexp.MustCompile(
			`\(?\b0\d{2,4}\)?[\s.-]?\d{3,4}[\s.-]?\d{3,4}\b`)},
		{CategoryPhone, "phone_international", regexp.MustCompile(
			`\+\d{1,3}[\s.-]?\(?\d{1,4}\)?(?:[\s.-]?\d{2,4}){2,4}\b|\b00\d{1,3}[\s.-]?\d{3,4}[\s.-]?\d{3,4}(?:[\s.-]?\d{1,4})?\b`)},
		{CategoryPhone, "phone_spelled", regexp.MustCompile(
			`(?i)\b` + numberWord + `(?:[\s,.-]+` + numberWord + `){2,}\b`)},
		{CategoryPhone, "phone_request", regexp.MustCompile(
			`(?i)\b(?:call|text|ring|phone)\s+me\b|\b(?:give\s+me|gimme)\s+a\s+(?:call|ring|buzz|text)\b|\b(?:my|your|ur)\s+(?:(?:mobile|cell|phone)\s+)?(?:number|digits)\b|\bsend\s+(?:me\s+)?(?:your|ur)\s+(?:number|digits)\b`)},

		// Email
		{CategoryEmail, "email_address", regexp.MustCompile(
			`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
		{CategoryEmail, "email_bracketed", regexp.MustCompile(
			`(?i)[a-z0-9._%+-]+\s*[\(\[\{<]\s*at\s*[\)\]\}>]\s*[a-z0-9-]+(?:\s*(?:[\(\[\{<]\s*dot\s*[\)\]\}>]|\s+dot\s+|\.)\s*[a-z0-9-]+)+`)},
		{CategoryEmail, "email_spelled", regexp.MustCompile(
			`(?i)\b[a-z0-9._%+-]+\s+at\s+[a-z0-9-]+(?:\s*[\(\[\{<]\s*dot\s*[\)\]\}>]\s*|\s+dot\s+)[a-z]{2,4}\b`)},
		{CategoryEmail, "email_request", regexp.MustCompile(
			`(?i)\be-?mail\s+me\b|\b(?:my|your|ur)\s+e-?mail(?:\s+address)?\b|\bsend\s+(?:me\s+)?(?:an?\s+)?e-?mail\b|\bdrop\s+me\s+an?\s+(?:e-?mail|line)\b`)},

		// Address
		{CategoryAddress, "postcode", regexp.MustCompile(
			`(?i)\b[a-z]{1,2}\d[a-z\d]?\s*\d[a-z]{2}\b`)},
		{CategoryAddress, "street_address", regexp.MustCompile(
			`(?i)\b\d{1,5}[a-z]?\s+(?:[a-z']+\s+){1,3}(?:street|st|road|rd|avenue|ave|lane|ln|drive|crescent|terrace|grove|gardens|mews|court|square|way)\b`)},
		{CategoryAddress, "address_request", regexp.MustCompile(
			`(?i)\b(?:my\s+address\s+is|come\s+to|meet\s+me\s+at)\s+\d`)},

		// Social handles
		{CategorySocial, "social_platform", regexp.MustCompile(
			`(?i)\b(?:whats\s?app|instagram|insta|facebook|fb|messenger|tik\s?tok|linked\s?in|twitter|telegram|snapchat)\b`)},
		{CategorySocial, "social_handle", regexp.MustCompile(
			`(?:^|[\s(])@[A-Za-z0-9_.]{3,30}\b`)},

		// Generic off-platform intent
		{CategoryBypass, "off_platform", regexp.MustCompile(
			`(?i)\b(?:off|outside(?:\s+of)?)\s+(?:the\s+|this\s+)?(?:platform|app|site|website)\b`)},
		{CategoryBypass, "direct_contact", regexp.MustCompile(
			`(?i)\b(?:contact|reach|message|talk\s+to)\s+(?:me|you)\s+(?:directly|privately|direct)\b|\bdeal\s+direct(?:ly)?\b|\bcut\s+out\s+the\s+(?:middle\s*man|app|platform|site)\b|\bdm\s+me\b|\bprivate\s+message\b`)},
		{CategoryBypass, "fee_avoidance", regexp.MustCompile(
			`(?i)\b(?:avoid|skip|save\s+on)\s+(?:the\s+)?(?:fees?|commission)\b|\bpay\s+(?:me\s+|you\s+)?(?:in\s+)?cash\b|\bcheaper\s+(?:without|outside)\b`)},
	}
}
