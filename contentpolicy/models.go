package contentpolicy

// Category names a class of off-platform contact information.
type Category string

const (
	CategoryPhone   Category = "phone"
	CategoryEmail   Category = "email"
	CategoryAddress Category = "address"
	CategorySocial  Category = "social_handle"
	CategoryBypass  Category = "off_platform"
)

// categoryOrder fixes the order used when reporting distinct categories.
var categoryOrder = []Category{
	CategoryPhone,
	CategoryEmail,
	CategoryAddress,
	CategorySocial,
	CategoryBypass,
}

// Finding is a single match raised by one rule.
type Finding struct {
	Category Category
	Rule     string
	Snippet  string
}

// Result is the outcome of scanning one piece of text.
type Result struct {
	Matched  bool
	Findings []Finding
}

// TextScanner is the strategy consulted before any free text is committed.
// Implementations must be pure: no I/O and no shared mutable state.
type TextScanner interface {
	Scan(text string) Result
}

// Categories returns the distinct matched categories in canonical order.
func (r Result) Categories() []Category {
	if len(r.Findings) == 0 {
		return nil
	}
	seen := make(map[Category]bool, len(r.Findings))
	for _, f := range r.Findings {
		seen[f.Category] = true
	}
	out := make([]Category, 0, len(seen))
	for _, c := range categoryOrder {
		if seen[c] {
			out = append(out, c)
			delete(seen, c)
		}
	}
	// Categories contributed by custom rules go last, in first-seen order.
	for _, f := range r.Findings {
		if seen[f.Category] {
			out = append(out, f.Category)
			delete(seen, f.Category)
		}
	}
	return out
}

// Message is the user-facing explanation for a blocked submission. It is
// empty when nothing matched.
func (r Result) Message() string {
	if !r.Matched {
		return ""
	}
	return "Your message appears to contain " + Summary(r.Categories()) +
		". For everyone's safety, contact details can only be shared once a job is confirmed and paid."
}

// Merge folds several results into one, keeping every finding.
func Merge(results ...Result) Result {
	var merged Result
	for _, r := range results {
		if r.Matched {
			merged.Matched = true
		}
		merged.Findings = append(merged.Findings, r.Findings...)
	}
	return merged
}
