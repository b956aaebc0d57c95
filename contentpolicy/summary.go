package contentpolicy

import "strings"

var categoryLabels = map[Category]string{
	CategoryPhone:   "a phone number",
	CategoryEmail:   "an email address",
	CategoryAddress: "a physical address",
	CategorySocial:  "a social media handle",
	CategoryBypass:  "a request to communicate off-platform",
}

// Label returns the human-readable name of a category.
func Label(c Category) string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return strings.ReplaceAll(string(c), "_", " ")
}

// Summary names the given categories as an English list: "x", "x and y",
// or "x, y, and z".
func Summary(categories []Category) string {
	labels := make([]string, 0, len(categories))
	for _, c := range categories {
		labels = append(labels, Label(c))
	}

	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	case 2:
		return labels[0] + " and " + labels[1]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + ", and " + labels[len(labels)-1]
	}
}
