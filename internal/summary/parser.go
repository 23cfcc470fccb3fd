package summary

import "strings"

// Parse extracts summary fields from the markdown layout the providers are
// prompted to produce:
//
//	## Title
//	## Summary
//	## Action Items
//	## Key Points
//
// List sections take "- " entries. Parse is tolerant of truncated input so
// it can run on partial responses mid-stream: unknown sections and
// malformed lines are skipped, and the last title line wins.
func Parse(markdown string) Partial {
	var p Partial
	var bodyParts []string
	section := ""

	for _, line := range strings.Split(markdown, "\n") {
		trimmed := strings.TrimSpace(line)
		if after, ok := strings.CutPrefix(trimmed, "## "); ok {
			section = strings.ToLower(strings.TrimSpace(after))
			continue
		}
		if trimmed == "" {
			continue
		}

		switch section {
		case "title":
			p.Title = trimmed
		case "summary":
			bodyParts = append(bodyParts, trimmed)
		case "action items":
			if entry, ok := strings.CutPrefix(trimmed, "- "); ok {
				p.ActionItems = append(p.ActionItems, strings.TrimSpace(entry))
			}
		case "key points":
			if entry, ok := strings.CutPrefix(trimmed, "- "); ok {
				p.KeyPoints = append(p.KeyPoints, strings.TrimSpace(entry))
			}
		}
	}

	p.Body = strings.Join(bodyParts, " ")
	return p
}
