// Package validator implements the four-gate safety pipeline that inspects,
// corrects, or escalates every proposed decision before it can reach a user.
package validator

import (
	"regexp"
	"strings"
)

// Compiled patterns for personally-identifiable content in outbound text.
// These are intentionally broad; a false positive costs a human review, a
// false negative leaks data.
var (
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().\-]{7,}\d`)
	// Structured identifiers: SSN-style triplets and long unbroken digit runs
	// (account or card numbers).
	ssnPattern      = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
	digitRunPattern = regexp.MustCompile(`\b\d{8,}\b`)
)

// PIIScanner scans response text for leakable identifiers, excluding an
// allow-list of institutional contact strings (support lines, service
// addresses) that are safe to show to any user.
type PIIScanner struct {
	allowlist []string
}

// NewPIIScanner creates a scanner with the given institutional allow-list.
func NewPIIScanner(allowlist []string) *PIIScanner {
	lowered := make([]string, 0, len(allowlist))
	for _, entry := range allowlist {
		lowered = append(lowered, strings.ToLower(entry))
	}
	return &PIIScanner{allowlist: lowered}
}

// Scan returns the kinds of personally-identifiable content found in text.
// An empty result means the text is clean.
func (s *PIIScanner) Scan(text string) []string {
	var kinds []string
	if s.matchesOutsideAllowlist(emailPattern, text) {
		kinds = append(kinds, "email")
	}
	if s.matchesOutsideAllowlist(ssnPattern, text) {
		kinds = append(kinds, "structured_identifier")
	} else if s.matchesOutsideAllowlist(digitRunPattern, text) {
		kinds = append(kinds, "structured_identifier")
	}
	if s.matchesOutsideAllowlist(phonePattern, text) {
		kinds = append(kinds, "phone")
	}
	return kinds
}

// HasPII reports whether the text contains any non-allowlisted identifier.
func (s *PIIScanner) HasPII(text string) bool {
	return len(s.Scan(text)) > 0
}

// matchesOutsideAllowlist reports whether the pattern matches any substring
// of text that is not part of an allowlisted institutional string.
func (s *PIIScanner) matchesOutsideAllowlist(pattern *regexp.Regexp, text string) bool {
	for _, match := range pattern.FindAllString(text, -1) {
		if !s.allowlisted(match) {
			return true
		}
	}
	return false
}

func (s *PIIScanner) allowlisted(match string) bool {
	lowered := strings.ToLower(strings.TrimSpace(match))
	for _, entry := range s.allowlist {
		if strings.Contains(entry, lowered) || strings.Contains(lowered, entry) {
			return true
		}
	}
	return false
}
