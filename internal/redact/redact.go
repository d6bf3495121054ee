// Package redact removes common PII patterns from exported text.
//
// Redaction is an export-time transformation. The store always holds the
// original text; exporters apply a Redactor when the caller asks for it.
package redact

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	phoneRe = regexp.MustCompile(`(?:\+?\d{1,2}[\s.\-])?\(?\d{3}\)?[\s.\-]?\d{3}[\s.\-]?\d{4}\b`)
	ssnRe   = regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)
)

// Redactor replaces emails, phone numbers and SSNs with placeholder tokens.
// Email tokens are numbered so that the same address maps to the same token
// for the lifetime of the Redactor, which is one export run.
//
// A Redactor is not safe for concurrent use.
type Redactor struct {
	emails map[string]int // lowercased address -> token number
}

// New returns a Redactor with an empty email table.
func New() *Redactor {
	return &Redactor{emails: make(map[string]int)}
}

// Apply redacts all recognized PII patterns in s.
func (r *Redactor) Apply(s string) string {
	s = emailRe.ReplaceAllStringFunc(s, func(m string) string {
		key := strings.ToLower(m)
		n, ok := r.emails[key]
		if !ok {
			n = len(r.emails) + 1
			r.emails[key] = n
		}
		return fmt.Sprintf("[REDACTED_EMAIL_%d]", n)
	})
	s = ssnRe.ReplaceAllString(s, "[REDACTED_SSN]")
	s = phoneRe.ReplaceAllString(s, "[REDACTED_PHONE]")
	return s
}
