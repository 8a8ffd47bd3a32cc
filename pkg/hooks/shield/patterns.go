package shield

import (
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// SensitiveFilePatterns match base names of files that usually hold secrets
// or credentials.
var SensitiveFilePatterns = []string{
	".env",
	".env.*",
	"*.pem",
	"*.key",
	"*.p12",
	"*.pfx",
	".npmrc",
	".pypirc",
	".netrc",
	".htpasswd",
	".git-credentials",
	"credentials.{json,yaml,yml}",
	"service-account*",
}

var sensitiveGlobs = mustCompile(SensitiveFilePatterns)

func mustCompile(patterns []string) []glob.Glob {
	gs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		gs = append(gs, glob.MustCompile(p))
	}
	return gs
}

// IsSensitiveFile reports whether the base name of p matches
// SensitiveFilePatterns.
func IsSensitiveFile(p string) bool {
	name := strings.ToLower(baseName(p))
	for _, g := range sensitiveGlobs {
		if g.Match(name) {
			return true
		}
	}
	return false
}

// detector finds one kind of secret or personal data in free text.
type detector struct {
	Kind string // human readable, used in reasons
	Tag  string // used in redaction markers
	re   *regexp.Regexp
}

var (
	privateKeyDetector = detector{
		Kind: "private key",
		Tag:  "private_key",
		re:   regexp.MustCompile(`-----BEGIN (?:[A-Z0-9]+ )*PRIVATE KEY-----(?:[\s\S]*?-----END (?:[A-Z0-9]+ )*PRIVATE KEY-----|[\s\S]*)`),
	}
	awsKeyDetector = detector{
		Kind: "AWS access key",
		Tag:  "aws_key",
		re:   regexp.MustCompile(`\b(?:AKIA|ASIA)[0-9A-Z]{16}\b`),
	}
	githubTokenDetector = detector{
		Kind: "GitHub token",
		Tag:  "github_token",
		re:   regexp.MustCompile(`\b(?:gh[pousr]_[A-Za-z0-9]{36,}|github_pat_[A-Za-z0-9_]{22,})`),
	}
	emailDetector = detector{
		Kind: "email",
		Tag:  "email",
		re:   regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
	}
	ssnDetector = detector{
		Kind: "SSN",
		Tag:  "ssn",
		re:   regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	}
	phoneDetector = detector{
		Kind: "phone number",
		Tag:  "phone",
		re:   regexp.MustCompile(`(?:\+1[-.\s]?)?(?:\(\d{3}\)\s?|\b\d{3}[-.\s])\d{3}[-.\s]\d{4}\b`),
	}
)

// secretDetectors are checked against staged diffs.
var secretDetectors = []detector{privateKeyDetector, awsKeyDetector, githubTokenDetector}

// piiDetectors run in redaction order: multi-line blocks first, then tokens
// that could contain digit runs the phone and SSN patterns would split.
var piiDetectors = []detector{
	privateKeyDetector,
	awsKeyDetector,
	githubTokenDetector,
	emailDetector,
	ssnDetector,
	phoneDetector,
}

// detect returns the kinds of ds found in text, in detector order.
func detect(ds []detector, text string) []string {
	var kinds []string
	for _, d := range ds {
		if d.re.MatchString(text) {
			kinds = append(kinds, d.Kind)
		}
	}
	return kinds
}

// redact replaces every match of ds in text with [REDACTED:<tag>].
func redact(ds []detector, text string) string {
	for _, d := range ds {
		text = d.re.ReplaceAllLiteralString(text, "[REDACTED:"+d.Tag+"]")
	}
	return text
}
