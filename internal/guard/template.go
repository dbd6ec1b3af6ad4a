package guard

import (
	"fmt"
	"regexp"

	"github.com/example/dispatch-guard-service/internal/domain"
)

// TemplatePolicy is the stateless content rule set. Only pre-approved
// templates may be sent; free text never passes.
type TemplatePolicy struct {
	maxContentLength int
	maxTemplateVars  int
	bannedPatterns   []*regexp.Regexp
	shortLinkPattern *regexp.Regexp
	varPattern       *regexp.Regexp
}

// Default banned-content patterns. Case-insensitive substring/regex match
// against the template body.
var defaultBannedPatterns = []string{
	`(?i)(easy|instant|quick)\s+loan`,
	`(?i)loan\s+scheme`,
	`(?i)(gambling|casino|betting|slot\s+online)`,
	`(?i)guaranteed\s+(profit|return|income)`,
	`(?i)risk[- ]free\s+investment`,
	`(?i)double\s+your\s+money`,
}

const shortLinkExpr = `(?i)\b(bit\.ly|tinyurl\.com|t\.co|goo\.gl|cutt\.ly|is\.gd|rb\.gy|s\.id)/\S+`

// Both {{name}} / {{1}} and {name} placeholder forms count as variables.
const templateVarExpr = `\{\{\s*[A-Za-z0-9_]+\s*\}\}|\{[A-Za-z_][A-Za-z0-9_]*\}`

func NewTemplatePolicy(maxContentLength, maxTemplateVars int) *TemplatePolicy {
	patterns := make([]*regexp.Regexp, 0, len(defaultBannedPatterns))
	for _, expr := range defaultBannedPatterns {
		patterns = append(patterns, regexp.MustCompile(expr))
	}

	return &TemplatePolicy{
		maxContentLength: maxContentLength,
		maxTemplateVars:  maxTemplateVars,
		bannedPatterns:   patterns,
		shortLinkPattern: regexp.MustCompile(shortLinkExpr),
		varPattern:       regexp.MustCompile(templateVarExpr),
	}
}

// Validate returns every policy violation in the content; an empty slice
// means the content is clean. Checks do not short-circuit: a free-text
// message with a banned keyword reports both.
func (p *TemplatePolicy) Validate(content domain.TemplateContent) []string {
	var errs []string

	if content.FreeText {
		errs = append(errs, "free-text content is not allowed, only pre-approved templates may be sent")
	}

	if !content.Approved {
		errs = append(errs, "template has not been approved by the provider")
	}

	for _, pattern := range p.bannedPatterns {
		if pattern.MatchString(content.Body) {
			errs = append(errs, fmt.Sprintf("content matches banned pattern %q", pattern.String()))
		}
	}

	if p.shortLinkPattern.MatchString(content.Body) {
		errs = append(errs, "content contains a shortened link")
	}

	if len(content.Body) > p.maxContentLength {
		errs = append(errs, fmt.Sprintf(
			"content length %d exceeds maximum of %d characters",
			len(content.Body), p.maxContentLength,
		))
	}

	if count := p.countVariables(content.Body); count > p.maxTemplateVars {
		errs = append(errs, fmt.Sprintf(
			"template uses %d variables, maximum is %d",
			count, p.maxTemplateVars,
		))
	}

	return errs
}

// countVariables counts distinct placeholders; {{name}} used twice is one
// variable.
func (p *TemplatePolicy) countVariables(body string) int {
	matches := p.varPattern.FindAllString(body, -1)
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		seen[m] = struct{}{}
	}
	return len(seen)
}
