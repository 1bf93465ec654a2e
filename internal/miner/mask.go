package miner

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
)

const paramCacheSize = 4096

// MaskRule replaces every match of Pattern with <Mask> before clustering
type MaskRule struct {
	Pattern string `json:"pattern"`
	Mask    string `json:"mask"`
}

// DefaultMasking masks IPv4 addresses, hex literals and numbers, in that order
func DefaultMasking() []MaskRule {
	return []MaskRule{
		{Pattern: `\b(?:\d{1,3}\.){3}\d{1,3}\b`, Mask: "IP"},
		{Pattern: `\b0[xX][0-9a-fA-F]+\b`, Mask: "HEX"},
		{Pattern: `\b\d+(?:\.\d+)?\b`, Mask: "NUM"},
	}
}

type compiledRule struct {
	re    *regexp.Regexp
	token string
}

type masker struct {
	rules []compiledRule
	// placeholder matches Wildcard and the configured mask tokens only
	placeholder *regexp.Regexp
}

func newMasker(rules []MaskRule) (*masker, error) {
	mk := &masker{rules: make([]compiledRule, 0, len(rules))}
	alts := []string{regexp.QuoteMeta(Wildcard)}
	seen := map[string]bool{Wildcard: true}
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid mask pattern for %s", r.Mask)
		}
		token := "<" + r.Mask + ">"
		mk.rules = append(mk.rules, compiledRule{re: re, token: token})
		if !seen[token] {
			seen[token] = true
			alts = append(alts, regexp.QuoteMeta(token))
		}
	}
	mk.placeholder = regexp.MustCompile(strings.Join(alts, "|"))
	return mk, nil
}

func (mk *masker) mask(s string) string {
	for _, r := range mk.rules {
		s = r.re.ReplaceAllLiteralString(s, r.token)
	}
	return s
}

// paramPattern is the compiled extraction regex of one template. A nil re
// means the template has no placeholders.
type paramPattern struct {
	re *regexp.Regexp
}

// Parameters extracts the values standing behind the placeholders of
// template from message, in template order. It returns an empty slice when
// the message does not fit the template.
func (m *Miner) Parameters(template, message string) []string {
	p, err := m.pattern(template)
	if err != nil {
		m.log.Debugw("Template not convertible to pattern", "template", template, "error", err)
		return []string{}
	}
	if p.re == nil {
		return []string{}
	}

	match := p.re.FindStringSubmatch(m.preprocess(message))
	if match == nil {
		return []string{}
	}
	return append([]string{}, match[1:]...)
}

func (m *Miner) pattern(template string) (*paramPattern, error) {
	if p, ok := m.params.Get(template); ok {
		return p, nil
	}
	p, err := m.masker.compile(template)
	if err != nil {
		return nil, err
	}
	m.params.Add(template, p)
	return p, nil
}

// compile turns a template into an anchored regex: literal text is
// quoted, whitespace runs become \s+ and each placeholder a lazy group
func (mk *masker) compile(template string) (*paramPattern, error) {
	tokens := strings.Fields(template)
	if !mk.placeholder.MatchString(template) {
		return &paramPattern{}, nil
	}

	var b strings.Builder
	b.WriteString("^")
	for i, tok := range tokens {
		if i > 0 {
			b.WriteString(`\s+`)
		}
		last := 0
		for _, loc := range mk.placeholder.FindAllStringIndex(tok, -1) {
			b.WriteString(regexp.QuoteMeta(tok[last:loc[0]]))
			b.WriteString("(.+?)")
			last = loc[1]
		}
		b.WriteString(regexp.QuoteMeta(tok[last:]))
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to compile template %q", template)
	}
	return &paramPattern{re: re}, nil
}
