// Package sqlguard statically screens candidate SQL strings before they
// reach a data source. Validation is pattern- and policy-based by design:
// a full SQL grammar is out of scope, so the guard normalizes the input,
// strips string and comment literals, and applies an ordered rule list.
// The same input always yields the same verdict; nothing is cached across
// distinct strings so rule changes take effect immediately.
package sqlguard

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule identifiers recorded in verdicts and surfaced to telemetry.
const (
	RuleEmptyQuery         = "EmptyQuery"
	RuleMultiStatement     = "MultiStatement"
	RuleDangerousKeyword   = "DangerousKeyword"
	RuleNotSelect          = "NotSelect"
	RuleSystemTable        = "SystemTable"
	RuleMissingTenantScope = "MissingTenantScope"
)

// Verdict is the result of validating one SQL string.
type Verdict struct {
	Allowed      bool   `json:"allowed"`
	ViolatedRule string `json:"violated_rule,omitempty"`
	MatchedText  string `json:"matched_text,omitempty"`
}

// Validator screens SQL strings against a compiled rule set.
type Validator struct {
	rules       RuleSet
	dangerousRe *regexp.Regexp
	sysTableRe  *regexp.Regexp
	scopedRes   map[string]*regexp.Regexp
	scopeColRe  *regexp.Regexp
	allowlist   map[string]bool
}

// NewValidator compiles a validator from the given rule set. Use
// DefaultRuleSet (optionally merged with deployment overrides) to build rs.
func NewValidator(rs RuleSet) (*Validator, error) {
	v := &Validator{
		rules:     rs,
		scopedRes: make(map[string]*regexp.Regexp, len(rs.TenantScopedTables)),
		allowlist: make(map[string]bool, len(rs.SystemTableAllowlist)),
	}

	if len(rs.DangerousKeywords) > 0 {
		quoted := make([]string, 0, len(rs.DangerousKeywords))
		for _, kw := range rs.DangerousKeywords {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToUpper(kw)))
		}
		re, err := regexp.Compile(`\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling dangerous keyword pattern: %w", err)
		}
		v.dangerousRe = re
	}

	if len(rs.SystemTablePrefixes) > 0 {
		parts := make([]string, 0, len(rs.SystemTablePrefixes))
		for _, p := range rs.SystemTablePrefixes {
			if strings.HasSuffix(p, ".") {
				parts = append(parts, regexp.QuoteMeta(p)+`\w+`)
			} else {
				parts = append(parts, regexp.QuoteMeta(p)+`\w*`)
			}
		}
		re, err := regexp.Compile(`(?i)\b(` + strings.Join(parts, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling system table pattern: %w", err)
		}
		v.sysTableRe = re
	}

	for _, tbl := range rs.TenantScopedTables {
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(tbl) + `\b`)
		if err != nil {
			return nil, fmt.Errorf("compiling tenant-scoped table pattern %q: %w", tbl, err)
		}
		v.scopedRes[tbl] = re
	}

	col := rs.TenantScopeColumn
	if col == "" {
		col = "tenant_id"
	}
	scopeRe, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(col) + `\b`)
	if err != nil {
		return nil, fmt.Errorf("compiling tenant scope column pattern: %w", err)
	}
	v.scopeColRe = scopeRe

	for _, a := range rs.SystemTableAllowlist {
		v.allowlist[strings.ToLower(a)] = true
	}

	return v, nil
}

// Validate screens one SQL string. Rules are applied in order and the first
// violation wins; Allowed is true only when no rule fires.
func (v *Validator) Validate(sqlText string) Verdict {
	spaced, joined := stripLiterals(sqlText)
	spaced = collapseSpaces(spaced)
	joined = collapseSpaces(joined)

	if spaced == "" {
		return Verdict{Allowed: false, ViolatedRule: RuleEmptyQuery}
	}

	// Scan both literal-stripping variants: the space-joined form catches
	// plain keywords, the fully-joined form catches keywords split by
	// inline comments (e.g. DR/**/OP).
	if v.dangerousRe != nil {
		for _, candidate := range []string{strings.ToUpper(spaced), strings.ToUpper(joined)} {
			if m := v.dangerousRe.FindString(candidate); m != "" {
				return Verdict{Allowed: false, ViolatedRule: RuleDangerousKeyword, MatchedText: m}
			}
		}
	}

	// A trailing semicolon is tolerated; any interior one means a chained
	// multi-statement payload.
	body := strings.TrimSuffix(spaced, ";")
	body = strings.TrimSpace(body)
	if strings.Contains(body, ";") {
		return Verdict{Allowed: false, ViolatedRule: RuleMultiStatement, MatchedText: ";"}
	}

	first := firstToken(body)
	if first != "SELECT" && first != "WITH" {
		return Verdict{Allowed: false, ViolatedRule: RuleNotSelect, MatchedText: first}
	}

	if v.sysTableRe != nil && v.rules.RestrictSystemTables {
		for _, m := range v.sysTableRe.FindAllString(body, -1) {
			if !v.allowlist[strings.ToLower(m)] {
				return Verdict{Allowed: false, ViolatedRule: RuleSystemTable, MatchedText: m}
			}
		}
	}

	for tbl, re := range v.scopedRes {
		if re.MatchString(body) && !v.scopeColRe.MatchString(body) {
			return Verdict{Allowed: false, ViolatedRule: RuleMissingTenantScope, MatchedText: tbl}
		}
	}

	return Verdict{Allowed: true}
}

// firstToken returns the first whitespace- or paren-delimited word, uppercased.
func firstToken(s string) string {
	s = strings.TrimLeft(s, " \t\r\n(")
	end := strings.IndexFunc(s, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '(' || r == ';'
	})
	if end < 0 {
		end = len(s)
	}
	return strings.ToUpper(s[:end])
}

// stripLiterals removes comments and replaces string literals with empty
// placeholders so keywords inside quoted data never trigger (or hide from)
// the rule scan. It returns two variants: one where comments become a
// single space, and one where they are removed entirely.
func stripLiterals(sqlText string) (spaced, joined string) {
	var sp, jo strings.Builder
	sp.Grow(len(sqlText))
	jo.Grow(len(sqlText))

	const (
		stNormal = iota
		stLineComment
		stBlockComment
		stSingleQuote
		stDoubleQuote
	)

	state := stNormal
	depth := 0
	runes := []rune(sqlText)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		var next rune
		if i+1 < len(runes) {
			next = runes[i+1]
		}

		switch state {
		case stNormal:
			switch {
			case c == '-' && next == '-':
				state = stLineComment
				i++
			case c == '/' && next == '*':
				state = stBlockComment
				depth = 1
				i++
			case c == '\'':
				state = stSingleQuote
				sp.WriteString("''")
				jo.WriteString("''")
			case c == '"':
				state = stDoubleQuote
				sp.WriteString(`""`)
				jo.WriteString(`""`)
			default:
				sp.WriteRune(c)
				jo.WriteRune(c)
			}
		case stLineComment:
			if c == '\n' {
				state = stNormal
				sp.WriteRune(' ')
			}
		case stBlockComment:
			switch {
			case c == '/' && next == '*':
				depth++
				i++
			case c == '*' && next == '/':
				depth--
				i++
				if depth == 0 {
					state = stNormal
					sp.WriteRune(' ')
				}
			}
		case stSingleQuote:
			if c == '\'' {
				if next == '\'' { // escaped quote inside literal
					i++
					continue
				}
				state = stNormal
			}
		case stDoubleQuote:
			if c == '"' {
				state = stNormal
			}
		}
	}

	return sp.String(), jo.String()
}

var spaceRe = regexp.MustCompile(`\s+`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}
