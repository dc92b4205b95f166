// Package permission evaluates tool invocations against user-configured
// rules before the dispatcher runs them.
package permission

import (
	"fmt"
	"regexp"
	"strings"
)

// Level is the outcome a rule assigns to a matching invocation.
type Level string

const (
	LevelAllow Level = "allow"
	LevelAsk   Level = "ask"
	LevelDeny  Level = "deny"
)

// restrictiveness orders levels for tie-breaking. Deny beats ask beats allow.
func (l Level) restrictiveness() int {
	switch l {
	case LevelDeny:
		return 3
	case LevelAsk:
		return 2
	case LevelAllow:
		return 1
	}
	return 0
}

// Valid reports whether l is one of the three defined levels.
func (l Level) Valid() bool {
	return l == LevelAllow || l == LevelAsk || l == LevelDeny
}

// Rule binds a pattern to a permission level.
type Rule struct {
	Pattern     string `json:"pattern"`
	Level       Level  `json:"level"`
	Priority    int    `json:"priority,omitempty"`
	Enabled     bool   `json:"enabled"`
	Description string `json:"description,omitempty"`

	clauses []clause
}

// Clause specificity weights. Exact tool name beats tool glob beats
// category; each arg clause adds weight on top.
const (
	weightExactTool = 300
	weightToolGlob  = 200
	weightCategory  = 100
	weightArgClause = 10
)

type clauseKind int

const (
	clauseTool clauseKind = iota
	clauseCategory
	clauseArg
)

type clause struct {
	kind  clauseKind
	glob  string
	key   string
	value string // arg value pattern, empty means presence only
}

// compileRules pre-parses every rule in place. The engine compiles rule
// sets on entry so that evaluation under a read lock never mutates them.
func compileRules(rules []Rule) []Rule {
	for i := range rules {
		rules[i].compile()
	}
	return rules
}

// compile parses the comma-separated pattern into clauses. Idempotent;
// an already-compiled rule is left untouched.
func (r *Rule) compile() {
	if r.clauses != nil {
		return
	}
	parts := strings.Split(r.Pattern, ",")
	r.clauses = make([]clause, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case strings.HasPrefix(part, "tool:"):
			r.clauses = append(r.clauses, clause{kind: clauseTool, glob: part[len("tool:"):]})
		case strings.HasPrefix(part, "category:"):
			r.clauses = append(r.clauses, clause{kind: clauseCategory, glob: part[len("category:"):]})
		case strings.HasPrefix(part, "arg:"):
			rest := part[len("arg:"):]
			key, value, _ := strings.Cut(rest, ":")
			r.clauses = append(r.clauses, clause{kind: clauseArg, key: key, value: value})
		default:
			// Bare glob is shorthand for tool:<glob>.
			r.clauses = append(r.clauses, clause{kind: clauseTool, glob: part})
		}
	}
}

// Matches reports whether every clause of the rule matches the
// invocation. A rule with no clauses matches nothing.
func (r *Rule) Matches(tool, category string, args map[string]any) bool {
	r.compile()
	if len(r.clauses) == 0 {
		return false
	}
	for _, c := range r.clauses {
		if !c.matches(tool, category, args) {
			return false
		}
	}
	return true
}

// Specificity ranks the rule for tie-breaking among matches.
func (r *Rule) Specificity() int {
	r.compile()
	base := 0
	argWeight := 0
	for _, c := range r.clauses {
		switch c.kind {
		case clauseTool:
			w := weightToolGlob
			if !strings.ContainsAny(c.glob, "*?") {
				w = weightExactTool
			}
			if w > base {
				base = w
			}
		case clauseCategory:
			if weightCategory > base {
				base = weightCategory
			}
		case clauseArg:
			argWeight += weightArgClause
		}
	}
	return base + argWeight
}

func (c clause) matches(tool, category string, args map[string]any) bool {
	switch c.kind {
	case clauseTool:
		return globMatch(c.glob, tool)
	case clauseCategory:
		return globMatch(c.glob, category)
	case clauseArg:
		raw, ok := args[c.key]
		if !ok {
			return false
		}
		if c.value == "" {
			return true
		}
		value := stringifyArg(raw)
		if strings.HasPrefix(c.value, "^") {
			re, err := regexp.Compile(c.value)
			if err != nil {
				// Invalid regex matches nothing rather than erroring.
				return false
			}
			return re.MatchString(value)
		}
		return globMatch(c.value, value)
	}
	return false
}

func stringifyArg(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// globMatch matches target against a glob where * spans any run and ?
// matches one character.
func globMatch(pattern, target string) bool {
	return globToRegexp(pattern).MatchString(target)
}

func globToRegexp(pattern string) *regexp.Regexp {
	var result strings.Builder
	result.WriteString("^")

	for i := 0; i < len(pattern); i++ {
		ch := pattern[i]
		switch ch {
		case '*':
			result.WriteString(".*")
		case '?':
			result.WriteString(".")
		case '.', '+', '^', '$', '{', '}', '(', ')', '[', ']', '|', '\\':
			result.WriteString("\\")
			result.WriteByte(ch)
		default:
			result.WriteByte(ch)
		}
	}

	result.WriteString("$")
	re, _ := regexp.Compile(result.String())
	return re
}
