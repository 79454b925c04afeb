package rules

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/spf13/cast"
	"github.com/trickstertwo/xchannel"
)

// Condition compares the value of a field reference with an operand.
type Condition func(value string, exists bool, operand string) (bool, error)

var (
	conditionsMu sync.RWMutex
	conditions   = map[string]Condition{
		"eq":          func(v string, ok bool, o string) (bool, error) { return ok && v == o, nil },
		"ne":          func(v string, ok bool, o string) (bool, error) { return !ok || v != o, nil },
		"contains":    func(v string, ok bool, o string) (bool, error) { return ok && strings.Contains(v, o), nil },
		"starts_with": func(v string, ok bool, o string) (bool, error) { return ok && strings.HasPrefix(v, o), nil },
		"ends_with":   func(v string, ok bool, o string) (bool, error) { return ok && strings.HasSuffix(v, o), nil },
		"exists":      func(v string, ok bool, _ string) (bool, error) { return ok && v != "", nil },
		"not_exists":  func(v string, ok bool, _ string) (bool, error) { return !ok || v == "", nil },
		"regex":       matchRegex,
		"gt":          numeric(func(c int) bool { return c > 0 }),
		"gte":         numeric(func(c int) bool { return c >= 0 }),
		"lt":          numeric(func(c int) bool { return c < 0 }),
		"lte":         numeric(func(c int) bool { return c <= 0 }),
	}
)

// RegisterCondition adds or replaces a filter rule type.
func RegisterCondition(name string, c Condition) {
	conditionsMu.Lock()
	conditions[name] = c
	conditionsMu.Unlock()
}

func condition(name string) (Condition, bool) {
	conditionsMu.RLock()
	defer conditionsMu.RUnlock()
	c, ok := conditions[name]
	return c, ok
}

var regexCache sync.Map

func matchRegex(v string, ok bool, pattern string) (bool, error) {
	if !ok {
		return false, nil
	}
	cached, found := regexCache.Load(pattern)
	if !found {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return false, err
		}
		cached, _ = regexCache.LoadOrStore(pattern, re)
	}
	return cached.(*regexp.Regexp).MatchString(v), nil
}

func numeric(cmp func(int) bool) Condition {
	return func(v string, ok bool, o string) (bool, error) {
		if !ok || v == "" {
			return false, nil
		}
		left, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return false, nil
		}
		right, err := decimal.NewFromString(strings.TrimSpace(o))
		if err != nil {
			return false, fmt.Errorf("rules: operand %q is not a number", o)
		}
		return cmp(left.Cmp(right)), nil
	}
}

// evaluate runs one rule. Properties: field (a value reference), value or
// from (the operand), negate.
func evaluate(s *state, r xchannel.Rule) (bool, error) {
	c, ok := condition(r.Type)
	if !ok {
		return false, fmt.Errorf("rules: unknown rule type %q in rule %q", r.Type, r.Name)
	}
	value, exists, err := s.resolve(cast.ToString(r.Properties["field"]))
	if err != nil {
		return false, fmt.Errorf("rules: rule %q: %w", r.Name, err)
	}
	operand, err := s.operand(r.Properties)
	if err != nil {
		return false, fmt.Errorf("rules: rule %q: %w", r.Name, err)
	}
	matched, err := c(value, exists, operand)
	if err != nil {
		return false, fmt.Errorf("rules: rule %q: %w", r.Name, err)
	}
	if cast.ToBool(r.Properties["negate"]) {
		matched = !matched
	}
	return matched, nil
}
