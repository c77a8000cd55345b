package status

import "strings"

// Signal identifies one source of evidence on a rendered cell.
type Signal string

const (
	SignalText  Signal = "text"
	SignalAria  Signal = "aria-label"
	SignalTitle Signal = "title"
	SignalAlt   Signal = "alt"
	SignalSrc   Signal = "src"
	SignalClass Signal = "class"
)

// DefaultSignalOrder is the precedence signals are consulted in.
var DefaultSignalOrder = []Signal{
	SignalText,
	SignalAria,
	SignalTitle,
	SignalAlt,
	SignalSrc,
	SignalClass,
}

// Signals carries everything a cell exposes. Alt and Src hold one entry per image.
type Signals struct {
	Text    string
	Aria    string
	Title   string
	Alt     []string
	Src     []string
	Classes []string
}

// Rule maps phrase sets to a category. Phrases apply to text-like signals,
// ClassTokens to CSS class tokens.
type Rule struct {
	Category    Category
	Phrases     []string
	ClassTokens []string
}

// Classification is the outcome of classifying one cell.
type Classification struct {
	Status   Status
	Category Category
	Signal   Signal
	Match    string
}

// Classifier evaluates signals against ordered rules; the first match wins.
type Classifier struct {
	rules   []Rule
	signals []Signal
}

// NewClassifier builds a classifier. A nil signal order uses DefaultSignalOrder.
func NewClassifier(rules []Rule, signals []Signal) *Classifier {
	if len(signals) == 0 {
		signals = DefaultSignalOrder
	}
	normalized := make([]Rule, 0, len(rules))
	for _, rule := range rules {
		normalized = append(normalized, Rule{
			Category:    rule.Category,
			Phrases:     normalizeAll(rule.Phrases),
			ClassTokens: normalizeAll(rule.ClassTokens),
		})
	}
	return &Classifier{rules: normalized, signals: signals}
}

// RulesFromPatterns builds rules in DefaultCategoryOrder from category-keyed phrase maps.
// Categories absent from both maps are skipped.
func RulesFromPatterns(phrases map[string][]string, classTokens map[string][]string) []Rule {
	rules := make([]Rule, 0, len(DefaultCategoryOrder))
	for _, category := range DefaultCategoryOrder {
		p := phrases[string(category)]
		c := classTokens[string(category)]
		if len(p) == 0 && len(c) == 0 {
			continue
		}
		rules = append(rules, Rule{Category: category, Phrases: p, ClassTokens: c})
	}
	return rules
}

// Classify returns exactly one classification; cells without a matching signal are Undetermined.
func (c *Classifier) Classify(sig Signals) Classification {
	if c == nil {
		return Classification{Status: Undetermined}
	}
	for _, signal := range c.signals {
		for _, value := range sig.values(signal) {
			if value == "" {
				continue
			}
			if result, ok := c.match(signal, value); ok {
				return result
			}
		}
	}
	return Classification{Status: Undetermined}
}

func (c *Classifier) match(signal Signal, value string) (Classification, bool) {
	if signal == SignalClass {
		token := normalize(value)
		for _, rule := range c.rules {
			for _, pattern := range rule.ClassTokens {
				if matchToken(token, pattern) {
					return Classification{Status: StatusFor(rule.Category), Category: rule.Category, Signal: signal, Match: pattern}, true
				}
			}
		}
		return Classification{}, false
	}

	text := normalize(value)
	for _, rule := range c.rules {
		for _, phrase := range rule.Phrases {
			if phrase != "" && strings.Contains(text, phrase) {
				return Classification{Status: StatusFor(rule.Category), Category: rule.Category, Signal: signal, Match: phrase}, true
			}
		}
	}
	return Classification{}, false
}

func (s Signals) values(signal Signal) []string {
	switch signal {
	case SignalText:
		return []string{s.Text}
	case SignalAria:
		return []string{s.Aria}
	case SignalTitle:
		return []string{s.Title}
	case SignalAlt:
		return s.Alt
	case SignalSrc:
		return s.Src
	case SignalClass:
		return s.Classes
	default:
		return nil
	}
}

// matchToken matches a pattern inside a class token only on '-' or '_' boundaries,
// so "available" matches "is-available" but not "is-unavailable".
func matchToken(token, pattern string) bool {
	if pattern == "" {
		return false
	}
	offset := 0
	for {
		idx := strings.Index(token[offset:], pattern)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(pattern)
		if isBoundary(token, start-1) && isBoundary(token, end) {
			return true
		}
		offset = start + 1
	}
}

func isBoundary(token string, pos int) bool {
	if pos < 0 || pos >= len(token) {
		return true
	}
	return token[pos] == '-' || token[pos] == '_'
}

func normalize(value string) string {
	return strings.ToLower(strings.TrimSpace(strings.ReplaceAll(value, "　", " ")))
}

func normalizeAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if n := normalize(value); n != "" {
			out = append(out, n)
		}
	}
	return out
}
