package normalize

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Rewriter applies user-defined substitutions to transcript text before it is
// merged into the session note. Typical rules expand dictation shorthand
// ("b p" => "blood pressure") or fix recurring recognition mistakes.
//
// Two line formats are supported, one per line:
//
//	source => replacement          case-insensitive literal
//	s/pattern/replacement/flags    sed-style regex (flags: i g m s)
//
// Blank lines and lines starting with # are ignored.
type Rewriter struct {
	rules     []rule
	passLimit int
}

type rule struct {
	re          *regexp.Regexp
	replacement string
	firstOnly   bool
}

// Load compiles a rules file. A missing or empty path yields a no-op rewriter.
func Load(path string, passLimit int) (*Rewriter, error) {
	if passLimit <= 0 {
		passLimit = 30
	}

	if strings.TrimSpace(path) == "" {
		return &Rewriter{passLimit: passLimit}, nil
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Rewriter{passLimit: passLimit}, nil
		}
		return nil, fmt.Errorf("failed to read rules file %q: %w", path, err)
	}

	rules, err := parse(string(contents))
	if err != nil {
		return nil, fmt.Errorf("failed to parse rules file %q: %w", path, err)
	}

	return &Rewriter{rules: rules, passLimit: passLimit}, nil
}

// Len reports how many rules are loaded.
func (r *Rewriter) Len() int {
	return len(r.rules)
}

// Apply rewrites text to a fixpoint, bounded by the pass limit so mutually
// feeding rules cannot loop forever. A non-global rule fires at most once per
// invocation: later passes skip it so it cannot creep through the rest of the
// text.
func (r *Rewriter) Apply(text string) string {
	if len(r.rules) == 0 {
		return text
	}

	spent := make([]bool, len(r.rules))
	result := text
	for pass := 0; pass < r.passLimit; pass++ {
		changed := false
		for index, rule := range r.rules {
			if spent[index] {
				continue
			}
			next, ruleChanged := rule.apply(result)
			if ruleChanged {
				result = next
				changed = true
				if rule.firstOnly {
					spent[index] = true
				}
			}
		}
		if !changed {
			break
		}
	}
	return result
}

func (r rule) apply(input string) (string, bool) {
	if !r.firstOnly {
		output := r.re.ReplaceAllString(input, r.replacement)
		return output, output != input
	}

	loc := r.re.FindStringIndex(input)
	if loc == nil {
		return input, false
	}
	replaced := r.re.ReplaceAllString(input[loc[0]:loc[1]], r.replacement)
	output := input[:loc[0]] + replaced + input[loc[1]:]
	return output, output != input
}

func parse(contents string) ([]rule, error) {
	lines := strings.Split(contents, "\n")
	rules := make([]rule, 0, len(lines))

	for index, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var (
			parsed rule
			err    error
		)
		switch {
		case looksLikeRegexRule(line):
			parsed, err = parseRegexRule(line)
		case strings.Contains(line, "=>"):
			parsed, err = parseLiteralRule(line)
		default:
			err = errors.New("unsupported rule format")
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", index+1, err)
		}
		rules = append(rules, parsed)
	}

	return rules, nil
}

func parseLiteralRule(line string) (rule, error) {
	parts := strings.SplitN(line, "=>", 2)
	from := strings.TrimSpace(parts[0])
	to := strings.TrimSpace(parts[1])
	if from == "" {
		return rule{}, errors.New("literal rule source cannot be empty")
	}

	re, err := regexp.Compile("(?i)" + regexp.QuoteMeta(from))
	if err != nil {
		return rule{}, fmt.Errorf("invalid literal source: %w", err)
	}
	return rule{re: re, replacement: to}, nil
}

func parseRegexRule(line string) (rule, error) {
	delim := line[1]

	pattern, pos, err := parseDelimited(line, 2, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex pattern: %w", err)
	}
	replacement, pos, err := parseDelimited(line, pos, delim)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex replacement: %w", err)
	}

	// Case-insensitive unless overridden; single occurrence unless g.
	prefix := "i"
	global := false
	for _, flag := range strings.TrimSpace(line[pos:]) {
		switch flag {
		case 'i':
		case 'g':
			global = true
		case 'm':
			prefix += "m"
		case 's':
			prefix += "s"
		case ' ':
		default:
			return rule{}, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}

	re, err := regexp.Compile("(?" + prefix + ")" + pattern)
	if err != nil {
		return rule{}, fmt.Errorf("invalid regex: %w", err)
	}
	return rule{re: re, replacement: replacement, firstOnly: !global}, nil
}

func parseDelimited(line string, start int, delim byte) (string, int, error) {
	if start >= len(line) {
		return "", 0, errors.New("unexpected end of expression")
	}

	var builder strings.Builder
	escaped := false
	for index := start; index < len(line); index++ {
		char := line[index]
		if escaped {
			builder.WriteByte(char)
			escaped = false
			continue
		}
		if char == '\\' {
			escaped = true
			builder.WriteByte(char)
			continue
		}
		if char == delim {
			return builder.String(), index + 1, nil
		}
		builder.WriteByte(char)
	}
	return "", 0, errors.New("unterminated expression")
}

func isAlphaNumericOrSpace(char byte) bool {
	return (char >= 'a' && char <= 'z') ||
		(char >= 'A' && char <= 'Z') ||
		(char >= '0' && char <= '9') ||
		char == ' ' || char == '\t'
}

func looksLikeRegexRule(line string) bool {
	return len(line) > 1 && line[0] == 's' && !isAlphaNumericOrSpace(line[1])
}
