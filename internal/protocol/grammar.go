package protocol

import (
	"regexp"
	"strconv"
	"strings"
)

// ArgumentSpec is one entry of the configured arguments table: an argument
// name maps to a `values` spec string such as "int(2)", "float(5,2)",
// "str(16),OFF", "DateStamp", "re(^[A-Z]+$)", or is a literal choice list.
type ArgumentSpec struct {
	Values []string // non-nil => a literal choice list
	Spec   string   // raw values string when Values is nil
}

// CommandTemplate is one entry of the configured command_set, in
// declaration order (see SPEC_FULL.md on why this is a slice, not a map).
type CommandTemplate struct {
	Template string
	Response string
}

var (
	floatPattern    = regexp.MustCompile(`^float\((\d+)(?:,(\d))?\)(?:,(OFF))?$`)
	intPattern      = regexp.MustCompile(`^int\((\d+)\)(?:,(OFF))?$`)
	strPattern      = regexp.MustCompile(`^str\((\d+)\)(?:,(OFF))?$`)
	rePattern       = regexp.MustCompile(`^re\((.+)\)$`)
	dateTimePattern = regexp.MustCompile(`^DateAndTimeStamp(?:,(OFF))?$`)
	datePattern     = regexp.MustCompile(`^DateStamp(?:,(OFF))?$`)
	durationPattern = regexp.MustCompile(`^DurationStamp(?:,(OFF))?$`)
)

// partMatcher validates one '^'-separated part of a command (the head or one
// placeholder's bound value).
type partMatcher struct {
	re         *regexp.Regexp
	maxLen     int  // 0 means unbounded
	offAllowed bool // trailing ",OFF" modifier; OFF is exempt from maxLen
}

func (m partMatcher) match(part string) bool {
	if m.offAllowed && part == "OFF" {
		return true
	}
	if m.maxLen > 0 && len([]rune(part)) > m.maxLen {
		return false
	}
	return m.re.MatchString(part)
}

// compiledTemplate is a CommandTemplate with its per-part matchers built.
type compiledTemplate struct {
	CommandTemplate
	Head  string
	Args  []string
	parts []partMatcher
}

// Grammar is the compiled form of a pump's command_set + arguments table.
// Build it once per session (Design Notes §9) rather than per message.
type Grammar struct {
	arguments map[string]ArgumentSpec
	templates []compiledTemplate
}

// Compile builds per-template matchers from the configured command set and
// argument descriptors. It returns a *ConfigError for a malformed template
// (an argument part not written as `<NAME>`, or a placeholder name absent
// from the arguments table) and a *ArgumentError for an unrecognized
// `values` spec syntax.
func Compile(commandSet []CommandTemplate, arguments map[string]ArgumentSpec) (*Grammar, error) {
	g := &Grammar{arguments: arguments}
	for _, ct := range commandSet {
		parts := strings.Split(ct.Template, "^")
		compiled := compiledTemplate{CommandTemplate: ct, Head: parts[0]}
		compiled.parts = append(compiled.parts, partMatcher{re: regexp.MustCompile("^" + regexp.QuoteMeta(parts[0]) + "$")})
		for _, raw := range parts[1:] {
			if !strings.HasPrefix(raw, "<") || !strings.HasSuffix(raw, ">") {
				return nil, &ConfigError{Detail: "Argument badly described in command template in config.json. Should be '<ARGUMENT_NAME>' Command: " + ct.Template}
			}
			argMeta, ok := arguments[raw]
			if !ok {
				return nil, &ConfigError{Detail: "Provided argument from command is not described in arguments part in config.json. Command: " + ct.Template}
			}
			pm, err := compileArgument(raw, argMeta)
			if err != nil {
				return nil, err
			}
			compiled.Args = append(compiled.Args, raw)
			compiled.parts = append(compiled.parts, pm)
		}
		g.templates = append(g.templates, compiled)
	}
	return g, nil
}

// compileArgument turns one argument's `values` spec into a partMatcher.
func compileArgument(name string, meta ArgumentSpec) (partMatcher, error) {
	if meta.Values != nil {
		alt := make([]string, len(meta.Values))
		for i, v := range meta.Values {
			alt[i] = regexp.QuoteMeta(v)
		}
		return partMatcher{re: regexp.MustCompile("^(?:" + strings.Join(alt, "|") + ")$")}, nil
	}

	spec := meta.Spec

	if m := floatPattern.FindStringSubmatch(spec); m != nil {
		length, _ := strconv.Atoi(m[1])
		decimal := 1
		if m[2] != "" {
			decimal, _ = strconv.Atoi(m[2])
		}
		body := `\d+\.\d{` + strconv.Itoa(decimal) + `,}`
		return buildMatcher(body, length, m[3] != ""), nil
	}
	if m := intPattern.FindStringSubmatch(spec); m != nil {
		length, _ := strconv.Atoi(m[1])
		body := `\d{1,` + m[1] + `}`
		return buildMatcher(body, length, m[2] != ""), nil
	}
	if m := strPattern.FindStringSubmatch(spec); m != nil {
		length, _ := strconv.Atoi(m[1])
		body := `[^\^]{1,` + m[1] + `}`
		return buildMatcher(body, length, m[2] != ""), nil
	}
	if m := dateTimePattern.FindStringSubmatch(spec); m != nil {
		return buildMatcher(`\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}`, 0, m[1] != ""), nil
	}
	if m := datePattern.FindStringSubmatch(spec); m != nil {
		return buildMatcher(`\d{4}-\d{2}-\d{2}`, 0, m[1] != ""), nil
	}
	if m := durationPattern.FindStringSubmatch(spec); m != nil {
		return buildMatcher(`\d{2}:\d{2}:\d{2}|24h\+`, 0, m[1] != ""), nil
	}
	if m := rePattern.FindStringSubmatch(spec); m != nil {
		re, err := regexp.Compile("^(?:" + m[1] + ")$")
		if err != nil {
			return partMatcher{}, &ArgumentError{Detail: "Bad regex provided for argument. Argument: " + name + ": " + err.Error()}
		}
		return partMatcher{re: re}, nil
	}

	return partMatcher{}, &ArgumentError{Detail: "Bad values provided for argument. Must be int(length), float(length,decimal_places), str(max_chars_length), DateAndTimeStamp(ISO 8601), DurationStamp(ISO 8601), DateStamp(ISO 8601), own regex pattern i.e. re(my_pattern) or list. Argument: " + name}
}

// buildMatcher anchors body and, when offAllowed, adds the literal "OFF"
// alternative per spec's trailing ",OFF" modifier. maxLen enforces the
// total-length bound that Go's RE2 engine cannot express as a lookahead
// (unlike the Python source's `(?=.{1,length}$)`); see SPEC_FULL.md.
func buildMatcher(body string, maxLen int, offAllowed bool) partMatcher {
	return partMatcher{
		re:         regexp.MustCompile("^(?:" + body + ")$"),
		maxLen:     maxLen,
		offAllowed: offAllowed,
	}
}

// Validate checks commandText against the compiled template table: among
// templates whose arity ('^'-count) matches, the first declared template
// whose parts all match wins. No match is a *CommandError.
func (g *Grammar) Validate(commandText string) error {
	parts := strings.Split(commandText, "^")
	for _, t := range g.templates {
		if len(parts) != len(t.parts) { // arity mismatch ('^'-count)
			continue
		}
		if matchesAll(t.parts, parts) {
			return nil
		}
	}
	return &CommandError{Command: commandText}
}

func matchesAll(matchers []partMatcher, parts []string) bool {
	for i, m := range matchers {
		if !m.match(parts[i]) {
			return false
		}
	}
	return true
}

// Templates exposes the compiled templates in declaration order, for the
// loopback transport's command-table matching (it needs head+arity lookup
// and the configured response field, not just pass/fail validation).
func (g *Grammar) Templates() []CompiledTemplateView {
	out := make([]CompiledTemplateView, len(g.templates))
	for i, t := range g.templates {
		out[i] = CompiledTemplateView{
			Template: t.Template,
			Response: t.Response,
			Head:     t.Head,
			Args:     t.Args,
		}
	}
	return out
}

// Argument returns the raw argument descriptor for name, for the loopback
// transport's random-value synthesis.
func (g *Grammar) Argument(name string) (ArgumentSpec, bool) {
	a, ok := g.arguments[name]
	return a, ok
}

// CompiledTemplateView is the read-only view of a compiled template exposed
// to callers outside this package (the loopback transport).
type CompiledTemplateView struct {
	Template string
	Response string
	Head     string
	Args     []string
}
