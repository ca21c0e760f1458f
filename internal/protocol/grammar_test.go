package protocol

import "testing"

func compileOrFatal(t *testing.T, templates []CommandTemplate, args map[string]ArgumentSpec) *Grammar {
	t.Helper()
	g, err := Compile(templates, args)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	return g
}

// TestGrammarClosure is spec.md §8 property 3: values satisfying an
// argument's spec validate, values outside it do not.
func TestGrammarClosure(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{{Template: "DRUG_LIB^<QUANTITY>^<LABEL>", Response: "DRUG_LIB^<QUANTITY>^<LABEL>"}},
		map[string]ArgumentSpec{
			"<QUANTITY>": {Spec: "int(2)"},
			"<LABEL>":    {Spec: "str(4)"},
		},
	)
	ok := []string{"DRUG_LIB^1^a", "DRUG_LIB^99^abcd"}
	bad := []string{"DRUG_LIB^100^a", "DRUG_LIB^1^abcde", "DRUG_LIB^1^a^b", "DRUG_LIB^a^a"}

	for _, c := range ok {
		if err := g.Validate(c); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", c, err)
		}
	}
	for _, c := range bad {
		if err := g.Validate(c); err == nil {
			t.Errorf("Validate(%q) = nil, want a *CommandError", c)
		}
	}
}

func TestGrammarOffModifier(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{{Template: "SET^<RATE>", Response: "SET^<RATE>"}},
		map[string]ArgumentSpec{"<RATE>": {Spec: "int(3),OFF"}},
	)
	for _, c := range []string{"SET^1", "SET^999", "SET^OFF"} {
		if err := g.Validate(c); err != nil {
			t.Errorf("Validate(%q) = %v, want nil", c, err)
		}
	}
	if err := g.Validate("SET^1000"); err == nil {
		t.Error("Validate(SET^1000) = nil, want error (exceeds int(3))")
	}
}

func TestGrammarLiteralList(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{{Template: "MODE^<M>", Response: "MODE^<M>"}},
		map[string]ArgumentSpec{"<M>": {Values: []string{"RUN", "STOP", "PAUSE"}}},
	)
	if err := g.Validate("MODE^RUN"); err != nil {
		t.Errorf("Validate(MODE^RUN) = %v, want nil", err)
	}
	if err := g.Validate("MODE^WALK"); err == nil {
		t.Error("Validate(MODE^WALK) = nil, want error")
	}
}

func TestGrammarCustomRegex(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{{Template: "ID^<SERIAL>", Response: "ID^<SERIAL>"}},
		map[string]ArgumentSpec{"<SERIAL>": {Spec: "re([A-Z]{2}\\d{4})"}},
	)
	if err := g.Validate("ID^AB1234"); err != nil {
		t.Errorf("Validate(ID^AB1234) = %v, want nil", err)
	}
	if err := g.Validate("ID^ab1234"); err == nil {
		t.Error("Validate(ID^ab1234) = nil, want error (case mismatch)")
	}
}

func TestGrammarDateAndDurationSpecs(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{{Template: "SCHEDULE^<AT>^<FOR>", Response: "SCHEDULE^<AT>^<FOR>"}},
		map[string]ArgumentSpec{
			"<AT>":  {Spec: "DateAndTimeStamp"},
			"<FOR>": {Spec: "DurationStamp"},
		},
	)
	if err := g.Validate("SCHEDULE^2024-01-02T03:04:05^24h+"); err != nil {
		t.Errorf("Validate: %v", err)
	}
	if err := g.Validate("SCHEDULE^not-a-date^00:00:00"); err == nil {
		t.Error("Validate with malformed date = nil, want error")
	}
}

func TestGrammarUnknownPlaceholderIsConfigError(t *testing.T) {
	_, err := Compile([]CommandTemplate{{Template: "X^<MISSING>"}}, nil)
	if _, ok := err.(*ConfigError); !ok {
		t.Fatalf("got %T, want *ConfigError", err)
	}
}

func TestGrammarBadArgumentSpecIsArgumentError(t *testing.T) {
	_, err := Compile(
		[]CommandTemplate{{Template: "X^<A>"}},
		map[string]ArgumentSpec{"<A>": {Spec: "not-a-real-spec"}},
	)
	if _, ok := err.(*ArgumentError); !ok {
		t.Fatalf("got %T, want *ArgumentError", err)
	}
}

// TestGrammarFirstDeclaredTemplateWins covers spec.md §4.4's tie-break rule.
func TestGrammarFirstDeclaredTemplateWins(t *testing.T) {
	g := compileOrFatal(t,
		[]CommandTemplate{
			{Template: "X^<A>", Response: "FIRST"},
			{Template: "X^<A>", Response: "SECOND"},
		},
		map[string]ArgumentSpec{"<A>": {Spec: "int(2)"}},
	)
	views := g.Templates()
	if views[0].Response != "FIRST" {
		t.Fatalf("declaration order not preserved: %+v", views)
	}
}
