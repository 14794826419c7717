// Package nlhint parses operator-supplied, natural-language-adjacent cap
// hints (e.g. "no more than 500.00 USD a day to marketing vendors") into
// non-binding AdvisoryHint values consumed by internal/policy's Engine.
// Output here is advisory only: the Immutable Hard-Cap Layer always sits
// after and dominates whatever this package produces (spec §4.1, §9).
//
// Expression parsing is delegated to github.com/google/cel-go, adopted
// from the governance/policy packages of the wider example pack: CEL's
// read-only expression evaluation is a good fit for a parser whose
// output must never gain write access to a hard cap.
package nlhint

import (
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
)

// AdvisoryHint is the non-authoritative suggestion emitted by this
// package. RelaxesHardCap is set when the parsed expression would, if
// honored, raise a cap above the snapshot's immutable value — the Engine
// always rejects and logs these as policy.nl_overreach rather than apply
// them.
type AdvisoryHint struct {
	RawText        string
	SuggestedCapMinor int64
	Currency       string
	RelaxesHardCap bool
}

// Parser evaluates the fixed CEL expression
// `hinted_cap_minor > existing_hard_cap_minor` against a cap value that
// an upstream extraction step has already pulled out of the hint (spec
// §1: the NL parser itself is outside the core; this package only
// evaluates its structured output). The hint text is carried through as
// RawText and is not parsed here.
type Parser struct {
	env *cel.Env
}

// NewParser builds a Parser with the declarations needed to evaluate
// cap-hint expressions.
func NewParser() (*Parser, error) {
	env, err := cel.NewEnv(
		cel.Variable("existing_hard_cap_minor", cel.IntType),
		cel.Variable("hinted_cap_minor", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("nlhint: build cel env: %w", err)
	}
	return &Parser{env: env}, nil
}

// Evaluate checks whether hintedCapMinor, extracted from rawText, would
// relax existingHardCapMinor. It never mutates either value; it only
// classifies the hint for the Engine to log and drop if it overreaches.
func (p *Parser) Evaluate(rawText string, hintedCapMinor, existingHardCapMinor int64, currency string) (AdvisoryHint, error) {
	ast, issues := p.env.Compile("hinted_cap_minor > existing_hard_cap_minor")
	if issues != nil && issues.Err() != nil {
		return AdvisoryHint{}, fmt.Errorf("nlhint: compile: %w", issues.Err())
	}
	program, err := p.env.Program(ast)
	if err != nil {
		return AdvisoryHint{}, fmt.Errorf("nlhint: program: %w", err)
	}
	out, _, err := program.Eval(map[string]any{
		"hinted_cap_minor":        hintedCapMinor,
		"existing_hard_cap_minor": existingHardCapMinor,
	})
	if err != nil {
		return AdvisoryHint{}, fmt.Errorf("nlhint: eval: %w", err)
	}
	relaxes := asBool(out)
	return AdvisoryHint{
		RawText:           strings.TrimSpace(rawText),
		SuggestedCapMinor: hintedCapMinor,
		Currency:          strings.ToUpper(strings.TrimSpace(currency)),
		RelaxesHardCap:    relaxes,
	}, nil
}

func asBool(v ref.Val) bool {
	b, ok := v.Value().(bool)
	return ok && b
}
