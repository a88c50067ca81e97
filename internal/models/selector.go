package models

// Selector (RunOn) is a tagged variant describing how to resolve a set of
// Targets. Exactly one of the four fields is expected to be populated by a
// well-formed client, but the Validator iterates over whichever are set
// (in the fixed order below) rather than rejecting the others outright —
// this keeps resolution a pure function of what is present.
type Selector struct {
	ProbeSerials []string `json:"probe_serials,omitempty"`
	ProbeAliases []string `json:"probe_aliases,omitempty"`
	Targets      []string `json:"targets,omitempty"` // target_names in the distilled spec's selector variant list
	Groups       []string `json:"groups,omitempty"`
}

// SelectorVariant pairs a variant name (as it appears in an entry-path) with
// its ordered list of identifiers.
type SelectorVariant struct {
	Name        string
	Identifiers []string
}

// Variants returns the populated variants of the selector in canonical order:
// probe_serials, probe_aliases, targets, groups. Empty variants are omitted.
func (s Selector) Variants() []SelectorVariant {
	var out []SelectorVariant
	if len(s.ProbeSerials) > 0 {
		out = append(out, SelectorVariant{Name: "probe_serials", Identifiers: s.ProbeSerials})
	}
	if len(s.ProbeAliases) > 0 {
		out = append(out, SelectorVariant{Name: "probe_aliases", Identifiers: s.ProbeAliases})
	}
	if len(s.Targets) > 0 {
		out = append(out, SelectorVariant{Name: "targets", Identifiers: s.Targets})
	}
	if len(s.Groups) > 0 {
		out = append(out, SelectorVariant{Name: "groups", Identifiers: s.Groups})
	}
	return out
}

// Empty reports whether the selector carries no identifiers at all.
func (s Selector) Empty() bool {
	return len(s.Variants()) == 0
}
