package policyopa

import "github.com/open-policy-agent/opa/ast"

// allowedBuiltins is the deterministic subset a policy bundle may use. Time,
// network, and randomness builtins are excluded so the same input always
// yields the same decision.
var allowedBuiltins = map[string]struct{}{
	"eq":                {},
	"equal":             {},
	"neq":               {},
	"lt":                {},
	"lte":               {},
	"gt":                {},
	"gte":               {},
	"count":             {},
	"sort":              {},
	"sum":               {},
	"max":               {},
	"min":               {},
	"concat":            {},
	"contains":          {},
	"startswith":        {},
	"endswith":          {},
	"lower":             {},
	"upper":             {},
	"trim":              {},
	"trim_space":        {},
	"split":             {},
	"sprintf":           {},
	"format_int":        {},
	"to_number":         {},
	"object.get":        {},
	"object.keys":       {},
	"array.concat":      {},
	"array.slice":       {},
	"internal.member_2": {},
	"internal.member_3": {},
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	out := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if builtin == nil {
			continue
		}
		if _, ok := allowedBuiltins[builtin.Name]; ok {
			out = append(out, builtin)
		}
	}
	return out
}
