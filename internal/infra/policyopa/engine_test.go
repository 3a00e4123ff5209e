package policyopa

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"keystone/internal/domain"
)

func TestEngineDeterministic(t *testing.T) {
	engine := newEngine(t)
	input := domain.PolicyInput{Role: "security_admin", Action: domain.PolicyActionAuditRead}

	first, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate first: %v", err)
	}
	second, err := engine.Evaluate(context.Background(), input)
	if err != nil {
		t.Fatalf("evaluate second: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected deterministic policy evaluation")
	}
	if !first.Result.Allow {
		t.Fatalf("expected allow for security_admin")
	}
	if len(first.Result.Deny) != 0 {
		t.Fatalf("expected empty deny list")
	}
	if first.BundleHash == "" {
		t.Fatalf("expected bundle hash to be set")
	}
}

func TestEnginePolicyDenies(t *testing.T) {
	engine := newEngine(t)

	tests := []struct {
		name  string
		input domain.PolicyInput
		want  []string
	}{
		{
			name:  "unknown role",
			input: domain.PolicyInput{Role: "service", Action: domain.PolicyActionAuditRead},
			want:  []string{"ROLE_NOT_AUTHORIZED"},
		},
		{
			name:  "unknown action",
			input: domain.PolicyInput{Role: "auditor", Action: "keys:write"},
			want:  []string{"UNKNOWN_ACTION"},
		},
		{
			name:  "unknown role and action",
			input: domain.PolicyInput{Role: "intern", Action: "keys:write"},
			want:  []string{"ROLE_NOT_AUTHORIZED", "UNKNOWN_ACTION"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := engine.Evaluate(context.Background(), tt.input)
			if err != nil {
				t.Fatalf("evaluate: %v", err)
			}
			if out.Result.Allow {
				t.Fatalf("expected deny")
			}
			got := denyCodes(out.Result.Deny)
			for _, code := range tt.want {
				if !got[code] {
					t.Fatalf("expected deny code %s, got %v", code, out.Result.Deny)
				}
			}
			if tt.name == "unknown role and action" {
				if !reflect.DeepEqual(tt.want, denyOrder(out.Result.Deny)) {
					t.Fatalf("expected deterministic deny ordering, got %v", denyOrder(out.Result.Deny))
				}
			}
		})
	}
}

func TestEngineAllowsComplianceRead(t *testing.T) {
	engine := newEngine(t)
	for _, role := range []string{"security_admin", "auditor", "compliance_officer"} {
		out, err := engine.Evaluate(context.Background(), domain.PolicyInput{
			Role:   role,
			Action: domain.PolicyActionComplianceRead,
		})
		if err != nil {
			t.Fatalf("evaluate %s: %v", role, err)
		}
		if !out.Result.Allow {
			t.Fatalf("expected allow for %s", role)
		}
	}
}

func TestEngineRejectsTimeBuiltin(t *testing.T) {
	rejectBuiltin(t, "time.now_ns()")
}

func TestEngineRejectsHttpSend(t *testing.T) {
	rejectBuiltin(t, "http.send({\"method\": \"get\", \"url\": \"https://example.com\"})")
}

func TestEngineRejectsRand(t *testing.T) {
	rejectBuiltin(t, "rand.intn(10)")
}

func rejectBuiltin(t *testing.T, expr string) {
	t.Helper()
	dir := t.TempDir()
	regoContent := `package keystone.audit
result := {"allow": true, "deny": []} {
  ` + expr + `
}`
	if err := os.WriteFile(filepath.Join(dir, "policy.rego"), []byte(regoContent), 0o644); err != nil {
		t.Fatalf("write rego: %v", err)
	}

	_, err := NewEngineFromBundlePath(context.Background(), dir, "test")
	if err == nil {
		t.Fatalf("expected builtin to be rejected")
	}
}

func newEngine(t *testing.T) *Engine {
	t.Helper()
	path := filepath.Join("..", "..", "..", "policy", "bundles", "audit_v1")
	engine, err := NewEngineFromBundlePath(context.Background(), path, "audit_v1")
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return engine
}

func denyCodes(deny []domain.PolicyDeny) map[string]bool {
	out := make(map[string]bool, len(deny))
	for _, item := range deny {
		out[item.Code] = true
	}
	return out
}

func denyOrder(deny []domain.PolicyDeny) []string {
	out := make([]string, 0, len(deny))
	for _, item := range deny {
		out = append(out, item.Code)
	}
	return out
}
