package domain

// PolicyInput is the document evaluated by the audit access policy.
type PolicyInput struct {
	Role   string `json:"role"`
	Action string `json:"action"`
}

// Actions gated by the audit access policy.
const (
	PolicyActionAuditRead      = "audit:read"
	PolicyActionComplianceRead = "compliance:read"
)

type PolicyDeny struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PolicyResult struct {
	Allow bool         `json:"allow"`
	Deny  []PolicyDeny `json:"deny"`
}

// PolicyEvaluation carries the decision plus the identity of the bundle that
// produced it, so access decisions are attributable to a policy version.
type PolicyEvaluation struct {
	BundleID   string       `json:"bundle_id"`
	BundleHash string       `json:"bundle_hash"`
	Result     PolicyResult `json:"result"`
}
