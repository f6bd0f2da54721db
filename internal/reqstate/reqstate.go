// Package reqstate defines the per-request state threaded through the
// authentication, routing, and subagent pipeline (spec.md §9 "Dynamic
// request-object extension"): a single struct with explicit optional
// fields instead of attaching ad-hoc properties to the request as the
// original does.
package reqstate

// AuthType is the credential kind attached to a request by the
// authentication pipeline (spec.md §4.5).
type AuthType string

const (
	AuthNone        AuthType = ""
	AuthClientOAuth AuthType = "client-oauth"
	AuthCCROAuth    AuthType = "ccr-oauth"
	AuthAPIKey      AuthType = "api-key"
)

// SubagentMarkers is the parsed content of the <CCR-SUBAGENT-*> tags found
// in system[1].text (spec.md §4.5 step 4).
type SubagentMarkers struct {
	RouterName string
	ModelName  string
}

// State is attached to every inbound request as it flows through the
// pipeline (spec.md §3 "Attached per-request state").
type State struct {
	AuthToken string
	AuthType  AuthType

	SessionID string

	Agents []string

	SubagentMarkers *SubagentMarkers

	IsOAuthPassthrough bool
	OAuthRequestType   string
	OAuthConfidence    float64

	SelectedAPIKey string

	ResolvedProvider string
	ResolvedModel    string
}

// New returns a zero-value State ready to be threaded through the pipeline.
func New() *State {
	return &State{}
}
