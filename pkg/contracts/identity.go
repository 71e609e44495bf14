package contracts

// AgentIdentity binds an agent's stable identifier to its DID and
// signing key. ParentID names the agent it forked from, when any.
type AgentIdentity struct {
	AgentID   string `json:"agent_id"`
	DID       string `json:"did"`
	PublicKey string `json:"public_key"`
	ParentID  string `json:"parent_id,omitempty"`
}
