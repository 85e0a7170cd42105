package model

// Agent is a portal login profile. The password is never stored here; it
// lives in the secret store keyed by the agent name.
type Agent struct {
	Name     string `json:"name"`
	Username string `json:"username"`
}
