package model

import (
	"fmt"
	"strings"
)

// AgentJVM identifies one monitored JVM. It is comparable and used as a map
// key across the engine.
type AgentJVM struct {
	AccountID string `json:"account_id"`
	AgentID   string `json:"agent_id"`
	JVMID     string `json:"jvm_id"`
}

// String renders the identity as account/agent/jvm.
func (a AgentJVM) String() string {
	return a.AccountID + "/" + a.AgentID + "/" + a.JVMID
}

// Validate reports whether all three identity fields are set.
func (a AgentJVM) Validate() error {
	switch {
	case a.AccountID == "":
		return fmt.Errorf("account_id cannot be empty")
	case a.AgentID == "":
		return fmt.Errorf("agent_id cannot be empty")
	case a.JVMID == "":
		return fmt.Errorf("jvm_id cannot be empty")
	}
	return nil
}

// ParseAgentJVM parses the account/agent/jvm form produced by String.
func ParseAgentJVM(s string) (AgentJVM, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 3 {
		return AgentJVM{}, fmt.Errorf("invalid agent jvm %q: expected account/agent/jvm", s)
	}
	id := AgentJVM{AccountID: parts[0], AgentID: parts[1], JVMID: parts[2]}
	if err := id.Validate(); err != nil {
		return AgentJVM{}, fmt.Errorf("invalid agent jvm %q: %w", s, err)
	}
	return id, nil
}
