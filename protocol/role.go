package protocol

import (
	"encoding/json"
	"fmt"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleAssistant Role = "assistant"
	RoleUser      Role = "user"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleAssistant, RoleUser:
		return true
	}
	return false
}

// MarshalJSON rejects roles outside the enum so they never reach the wire.
func (r Role) MarshalJSON() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("unknown role %q", string(r))
	}
	return json.Marshal(string(r))
}

// UnmarshalJSON accepts only the camel-case role names.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("role must be a string: %w", err)
	}
	role := Role(s)
	if !role.Valid() {
		return fmt.Errorf("unknown role %q", s)
	}
	*r = role
	return nil
}
