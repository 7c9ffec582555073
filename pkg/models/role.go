package models

// Condition is a simple attribute predicate evaluated against a request
// context. There is no expression language: Equals requires the named
// context field to equal the given value, In requires it to be one of
// the listed values. All clauses must hold for the condition to pass.
type Condition struct {
	Equals map[string]any   `json:"equals,omitempty" yaml:"equals,omitempty"`
	In     map[string][]any `json:"in,omitempty" yaml:"in,omitempty"`
}

// Empty returns true if the condition has no clauses.
func (c *Condition) Empty() bool {
	return c == nil || (len(c.Equals) == 0 && len(c.In) == 0)
}

// Permission grants an action on a resource. Resource and Action are
// patterns: "*" matches one path segment, a trailing "**" matches any
// suffix. An optional Condition restricts the grant to matching contexts.
type Permission struct {
	Resource  string     `json:"resource" yaml:"resource"`
	Action    string     `json:"action" yaml:"action"`
	Condition *Condition `json:"condition,omitempty" yaml:"condition,omitempty"`
}

// RoleDefinition is a named set of permissions plus parent roles whose
// permissions are inherited. The parent graph should be acyclic; the
// engine tolerates cycles during resolution but they are a definition
// error.
type RoleDefinition struct {
	ID          string       `json:"id" yaml:"id"`
	Name        string       `json:"name" yaml:"name"`
	Permissions []Permission `json:"permissions" yaml:"permissions"`
	ParentRoles []string     `json:"parent_roles,omitempty" yaml:"parent_roles,omitempty"`
}

// PermissionResult is the outcome of a permission check. Denial is the
// absence of a matching permission, never an explicit deny rule.
type PermissionResult struct {
	Granted bool        `json:"granted"`
	Reason  string      `json:"reason,omitempty"`
	Matched *Permission `json:"matched_permission,omitempty"`
}
