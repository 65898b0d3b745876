package contracts

// RuleCondition selects what a routing rule inspects.
type RuleCondition string

const (
	ConditionFieldValue     RuleCondition = "field_value"
	ConditionSignerDeclined RuleCondition = "signer_declined"
)

// RuleOperator compares a field's current value against the rule value.
type RuleOperator string

const (
	OpEq       RuleOperator = "eq"
	OpNeq      RuleOperator = "neq"
	OpGt       RuleOperator = "gt"
	OpLt       RuleOperator = "lt"
	OpContains RuleOperator = "contains"
	OpEmpty    RuleOperator = "empty"
)

// ActionType is what a matched rule does to the signer sequence.
type ActionType string

const (
	ActionContinue  ActionType = "continue"
	ActionAddSigner ActionType = "add_signer"
	ActionRouteTo   ActionType = "route_to"
)

// Action is the outcome of routing-rule evaluation, with its parameters.
type Action struct {
	Type  ActionType `json:"type"`
	Email string     `json:"email,omitempty"` // add_signer
	Role  string     `json:"role,omitempty"`  // add_signer
	Order int        `json:"order,omitempty"` // route_to
}

// Continue is the default action when no rule matches.
func Continue() Action { return Action{Type: ActionContinue} }

// RoutingRule is a conditional policy that alters the signer sequence.
// Rules are evaluated in declared order; the first satisfied rule wins.
type RoutingRule struct {
	Condition RuleCondition `json:"condition"`
	FieldID   string        `json:"field_id,omitempty"`
	Operator  RuleOperator  `json:"operator,omitempty"`
	Value     string        `json:"value,omitempty"`
	Action    Action        `json:"action"`
}
