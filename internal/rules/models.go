package rules

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// ConditionType selects the predicate evaluator for a condition.
type ConditionType string

// Built-in condition types.
const (
	TypeRole             ConditionType = "role"
	TypeLoggedIn         ConditionType = "logged_in"
	TypeUserMeta         ConditionType = "user_meta"
	TypeCountry          ConditionType = "country"
	TypeCity             ConditionType = "city"
	TypeIPAddress        ConditionType = "ip_address"
	TypeDeviceType       ConditionType = "device_type"
	TypeBrowser          ConditionType = "browser"
	TypeOS               ConditionType = "os"
	TypeDateRange        ConditionType = "date_range"
	TypeDayOfWeek        ConditionType = "day_of_week"
	TypeTimeRange        ConditionType = "time_range"
	TypePageType         ConditionType = "page_type"
	TypeURLParameter     ConditionType = "url_parameter"
	TypeReferrer         ConditionType = "referrer"
	TypeCartTotal        ConditionType = "cart_total"
	TypeCartItems        ConditionType = "cart_items"
	TypePurchasedProduct ConditionType = "purchased_product"
	TypeCookie           ConditionType = "cookie"
	TypeSession          ConditionType = "session"
	TypeABTest           ConditionType = "ab_test"
	TypeCustomCode       ConditionType = "custom_code"
)

// Operator is the per-condition comparison operator.
type Operator string

// Supported condition operators (string values match the stored JSON).
const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpContains    Operator = "contains"
	OpExists      Operator = "exists"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
)

// Combinator joins every condition of a set. There is no nesting.
type Combinator string

const (
	CombineAnd Combinator = "AND"
	CombineOr  Combinator = "OR"
)

// Normalize maps a stored operator string onto AND or OR.
// Empty means AND; anything that is not AND is treated as OR, matching
// how legacy records were evaluated.
func (c Combinator) Normalize() Combinator {
	s := strings.ToUpper(strings.TrimSpace(string(c)))
	if s == "" || s == string(CombineAnd) {
		return CombineAnd
	}
	return CombineOr
}

// ID is an opaque identifier. Legacy records store integers, newer ones
// strings; both decode into the same type.
type ID string

// UnmarshalJSON accepts JSON strings and numbers.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// Condition is one configured predicate instance.
// It is never mutated during evaluation.
type Condition struct {
	ID        ID            `json:"id,omitempty" yaml:"id,omitempty"`
	Type      ConditionType `json:"type" yaml:"type"`
	Operator  Operator      `json:"operator,omitempty" yaml:"operator,omitempty"`
	Value     any           `json:"value,omitempty" yaml:"value,omitempty"`
	Parameter string        `json:"parameter,omitempty" yaml:"parameter,omitempty"`
	StartDate string        `json:"start_date,omitempty" yaml:"start_date,omitempty"`
	EndDate   string        `json:"end_date,omitempty" yaml:"end_date,omitempty"`
}

// OperatorOrDefault returns the condition operator, defaulting to equals.
func (c Condition) OperatorOrDefault() Operator {
	if c.Operator == "" {
		return OpEquals
	}
	return Operator(strings.ToLower(string(c.Operator)))
}

// ConditionSet is an ordered list of conditions joined by one combinator.
type ConditionSet struct {
	Conditions []Condition `json:"conditions" yaml:"conditions"`
	Operator   Combinator  `json:"operator,omitempty" yaml:"operator,omitempty"`
}

// Variant is a content payload guarded by its conditions.
// The combinator comes from the owning Definition, not from the variant.
type Variant struct {
	ID         ID          `json:"id,omitempty" yaml:"id,omitempty"`
	Content    string      `json:"content" yaml:"content"`
	Conditions []Condition `json:"conditions" yaml:"conditions"`
}

// Definition is one piece of dynamic content.
//
// Variants order is significant: the first variant whose conditions hold wins.
// A nil Variants slice means the record has no usable variant list and the
// raw content is served verbatim.
type Definition struct {
	ID             string     `json:"id" yaml:"id"`
	Variants       []Variant  `json:"variants" yaml:"variants"`
	DefaultContent string     `json:"defaultContent" yaml:"defaultContent"`
	Operator       Combinator `json:"conditionOperator,omitempty" yaml:"conditionOperator,omitempty"`
	RawContent     string     `json:"rawContent,omitempty" yaml:"rawContent,omitempty"`
	UpdatedAt      time.Time  `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`

	malformed bool
}

// Malformed reports whether the variant list was absent or not a list when decoded.
func (d *Definition) Malformed() bool {
	return d.malformed || d.Variants == nil
}

// definitionWire mirrors Definition with a raw variants field.
type definitionWire struct {
	ID             string          `json:"id"`
	Variants       json.RawMessage `json:"variants"`
	DefaultContent string          `json:"defaultContent"`
	Operator       Combinator      `json:"conditionOperator"`
	RawContent     string          `json:"rawContent"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// UnmarshalJSON decodes a definition, tolerating a variants field that is
// not a list. Such records decode with Variants == nil.
func (d *Definition) UnmarshalJSON(data []byte) error {
	var w definitionWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*d = Definition{
		ID:             w.ID,
		DefaultContent: w.DefaultContent,
		Operator:       w.Operator,
		RawContent:     w.RawContent,
		UpdatedAt:      w.UpdatedAt,
	}

	raw := bytes.TrimSpace(w.Variants)
	if len(raw) == 0 || raw[0] != '[' {
		d.malformed = len(raw) > 0
		return nil
	}
	var variants []Variant
	if err := json.Unmarshal(raw, &variants); err != nil {
		d.malformed = true
		return nil
	}
	if variants == nil {
		variants = []Variant{}
	}
	d.Variants = variants
	return nil
}

// ExperimentIDs returns the distinct ab_test ids referenced by the definition,
// in first-seen order.
func (d *Definition) ExperimentIDs() []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, v := range d.Variants {
		for _, c := range v.Conditions {
			if c.Type != TypeABTest || c.Parameter == "" {
				continue
			}
			if _, ok := seen[c.Parameter]; ok {
				continue
			}
			seen[c.Parameter] = struct{}{}
			ids = append(ids, c.Parameter)
		}
	}
	return ids
}
