// Package mapping turns submitted form answers into CRM attributes.
package mapping

import (
	"fmt"
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/pandeptwidyaop/leadflow/internal/db/models"
	"github.com/pandeptwidyaop/leadflow/internal/server/routing"
)

// Attribute names the materializer understands.
const (
	AttrEmail     = "email"
	AttrPhone     = "phone"
	AttrFullName  = "full_name"
	AttrFirstName = "first_name"
	AttrLastName  = "last_name"
	AttrCity      = "city"
	AttrCompany   = "company"
	AttrJobTitle  = "job_title"
)

// Transform names.
const (
	TransformTrim      = "trim"
	TransformLowercase = "lowercase"
	TransformUppercase = "uppercase"
	TransformTitlecase = "titlecase"
	TransformPhone     = "phone"
)

// Diagnostic reasons.
const (
	ReasonNoFieldMapping   = "no field mapping"
	ReasonUnknownTransform = "unknown transform"
	ReasonTargetAlreadySet = "target already set"
)

// Diagnostic describes a field that was not mapped cleanly.
type Diagnostic struct {
	SourceKey string `json:"source_key"`
	Reason    string `json:"reason"`
	Detail    string `json:"detail,omitempty"`
}

// Result is the outcome of mapping one lead.
type Result struct {
	Attributes map[string]string `json:"attributes"`
	Unmapped   []Diagnostic      `json:"unmapped"`
}

var defaultMappings = []routing.Mapping{
	{SourceKey: "email", TargetAttribute: AttrEmail, Transform: TransformLowercase},
	{SourceKey: "phone_number", TargetAttribute: AttrPhone, Transform: TransformPhone},
	{SourceKey: "phone", TargetAttribute: AttrPhone, Transform: TransformPhone},
	{SourceKey: "full_name", TargetAttribute: AttrFullName, Transform: TransformTrim},
	{SourceKey: "first_name", TargetAttribute: AttrFirstName, Transform: TransformTrim},
	{SourceKey: "last_name", TargetAttribute: AttrLastName, Transform: TransformTrim},
	{SourceKey: "city", TargetAttribute: AttrCity, Transform: TransformTrim},
	{SourceKey: "company_name", TargetAttribute: AttrCompany, Transform: TransformTrim},
	{SourceKey: "job_title", TargetAttribute: AttrJobTitle, Transform: TransformTrim},
}

// DefaultMappings returns the built-in mappings applied to every route.
func DefaultMappings() []routing.Mapping {
	out := make([]routing.Mapping, len(defaultMappings))
	copy(out, defaultMappings)
	return out
}

// NormalizeKey is the form keys are compared in.
func NormalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

// Map applies the built-in mappings overlaid with the tenant's. A tenant
// mapping replaces the default for the same source key. When several source
// keys feed one attribute, the first non-empty value in field order wins and
// each later value is reported as a diagnostic.
func Map(fields []models.FieldValue, tenant []routing.Mapping) Result {
	table := make(map[string]routing.Mapping, len(defaultMappings)+len(tenant))
	for _, m := range defaultMappings {
		table[NormalizeKey(m.SourceKey)] = m
	}
	for _, m := range tenant {
		key := NormalizeKey(m.SourceKey)
		if key == "" || strings.TrimSpace(m.TargetAttribute) == "" {
			continue
		}
		table[key] = m
	}

	res := Result{
		Attributes: make(map[string]string),
		Unmapped:   make([]Diagnostic, 0),
	}

	for _, field := range fields {
		key := NormalizeKey(field.Name)
		m, ok := table[key]
		if !ok {
			res.Unmapped = append(res.Unmapped, Diagnostic{SourceKey: field.Name, Reason: ReasonNoFieldMapping})
			continue
		}

		value, known := ApplyTransform(m.Transform, JoinValues(field.Values))
		if !known {
			res.Unmapped = append(res.Unmapped, Diagnostic{
				SourceKey: field.Name,
				Reason:    ReasonUnknownTransform,
				Detail:    fmt.Sprintf("transform %q is not supported", m.Transform),
			})
		}
		if value == "" {
			continue
		}

		target := strings.TrimSpace(m.TargetAttribute)
		if _, exists := res.Attributes[target]; exists {
			res.Unmapped = append(res.Unmapped, Diagnostic{
				SourceKey: field.Name,
				Reason:    ReasonTargetAlreadySet,
				Detail:    fmt.Sprintf("%s already set by an earlier field", target),
			})
			continue
		}
		res.Attributes[target] = value
	}

	return res
}

// JoinValues flattens a multi-value answer.
func JoinValues(values []string) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, ", ")
}

// ApplyTransform runs the named transform. Every transform trims. An unknown
// name returns the trimmed value and false.
func ApplyTransform(name, value string) (string, bool) {
	value = strings.TrimSpace(value)

	switch NormalizeKey(name) {
	case "", TransformTrim:
		return value, true
	case TransformLowercase:
		return strings.ToLower(value), true
	case TransformUppercase:
		return strings.ToUpper(value), true
	case TransformTitlecase:
		return cases.Title(language.Und).String(value), true
	case TransformPhone:
		return NormalizePhone(value), true
	default:
		return value, false
	}
}

// NormalizePhone keeps digits and a leading plus sign.
func NormalizePhone(value string) string {
	value = strings.TrimSpace(value)

	var b strings.Builder
	for i, r := range value {
		if r == '+' && i == 0 {
			b.WriteRune(r)
			continue
		}
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}

	out := b.String()
	if out == "+" {
		return ""
	}
	return out
}
