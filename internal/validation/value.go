package validation

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/animus-labs/analyses-go/internal/domain"
)

// CheckValue validates a present value against the definition's constraints:
// kind, inclusive numeric bounds and choice membership. List elements are
// checked individually against the element kind.
func CheckValue(def domain.Definition, value domain.Value) error {
	issues := &Error{}
	checkValue(issues, def, value, def.Key)
	return issues.OrNil()
}

func checkValue(issues *Error, def domain.Definition, value domain.Value, label string) {
	if value.Kind != def.Kind {
		issues.Add(CodeTypeMismatch, label, fmt.Sprintf("expected %s, got %s", def.Kind, value.Kind))
		return
	}
	switch def.Kind {
	case domain.KindInteger, domain.KindFloat:
		n, _ := value.Number()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			issues.Add(CodeOutOfRange, label, "value must be a finite number")
			return
		}
		if def.Min != nil && n < *def.Min {
			issues.Add(CodeOutOfRange, label, fmt.Sprintf("%s is below minimum %g", value.String(), *def.Min))
		}
		if def.Max != nil && n > *def.Max {
			issues.Add(CodeOutOfRange, label, fmt.Sprintf("%s is above maximum %g", value.String(), *def.Max))
		}
	case domain.KindString:
		if def.HasChoices() && !def.Allows(value.Str) {
			issues.Add(CodeNotInChoices, label, fmt.Sprintf("%q is not one of [%s]", value.Str, strings.Join(def.Choices, ", ")))
		}
	case domain.KindList:
		elem := def.Element()
		for i, item := range value.List {
			checkValue(issues, elem, item, fmt.Sprintf("%s[%d]", label, i))
		}
	}
}

// Coerce converts a raw decoded value into a typed value for def.
func Coerce(def domain.Definition, raw any) (domain.Value, error) {
	v, err := domain.ValueFromInterface(def.Kind, def.ElementKind, raw)
	if err != nil {
		issues := &Error{}
		issues.Add(CodeTypeMismatch, def.Key, err.Error())
		return domain.Value{}, issues
	}
	return v, nil
}

// ResolveInputs fills unset keys from definition defaults, coerces and validates
// every value and rejects keys the specification does not declare. All issues
// are reported together; nothing is returned on failure.
func ResolveInputs(defs []domain.Definition, raw map[string]any) (domain.Configuration, error) {
	issues := &Error{}
	byKey := make(map[string]domain.Definition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}

	unknown := make([]string, 0)
	for key := range raw {
		if _, ok := byKey[key]; !ok {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		issues.Add(CodeUnknownKey, key, "not declared by the input specification")
	}

	out := make(domain.Configuration, len(defs))
	for _, def := range sortedDefinitions(defs) {
		value, present, err := resolveOne(def, raw)
		if err != nil {
			issues.Merge(def.Key, err)
			continue
		}
		if present {
			out[def.Key] = value
		}
	}
	if err := issues.OrNil(); err != nil {
		return nil, err
	}
	return out, nil
}

// ResolveOutputs validates executor results against the output specification.
// Keys the specification does not declare are returned separately instead of
// failing the run.
func ResolveOutputs(defs []domain.Definition, raw map[string]any) (domain.Configuration, []string, error) {
	issues := &Error{}
	byKey := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		byKey[def.Key] = struct{}{}
	}
	ignored := make([]string, 0)
	for key := range raw {
		if _, ok := byKey[key]; !ok {
			ignored = append(ignored, key)
		}
	}
	sort.Strings(ignored)

	out := make(domain.Configuration, len(defs))
	for _, def := range sortedDefinitions(defs) {
		value, present, err := resolveOne(def, raw)
		if err != nil {
			issues.Merge(def.Key, err)
			continue
		}
		if present {
			out[def.Key] = value
		}
	}
	if err := issues.OrNil(); err != nil {
		return nil, ignored, err
	}
	return out, ignored, nil
}

// CheckPartial validates the keys present in raw without enforcing
// required-ness. Used for fixed node configurations.
func CheckPartial(defs []domain.Definition, raw map[string]any) error {
	issues := &Error{}
	byKey := make(map[string]domain.Definition, len(defs))
	for _, def := range defs {
		byKey[def.Key] = def
	}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		def, ok := byKey[key]
		if !ok {
			issues.Add(CodeUnknownKey, key, "not declared by the input specification")
			continue
		}
		v, err := Coerce(def, raw[key])
		if err != nil {
			issues.Merge(key, err)
			continue
		}
		issues.Merge(key, CheckValue(def, v))
	}
	return issues.OrNil()
}

func resolveOne(def domain.Definition, raw map[string]any) (domain.Value, bool, error) {
	rawValue, ok := raw[def.Key]
	if ok && rawValue != nil {
		v, err := Coerce(def, rawValue)
		if err != nil {
			return domain.Value{}, false, err
		}
		if err := CheckValue(def, v); err != nil {
			return domain.Value{}, false, err
		}
		return v, true, nil
	}
	if def.Default != nil {
		return *def.Default, true, nil
	}
	if def.Required {
		issues := &Error{}
		issues.Add(CodeMissingRequiredValue, def.Key, "value is required")
		return domain.Value{}, false, issues
	}
	return domain.Value{}, false, nil
}

func sortedDefinitions(defs []domain.Definition) []domain.Definition {
	out := append([]domain.Definition(nil), defs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// IsValidation reports whether err carries validation issues.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// ValidateValue checks an optional value: absent values fall back to the
// definition default, then fail if the definition is required.
func ValidateValue(def domain.Definition, value *domain.Value) (domain.Value, bool, error) {
	if value == nil {
		if def.Default != nil {
			return *def.Default, true, nil
		}
		if def.Required {
			issues := &Error{}
			issues.Add(CodeMissingRequiredValue, def.Key, "value is required")
			return domain.Value{}, false, issues
		}
		return domain.Value{}, false, nil
	}
	if err := CheckValue(def, *value); err != nil {
		return domain.Value{}, false, err
	}
	return *value, true, nil
}
