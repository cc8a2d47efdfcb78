package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/animus-labs/analyses-go/internal/domain"
)

var definitionKey = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.-]*$`)

// ValidateDefinition performs registration-time checks of a definition,
// including that a declared default satisfies the definition's own constraints.
func ValidateDefinition(def domain.Definition) error {
	issues := &Error{}
	key := strings.TrimSpace(def.Key)

	if key == "" {
		issues.Add(CodeInvalidDefinition, "", "key is required")
	} else if !definitionKey.MatchString(key) {
		issues.Add(CodeInvalidDefinition, key, "key must start with a letter or underscore and contain only letters, digits, '_', '.' or '-'")
	}
	if !def.Direction.Valid() {
		issues.Add(CodeInvalidDefinition, key, fmt.Sprintf("direction %q is not supported", def.Direction))
	}
	if !def.Kind.Valid() {
		issues.Add(CodeInvalidDefinition, key, fmt.Sprintf("kind %q is not supported", def.Kind))
		return issues.OrNil()
	}

	constrained := def.Kind
	if def.Kind == domain.KindList {
		switch {
		case def.ElementKind == "":
			issues.Add(CodeInvalidDefinition, key, "list definitions require an element kind")
		case def.ElementKind == domain.KindList:
			issues.Add(CodeInvalidDefinition, key, "nested lists are not supported")
		case !def.ElementKind.Valid():
			issues.Add(CodeInvalidDefinition, key, fmt.Sprintf("element kind %q is not supported", def.ElementKind))
		}
		constrained = def.ElementKind
	} else if def.ElementKind != "" {
		issues.Add(CodeInvalidDefinition, key, "element kind is only valid for list definitions")
	}

	if (def.Min != nil || def.Max != nil) && !constrained.Numeric() {
		issues.Add(CodeInvalidDefinition, key, "bounds are only valid for numeric definitions")
	}
	if def.Min != nil && def.Max != nil && *def.Min > *def.Max {
		issues.Add(CodeInvalidDefinition, key, fmt.Sprintf("min %g is greater than max %g", *def.Min, *def.Max))
	}
	if len(def.Choices) > 0 {
		if !constrained.Textual() {
			issues.Add(CodeInvalidDefinition, key, "choices are only valid for string definitions")
		}
		for _, choice := range def.Choices {
			if strings.TrimSpace(choice) == "" {
				issues.Add(CodeInvalidDefinition, key, "choices must not be blank")
				break
			}
		}
	}

	if len(issues.Issues) > 0 {
		return issues.OrNil()
	}

	if def.Default != nil {
		if def.Default.Kind != def.Kind {
			issues.Add(CodeTypeMismatch, key, fmt.Sprintf("default is a %s, definition is a %s", def.Default.Kind, def.Kind))
		} else {
			issues.Merge(key, CheckValue(def, *def.Default))
		}
	}
	return issues.OrNil()
}

// ValidateDefinitionSet validates every member and rejects duplicate keys, so a
// specification can never contain the same key twice.
func ValidateDefinitionSet(defs []domain.Definition) error {
	issues := &Error{}
	seen := make(map[string]struct{}, len(defs))
	for _, def := range defs {
		key := strings.TrimSpace(def.Key)
		if _, ok := seen[key]; ok && key != "" {
			issues.Add(CodeInvalidDefinition, key, "duplicate key in definition set")
			continue
		}
		seen[key] = struct{}{}
		issues.Merge(key, ValidateDefinition(def))
	}
	return issues.OrNil()
}
