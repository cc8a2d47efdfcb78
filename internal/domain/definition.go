package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Direction tells whether a definition describes an input or an output port.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

func (d Direction) Valid() bool {
	return d == DirectionInput || d == DirectionOutput
}

// Definition is a typed, named parameter schema. Definitions are immutable once
// a specification references them.
type Definition struct {
	ID              string
	Key             string
	Direction       Direction
	Kind            Kind
	ElementKind     Kind
	Required        bool
	IsConfiguration bool
	Description     string
	Default         *Value
	Min             *float64
	Max             *float64
	Choices         []string
	CreatedAt       time.Time
}

// Normalize trims the key and sorts and deduplicates choices.
func (d Definition) Normalize() Definition {
	d.Key = strings.TrimSpace(d.Key)
	d.Description = strings.TrimSpace(d.Description)
	if len(d.Choices) > 0 {
		seen := make(map[string]struct{}, len(d.Choices))
		choices := make([]string, 0, len(d.Choices))
		for _, c := range d.Choices {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			choices = append(choices, c)
		}
		sort.Strings(choices)
		d.Choices = choices
	}
	if d.Kind != KindList {
		d.ElementKind = ""
	}
	return d
}

// Element returns the definition list elements are checked against.
func (d Definition) Element() Definition {
	return Definition{
		Key:       d.Key,
		Direction: d.Direction,
		Kind:      d.ElementKind,
		Min:       d.Min,
		Max:       d.Max,
		Choices:   d.Choices,
	}
}

// HasChoices reports whether the definition restricts values to a choice set.
func (d Definition) HasChoices() bool {
	return len(d.Choices) > 0
}

// Allows reports whether choice is part of the declared choice set.
func (d Definition) Allows(choice string) bool {
	for _, c := range d.Choices {
		if c == choice {
			return true
		}
	}
	return false
}

type definitionFingerprint struct {
	Key             string    `json:"key"`
	Direction       Direction `json:"direction"`
	Kind            Kind      `json:"kind"`
	ElementKind     Kind      `json:"elementKind,omitempty"`
	Required        bool      `json:"required"`
	IsConfiguration bool      `json:"isConfiguration"`
	Description     string    `json:"description,omitempty"`
	Default         *Value    `json:"default,omitempty"`
	Min             *float64  `json:"min,omitempty"`
	Max             *float64  `json:"max,omitempty"`
	Choices         []string  `json:"choices,omitempty"`
}

// Fingerprint identifies a definition by content. Registering two definitions
// with the same fingerprint yields one row.
func (d Definition) Fingerprint() (string, error) {
	n := d.Normalize()
	blob, err := json.Marshal(definitionFingerprint{
		Key:             n.Key,
		Direction:       n.Direction,
		Kind:            n.Kind,
		ElementKind:     n.ElementKind,
		Required:        n.Required,
		IsConfiguration: n.IsConfiguration,
		Description:     n.Description,
		Default:         n.Default,
		Min:             n.Min,
		Max:             n.Max,
		Choices:         n.Choices,
	})
	if err != nil {
		return "", fmt.Errorf("fingerprint definition %q: %w", d.Key, err)
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:]), nil
}

// Float64 is a helper for building bounded definitions.
func Float64(v float64) *float64 {
	return &v
}
