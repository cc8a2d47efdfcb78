package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"
)

// Specification is a deduplicated set of definitions bound to one analysis.
// Its identity is its exact member set.
type Specification struct {
	ID            string
	AnalysisID    string
	Direction     Direction
	DefinitionIDs []string
	Definitions   []Definition
	CreatedAt     time.Time
}

// MembersHash returns a stable digest of the sorted member ids.
func MembersHash(definitionIDs []string) string {
	ids := SortedUnique(definitionIDs)
	sum := sha256.Sum256([]byte(strings.Join(ids, "\n")))
	return hex.EncodeToString(sum[:])
}

// SortedUnique returns a sorted copy of ids without duplicates or blanks.
func SortedUnique(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s Specification) DefinitionByKey(key string) (Definition, bool) {
	for _, def := range s.Definitions {
		if def.Key == key {
			return def, true
		}
	}
	return Definition{}, false
}

// Keys returns the member definition keys in sorted order.
func (s Specification) Keys() []string {
	keys := make([]string, 0, len(s.Definitions))
	for _, def := range s.Definitions {
		keys = append(keys, def.Key)
	}
	sort.Strings(keys)
	return keys
}
