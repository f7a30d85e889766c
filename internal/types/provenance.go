package types

import (
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Provenance is the set of note IDs that contributed to or confirmed an
// artifact or relationship. Stored as a jsonb uuid array; kept sorted and
// deduplicated so merges are order-independent.

func DecodeNoteIDs(raw datatypes.JSON) []uuid.UUID {
	if len(raw) == 0 {
		return nil
	}
	var ids []uuid.UUID
	if err := json.Unmarshal(raw, &ids); err != nil {
		return nil
	}
	return ids
}

func EncodeNoteIDs(ids []uuid.UUID) datatypes.JSON {
	if ids == nil {
		ids = []uuid.UUID{}
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return datatypes.JSON("[]")
	}
	return datatypes.JSON(raw)
}

// UnionNoteIDs merges two provenance sets without duplicates, sorted by
// string form.
func UnionNoteIDs(a, b []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(a)+len(b))
	out := make([]uuid.UUID, 0, len(a)+len(b))
	for _, set := range [][]uuid.UUID{a, b} {
		for _, id := range set {
			if id == uuid.Nil {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			out = append(out, id)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func ContainsNoteID(ids []uuid.UUID, id uuid.UUID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
