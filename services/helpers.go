package services

import (
	"errors"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/yeremiapane/dinein/apperr"
)

var forUpdate = clause.Locking{Strength: "UPDATE"}

// notFound maps gorm's missing-row error onto a typed NotFound carrying id.
func notFound(err error, what string, id interface{}) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.ErrNotFound.New(id, "%s not found", what)
	}
	return err
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func uintPtr(v uint) *uint {
	return &v
}
