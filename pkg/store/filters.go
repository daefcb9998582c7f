// Copyright © 2019 One Concern

package store

import (
	"strings"

	"github.com/oneconcern/catsync/pkg/model"
)

// Filter selects records out of a store. Filters compose: a record is
// selected when every filter accepts it.
type Filter func(model.Record) bool

// ByIDs selects the records with any of the given ids.
func ByIDs(ids ...string) Filter {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(r model.Record) bool {
		_, ok := set[r.ID]
		return ok
	}
}

// ByPrefix selects the records whose id starts with prefix.
func ByPrefix(prefix string) Filter {
	return func(r model.Record) bool {
		return strings.HasPrefix(r.ID, prefix)
	}
}

// Matches reports whether every filter accepts the record.
func Matches(r model.Record, filters []Filter) bool {
	for _, accept := range filters {
		if !accept(r) {
			return false
		}
	}
	return true
}
