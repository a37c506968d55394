package service

import (
	"github.com/assoctools/rolesync/entity"
)

type RosterService struct{}

func NewRosterService() *RosterService {
	return &RosterService{}
}

// BuildIndex folds memberships into an email → most-recent-membership map.
// A record replaces the stored one only when its date is strictly later, so
// exact-date ties keep the first record seen and the fold is idempotent.
func (s *RosterService) BuildIndex(memberships []entity.Membership) map[string]entity.Membership {
	index := make(map[string]entity.Membership, len(memberships))

	for _, m := range memberships {
		existing, ok := index[m.Email]
		if ok && !existing.Date.Before(m.Date) {
			continue
		}
		index[m.Email] = m
	}

	return index
}
