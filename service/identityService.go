package service

import (
	"strings"

	"github.com/hbollon/go-edlib"
	"github.com/rs/zerolog/log"

	"github.com/assoctools/rolesync/entity"
	"github.com/assoctools/rolesync/util"
)

const suggestionThreshold = 0.8

// IdentityService resolves stored identities against one run's guild member
// list. It is built from data already fetched; resolving never touches the
// network.
type IdentityService struct {
	byID   map[int64]*entity.DiscordUser
	byName map[string]*entity.DiscordUser
	names  []string
}

func NewIdentityService(users []*entity.DiscordUser) *IdentityService {
	s := &IdentityService{
		byID:   make(map[int64]*entity.DiscordUser, len(users)),
		byName: make(map[string]*entity.DiscordUser, len(users)),
		names:  make([]string, 0, len(users)),
	}
	for _, user := range users {
		s.byID[user.ID] = user
		s.byName[strings.ToLower(user.Username)] = user
		s.names = append(s.names, user.Username)
	}
	return s
}

// Resolve finds the guild account for a member. The stored id is the
// authoritative key; the username is only consulted when no id is stored.
// When the live account disagrees with the stored fields, both are corrected
// in place and the correction is returned for reporting.
func (s *IdentityService) Resolve(member *entity.Member) (*entity.DiscordUser, *entity.IdentityCorrection) {
	var user *entity.DiscordUser
	if member.DiscordID != 0 {
		user = s.byID[member.DiscordID]
	} else if member.DiscordUsername != "" {
		normalized := util.NormalizeUsername(member.DiscordUsername)
		user = s.byName[strings.ToLower(normalized)]
	}

	if user == nil {
		return nil, nil
	}

	if member.DiscordID == user.ID && member.DiscordUsername == user.Username {
		return user, nil
	}

	correction := &entity.IdentityCorrection{
		Email:       member.Email,
		OldUsername: member.DiscordUsername,
		NewUsername: user.Username,
		OldID:       member.DiscordID,
		NewID:       user.ID,
	}
	log.Info().
		Str("email", member.Email).
		Str("old_username", member.DiscordUsername).
		Str("new_username", user.Username).
		Int64("old_id", member.DiscordID).
		Int64("new_id", user.ID).
		Msg("correcting stored discord identity")

	member.DiscordID = user.ID
	member.DiscordUsername = user.Username

	return user, correction
}

// Suggest returns the closest guild username to the hint, for anomaly
// reports about unresolved usernames. Empty when nothing is close enough.
func (s *IdentityService) Suggest(hint string) string {
	normalized := strings.ToLower(util.NormalizeUsername(hint))

	best := ""
	var bestScore float32
	for _, name := range s.names {
		score, err := edlib.StringsSimilarity(normalized, strings.ToLower(name), edlib.Levenshtein)
		if err != nil {
			continue
		}
		if score > bestScore {
			bestScore = score
			best = name
		}
	}

	if bestScore < suggestionThreshold {
		return ""
	}
	return best
}
