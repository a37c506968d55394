package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/entity"
	"github.com/assoctools/rolesync/helloasso"
)

const actionConcurrency = 4

// MembershipSource lists the membership form's orders to completion.
type MembershipSource interface {
	ListFormOrders(ctx context.Context) ([]helloasso.Order, error)
}

// ChatDirectory is the chat platform seen from the engine.
type ChatDirectory interface {
	ListMembers() ([]*entity.DiscordUser, error)
	GrantRole(userID int64) error
	RevokeRole(userID int64) error
	SendDM(userID int64, text string) error
}

// MemberStore persists the email → member map with full-overwrite semantics.
type MemberStore interface {
	Load() (map[string]*entity.Member, error)
	Save(members map[string]*entity.Member) error
}

// SyncService runs one reconciliation pass:
// fetch roster → load state → merge → resolve identities → detect anomalies
// → apply role actions → persist state.
//
// Fetch, listing and load failures abort the run before any mutation. From
// the merge on, everything is at-least-effort: per-member failures are
// logged and the run still persists whatever succeeded.
type SyncService struct {
	source    MembershipSource
	directory ChatDirectory
	store     MemberStore
	roster    *RosterService
	messages  *MessageService

	fieldName     string
	roleID        int64
	durationYears int

	// now is swappable for tests.
	now func() time.Time
}

func NewSyncService(cfg *config.Config, source MembershipSource, directory ChatDirectory, store MemberStore, roster *RosterService, messages *MessageService) *SyncService {
	return &SyncService{
		source:        source,
		directory:     directory,
		store:         store,
		roster:        roster,
		messages:      messages,
		fieldName:     cfg.HelloAsso.FieldName,
		roleID:        cfg.Discord.RoleID,
		durationYears: cfg.Membership.DurationYears,
		now:           time.Now,
	}
}

func (s *SyncService) Run(ctx context.Context) (*entity.Report, error) {
	report := &entity.Report{StartedAt: s.now()}

	orders, err := s.source.ListFormOrders(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch roster: %w", err)
	}
	report.Orders = len(orders)

	memberships := make([]entity.Membership, 0, len(orders))
	for _, order := range orders {
		m, err := order.Membership()
		if err != nil {
			log.Error().Err(err).Msg("skipping unparsable order")
			continue
		}
		memberships = append(memberships, m)
	}

	roster := s.roster.BuildIndex(memberships)
	report.Roster = len(roster)

	users, err := s.directory.ListMembers()
	if err != nil {
		return nil, fmt.Errorf("list chat members: %w", err)
	}

	members, err := s.store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}

	s.merge(members, roster)

	identity := NewIdentityService(users)
	now := s.now()
	resolved := make(map[string]*entity.DiscordUser, len(members))
	for email, member := range members {
		user, correction := identity.Resolve(member)
		if correction != nil {
			report.Corrections = append(report.Corrections, *correction)
		}

		// Diagnostic fields are recomputed every run, never trusted from
		// the previous save.
		member.MembershipExpired = member.Expired(s.durationYears, now)
		if user != nil {
			resolved[email] = user
			member.DiscordRole = user.HasRole(s.roleID)
		} else {
			member.DiscordRole = false
		}
	}

	s.detectAnomalies(report, members, roster, users, identity, resolved)
	s.applyRoleActions(report, members, resolved, now)

	report.Members = len(members)
	for email, member := range members {
		switch {
		case resolved[email] == nil:
			report.Unresolved++
		case member.MembershipExpired:
			report.Expired++
		default:
			report.Active++
		}
	}

	sortReport(report)

	if err := s.store.Save(members); err != nil {
		return report, fmt.Errorf("persist state: %w", err)
	}

	report.FinishedAt = s.now()
	return report, nil
}

// merge folds the roster into the persisted state: new emails are created,
// strictly newer dates update the entry, anything else is left untouched so
// re-fetching unchanged data is a no-op.
func (s *SyncService) merge(members map[string]*entity.Member, roster map[string]entity.Membership) {
	for email, m := range roster {
		member, ok := members[email]
		if !ok {
			members[email] = &entity.Member{
				Email:            email,
				MembershipLatest: m.Date.Unix(),
				DiscordUsername:  m.Answer(s.fieldName),
			}
			continue
		}

		if m.Date.Unix() <= member.MembershipLatest {
			continue
		}

		member.MembershipLatest = m.Date.Unix()
		if hint := m.Answer(s.fieldName); hint != "" {
			member.DiscordUsername = hint
		}
	}
}

func (s *SyncService) detectAnomalies(report *entity.Report, members map[string]*entity.Member, roster map[string]entity.Membership, users []*entity.DiscordUser, identity *IdentityService, resolved map[string]*entity.DiscordUser) {
	for email, member := range members {
		if _, ok := roster[email]; !ok {
			log.Warn().Str("email", email).Msg("persisted member missing from fetched roster")
			report.Anomalies = append(report.Anomalies, entity.Anomaly{
				Kind:  entity.AnomalyMissingFromRoster,
				Email: email,
			})
		}

		if member.DiscordUsername != "" && resolved[email] == nil {
			anomaly := entity.Anomaly{
				Kind:     entity.AnomalyUnresolvedUsername,
				Email:    email,
				Username: member.DiscordUsername,
			}
			if suggestion := identity.Suggest(member.DiscordUsername); suggestion != "" {
				anomaly.Detail = fmt.Sprintf("closest guild username: %s", suggestion)
			}
			log.Warn().Str("email", email).Str("username", member.DiscordUsername).Msg("stored username not found on the guild")
			report.Anomalies = append(report.Anomalies, anomaly)
		}
	}

	knownIDs := make(map[int64]bool, len(members))
	for _, member := range members {
		if member.DiscordID != 0 {
			knownIDs[member.DiscordID] = true
		}
	}
	for _, user := range users {
		if user.HasRole(s.roleID) && !knownIDs[user.ID] {
			log.Warn().Str("username", user.Username).Int64("discord_id", user.ID).Msg("member role present without persisted identity")
			report.Anomalies = append(report.Anomalies, entity.Anomaly{
				Kind:     entity.AnomalyRoleWithoutState,
				Username: user.Username,
				Detail:   fmt.Sprintf("discord id %d", user.ID),
			})
		}
	}
}

// applyRoleActions mutates roles member by member. Members are independent,
// so actions run in parallel; each member is owned by exactly one goroutine
// and the report is mutex-guarded. A failed notification never rolls back
// the role mutation and never stops other members.
func (s *SyncService) applyRoleActions(report *entity.Report, members map[string]*entity.Member, resolved map[string]*entity.DiscordUser, now time.Time) {
	var mu sync.Mutex
	group := new(errgroup.Group)
	group.SetLimit(actionConcurrency)

	for email, member := range members {
		user := resolved[email]
		if user == nil {
			continue
		}

		group.Go(func() error {
			expired := member.MembershipExpired
			hasRole := user.HasRole(s.roleID)

			var action entity.Action
			switch {
			case !expired && !hasRole:
				action = entity.Action{Kind: entity.ActionGrantRole, Email: email, Username: user.Username, DiscordID: user.ID}
				if err := s.directory.GrantRole(user.ID); err != nil {
					action.Error = err.Error()
					log.Error().Err(err).Str("email", email).Str("op", "grant_role").Msg("role action failed")
					break
				}
				member.DiscordRole = true
				log.Info().Str("email", email).Str("username", user.Username).Msg("granted member role")
				action.Notified = s.notify(user, email, s.messages.Welcome(member.ExpirationDate(s.durationYears)))

			case expired && hasRole:
				action = entity.Action{Kind: entity.ActionRevokeRole, Email: email, Username: user.Username, DiscordID: user.ID}
				if err := s.directory.RevokeRole(user.ID); err != nil {
					action.Error = err.Error()
					log.Error().Err(err).Str("email", email).Str("op", "revoke_role").Msg("role action failed")
					break
				}
				member.DiscordRole = false
				log.Info().Str("email", email).Str("username", user.Username).Msg("revoked member role")
				action.Notified = s.notify(user, email, s.messages.Expired(member.ExpirationDate(s.durationYears), now))

			default:
				return nil
			}

			mu.Lock()
			report.Actions = append(report.Actions, action)
			mu.Unlock()
			return nil
		})
	}

	// Goroutines never return errors; failures are per-member and logged.
	_ = group.Wait()
}

func (s *SyncService) notify(user *entity.DiscordUser, email, text string) bool {
	if err := s.directory.SendDM(user.ID, text); err != nil {
		log.Warn().Err(err).Str("email", email).Str("username", user.Username).Msg("failed to deliver notification")
		return false
	}
	return true
}

func sortReport(report *entity.Report) {
	sort.Slice(report.Actions, func(i, j int) bool {
		return report.Actions[i].Email < report.Actions[j].Email
	})
	sort.Slice(report.Anomalies, func(i, j int) bool {
		a, b := report.Anomalies[i], report.Anomalies[j]
		if a.Kind != b.Kind {
			return a.Kind < b.Kind
		}
		if a.Email != b.Email {
			return a.Email < b.Email
		}
		return a.Username < b.Username
	})
	sort.Slice(report.Corrections, func(i, j int) bool {
		return report.Corrections[i].Email < report.Corrections[j].Email
	})
}
