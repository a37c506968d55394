package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/entity"
	"github.com/assoctools/rolesync/helloasso"
)

const (
	testRoleID    = int64(10)
	testFieldName = "Pseudo Discord"
)

type stubSource struct {
	orders []helloasso.Order
	err    error
}

func (s *stubSource) ListFormOrders(ctx context.Context) ([]helloasso.Order, error) {
	return s.orders, s.err
}

type stubDirectory struct {
	mu    sync.Mutex
	users []*entity.DiscordUser

	granted []int64
	revoked []int64
	dms     map[int64][]string

	grantErr map[int64]error
	dmErr    map[int64]error
}

func (d *stubDirectory) ListMembers() ([]*entity.DiscordUser, error) {
	return d.users, nil
}

func (d *stubDirectory) GrantRole(userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.grantErr[userID]; err != nil {
		return err
	}
	d.granted = append(d.granted, userID)
	return nil
}

func (d *stubDirectory) RevokeRole(userID int64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.revoked = append(d.revoked, userID)
	return nil
}

func (d *stubDirectory) SendDM(userID int64, text string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.dmErr[userID]; err != nil {
		return err
	}
	if d.dms == nil {
		d.dms = map[int64][]string{}
	}
	d.dms[userID] = append(d.dms[userID], text)
	return nil
}

type stubStore struct {
	members map[string]*entity.Member
	loadErr error
	saves   []map[string]*entity.Member
}

func (s *stubStore) Load() (map[string]*entity.Member, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.members == nil {
		s.members = map[string]*entity.Member{}
	}
	return s.members, nil
}

func (s *stubStore) Save(members map[string]*entity.Member) error {
	snapshot := make(map[string]*entity.Member, len(members))
	for email, member := range members {
		copied := *member
		snapshot[email] = &copied
	}
	s.saves = append(s.saves, snapshot)
	s.members = snapshot
	return nil
}

func membershipOrder(email string, date time.Time, hint string) helloasso.Order {
	item := helloasso.Item{Type: "Membership"}
	if hint != "" {
		item.CustomFields = []helloasso.CustomField{{Name: testFieldName, Answer: hint}}
	}
	return helloasso.Order{
		Date:  date,
		Payer: helloasso.Payer{Email: email},
		Items: []helloasso.Item{item},
	}
}

func testEngine(source *stubSource, directory *stubDirectory, store *stubStore, now time.Time) *SyncService {
	cfg := &config.Config{}
	cfg.HelloAsso.FieldName = testFieldName
	cfg.Discord.RoleID = testRoleID
	cfg.Membership = config.MembershipConfig{
		DurationYears: 1,
		GraceDays:     30,
		Locale:        "en_US",
		Messages: config.Messages{
			Welcome:       "welcome until {date}",
			ExpiredRecent: "renew please",
			ExpiredLong:   "expired {ago}",
		},
	}

	engine := NewSyncService(cfg, source, directory, store, NewRosterService(), NewMessageService(cfg.Membership))
	engine.now = func() time.Time { return now }
	return engine
}

func TestRunCreatesMemberAndGrantsRole(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", now.AddDate(0, -1, 0), "@Alice"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice"},
	}}
	store := &stubStore{}

	report, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, directory.granted)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, entity.ActionGrantRole, report.Actions[0].Kind)
	assert.True(t, report.Actions[0].Notified)
	require.Len(t, directory.dms[1], 1)
	assert.Contains(t, directory.dms[1][0], "welcome until")

	require.Len(t, store.saves, 1)
	saved := store.saves[0]["alice@example.com"]
	require.NotNil(t, saved)
	assert.Equal(t, int64(1), saved.DiscordID)
	assert.Equal(t, "Alice", saved.DiscordUsername)
	assert.True(t, saved.DiscordRole)
	assert.False(t, saved.MembershipExpired)
	assert.Equal(t, 1, report.Active)
}

func TestRunIdempotentOnUnchangedRoster(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", now.AddDate(0, -1, 0), "@Alice"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice"},
	}}
	store := &stubStore{}

	engine := testEngine(source, directory, store, now)
	_, err := engine.Run(context.Background())
	require.NoError(t, err)

	// The platform now reflects the granted role.
	directory.users[0].RoleIDs = []int64{testRoleID}

	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	assert.Empty(t, report.Actions, "second run must not repeat actions")
	assert.Empty(t, report.Corrections)
	require.Len(t, store.saves, 2)
	assert.Equal(t, store.saves[0], store.saves[1], "persisted state must be identical across re-runs")
}

func TestRunMergeSkipsOlderDates(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	stored := now.AddDate(0, -1, 0)

	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", stored.AddDate(-1, 0, 0), "@stale-hint"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice", RoleIDs: []int64{testRoleID}},
	}}
	store := &stubStore{members: map[string]*entity.Member{
		"alice@example.com": {
			Email:            "alice@example.com",
			MembershipLatest: stored.Unix(),
			DiscordUsername:  "Alice",
			DiscordID:        1,
		},
	}}

	_, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	saved := store.saves[0]["alice@example.com"]
	assert.Equal(t, stored.Unix(), saved.MembershipLatest, "older roster date must not downgrade state")
	assert.Equal(t, "Alice", saved.DiscordUsername)
}

func TestRunExpirationArithmetic(t *testing.T) {
	membershipDate := time.Date(2023, 1, 15, 0, 0, 0, 0, time.UTC)

	run := func(now time.Time) (*entity.Report, *stubDirectory) {
		source := &stubSource{orders: []helloasso.Order{
			membershipOrder("alice@example.com", membershipDate, "@Alice"),
		}}
		directory := &stubDirectory{users: []*entity.DiscordUser{
			{ID: 1, Username: "Alice", RoleIDs: []int64{testRoleID}},
		}}
		store := &stubStore{}
		report, err := testEngine(source, directory, store, now).Run(context.Background())
		require.NoError(t, err)
		return report, directory
	}

	// Not yet expired: the role is already there, nothing to do.
	report, directory := run(time.Date(2023, 12, 1, 0, 0, 0, 0, time.UTC))
	assert.Empty(t, directory.revoked)
	assert.Equal(t, 1, report.Active)

	// Past the one-year mark: revoke.
	report, directory = run(time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.Equal(t, []int64{1}, directory.revoked)
	assert.Equal(t, 1, report.Expired)
	require.Len(t, report.Actions, 1)
	assert.Equal(t, entity.ActionRevokeRole, report.Actions[0].Kind)
}

func TestRunRevokeUsesDelayedMessageOutsideGrace(t *testing.T) {
	expiration := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := expiration.AddDate(0, 0, 40) // grace window is 30 days

	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", expiration.AddDate(-1, 0, 0), "@Alice"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice", RoleIDs: []int64{testRoleID}},
	}}
	store := &stubStore{}

	report, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int64{1}, directory.revoked)
	require.Len(t, report.Actions, 1)
	require.Len(t, directory.dms[1], 1)
	assert.Contains(t, directory.dms[1][0], "expired")
	assert.Contains(t, directory.dms[1][0], "ago")

	assert.False(t, store.saves[0]["alice@example.com"].DiscordRole)
}

func TestRunRevokeUsesSoftMessageInsideGrace(t *testing.T) {
	expiration := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)
	now := expiration.AddDate(0, 0, 10)

	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", expiration.AddDate(-1, 0, 0), "@Alice"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice", RoleIDs: []int64{testRoleID}},
	}}

	_, err := testEngine(source, directory, &stubStore{}, now).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, directory.dms[1], 1)
	assert.Equal(t, "renew please", directory.dms[1][0])
}

func TestRunNotificationFailureIsIsolated(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", now.AddDate(0, -1, 0), "@Alice"),
		membershipOrder("bob@example.com", now.AddDate(0, -1, 0), "@Bob"),
	}}
	directory := &stubDirectory{
		users: []*entity.DiscordUser{
			{ID: 1, Username: "Alice"},
			{ID: 2, Username: "Bob"},
		},
		dmErr: map[int64]error{1: errors.New("dms disabled")},
	}
	store := &stubStore{}

	report, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	// Both role mutations applied despite Alice's failed DM.
	assert.ElementsMatch(t, []int64{1, 2}, directory.granted)
	require.Len(t, report.Actions, 2)
	assert.False(t, report.Actions[0].Notified) // alice sorts first
	assert.True(t, report.Actions[1].Notified)

	// And the run still persisted.
	require.Len(t, store.saves, 1)
	assert.True(t, store.saves[0]["alice@example.com"].DiscordRole)
}

func TestRunGrantFailureDoesNotNotify(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", now.AddDate(0, -1, 0), "@Alice"),
	}}
	directory := &stubDirectory{
		users:    []*entity.DiscordUser{{ID: 1, Username: "Alice"}},
		grantErr: map[int64]error{1: errors.New("missing permissions")},
	}
	store := &stubStore{}

	report, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Actions, 1)
	assert.Equal(t, "missing permissions", report.Actions[0].Error)
	assert.Empty(t, directory.dms)
	assert.False(t, store.saves[0]["alice@example.com"].DiscordRole)
}

func TestRunDetectsAnomalies(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("alice@example.com", now.AddDate(0, -1, 0), "@Alice"),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 1, Username: "Alice"},
		// Carries the role but no persisted entry points at id 7.
		{ID: 7, Username: "freeloader", RoleIDs: []int64{testRoleID}},
	}}
	store := &stubStore{members: map[string]*entity.Member{
		// No longer in the roster, and its username resolves nowhere.
		"gone@example.com": {
			Email:            "gone@example.com",
			MembershipLatest: now.AddDate(-2, 0, 0).Unix(),
			DiscordUsername:  "vanished",
		},
	}}

	report, err := testEngine(source, directory, store, now).Run(context.Background())
	require.NoError(t, err)

	kinds := make(map[entity.AnomalyKind]int)
	for _, a := range report.Anomalies {
		kinds[a.Kind]++
	}
	assert.Equal(t, 1, kinds[entity.AnomalyMissingFromRoster])
	assert.Equal(t, 1, kinds[entity.AnomalyRoleWithoutState])
	assert.Equal(t, 1, kinds[entity.AnomalyUnresolvedUsername])

	// The divergent entry is flagged but retained, never deleted.
	require.Len(t, store.saves, 1)
	assert.Contains(t, store.saves[0], "gone@example.com")
}

func TestRunSelfHealReportedOnce(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{orders: []helloasso.Order{
		membershipOrder("n@example.com", now.AddDate(0, -1, 0), ""),
	}}
	directory := &stubDirectory{users: []*entity.DiscordUser{
		{ID: 3, Username: "New", RoleIDs: []int64{testRoleID}},
	}}
	store := &stubStore{members: map[string]*entity.Member{
		"n@example.com": {
			Email:            "n@example.com",
			MembershipLatest: now.AddDate(0, -1, 0).Unix(),
			DiscordUsername:  "Old",
			DiscordID:        3,
		},
	}}

	engine := testEngine(source, directory, store, now)
	report, err := engine.Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Corrections, 1)
	assert.Equal(t, "Old", report.Corrections[0].OldUsername)
	assert.Equal(t, "New", report.Corrections[0].NewUsername)
	assert.Equal(t, "New", store.saves[0]["n@example.com"].DiscordUsername)

	// Healed state has nothing left to correct.
	report, err = engine.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Corrections)
}

func TestRunFetchFailureAbortsBeforeMutation(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	source := &stubSource{err: errors.New("500 from the api")}
	directory := &stubDirectory{}
	store := &stubStore{}

	_, err := testEngine(source, directory, store, now).Run(context.Background())
	require.Error(t, err)

	assert.Empty(t, directory.granted)
	assert.Empty(t, directory.revoked)
	assert.Empty(t, store.saves, "a failed fetch must leave persisted state untouched")
}
