package entity

import "time"

// Member is the durable per-email state persisted between runs. The email is
// the key of the persisted map and the mongo _id, never duplicated inside the
// JSON value.
//
// MembershipLatest, DiscordUsername and DiscordID are authoritative on load.
// DiscordRole and MembershipExpired are diagnostics recomputed every run and
// ignored as inputs.
type Member struct {
	Email string `bson:"_id" json:"-"`

	MembershipLatest int64 `bson:"membership_latest" json:"membership_latest"`

	DiscordUsername string `bson:"discord_username,omitempty" json:"discord_username,omitempty"`
	// DiscordID is authoritative once set; 0 means unresolved.
	DiscordID int64 `bson:"discord_id,omitempty" json:"discord_id,omitempty"`

	DiscordRole       bool `bson:"discord_role" json:"discord_role"`
	MembershipExpired bool `bson:"membership_expired" json:"membership_expired"`
}

func (m *Member) MembershipDate() time.Time {
	return time.Unix(m.MembershipLatest, 0).UTC()
}

func (m *Member) ExpirationDate(durationYears int) time.Time {
	return m.MembershipDate().AddDate(durationYears, 0, 0)
}

func (m *Member) Expired(durationYears int, now time.Time) bool {
	return m.ExpirationDate(durationYears).Before(now)
}
