package entity

import "time"

type AnomalyKind string

const (
	// AnomalyMissingFromRoster: a persisted email no longer appears in the
	// fetched roster. The entry is kept; only an operator may delete it.
	AnomalyMissingFromRoster AnomalyKind = "missing_from_roster"
	// AnomalyRoleWithoutState: a guild member carries the membership role
	// but no persisted entry points at their id.
	AnomalyRoleWithoutState AnomalyKind = "role_without_state"
	// AnomalyUnresolvedUsername: a persisted username no longer matches any
	// guild member.
	AnomalyUnresolvedUsername AnomalyKind = "unresolved_username"
)

type Anomaly struct {
	Kind     AnomalyKind `json:"kind"`
	Email    string      `json:"email,omitempty"`
	Username string      `json:"username,omitempty"`
	Detail   string      `json:"detail,omitempty"`
}

type ActionKind string

const (
	ActionGrantRole  ActionKind = "grant_role"
	ActionRevokeRole ActionKind = "revoke_role"
)

type Action struct {
	Kind      ActionKind `json:"kind"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	DiscordID int64      `json:"discord_id"`
	Notified  bool       `json:"notified"`
	Error     string     `json:"error,omitempty"`
}

type IdentityCorrection struct {
	Email       string `json:"email"`
	OldUsername string `json:"old_username"`
	NewUsername string `json:"new_username"`
	OldID       int64  `json:"old_id"`
	NewID       int64  `json:"new_id"`
}

// Report is the end-of-run summary over the final state.
type Report struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Orders     int `json:"orders"`
	Roster     int `json:"roster"`
	Members    int `json:"members"`
	Active     int `json:"active"`
	Expired    int `json:"expired"`
	Unresolved int `json:"unresolved"`

	Actions     []Action             `json:"actions,omitempty"`
	Anomalies   []Anomaly            `json:"anomalies,omitempty"`
	Corrections []IdentityCorrection `json:"corrections,omitempty"`
}
