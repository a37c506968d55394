package entity

import (
	"fmt"

	"golang.org/x/exp/slices"
)

// DiscordUser is a guild member as seen on the chat platform.
type DiscordUser struct {
	ID       int64
	Username string
	RoleIDs  []int64
}

func (u *DiscordUser) HasRole(roleID int64) bool {
	return slices.Contains(u.RoleIDs, roleID)
}

func (u *DiscordUser) String() string {
	return fmt.Sprintf("@%s", u.Username)
}
