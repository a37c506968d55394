package discord

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/flowchartsman/retry"
	"github.com/rs/zerolog/log"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/entity"
)

const memberPageSize = 1000

// Gateway wraps the Discord REST API for one guild. With cfg.Dry set, every
// mutating call is logged and skipped.
type Gateway struct {
	session *discordgo.Session
	guildID string
	roleID  string
	dry     bool
}

func NewGateway(cfg config.DiscordConfig) (*Gateway, error) {
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	return &Gateway{
		session: session,
		guildID: strconv.FormatInt(cfg.GuildID, 10),
		roleID:  strconv.FormatInt(cfg.RoleID, 10),
		dry:     cfg.Dry,
	}, nil
}

// Session exposes the underlying session for collaborators sharing the
// authenticated client, e.g. the report webhook.
func (g *Gateway) Session() *discordgo.Session {
	return g.session
}

// ListMembers fetches every guild member, 1000 per page, bots excluded.
func (g *Gateway) ListMembers() ([]*entity.DiscordUser, error) {
	var users []*entity.DiscordUser

	after := ""
	for {
		members, err := g.session.GuildMembers(g.guildID, after, memberPageSize)
		if err != nil {
			return nil, fmt.Errorf("list guild members: %w", err)
		}
		if len(members) == 0 {
			break
		}

		for _, m := range members {
			if m.User == nil || m.User.Bot {
				continue
			}
			user, err := fromAPI(m)
			if err != nil {
				log.Warn().Err(err).Str("username", m.User.Username).Msg("skipping malformed guild member")
				continue
			}
			users = append(users, user)
		}

		after = members[len(members)-1].User.ID
		if len(members) < memberPageSize {
			break
		}
	}

	return users, nil
}

func fromAPI(m *discordgo.Member) (*entity.DiscordUser, error) {
	id, err := strconv.ParseInt(m.User.ID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse user id %q: %w", m.User.ID, err)
	}

	roleIDs := make([]int64, 0, len(m.Roles))
	for _, r := range m.Roles {
		roleID, err := strconv.ParseInt(r, 10, 64)
		if err != nil {
			continue
		}
		roleIDs = append(roleIDs, roleID)
	}

	return &entity.DiscordUser{
		ID:       id,
		Username: m.User.Username,
		RoleIDs:  roleIDs,
	}, nil
}

func (g *Gateway) GrantRole(userID int64) error {
	if g.dry {
		log.Info().Int64("user_id", userID).Str("role_id", g.roleID).Msg("dry run: grant role")
		return nil
	}

	return g.mutate(func() error {
		return g.session.GuildMemberRoleAdd(g.guildID, strconv.FormatInt(userID, 10), g.roleID)
	})
}

func (g *Gateway) RevokeRole(userID int64) error {
	if g.dry {
		log.Info().Int64("user_id", userID).Str("role_id", g.roleID).Msg("dry run: revoke role")
		return nil
	}

	return g.mutate(func() error {
		return g.session.GuildMemberRoleRemove(g.guildID, strconv.FormatInt(userID, 10), g.roleID)
	})
}

// SendDM opens (or reuses) the DM channel and sends the text. Delivery can
// fail for accounts that disallow DMs; callers log and move on.
func (g *Gateway) SendDM(userID int64, text string) error {
	if g.dry {
		log.Info().Int64("user_id", userID).Str("text", text).Msg("dry run: send dm")
		return nil
	}

	channel, err := g.session.UserChannelCreate(strconv.FormatInt(userID, 10))
	if err != nil {
		return fmt.Errorf("create dm channel: %w", err)
	}

	if _, err := g.session.ChannelMessageSend(channel.ID, text); err != nil {
		return fmt.Errorf("send dm: %w", err)
	}
	return nil
}

func (g *Gateway) mutate(call func() error) error {
	retrier := retry.NewRetrier(5, 100*time.Millisecond, time.Second)

	return retrier.Run(func() error {
		err := call()
		if err == nil {
			return nil
		}
		var restErr *discordgo.RESTError
		if errors.As(err, &restErr) && restErr.Response != nil &&
			restErr.Response.StatusCode < 500 && restErr.Response.StatusCode != 429 {
			return retry.Stop(err)
		}
		return err
	})
}
