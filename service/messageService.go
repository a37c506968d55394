package service

import (
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/lctime"

	"github.com/assoctools/rolesync/config"
	"github.com/assoctools/rolesync/util"
)

// MessageService renders notification texts. Templates expand "{date}" to
// the localized expiration date and "{ago}" to the humanized time since
// expiration.
type MessageService struct {
	messages config.Messages
	locale   string
	grace    time.Duration
}

func NewMessageService(cfg config.MembershipConfig) *MessageService {
	return &MessageService{
		messages: cfg.Messages,
		locale:   util.IetfToIsoLangCode(cfg.Locale),
		grace:    cfg.GraceWindow(),
	}
}

func (s *MessageService) Welcome(expiration time.Time) string {
	return s.expand(s.messages.Welcome, expiration, time.Time{})
}

// Expired picks the soft variant inside the grace window and the delayed
// variant after it.
func (s *MessageService) Expired(expiration, now time.Time) string {
	if now.Sub(expiration) <= s.grace {
		return s.expand(s.messages.ExpiredRecent, expiration, now)
	}
	return s.expand(s.messages.ExpiredLong, expiration, now)
}

func (s *MessageService) expand(template string, expiration, now time.Time) string {
	text := strings.ReplaceAll(template, "{date}", s.formatDate(expiration))
	if strings.Contains(text, "{ago}") {
		text = strings.ReplaceAll(text, "{ago}", humanize.RelTime(expiration, now, "ago", "from now"))
	}
	return text
}

func (s *MessageService) formatDate(t time.Time) string {
	formatted, err := lctime.StrftimeLoc(s.locale, "%d %B %Y", t)
	if err != nil {
		return t.Format("02 Jan 2006")
	}
	return formatted
}
