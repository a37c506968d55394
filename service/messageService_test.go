package service

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/assoctools/rolesync/config"
)

func testMessageService() *MessageService {
	return NewMessageService(config.MembershipConfig{
		DurationYears: 1,
		GraceDays:     30,
		Locale:        "en_US",
		Messages: config.Messages{
			Welcome:       "welcome, active until {date}",
			ExpiredRecent: "expired on {date}, please renew",
			ExpiredLong:   "expired {ago}, access removed",
		},
	})
}

func TestWelcomeMessage(t *testing.T) {
	s := testMessageService()

	msg := s.Welcome(time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC))
	assert.True(t, strings.HasPrefix(msg, "welcome, active until "))
	assert.Contains(t, msg, "2025")
	assert.NotContains(t, msg, "{date}")
}

func TestExpiredMessageGraceWindow(t *testing.T) {
	s := testMessageService()

	expiration := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	// 10 days after expiration: inside the 30-day grace window.
	recent := s.Expired(expiration, expiration.AddDate(0, 0, 10))
	assert.Contains(t, recent, "please renew")

	// 40 days after: the delayed variant with the humanized delay.
	delayed := s.Expired(expiration, expiration.AddDate(0, 0, 40))
	assert.Contains(t, delayed, "access removed")
	assert.Contains(t, delayed, "ago")
	assert.NotContains(t, delayed, "{ago}")
}
