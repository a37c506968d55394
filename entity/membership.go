package entity

import "time"

// Membership is one membership purchase or renewal, rebuilt from the
// membership platform on every run.
type Membership struct {
	Email        string
	Date         time.Time
	CustomFields map[string]string
}

func (m Membership) Answer(fieldName string) string {
	return m.CustomFields[fieldName]
}
