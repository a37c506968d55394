package util

import (
	"strings"

	"golang.org/x/text/language"
)

// NormalizeUsername strips the decorations people paste into the membership
// form: a leading "@" and a legacy "#1234" discriminator suffix.
func NormalizeUsername(username string) string {
	username = strings.TrimSpace(username)
	username = strings.TrimPrefix(username, "@")

	if i := strings.LastIndex(username, "#"); i > 0 {
		if suffix := username[i+1:]; suffix != "" && isDigits(suffix) {
			username = username[:i]
		}
	}

	return username
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// IetfToIsoLangCode converts an IETF tag like "fr-FR" to the POSIX locale
// name lctime expects, e.g. "fr_FR". POSIX-style values pass through as is.
func IetfToIsoLangCode(lang string) string {
	if strings.Contains(lang, "_") {
		return lang
	}

	tag, err := language.Parse(lang)
	if err != nil {
		return lang
	}

	base, _ := tag.Base()
	region, confidence := tag.Region()
	if confidence == language.No || region.String() == "ZZ" {
		return base.String()
	}

	return base.String() + "_" + region.String()
}
