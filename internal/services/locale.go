package services

import (
	"strings"

	"golang.org/x/text/language"
)

var (
	supportedLocales = []language.Tag{language.Swedish, language.English}
	localeMatcher    = language.NewMatcher(supportedLocales)
)

// matchLocale maps an order locale or Accept-Language value to Swedish or English. Swedish is the default.
func matchLocale(raw string) language.Tag {
	if strings.TrimSpace(raw) == "" {
		return language.Swedish
	}
	tag, _ := language.MatchStrings(localeMatcher, raw)
	if base, _ := tag.Base(); base.String() == "en" {
		return language.English
	}
	return language.Swedish
}

func isEnglish(tag language.Tag) bool {
	return tag == language.English
}

// localized picks the Swedish or English variant.
func localized(tag language.Tag, sv, en string) string {
	if isEnglish(tag) {
		return en
	}
	return sv
}
