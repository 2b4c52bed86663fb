package models

import (
	"net/url"
	"regexp"
	"strings"
)

var (
	matchIDParam = regexp.MustCompile(`[?&#](?:mid|match_id|matchId|event_id)=([^&#/]+)`)
	// .../<sport path>/<home-slug>/<away-slug>, e.g. /jogo/futebol/abc-123/def-456/
	matchSlugPath = regexp.MustCompile(`/(?:jogo|match|game|partida)/(?:[^/?#]+/)?([^/?#]+)/([^/?#]+)`)
)

// ExternalID derives a stable match identity from the source locator alone so that the
// same match discovered in different cycles maps to the same record. Preference order:
// embedded match id, URL slug pair, team-name pair, then the locator without fragment.
func ExternalID(locator, homeTeam, awayTeam string) string {
	if m := matchIDParam.FindStringSubmatch(locator); len(m) == 2 && m[1] != "" {
		return "mid:" + m[1]
	}
	if m := matchSlugPath.FindStringSubmatch(pathOf(locator)); len(m) == 3 {
		return "slug:" + m[1] + "__" + m[2]
	}
	home := normalizeKeyPart(homeTeam)
	away := normalizeKeyPart(awayTeam)
	if home != "" && away != "" {
		return "teams:" + home + "__" + away
	}
	return "url:" + strings.SplitN(strings.TrimSpace(locator), "#", 2)[0]
}

func pathOf(locator string) string {
	u, err := url.Parse(locator)
	if err != nil || u.Path == "" {
		return strings.SplitN(strings.SplitN(locator, "?", 2)[0], "#", 2)[0]
	}
	return u.Path
}

func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "/", " ")
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "|", " ")
	return strings.Join(strings.Fields(s), " ")
}
