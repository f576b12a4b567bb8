package candidate

import "strings"

// dependencyBotLogins are substrings that identify a dependency-update bot
// even when the forge fails to mark the account as a bot account (spec §3).
var dependencyBotLogins = []string{"dependabot", "renovate"}

// ClassifyAuthor maps a forge user to human/bot/unknown. found is false
// when the user could not be resolved at all (e.g. a commit with no
// associated author), in which case the result is "unknown" verbatim.
func ClassifyAuthor(login string, isBot, found bool) AuthorKind {
	if !found {
		return AuthorUnknown
	}
	lower := strings.ToLower(login)
	if isBot {
		return AuthorBot
	}
	for _, marker := range dependencyBotLogins {
		if strings.Contains(lower, marker) {
			return AuthorBot
		}
	}
	return AuthorHuman
}
