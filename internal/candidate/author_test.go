package candidate

import "testing"

func TestClassifyAuthor(t *testing.T) {
	cases := []struct {
		name  string
		login string
		isBot bool
		found bool
		want  AuthorKind
	}{
		{"human", "octocat", false, true, AuthorHuman},
		{"forge-marked bot", "some-ci-bot", true, true, AuthorBot},
		{"dependabot login", "dependabot[bot]", false, true, AuthorBot},
		{"renovate login", "renovate-bot", false, true, AuthorBot},
		{"dependabot substring case-insensitive", "DependaBot", false, true, AuthorBot},
		{"unresolved author", "", false, false, AuthorUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyAuthor(tc.login, tc.isBot, tc.found); got != tc.want {
				t.Errorf("ClassifyAuthor(%q, %v, %v) = %q, want %q", tc.login, tc.isBot, tc.found, got, tc.want)
			}
		})
	}
}
