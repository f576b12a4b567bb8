package reproducer

import (
	"regexp"
	"strings"
)

// pullRequestSuffix strips a trailing "/pull/<number>" from a pull request
// URL to recover the project's clone URL, ground:
// BreakingUpdateReproducer.createImageForBreakingUpdate's
// url.replaceAll("/pull/\\d+", "").
var pullRequestSuffix = regexp.MustCompile(`/pull/\d+`)

func stripPullRequestSuffix(url string) string {
	return pullRequestSuffix.ReplaceAllString(url, "")
}

// baseImageParts splits "repository:tag" into its two components.
func baseImageParts(ref string) (repository, tag string) {
	repository, tag, ok := strings.Cut(ref, ":")
	if !ok {
		return ref, "latest"
	}
	return repository, tag
}
