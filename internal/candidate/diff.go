package candidate

import (
	"regexp"
	"strings"
)

var (
	groupIDPattern       = regexp.MustCompile(`^\s*<groupId>(.*)</groupId>\s*$`)
	artifactIDPattern     = regexp.MustCompile(`^\s*<artifactId>(.*)</artifactId>\s*$`)
	previousVersionPattern = regexp.MustCompile(`^-\s*<version>(.*?)</version>(?:\s*<!--.*?-->)?\s*$`)
	newVersionPattern      = regexp.MustCompile(`^\+\s*<version>(.*?)</version>(?:\s*<!--.*?-->)?\s*$`)
	scopePattern           = regexp.MustCompile(`^\s*<scope>(.*)</scope>\s*$`)
)

// parsePatchLine returns the first regex capturing group found on any line
// of diff, or def if the pattern never matches. This mirrors the
// line-anchored scanning the original miner used on unified diffs.
func parsePatchLine(diff string, pattern *regexp.Regexp, def string) string {
	for _, line := range strings.Split(diff, "\n") {
		if m := pattern.FindStringSubmatch(line); m != nil {
			return m[1]
		}
	}
	return def
}

// ParseUpdatedDependency extracts the dependency coordinate and version
// bump from a unified diff of a single-line POM version change. Fields
// that have no match in the diff fall back to their documented default
// (spec §4.4, "Candidate parse gap").
func ParseUpdatedDependency(diff string) UpdatedDependency {
	previous := parsePatchLine(diff, previousVersionPattern, "unknown")
	newVersion := parsePatchLine(diff, newVersionPattern, "unknown")
	return UpdatedDependency{
		DependencyGroupID:    parsePatchLine(diff, groupIDPattern, "unknown"),
		DependencyArtifactID: parsePatchLine(diff, artifactIDPattern, "unknown"),
		PreviousVersion:      previous,
		NewVersion:           newVersion,
		DependencyScope:      DependencyScope(parsePatchLine(diff, scopePattern, string(ScopeCompile))),
		VersionUpdateType:    ClassifyVersionUpdate(previous, newVersion),
	}
}

// ExtractPomFilePath returns the path of the first changed pom.xml file
// named in a unified diff's "--- a/<path>" header, or "" if none is found.
func ExtractPomFilePath(diff string) string {
	for _, line := range strings.Split(diff, "\n") {
		if path, ok := strings.CutPrefix(line, "--- a/"); ok {
			if strings.HasSuffix(path, "pom.xml") {
				return path
			}
		}
	}
	return ""
}
