package candidate

import (
	"regexp"

	"golang.org/x/mod/semver"
)

// numericVersionShape accepts only "X.Y" or "X.Y.Z" with all-numeric
// components, matching the original miner's strict SEM_VER /
// SEM_VER_WITHOUT_PATCH acceptance rule: anything else is "other" rather
// than risking a misclassified pre-release or build-metadata suffix.
var numericVersionShape = regexp.MustCompile(`^\d+\.\d+(\.\d+)?$`)

// ClassifyVersionUpdate determines whether bumping previous to next is a
// major, minor, patch, or "other" (non-semver-shaped) change, per spec §3.
func ClassifyVersionUpdate(previous, next string) VersionUpdateType {
	if previous == next {
		return VersionOther
	}
	if !numericVersionShape.MatchString(previous) || !numericVersionShape.MatchString(next) {
		return VersionOther
	}

	vPrev, vNext := "v"+previous, "v"+next
	if !semver.IsValid(vPrev) || !semver.IsValid(vNext) {
		return VersionOther
	}

	// major iff the first component strictly grew; minor iff the second did
	// (with the first unchanged); patch iff only the third did. A downgrade
	// at any component, or an unequal-but-non-growing pair, is "other".
	switch {
	case semver.Compare(semver.Major(vPrev), semver.Major(vNext)) < 0:
		return VersionMajor
	case semver.Compare(semver.Major(vPrev), semver.Major(vNext)) > 0:
		return VersionOther
	case semver.Compare(semver.MajorMinor(vPrev), semver.MajorMinor(vNext)) < 0:
		return VersionMinor
	case semver.Compare(semver.MajorMinor(vPrev), semver.MajorMinor(vNext)) > 0:
		return VersionOther
	case semver.Compare(vPrev, vNext) < 0:
		return VersionPatch
	default:
		return VersionOther
	}
}
