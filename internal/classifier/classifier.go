// Package classifier assigns a FailureCategory to a reproduction log by
// matching it against an ordered list of regular expressions. Ground:
// reproducer.ResultManager.FAILURE_PATTERNS.
package classifier

import (
	"regexp"

	"github.com/chains-project/bump/internal/candidate"
)

// rule pairs a pattern with the category it implies. Rules are tried in
// order; the first match wins, matching the original's map iteration being
// effectively unordered but made deterministic here.
type rule struct {
	pattern  *regexp.Regexp
	category candidate.FailureCategory
}

// rules holds the four original patterns in their original priority,
// followed by the reserved categories the distillation never implemented.
var rules = []rule{
	{regexp.MustCompile(`(?i)COMPILATION ERROR :`), candidate.CompilationFailure},
	{regexp.MustCompile(`(?i)Failed to execute goal org\.apache\.maven\.plugins:maven-enforcer-plugin`), candidate.MavenEnforcerFailure},
	{regexp.MustCompile(`(?i)Could not resolve dependencies`), candidate.DependencyResolutionFailure},
	{regexp.MustCompile(`(?i)\[ERROR] Tests run: | There are test failures`), candidate.TestFailure},

	{regexp.MustCompile(`(?i)-Werror|\[WARNING].*\[-Werror]`), candidate.WerrorFailure},
	{regexp.MustCompile(`(?i)Failed to execute goal .*maven-checkstyle-plugin`), candidate.CheckstyleFailure},
	{regexp.MustCompile(`(?i)Failed to execute goal .*jaxb2-maven-plugin|com\.sun\.istack\.SAXException2`), candidate.JaxbFailure},
	{regexp.MustCompile(`(?i:Failed to execute goal .*maven-scm-plugin)|(?is:Command execution failed.*git)`), candidate.ScmCheckoutFailure},
	{regexp.MustCompile(`(?i)dependency-lock|locked dependency .* does not match`), candidate.DependencyLockFailure},
	{regexp.MustCompile(`(?i)Failed to execute goal .*jenkins.*plugin`), candidate.JenkinsPluginFailure},
}

// Classify scans log for the first matching failure pattern and returns
// its category, or UnknownFailure if nothing matches.
func Classify(log string) candidate.FailureCategory {
	for _, r := range rules {
		if r.pattern.MatchString(log) {
			return r.category
		}
	}
	return candidate.UnknownFailure
}
