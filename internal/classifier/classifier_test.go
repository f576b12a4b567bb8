package classifier

import (
	"testing"

	"github.com/chains-project/bump/internal/candidate"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		log  string
		want candidate.FailureCategory
	}{
		{"compilation", "[INFO] ------\nCOMPILATION ERROR : \n[ERROR] foo.java", candidate.CompilationFailure},
		{"enforcer", "Failed to execute goal org.apache.maven.plugins:maven-enforcer-plugin:1.0:enforce", candidate.MavenEnforcerFailure},
		{"dependency resolution", "Could not resolve dependencies for project foo", candidate.DependencyResolutionFailure},
		{"test failure", "[ERROR] Tests run: 10, Failures: 1", candidate.TestFailure},
		{"werror", "[WARNING] foo.java: [-Werror]", candidate.WerrorFailure},
		{"checkstyle", "Failed to execute goal com.foo:maven-checkstyle-plugin:check", candidate.CheckstyleFailure},
		{"jaxb", "Failed to execute goal org.foo:jaxb2-maven-plugin:generate", candidate.JaxbFailure},
		{"scm", "Failed to execute goal org.apache.maven.plugins:maven-scm-plugin:checkout", candidate.ScmCheckoutFailure},
		{"scm command execution", "Command execution failed.\nprocess: git checkout foo", candidate.ScmCheckoutFailure},
		{"dependency lock", "locked dependency org.foo:bar:1.0 does not match", candidate.DependencyLockFailure},
		{"jenkins", "Failed to execute goal org.jenkins-ci.tools:maven-hpi-plugin:jenkins-plugin", candidate.JenkinsPluginFailure},
		{"unknown", "[INFO] BUILD SUCCESS", candidate.UnknownFailure},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Classify(tc.log); got != tc.want {
				t.Errorf("Classify(%q) = %q, want %q", tc.name, got, tc.want)
			}
		})
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	log := "COMPILATION ERROR : \nCould not resolve dependencies"
	if got := Classify(log); got != candidate.CompilationFailure {
		t.Errorf("Classify = %q, want compilation failure to win by priority", got)
	}
}
