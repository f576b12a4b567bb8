// Package candidate defines the BreakingUpdate record and the parsing
// logic that derives it from a pull request's diff and the POM at its
// head commit.
package candidate

// AuthorKind classifies who authored a PR, commit, or parent commit.
type AuthorKind string

const (
	AuthorHuman   AuthorKind = "human"
	AuthorBot     AuthorKind = "bot"
	AuthorUnknown AuthorKind = "unknown"
)

// DependencyScope mirrors the Maven <scope> values we care about.
type DependencyScope string

const (
	ScopeCompile  DependencyScope = "compile"
	ScopeProvided DependencyScope = "provided"
	ScopeRuntime  DependencyScope = "runtime"
	ScopeSystem   DependencyScope = "system"
	ScopeImport   DependencyScope = "import"
)

// VersionUpdateType classifies the magnitude of a version bump.
type VersionUpdateType string

const (
	VersionMajor VersionUpdateType = "major"
	VersionMinor VersionUpdateType = "minor"
	VersionPatch VersionUpdateType = "patch"
	VersionOther VersionUpdateType = "other"
)

// DependencySection names the POM section the updated dependency lives in.
type DependencySection string

const (
	SectionDependencies           DependencySection = "dependencies"
	SectionBuildPlugins           DependencySection = "buildPlugins"
	SectionBuildPluginManagement  DependencySection = "buildPluginManagement"
	SectionDependencyManagement   DependencySection = "dependencyManagement"
	SectionProfileDependencies    DependencySection = "profileDependencies"
	SectionProfileBuildPlugins    DependencySection = "profileBuildPlugins"
	SectionUnknown                DependencySection = "unknown"
)

// FailureCategory classifies a build failure's root cause.
type FailureCategory string

const (
	CompilationFailure           FailureCategory = "COMPILATION_FAILURE"
	TestFailure                  FailureCategory = "TEST_FAILURE"
	DependencyResolutionFailure  FailureCategory = "DEPENDENCY_RESOLUTION_FAILURE"
	MavenEnforcerFailure         FailureCategory = "MAVEN_ENFORCER_FAILURE"
	DependencyLockFailure        FailureCategory = "DEPENDENCY_LOCK_FAILURE"
	JenkinsPluginFailure         FailureCategory = "JENKINS_PLUGIN_FAILURE"
	JaxbFailure                  FailureCategory = "JAXB_FAILURE"
	ScmCheckoutFailure           FailureCategory = "SCM_CHECKOUT_FAILURE"
	CheckstyleFailure            FailureCategory = "CHECKSTYLE_FAILURE"
	WerrorFailure                FailureCategory = "WERROR_FAILURE"
	UnknownFailure                FailureCategory = "UNKNOWN_FAILURE"
)

// UpdatedFileType distinguishes which dependency artifact kind was
// extracted from the local Maven repository.
type UpdatedFileType string

const (
	UpdatedFileJar UpdatedFileType = "JAR"
	UpdatedFilePOM UpdatedFileType = "POM"
)

// UpdatedDependency describes the single dependency coordinate that the
// breaking commit bumped.
type UpdatedDependency struct {
	DependencyGroupID    string             `json:"dependencyGroupID"`
	DependencyArtifactID string             `json:"dependencyArtifactID"`
	PreviousVersion      string             `json:"previousVersion"`
	NewVersion           string             `json:"newVersion"`
	DependencyScope      DependencyScope    `json:"dependencyScope"`
	VersionUpdateType    VersionUpdateType  `json:"versionUpdateType"`
	DependencySection    DependencySection  `json:"dependencySection"`
}

// BreakingUpdate is the persisted record for one candidate/reproduced
// breaking dependency update. A single struct models every partition;
// which optional fields are populated (and which directory the file lives
// in) determines whether it is a candidate, a benchmark entry, or an
// unsuccessful attempt (spec §9 "Polymorphism").
type BreakingUpdate struct {
	URL                 string     `json:"url"`
	Project             string     `json:"project"`
	ProjectOrganisation string     `json:"projectOrganisation"`
	BreakingCommit       string     `json:"breakingCommit"`
	PRAuthor             AuthorKind `json:"prAuthor"`
	PreCommitAuthor      AuthorKind `json:"preCommitAuthor"`
	BreakingCommitAuthor AuthorKind `json:"breakingCommitAuthor"`
	LicenseInfo          string     `json:"licenseInfo"`

	UpdatedDependency UpdatedDependency `json:"updatedDependency"`

	// Populated only once the Reproducer has run.
	FailureCategory                   *FailureCategory `json:"failureCategory,omitempty"`
	JavaVersionUsedForReproduction    string            `json:"javaVersionUsedForReproduction,omitempty"`
	PreCommitReproductionCommand      string            `json:"preCommitReproductionCommand,omitempty"`
	BreakingUpdateReproductionCommand string            `json:"breakingUpdateReproductionCommand,omitempty"`

	// Best-effort enrichment, only ever set on successful reproductions.
	GithubCompareLink       string           `json:"githubCompareLink,omitempty"`
	MavenSourceLinkPre      string           `json:"mavenSourceLinkPre,omitempty"`
	MavenSourceLinkBreaking string           `json:"mavenSourceLinkBreaking,omitempty"`
	UpdatedFileType         *UpdatedFileType `json:"updatedFileType,omitempty"`
}

// IsReproduced reports whether this record carries reproduction results,
// i.e. it belongs in benchmark/ rather than candidates/ or unsuccessful/.
func (b *BreakingUpdate) IsReproduced() bool {
	return b.FailureCategory != nil
}
