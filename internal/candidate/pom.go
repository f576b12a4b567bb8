package candidate

import (
	"encoding/xml"
	"fmt"
)

// pomModel is a minimal Maven POM model: just enough structure to locate
// which section a (groupId, artifactId) dependency coordinate lives under.
// Ground: org.apache.maven.model traversal order in the original miner's
// BreakingUpdate.UpdatedDependency#parseDependencySection.
type pomModel struct {
	Dependencies         []pomDependency          `xml:"dependencies>dependency"`
	Build                *pomBuild                `xml:"build"`
	DependencyManagement *pomDependencyManagement `xml:"dependencyManagement"`
	Profiles             []pomProfile             `xml:"profiles>profile"`
}

type pomDependency struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

type pomBuild struct {
	Plugins          []pomPlugin          `xml:"plugins>plugin"`
	PluginManagement *pomPluginManagement `xml:"pluginManagement"`
}

type pomPlugin struct {
	Dependencies []pomDependency `xml:"dependencies>dependency"`
}

type pomPluginManagement struct {
	Plugins []pomPlugin `xml:"plugins>plugin"`
}

type pomDependencyManagement struct {
	Dependencies []pomDependency `xml:"dependencies>dependency"`
}

type pomProfile struct {
	Dependencies []pomDependency `xml:"dependencies>dependency"`
	Build        *pomBuild       `xml:"build"`
}

func containsDependency(deps []pomDependency, groupID, artifactID string) bool {
	for _, d := range deps {
		if d.GroupID == groupID && d.ArtifactID == artifactID {
			return true
		}
	}
	return false
}

func anyPluginDependency(plugins []pomPlugin, groupID, artifactID string) bool {
	for _, p := range plugins {
		if containsDependency(p.Dependencies, groupID, artifactID) {
			return true
		}
	}
	return false
}

// ResolveDependencySection parses pomXML and returns which section the
// (groupID, artifactID) coordinate is declared under, checked in the order
// dependencies, build/plugins, build/pluginManagement/plugins,
// dependencyManagement, profile dependencies, profile build/plugins.
// An unparseable POM or an unfound coordinate both resolve to "unknown"
// (spec §4.4).
func ResolveDependencySection(pomXML []byte, groupID, artifactID string) DependencySection {
	var model pomModel
	if err := xml.Unmarshal(pomXML, &model); err != nil {
		return SectionUnknown
	}
	return resolveFromModel(model, groupID, artifactID)
}

func resolveFromModel(model pomModel, groupID, artifactID string) DependencySection {
	if containsDependency(model.Dependencies, groupID, artifactID) {
		return SectionDependencies
	}
	if model.Build != nil {
		if anyPluginDependency(model.Build.Plugins, groupID, artifactID) {
			return SectionBuildPlugins
		}
		if model.Build.PluginManagement != nil &&
			anyPluginDependency(model.Build.PluginManagement.Plugins, groupID, artifactID) {
			return SectionBuildPluginManagement
		}
	}
	if model.DependencyManagement != nil &&
		containsDependency(model.DependencyManagement.Dependencies, groupID, artifactID) {
		return SectionDependencyManagement
	}
	for _, profile := range model.Profiles {
		if containsDependency(profile.Dependencies, groupID, artifactID) {
			return SectionProfileDependencies
		}
		if profile.Build != nil && anyPluginDependency(profile.Build.Plugins, groupID, artifactID) {
			return SectionProfileBuildPlugins
		}
	}
	return SectionUnknown
}

// ParsePOMError wraps an XML parse failure with the file path that caused
// it, for callers that want to log a specific POM location.
type ParsePOMError struct {
	Path string
	Err  error
}

func (e *ParsePOMError) Error() string {
	return fmt.Sprintf("parsing POM %s: %v", e.Path, e.Err)
}

func (e *ParsePOMError) Unwrap() error { return e.Err }
