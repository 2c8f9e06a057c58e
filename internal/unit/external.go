package unit

import (
	"fmt"
	"strings"
)

// DependencyCategory classifies an edge reported by the metadata source.
type DependencyCategory int

const (
	// Hard dependencies are always required.
	Hard DependencyCategory = iota + 1
	// Soft dependencies are explorable but not required.
	Soft
	// Build dependencies are loaded while building the dependent.
	Build
)

// String returns the category name.
func (c DependencyCategory) String() string {
	switch c {
	case Hard:
		return "hard"
	case Soft:
		return "soft"
	case Build:
		return "build"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

// Categories lists every category in fetch order.
var Categories = []DependencyCategory{Hard, Soft, Build}

// Descriptor is what the metadata source knows about an existing unit.
type Descriptor struct {
	Type        string
	Script      bool
	ContentHash string
}

// CommitStatus is the outcome recorded by the prior build.
type CommitStatus string

const (
	CommitSuccess CommitStatus = "success"
	CommitFailed  CommitStatus = "failed"
)

// Attachment is the prior-build record for one unit and platform.
type Attachment struct {
	ContentHash         string
	BuildDependencies   []string
	RuntimeDependencies []string
	BuildDefinitions    []string
	CommitStatus        CommitStatus
}

// Succeeded reports whether the prior build committed successfully.
func (a *Attachment) Succeeded() bool {
	return a != nil && a.CommitStatus == CommitSuccess
}

// generatedSeparator joins a generator name and a relative id.
const generatedSeparator = "/_Generated_/"

// GeneratedName builds the name of a generated unit.
func GeneratedName(generator, relativeID string) string {
	return generator + generatedSeparator + relativeID
}

// IsGeneratedName reports whether name follows the generated naming convention.
func IsGeneratedName(name string) bool {
	return strings.Contains(name, generatedSeparator)
}

// GeneratorOf returns the generator name encoded in a generated name.
func GeneratorOf(name string) (string, bool) {
	idx := strings.Index(name, generatedSeparator)
	if idx < 0 {
		return "", false
	}
	return name[:idx], true
}

// AttachmentResult is delivered once per requested unit by the storage fetch
// service. A nil Attachment with a nil Err means no prior build exists.
type AttachmentResult struct {
	Name       string
	Attachment *Attachment
	Err        error
}
