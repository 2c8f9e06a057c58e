// Package unit holds the content-unit data model shared by the scheduler.
//
// A Unit is identified by name and created on first reference; it is never
// destroyed during a session. Each Unit carries one PlatformRecord per session
// platform. The Registry is the arena that owns every Unit and also tracks which
// request cluster currently owns a unit's fate.
//
// The package also defines the vocabulary exchanged with the external
// collaborators: Descriptor (metadata source), Attachment (prior-build storage)
// and DependencyCategory.
package unit
