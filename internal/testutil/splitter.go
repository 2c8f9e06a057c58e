package testutil

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/kiln/internal/splitter"
)

// ErrScripted is returned by ScriptedSplitter when told to fail.
var ErrScripted = errors.New("scripted splitter failure")

// ScriptedSplitter is a splitter whose answers are set by the test.
// Factory returns the same instance every time so tests can inspect calls.
//
// Thread-safety: safe for concurrent use.
type ScriptedSplitter struct {
	mu             sync.Mutex
	split          bool
	traits         splitter.Traits
	list           []splitter.GeneratedSpec
	listErr        error
	failGenerator  bool
	failGenerated  map[string]bool
	keepReferenced []string
	calls          map[string]int
}

// NewScriptedSplitter creates a splitter that splits and returns list.
func NewScriptedSplitter(list ...splitter.GeneratedSpec) *ScriptedSplitter {
	return &ScriptedSplitter{
		split:         true,
		list:          list,
		failGenerated: make(map[string]bool),
		calls:         make(map[string]int),
	}
}

// Factory returns a factory yielding this instance.
func (s *ScriptedSplitter) Factory() splitter.Factory {
	return func() splitter.Splitter { return s }
}

// SetShouldSplit controls ShouldSplit.
func (s *ScriptedSplitter) SetShouldSplit(split bool) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.split = split
	return s
}

// SetTraits controls the declared traits.
func (s *ScriptedSplitter) SetTraits(t splitter.Traits) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.traits = t
	return s
}

// SetList replaces the generate list.
func (s *ScriptedSplitter) SetList(list ...splitter.GeneratedSpec) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.list = list
	return s
}

// SetListError makes GetGenerateList fail.
func (s *ScriptedSplitter) SetListError(err error) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listErr = err
	return s
}

// FailGenerator makes PopulateGenerator report failure.
func (s *ScriptedSplitter) FailGenerator() *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGenerator = true
	return s
}

// FailGenerated makes PopulateGenerated report failure for a relative id.
func (s *ScriptedSplitter) FailGenerated(relativeID string) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failGenerated[relativeID] = true
	return s
}

// SetKeepReferenced sets what populate asks to keep referenced.
func (s *ScriptedSplitter) SetKeepReferenced(names ...string) *ScriptedSplitter {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepReferenced = names
	return s
}

// Calls returns how often a method ran. Keys are method names, with
// ":<arg>" appended for PopulateGenerated and PostSave.
func (s *ScriptedSplitter) Calls(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func (s *ScriptedSplitter) record(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[key]++
}

func (s *ScriptedSplitter) ShouldSplit(string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.split
}

func (s *ScriptedSplitter) Traits() splitter.Traits {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.traits
}

func (s *ScriptedSplitter) GetGenerateList(ctx context.Context, owner string) ([]splitter.GeneratedSpec, error) {
	s.record("GetGenerateList")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	out := make([]splitter.GeneratedSpec, len(s.list))
	copy(out, s.list)
	return out, nil
}

func (s *ScriptedSplitter) PopulateGenerator(ctx context.Context, owner string, generated []splitter.GeneratedSpec) (splitter.PopulateResult, error) {
	s.record("PopulateGenerator")
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGenerator {
		return splitter.PopulateResult{}, nil
	}
	return splitter.PopulateResult{KeepReferenced: s.keepReferenced, Success: true}, nil
}

func (s *ScriptedSplitter) PopulateGenerated(ctx context.Context, owner string, generated splitter.GeneratedSpec) (splitter.PopulateResult, error) {
	s.record("PopulateGenerated:" + generated.RelativeID)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failGenerated[generated.RelativeID] {
		return splitter.PopulateResult{}, ErrScripted
	}
	return splitter.PopulateResult{
		ObjectsToMove: []string{generated.RelativeID + ".objects"},
		Success:       true,
	}, nil
}

func (s *ScriptedSplitter) PostSave(ctx context.Context, name string) {
	s.record("PostSave:" + name)
}

func (s *ScriptedSplitter) Teardown(owner string) {
	s.record("Teardown")
}
