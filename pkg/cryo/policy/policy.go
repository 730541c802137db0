// Copyright 2024 The Cryo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package policy decides the disposition of tracked descriptors around a
// checkpoint: whether an open descriptor blocks the checkpoint or gets
// closed, and how a closed one comes back after restore.
//
// Rules are matched first-match-wins in declaration order and never fail at
// match time; everything that can go wrong goes wrong when the rule file is
// loaded.
package policy

import (
	"fmt"
	"regexp"

	"cryo.dev/cryo/pkg/hostfd"
)

// CheckpointAction is what happens to a matched descriptor when the process
// is about to be checkpointed.
type CheckpointAction int

const (
	// ActionError refuses the checkpoint: the descriptor should not have
	// been left open.
	ActionError CheckpointAction = iota

	// ActionWarnClose logs a warning, then closes as ActionClose does.
	ActionWarnClose

	// ActionClose snapshots the descriptor's identity and closes it.
	ActionClose
)

// String implements fmt.Stringer.String. The result is the configuration
// keyword.
func (a CheckpointAction) String() string {
	switch a {
	case ActionError:
		return "error"
	case ActionWarnClose:
		return "warn-close"
	case ActionClose:
		return "close"
	default:
		return fmt.Sprintf("checkpoint-action(%d)", int(a))
	}
}

// ParseCheckpointAction parses a configuration keyword.
func ParseCheckpointAction(s string) (CheckpointAction, error) {
	switch s {
	case "error":
		return ActionError, nil
	case "warn-close":
		return ActionWarnClose, nil
	case "close":
		return ActionClose, nil
	default:
		return 0, fmt.Errorf("unrecognized checkpoint action %q", s)
	}
}

// RestoreAction is how a descriptor closed for checkpoint comes back after
// restore.
type RestoreAction int

const (
	// RestoreKeepClosed leaves the descriptor closed for good. The
	// application observes an invalid descriptor on next use.
	RestoreKeepClosed RestoreAction = iota

	// RestoreReopen reopens the original path with the original flags and
	// seeks to the recorded offset.
	RestoreReopen

	// RestoreReopenAtEnd reopens the original path and seeks to end of
	// file.
	RestoreReopenAtEnd

	// RestoreSubstitute opens the rule's substitute path and seeks to the
	// recorded offset.
	RestoreSubstitute

	// RestoreSubstituteAtEnd opens the rule's substitute path and seeks to
	// end of file.
	RestoreSubstituteAtEnd

	// RestoreReopenOrNull tries RestoreReopen and on any failure opens the
	// null device at the same descriptor number instead, so the
	// application never observes an invalid descriptor.
	RestoreReopenOrNull
)

// String implements fmt.Stringer.String. The result is the configuration
// keyword.
func (a RestoreAction) String() string {
	switch a {
	case RestoreKeepClosed:
		return "keep-closed"
	case RestoreReopen:
		return "reopen"
	case RestoreReopenAtEnd:
		return "reopen-at-end"
	case RestoreSubstitute:
		return "substitute"
	case RestoreSubstituteAtEnd:
		return "substitute-at-end"
	case RestoreReopenOrNull:
		return "reopen-or-null"
	default:
		return fmt.Sprintf("restore-action(%d)", int(a))
	}
}

// ParseRestoreAction parses a configuration keyword.
func ParseRestoreAction(s string) (RestoreAction, error) {
	switch s {
	case "keep-closed":
		return RestoreKeepClosed, nil
	case "reopen":
		return RestoreReopen, nil
	case "reopen-at-end":
		return RestoreReopenAtEnd, nil
	case "substitute":
		return RestoreSubstitute, nil
	case "substitute-at-end":
		return RestoreSubstituteAtEnd, nil
	case "reopen-or-null":
		return RestoreReopenOrNull, nil
	default:
		return 0, fmt.Errorf("unrecognized restore action %q", s)
	}
}

// NeedsSubstitutePath reports whether a opens a configured substitute path.
func (a RestoreAction) NeedsSubstitutePath() bool {
	return a == RestoreSubstitute || a == RestoreSubstituteAtEnd
}

// Identity is the immutable view of a descriptor used for matching and
// diagnostics.
type Identity struct {
	// FD is the native descriptor number.
	FD int32

	// Kind classifies the descriptor.
	Kind hostfd.Kind

	// Description is the descriptor's path, or the kernel's symbolic form
	// for pathless objects.
	Description string
}

// String implements fmt.Stringer.String.
func (id Identity) String() string {
	return fmt.Sprintf("fd %d (%s) %s", id.FD, id.Kind, id.Description)
}

// Rule assigns actions to the descriptors it matches. A rule matches when
// every present matcher matches; an absent matcher matches everything, so
// the zero matchers make a wildcard rule.
type Rule struct {
	// FD, if set, matches the native descriptor number exactly.
	FD *int32

	// Pattern, if set, is searched against the description string.
	Pattern *regexp.Regexp

	// Checkpoint is the action taken at checkpoint time.
	Checkpoint CheckpointAction

	// Restore is the action taken at restore time.
	Restore RestoreAction

	// SubstitutePath is the path opened by the substitute actions.
	SubstitutePath string
}

func (r *Rule) matches(id Identity) bool {
	if r.FD != nil && *r.FD != id.FD {
		return false
	}
	if r.Pattern != nil && !r.Pattern.MatchString(id.Description) {
		return false
	}
	return true
}

// Engine resolves actions for descriptor identities. Resolution never fails;
// misconfiguration is caught when rules are loaded.
type Engine interface {
	// CheckpointAction returns the checkpoint disposition for id.
	CheckpointAction(id Identity) CheckpointAction

	// RestoreAction returns the restore disposition for id and, for the
	// substitute actions, the path to open.
	RestoreAction(id Identity) (RestoreAction, string)
}

// Set is an immutable, ordered rule list. The zero Set holds no rules and
// resolves everything to the built-in defaults.
//
// Defaults: descriptors nobody matched refuse the checkpoint (ActionError)
// and stay closed on restore. The three standard streams are the exception:
// they exist in every process and no application can be expected to
// enumerate them, so they close quietly and come back as themselves or as
// the null device.
type Set struct {
	rules []Rule

	// digest is the hex sha256 of the rule text, for sets compiled from
	// configuration.
	digest string
}

// NewSet returns a Set over a copy of rules.
func NewSet(rules []Rule) *Set {
	s := &Set{rules: make([]Rule, len(rules))}
	copy(s.rules, rules)
	return s
}

// Len returns the number of configured rules.
func (s *Set) Len() int {
	return len(s.rules)
}

// Digest returns the hex sha256 of the rule text this Set was compiled from,
// or "" for a Set built directly from rules. Checkpoint images record it so
// a restorer can tell which policy shaped the image.
func (s *Set) Digest() string {
	return s.digest
}

// CheckpointAction implements Engine.CheckpointAction.
func (s *Set) CheckpointAction(id Identity) CheckpointAction {
	for i := range s.rules {
		if s.rules[i].matches(id) {
			return s.rules[i].Checkpoint
		}
	}
	if isStdStream(id.FD) {
		return ActionClose
	}
	return ActionError
}

// RestoreAction implements Engine.RestoreAction.
func (s *Set) RestoreAction(id Identity) (RestoreAction, string) {
	for i := range s.rules {
		if s.rules[i].matches(id) {
			return s.rules[i].Restore, s.rules[i].SubstitutePath
		}
	}
	if isStdStream(id.FD) {
		return RestoreReopenOrNull, ""
	}
	return RestoreKeepClosed, ""
}

func isStdStream(fd int32) bool {
	return fd >= 0 && fd <= 2
}
