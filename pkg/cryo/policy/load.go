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

package policy

import (
	"crypto/sha256"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Rule files are TOML, one [[rule]] table per rule, evaluated in file order:
//
//	[[rule]]
//	fd = 7
//	checkpoint = "close"
//	restore = "reopen"
//
//	[[rule]]
//	pattern = '^/var/log/'
//	checkpoint = "warn-close"
//	restore = "reopen-at-end"
//
//	[[rule]]
//	pattern = '\.sock$'
//	checkpoint = "close"
//	restore = "keep-closed"
type tomlPolicy struct {
	Rule []tomlRule `toml:"rule"`
}

type tomlRule struct {
	FD         *int32 `toml:"fd"`
	Pattern    string `toml:"pattern"`
	Checkpoint string `toml:"checkpoint"`
	Restore    string `toml:"restore"`
	Substitute string `toml:"substitute"`
}

// Load reads and compiles a rule file. Any malformed rule is an error here;
// a loaded Set never fails at match time.
func Load(path string) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	set, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("policy %q: %w", path, err)
	}
	return set, nil
}

// Parse compiles rules from TOML text. It is Load for callers that already
// hold the bytes.
func Parse(data string) (*Set, error) {
	var raw tomlPolicy
	md, err := toml.Decode(data, &raw)
	if err != nil {
		return nil, err
	}
	set, err := compile(raw, md)
	if err != nil {
		return nil, err
	}
	set.digest = fmt.Sprintf("%x", sha256.Sum256([]byte(data)))
	return set, nil
}

func compile(raw tomlPolicy, md toml.MetaData) (*Set, error) {
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown keys: %v", undecoded)
	}

	rules := make([]Rule, 0, len(raw.Rule))
	for i, tr := range raw.Rule {
		r := Rule{FD: tr.FD, SubstitutePath: tr.Substitute}

		if tr.Pattern != "" {
			re, err := regexp.Compile(tr.Pattern)
			if err != nil {
				return nil, fmt.Errorf("rule %d: bad pattern %q: %w", i, tr.Pattern, err)
			}
			r.Pattern = re
		}

		ca, err := ParseCheckpointAction(tr.Checkpoint)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Checkpoint = ca

		ra, err := ParseRestoreAction(tr.Restore)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		r.Restore = ra

		if ra.NeedsSubstitutePath() {
			if tr.Substitute == "" {
				return nil, fmt.Errorf("rule %d: restore action %q requires a substitute path", i, tr.Restore)
			}
		} else if tr.Substitute != "" {
			return nil, fmt.Errorf("rule %d: substitute path set but restore action is %q", i, tr.Restore)
		}

		rules = append(rules, r)
	}
	return NewSet(rules), nil
}
