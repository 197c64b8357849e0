//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Package classifier maps a resolved program name (see the resolve
// package) to the resource profile it is expected to consume while
// compiling. Programs with no entry are not throttled.
package classifier

import "github.com/xddxdd/nix-ubw/internal/profile"

// rule associates one or more canonical program names with the profile
// they consume. The table is data, not a chain of branches, so adding a
// new toolchain is a one-line addition.
type rule struct {
	names   []string
	profile profile.Profile
}

var defaultRules = []rule{
	{[]string{"cc", "gcc", "g++", "c++", "clang", "clang++"}, profile.New(1, 1)},
	{[]string{"rustc"}, profile.New(4, 4)},
	{[]string{"llc", "lld", "ld.lld"}, profile.New(1, 2)},
	{[]string{"ld", "gold"}, profile.New(1, 1)},
	{[]string{"go"}, profile.New(1, 1)},
	{[]string{"ghc"}, profile.New(1, 4)},
	{[]string{"java", "javac", "scalac", "kotlinc"}, profile.New(1, 2)},
	{[]string{"nvcc", "ptxas", "cicc", "cudafe++", "fatbinary"}, profile.New(1, 4)},
}

// Classifier looks up the resource profile for a resolved program name. The
// zero value uses the built-in rules table.
type Classifier struct {
	byName map[string]profile.Profile
}

// New builds a Classifier from the built-in rules table, overlaid with any
// extra rules (e.g. loaded from a config file; see the config package).
// Extra entries take precedence over the built-in table.
func New(extra map[string]profile.Profile) *Classifier {
	c := &Classifier{byName: make(map[string]profile.Profile)}
	for _, r := range defaultRules {
		for _, name := range r.names {
			c.byName[name] = r.profile
		}
	}
	for name, p := range extra {
		c.byName[name] = p
	}
	return c
}

// ProfileFor returns the resource profile for the resolved argv of a
// process (args[0] must already be resolved by the resolve package) and
// whether the program is throttled at all. An empty argv is never
// throttled.
func (c *Classifier) ProfileFor(args []string) (profile.Profile, bool) {
	if len(args) == 0 {
		return profile.Profile{}, false
	}
	if c.byName == nil {
		*c = *New(nil)
	}
	p, ok := c.byName[args[0]]
	return p, ok
}
