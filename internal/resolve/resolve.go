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

// Package resolve recovers the canonical program name of a traced process
// from its raw argv[0] or executable path, undoing the packaging system's
// wrapper convention of surrounding a basename with leading dots and
// trailing "-wrapped" segments.
package resolve

import "strings"

const wrappedSuffix = "-wrapped"

// Basename strips everything up to and including the last path separator
// from pathOrArg, then unwraps packaging layers via Unwrap.
func Basename(pathOrArg string) string {
	idx := strings.LastIndexByte(pathOrArg, '/')
	name := pathOrArg
	if idx >= 0 {
		name = pathOrArg[idx+1:]
	}
	return Unwrap(name)
}

// Unwrap strips matched pairs of a leading "." and a trailing "-wrapped"
// from name, greedily and repeatedly. A pair strips only when both sides
// match; as soon as one side fails to match, unwrapping stops even if the
// other side still would have matched.
//
//	.gcc-wrapped                  -> gcc
//	..gcc-wrapped-wrapped         -> gcc
//	...gcc-wrapped-wrapped-wrapped -> gcc
//	.hidden-file                  -> .hidden-file (no -wrapped suffix)
//	gcc-wrapped                   -> gcc-wrapped  (no leading dot)
//	.gcc-wrapped-wrapped          -> gcc-wrapped  (only one pair strips)
func Unwrap(name string) string {
	for {
		rest, ok := strings.CutSuffix(name, wrappedSuffix)
		if !ok {
			return name
		}
		rest, ok = strings.CutPrefix(rest, ".")
		if !ok {
			return name
		}
		name = rest
	}
}
