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

// Package profile describes the two-dimensional resource demand of a
// throttled build tool: a CPU count and a memory size in GiB.
package profile

import "fmt"

// Profile is the declared resource demand of a program. Components are
// signed so that budget arithmetic can transiently go negative during a
// force-admit (see Limiter.fits in the limiter package) without saturating
// or panicking.
type Profile struct {
	CPUs   int
	MemGiB int
}

// New returns a Profile with the given CPU and memory (GiB) demand.
func New(cpus, memGiB int) Profile {
	return Profile{CPUs: cpus, MemGiB: memGiB}
}

// Add returns the component-wise sum of p and other.
func (p Profile) Add(other Profile) Profile {
	return Profile{
		CPUs:   p.CPUs + other.CPUs,
		MemGiB: p.MemGiB + other.MemGiB,
	}
}

// Sub returns the component-wise difference p - other. The result may have
// negative components; callers that need a non-negative budget must check
// Fits themselves rather than relying on saturation here.
func (p Profile) Sub(other Profile) Profile {
	return Profile{
		CPUs:   p.CPUs - other.CPUs,
		MemGiB: p.MemGiB - other.MemGiB,
	}
}

// Fits reports whether p is satisfied by the available profile, i.e. every
// component of p is less than or equal to the matching component of
// available.
func (p Profile) Fits(available Profile) bool {
	return p.CPUs <= available.CPUs && p.MemGiB <= available.MemGiB
}

func (p Profile) String() string {
	return fmt.Sprintf("%d CPUs, %d GiB", p.CPUs, p.MemGiB)
}
