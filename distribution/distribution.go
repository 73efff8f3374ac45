// Copyright 2026 Blink Labs Software
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

package distribution

import (
	"fmt"
	"time"
)

// Mode identifies how asset units in a group are handed out. The numeric
// values are part of the faucet configuration format and must not be
// reordered.
type Mode int

const (
	// ModeSequential hands out asset units one per request in the
	// configured order until the group is exhausted. This is the default
	// distribution mode.
	ModeSequential Mode = 1
	// ModeRandomWindowed accepts requests only while the current time lies
	// within the configured request window and picks a unit uniformly at
	// random among the group's assets.
	ModeRandomWindowed Mode = 2
)

// Valid returns true if the Mode is a known distribution mode
func (m Mode) Valid() bool {
	switch m {
	case ModeSequential, ModeRandomWindowed:
		return true
	default:
		return false
	}
}

func (m Mode) String() string {
	switch m {
	case ModeSequential:
		return "sequential"
	case ModeRandomWindowed:
		return "random-windowed"
	default:
		return fmt.Sprintf("unknown (%d)", int(m))
	}
}

// Policy is the validated distribution policy for a single asset group.
// The window fields are only populated for ModeRandomWindowed.
type Policy struct {
	WindowOpen  time.Time
	WindowClose time.Time
	Mode        Mode
}

// InWindow returns whether the given time falls within the request window.
// The window is half-open: [WindowOpen, WindowClose). Policies without a
// window accept at any time.
func (p Policy) InWindow(t time.Time) bool {
	if p.Mode != ModeRandomWindowed {
		return true
	}
	return !t.Before(p.WindowOpen) && t.Before(p.WindowClose)
}

// AssetUnit is a single distributable unit within a group
type AssetUnit struct {
	AssetID string
	Amount  uint64
}

// AssetGroup is a validated asset group. Groups are built once at startup
// by Validate and are immutable for the process lifetime.
type AssetGroup struct {
	Name   string
	Label  string
	Assets []AssetUnit
	Policy Policy
	Quota  int
}

// RawGroup is the free-form group declaration as it appears in the faucet
// configuration file. It carries no guarantees until passed through
// Validate.
type RawGroup struct {
	Label        string           `yaml:"label"`
	Assets       []RawAsset       `yaml:"assets"`
	Distribution *RawDistribution `yaml:"distribution"`
	Quota        int              `yaml:"quota"`
}

type RawAsset struct {
	AssetID string `yaml:"assetId"`
	Amount  uint64 `yaml:"amount"`
}

type RawDistribution struct {
	Mode         int              `yaml:"mode"`
	RandomParams *RawRandomParams `yaml:"randomParams"`
}

type RawRandomParams struct {
	RequestWindowOpen  string `yaml:"requestWindowOpen"`
	RequestWindowClose string `yaml:"requestWindowClose"`
}
