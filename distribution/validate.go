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
	"sort"
	"strings"
	"time"
)

// ConfigurationError aggregates every violation found while validating the
// configured asset groups. The full ordered list is preserved so operators
// can fix their configuration in a single pass instead of replaying
// fail-fast errors one at a time.
type ConfigurationError struct {
	Problems []string
}

func (e *ConfigurationError) Error() string {
	var sb strings.Builder
	sb.WriteString("invalid asset group configuration:")
	for _, problem := range e.Problems {
		sb.WriteString("\n - ")
		sb.WriteString(problem)
	}
	return sb.String()
}

// Validate checks the raw group declarations and builds the validated
// AssetGroup set. All violations across all groups are collected into a
// single ConfigurationError. Groups are processed in name order so the
// error list is deterministic.
func Validate(
	rawGroups map[string]RawGroup,
	dateFormat string,
	defaultQuota int,
) (map[string]*AssetGroup, error) {
	groups := make(map[string]*AssetGroup, len(rawGroups))
	var problems []string
	groupNames := make([]string, 0, len(rawGroups))
	for name := range rawGroups {
		groupNames = append(groupNames, name)
	}
	sort.Strings(groupNames)
	for _, name := range groupNames {
		raw := rawGroups[name]
		groupProblems := validateGroup(name, raw, dateFormat)
		if len(groupProblems) > 0 {
			problems = append(problems, groupProblems...)
			continue
		}
		group := &AssetGroup{
			Name:   name,
			Label:  raw.Label,
			Quota:  raw.Quota,
			Policy: buildPolicy(raw.Distribution, dateFormat),
		}
		if group.Quota <= 0 {
			group.Quota = defaultQuota
		}
		for _, asset := range raw.Assets {
			group.Assets = append(group.Assets, AssetUnit{
				AssetID: asset.AssetID,
				Amount:  asset.Amount,
			})
		}
		groups[name] = group
	}
	if len(problems) > 0 {
		return nil, &ConfigurationError{Problems: problems}
	}
	return groups, nil
}

func validateGroup(name string, raw RawGroup, dateFormat string) []string {
	var problems []string
	if raw.Label == "" {
		problems = append(
			problems,
			fmt.Sprintf("missing label for group %s", name),
		)
	}
	if len(raw.Assets) == 0 {
		problems = append(
			problems,
			fmt.Sprintf("missing assets for group %s", name),
		)
	}
	for i, asset := range raw.Assets {
		if asset.AssetID == "" {
			problems = append(
				problems,
				fmt.Sprintf(
					"missing asset_id for asset %d in group %s",
					i,
					name,
				),
			)
		}
		if asset.Amount == 0 {
			problems = append(
				problems,
				fmt.Sprintf(
					"missing amount for asset %d in group %s",
					i,
					name,
				),
			)
		}
	}
	problems = append(
		problems,
		validateDistribution(name, raw.Distribution, dateFormat)...)
	return problems
}

func validateDistribution(
	name string,
	dist *RawDistribution,
	dateFormat string,
) []string {
	// An empty yaml block decodes to a non-nil zero value, treat it the
	// same as an absent one
	if dist == nil || *dist == (RawDistribution{}) {
		return []string{
			fmt.Sprintf("missing distribution for group %s", name),
		}
	}
	if dist.Mode == 0 {
		return []string{
			fmt.Sprintf("missing distribution mode for group %s", name),
		}
	}
	mode := Mode(dist.Mode)
	if !mode.Valid() {
		return []string{
			fmt.Sprintf(
				"%d is not a valid DistributionMode for group %s",
				dist.Mode,
				name,
			),
		}
	}
	if mode == ModeRandomWindowed {
		return validateRandomParams(name, dist.RandomParams, dateFormat)
	}
	return nil
}

func validateRandomParams(
	name string,
	params *RawRandomParams,
	dateFormat string,
) []string {
	if params == nil || *params == (RawRandomParams{}) {
		return []string{
			fmt.Sprintf("missing distribution params for group %s", name),
		}
	}
	var problems []string
	windowParams := []struct {
		field string
		value string
	}{
		{"request_window_open", params.RequestWindowOpen},
		{"request_window_close", params.RequestWindowClose},
	}
	for _, param := range windowParams {
		if param.value == "" {
			problems = append(
				problems,
				fmt.Sprintf(
					"missing distribution param %s for group %s",
					param.field,
					name,
				),
			)
			return problems
		}
		if _, err := time.Parse(dateFormat, param.value); err != nil {
			// One problem per malformed field
			problems = append(
				problems,
				fmt.Sprintf(
					"param %s value %q for group %s does not match format %q",
					param.field,
					param.value,
					name,
					dateFormat,
				),
			)
		}
	}
	// Only check window ordering once both ends parse
	windowOpen, openErr := time.Parse(dateFormat, params.RequestWindowOpen)
	windowClose, closeErr := time.Parse(
		dateFormat,
		params.RequestWindowClose,
	)
	if openErr == nil && closeErr == nil && !windowClose.After(windowOpen) {
		problems = append(
			problems,
			fmt.Sprintf(
				"request window_close for group %s not after open",
				name,
			),
		)
	}
	return problems
}

func buildPolicy(dist *RawDistribution, dateFormat string) Policy {
	policy := Policy{Mode: Mode(dist.Mode)}
	if policy.Mode == ModeRandomWindowed {
		// Parse errors were already rejected during validation
		policy.WindowOpen, _ = time.Parse(
			dateFormat,
			dist.RandomParams.RequestWindowOpen,
		)
		policy.WindowClose, _ = time.Parse(
			dateFormat,
			dist.RandomParams.RequestWindowClose,
		)
	}
	return policy
}
