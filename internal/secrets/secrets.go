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

// Package secrets loads sensitive faucet configuration (API keys, wallet
// RPC credentials) from a SOPS-encrypted YAML file. Decryption key
// material is resolved by SOPS itself (KMS, age, PGP) from its usual
// sources.
package secrets

import (
	"errors"
	"fmt"
	"os"

	sopsapi "github.com/getsops/sops/v3"
	"github.com/getsops/sops/v3/decrypt"
	"gopkg.in/yaml.v3"
)

// Secrets holds the sensitive values kept out of the main config file
type Secrets struct {
	ApiKey         string `yaml:"apiKey"`
	ApiKeyOperator string `yaml:"apiKeyOperator"`
	WalletRpcUrl   string `yaml:"walletRpcUrl"`
}

// Load reads and decrypts the secrets file at the given path. A file
// without SOPS metadata is treated as plaintext YAML, which is useful for
// local development.
func Load(path string) (*Secrets, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("reading secrets file: %w", err)
	}
	plaintext, err := decrypt.Data(data, "yaml")
	if err != nil {
		if !errors.Is(err, sopsapi.MetadataNotFound) {
			return nil, fmt.Errorf("decrypting secrets file: %w", err)
		}
		plaintext = data
	}
	var ret Secrets
	if err := yaml.Unmarshal(plaintext, &ret); err != nil {
		return nil, fmt.Errorf("parsing secrets file: %w", err)
	}
	return &ret, nil
}
