/*
 * Copyright 2025 Verdant Operations, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package config loads service configuration from local YAML or JSON
// files with ${VAR} environment interpolation, so secrets like
// bootstrap tokens stay out of the files themselves.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var errInvalidConfigPtr = errors.New("config must be a non-nil pointer")

// ${VAR} or ${VAR:-default}
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// LoadFile reads path, interpolates environment references, and
// unmarshals into dst. The format follows the file extension: .yaml
// and .yml parse as YAML, everything else as JSON.
func LoadFile(path string, dst interface{}) error {
	if dst == nil {
		return errInvalidConfigPtr
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}

	data = interpolateEnv(data)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("parse YAML config %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("parse JSON config %s: %w", path, err)
		}
	}

	return nil
}

// interpolateEnv replaces ${VAR} references with the environment value
// and ${VAR:-default} with the default when VAR is unset or empty.
func interpolateEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		groups := envPattern.FindSubmatch(match)

		if value := os.Getenv(string(groups[1])); value != "" {
			return []byte(value)
		}

		return groups[2]
	})
}
