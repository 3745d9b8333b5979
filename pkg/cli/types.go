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

package cli

import "github.com/charmbracelet/lipgloss"

// CmdConfig holds parsed command-line configuration.
type CmdConfig struct {
	Help       bool
	SubCmd     string
	ServerURL  string
	AdminToken string

	// mint-token
	ExpiresInHours int
	MaxUses        int

	// agent-scoped subcommands
	AgentID    string
	ConfigFile string

	// alerts
	AlertID string
	Limit   int
}

// logStyles defines styles for command output.
type logStyles struct {
	info, success, warning, errorStyle lipgloss.Style
}

func newLogStyles() logStyles {
	return logStyles{
		info:       lipgloss.NewStyle().Foreground(lipgloss.Color("#8BE9FD")),
		success:    lipgloss.NewStyle().Foreground(lipgloss.Color("#50FA7B")),
		warning:    lipgloss.NewStyle().Foreground(lipgloss.Color("#FFB86C")),
		errorStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5555")).Bold(true),
	}
}
