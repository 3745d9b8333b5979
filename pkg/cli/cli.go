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

// Package cli implements the soilwatch fleet administration tool.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/verdantops/soilwatch/pkg/models"
)

var errUnknownCommand = errors.New("unknown command")

// ParseFlags turns os.Args-style arguments into a CmdConfig.
func ParseFlags(args []string) (*CmdConfig, error) {
	cfg := &CmdConfig{
		ServerURL:  getEnvOrDefault("SOILWATCH_SERVER", "http://localhost:8080"),
		AdminToken: os.Getenv("SOILWATCH_ADMIN_TOKEN"),
	}

	if len(args) == 0 {
		cfg.Help = true
		return cfg, nil
	}

	cfg.SubCmd = args[0]
	rest := args[1:]

	fs := flag.NewFlagSet(cfg.SubCmd, flag.ContinueOnError)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "orchestrator base URL")
	fs.StringVar(&cfg.AdminToken, "token", cfg.AdminToken, "admin API token")

	switch cfg.SubCmd {
	case "help", "-help", "--help":
		cfg.Help = true
		return cfg, nil
	case "mint-token":
		fs.IntVar(&cfg.ExpiresInHours, "expires", 24, "token lifetime in hours")
		fs.IntVar(&cfg.MaxUses, "max-uses", 0, "maximum registrations (0 = unlimited)")
	case "agents":
	case "agent", "decommission":
		fs.StringVar(&cfg.AgentID, "id", "", "agent id")
	case "push-config":
		fs.StringVar(&cfg.AgentID, "id", "", "agent id")
		fs.StringVar(&cfg.ConfigFile, "file", "", "sensor config YAML file")
	case "alerts":
	case "alert-history":
		fs.IntVar(&cfg.Limit, "limit", 100, "maximum rows")
	case "ack":
		fs.StringVar(&cfg.AlertID, "id", "", "alert id")
	default:
		return nil, fmt.Errorf("%w: %s", errUnknownCommand, cfg.SubCmd)
	}

	if err := fs.Parse(rest); err != nil {
		return nil, fmt.Errorf("parsing %s flags: %w", cfg.SubCmd, err)
	}

	return cfg, nil
}

// RunCommand executes the parsed subcommand against the orchestrator.
func RunCommand(ctx context.Context, cfg *CmdConfig) error {
	if cfg.Help {
		ShowHelp()
		return nil
	}

	if cfg.AdminToken == "" {
		return errors.New("admin token required (set SOILWATCH_ADMIN_TOKEN or pass -token)")
	}

	client := NewAdminClient(cfg.ServerURL, cfg.AdminToken)
	styles := newLogStyles()

	switch cfg.SubCmd {
	case "mint-token":
		return runMintToken(ctx, client, cfg, styles)
	case "agents":
		return runListAgents(ctx, client, styles)
	case "agent":
		return runGetAgent(ctx, client, cfg, styles)
	case "decommission":
		return runDecommission(ctx, client, cfg, styles)
	case "push-config":
		return runPushConfig(ctx, client, cfg, styles)
	case "alerts":
		return runListAlerts(ctx, client, styles)
	case "alert-history":
		return runAlertHistory(ctx, client, cfg, styles)
	case "ack":
		return runAcknowledge(ctx, client, cfg, styles)
	default:
		return fmt.Errorf("%w: %s", errUnknownCommand, cfg.SubCmd)
	}
}

func runMintToken(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	req := &models.CreateTokenRequest{ExpiresInHours: cfg.ExpiresInHours}
	if cfg.MaxUses > 0 {
		req.MaxUses = &cfg.MaxUses
	}

	resp, err := client.MintToken(ctx, req)
	if err != nil {
		return err
	}

	fmt.Println(styles.success.Render("Bootstrap token minted (shown once, store it now):"))
	fmt.Println(resp.Token)
	fmt.Println(styles.info.Render("Expires: " + resp.ExpiresAt))

	return nil
}

func runListAgents(ctx context.Context, client *AdminClient, styles logStyles) error {
	agents, err := client.ListAgents(ctx)
	if err != nil {
		return err
	}

	if len(agents) == 0 {
		fmt.Println(styles.info.Render("No agents registered"))
		return nil
	}

	for i := range agents {
		printAgent(&agents[i], styles)
	}

	return nil
}

func runGetAgent(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	if cfg.AgentID == "" {
		return errors.New("missing -id")
	}

	agent, err := client.GetAgent(ctx, cfg.AgentID)
	if err != nil {
		return err
	}

	printAgent(agent, styles)

	return nil
}

func printAgent(agent *models.Agent, styles logStyles) {
	status := styles.success
	if agent.Status != models.AgentStatusActive {
		status = styles.warning
	}

	fmt.Printf("%-24s %s  config desired=%d applied=%d\n",
		agent.AgentID, status.Render(string(agent.Status)),
		agent.DesiredConfigVersion, agent.AppliedConfigVersion)
}

func runDecommission(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	if cfg.AgentID == "" {
		return errors.New("missing -id")
	}

	if err := client.DecommissionAgent(ctx, cfg.AgentID); err != nil {
		return err
	}

	fmt.Println(styles.success.Render("Decommissioned " + cfg.AgentID))

	return nil
}

func runPushConfig(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	if cfg.AgentID == "" {
		return errors.New("missing -id")
	}

	if cfg.ConfigFile == "" {
		return errors.New("missing -file")
	}

	raw, err := os.ReadFile(cfg.ConfigFile)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", cfg.ConfigFile, err)
	}

	var req models.UpdateConfigRequest
	if err := yaml.Unmarshal(raw, &req); err != nil {
		return fmt.Errorf("failed to parse %s: %w", cfg.ConfigFile, err)
	}

	resp, err := client.PushConfig(ctx, cfg.AgentID, &req)
	if err != nil {
		return err
	}

	fmt.Println(styles.success.Render(fmt.Sprintf("Stored config version %d for %s", resp.Version, cfg.AgentID)))

	return nil
}

func runListAlerts(ctx context.Context, client *AdminClient, styles logStyles) error {
	alerts, err := client.ListAlerts(ctx)
	if err != nil {
		return err
	}

	if len(alerts) == 0 {
		fmt.Println(styles.success.Render("No open alerts"))
		return nil
	}

	for i := range alerts {
		printAlert(&alerts[i], styles)
	}

	return nil
}

func runAlertHistory(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	alerts, err := client.AlertHistory(ctx, cfg.Limit)
	if err != nil {
		return err
	}

	for i := range alerts {
		printAlert(&alerts[i], styles)
	}

	return nil
}

func printAlert(alert *models.ActiveAlert, styles logStyles) {
	style := styles.warning
	if alert.Severity() == models.SeverityCritical {
		style = styles.errorStyle
	}

	if !alert.Open() {
		style = styles.info
	}

	fmt.Printf("%s  %s  %s channel=%d %s\n",
		alert.ID, style.Render(string(alert.Kind)), alert.AgentID,
		alert.SensorChannel, alert.State)
}

func runAcknowledge(ctx context.Context, client *AdminClient, cfg *CmdConfig, styles logStyles) error {
	if cfg.AlertID == "" {
		return errors.New("missing -id")
	}

	if err := client.AcknowledgeAlert(ctx, cfg.AlertID); err != nil {
		return err
	}

	fmt.Println(styles.success.Render("Acknowledged " + cfg.AlertID))

	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}

	return defaultValue
}
