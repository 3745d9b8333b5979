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

import "fmt"

// ShowHelp displays the help message.
func ShowHelp() {
	fmt.Print(`soilwatch: fleet administration tool
Usage:
  soilwatch <command> [options]

Commands:
  mint-token       Mint a bootstrap registration token
  agents           List registered agents
  agent            Show one agent
  decommission     Permanently retire an agent
  push-config      Push a sensor configuration to an agent
  alerts           List open alerts
  alert-history    List alert history
  ack              Acknowledge an open alert

Common options:
  -server string   orchestrator base URL (default $SOILWATCH_SERVER or http://localhost:8080)
  -token string    admin API token (default $SOILWATCH_ADMIN_TOKEN)

Options for mint-token:
  -expires int     token lifetime in hours (default 24)
  -max-uses int    maximum registrations, 0 for unlimited

Options for agent, decommission:
  -id string       agent id

Options for push-config:
  -id string       agent id
  -file string     sensor config YAML file

Options for alert-history:
  -limit int       maximum rows (default 100)

Options for ack:
  -id string       alert id

Examples:
  soilwatch mint-token -expires 48 -max-uses 1
  soilwatch push-config -id field-01 -file sensors.yaml
  soilwatch alerts
`)
}
