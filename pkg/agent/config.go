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

package agent

import (
	"errors"
	"time"

	"github.com/verdantops/soilwatch/pkg/logger"
	"github.com/verdantops/soilwatch/pkg/models"
)

const (
	defaultCollectInterval    = 60 * time.Second
	defaultSyncInterval       = 5 * time.Minute
	defaultHeartbeatInterval  = 60 * time.Second
	defaultConfigPullInterval = 5 * time.Minute
	defaultHealthInterval     = 5 * time.Minute
	defaultPurgeInterval      = 24 * time.Hour
	defaultRetention          = 7 * 24 * time.Hour
	defaultQueueSizeLimit     = 100 << 20 // 100 MiB
)

var (
	errMissingAgentID   = errors.New("agent: agent_id is required")
	errMissingServerURL = errors.New("agent: server_url is required")
	errMissingDBPath    = errors.New("agent: database_path is required")
)

// Config is the agent's local configuration file.
type Config struct {
	AgentID        string `json:"agent_id" yaml:"agent_id"`
	ServerURL      string `json:"server_url" yaml:"server_url"`
	BootstrapToken string `json:"bootstrap_token,omitempty" yaml:"bootstrap_token,omitempty"`
	Hardware       string `json:"hardware,omitempty" yaml:"hardware,omitempty"`
	DatabasePath   string `json:"database_path" yaml:"database_path"`

	// Simulate runs against a simulated ADC instead of real hardware.
	Simulate bool `json:"simulate,omitempty" yaml:"simulate,omitempty"`
	// IIODevicePath overrides the sysfs IIO device directory for the ADC.
	IIODevicePath string `json:"iio_device_path,omitempty" yaml:"iio_device_path,omitempty"`

	CollectInterval    models.Duration `json:"collect_interval,omitempty" yaml:"collect_interval,omitempty"`
	SyncInterval       models.Duration `json:"sync_interval,omitempty" yaml:"sync_interval,omitempty"`
	HeartbeatInterval  models.Duration `json:"heartbeat_interval,omitempty" yaml:"heartbeat_interval,omitempty"`
	ConfigPullInterval models.Duration `json:"config_pull_interval,omitempty" yaml:"config_pull_interval,omitempty"`
	HealthInterval     models.Duration `json:"health_interval,omitempty" yaml:"health_interval,omitempty"`
	PurgeInterval      models.Duration `json:"purge_interval,omitempty" yaml:"purge_interval,omitempty"`

	// Retention is how long synced readings stay in the local queue.
	Retention models.Duration `json:"retention,omitempty" yaml:"retention,omitempty"`
	// QueueSizeLimit triggers an early purge when the queue file
	// outgrows it, in bytes.
	QueueSizeLimit int64 `json:"queue_size_limit,omitempty" yaml:"queue_size_limit,omitempty"`

	SyncBatchSize int `json:"sync_batch_size,omitempty" yaml:"sync_batch_size,omitempty"`

	Logging *logger.Config `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// Validate checks required fields and fills defaults.
func (c *Config) Validate() error {
	if c.AgentID == "" {
		return errMissingAgentID
	}

	if c.ServerURL == "" {
		return errMissingServerURL
	}

	if c.DatabasePath == "" {
		return errMissingDBPath
	}

	setDefault(&c.CollectInterval, defaultCollectInterval)
	setDefault(&c.SyncInterval, defaultSyncInterval)
	setDefault(&c.HeartbeatInterval, defaultHeartbeatInterval)
	setDefault(&c.ConfigPullInterval, defaultConfigPullInterval)
	setDefault(&c.HealthInterval, defaultHealthInterval)
	setDefault(&c.PurgeInterval, defaultPurgeInterval)
	setDefault(&c.Retention, defaultRetention)

	if c.QueueSizeLimit <= 0 {
		c.QueueSizeLimit = defaultQueueSizeLimit
	}

	return nil
}

func setDefault(d *models.Duration, fallback time.Duration) {
	if time.Duration(*d) <= 0 {
		*d = models.Duration(fallback)
	}
}
