// Copyright 2024 The Flowplane Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config describes the flowplaned TOML configuration.
package config

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/flowplane/flowplane/pkg/log"
	"github.com/flowplane/flowplane/pkg/private/serrors"
)

// Config is the top-level flowplaned configuration.
type Config struct {
	General   General          `toml:"general,omitempty"`
	Logging   log.Config       `toml:"log,omitempty"`
	Metrics   Metrics          `toml:"metrics,omitempty"`
	Datapaths []DatapathConfig `toml:"datapath,omitempty"`
}

// General holds process-wide settings.
type General struct {
	// ID is the instance identifier used in logs. Defaults to the executable
	// name.
	ID string `toml:"id,omitempty"`
}

// Metrics configures the prometheus endpoint.
type Metrics struct {
	// Addr is the address the HTTP endpoint listens on. Empty disables it.
	Addr string `toml:"prometheus,omitempty"`
}

// DatapathConfig describes one datapath instance and its ports.
type DatapathConfig struct {
	Name           string       `toml:"name,omitempty"`
	MaxFlows       int          `toml:"max_flows,omitempty"`
	UpcallQueueLen int          `toml:"upcall_queue_len,omitempty"`
	Ports          []PortConfig `toml:"ports,omitempty"`
}

// PortConfig describes one port of a datapath. The device of a non-internal
// port is the TAP interface with the port's name.
type PortConfig struct {
	Name     string `toml:"name,omitempty"`
	Internal bool   `toml:"internal,omitempty"`
}

// InitDefaults fills unset fields with default values.
func (c *Config) InitDefaults() {
	c.Logging.InitDefaults()
}

// Validate checks the configuration for contradictions that would only
// surface after ports are already half-created.
func (c *Config) Validate() error {
	if len(c.Datapaths) == 0 {
		return serrors.New("no datapath configured")
	}
	names := make(map[string]struct{}, len(c.Datapaths))
	for _, dp := range c.Datapaths {
		if dp.Name == "" {
			return serrors.New("datapath with empty name")
		}
		if _, dup := names[dp.Name]; dup {
			return serrors.New("duplicate datapath name", "name", dp.Name)
		}
		names[dp.Name] = struct{}{}
		ports := make(map[string]struct{}, len(dp.Ports))
		for _, p := range dp.Ports {
			if p.Name == "" {
				return serrors.New("port with empty name", "datapath", dp.Name)
			}
			if _, dup := ports[p.Name]; dup {
				return serrors.New("duplicate port name",
					"datapath", dp.Name, "port", p.Name)
			}
			ports[p.Name] = struct{}{}
		}
	}
	return nil
}

// Load reads and decodes the TOML configuration at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, serrors.Wrap("reading config file", err, "file", path)
	}
	var c Config
	if err := toml.Unmarshal(raw, &c); err != nil {
		return nil, serrors.Wrap("parsing config file", err, "file", path)
	}
	c.InitDefaults()
	return &c, nil
}
