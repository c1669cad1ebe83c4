// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package app

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/cloudflare/sandbox-sdk-sub004/internal/logutil"
)

var (
	// Version is set at build time via -ldflags.
	Version    string
	configPath string
)

// NewCommand builds the sandboxd cobra command.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sandboxd",
		Short: "sandboxd",
		RunE: func(cmd *cobra.Command, args []string) error {
			options := defaultOption()
			if configPath != "" {
				if _, err := os.Stat(configPath); err == nil {
					if err := loadConfigFromToml(configPath, &options); err != nil {
						return fmt.Errorf("failed to load config from toml: %w", err)
					}
				}
			}

			if err := runServer(&options); err != nil {
				fmt.Fprintf(os.Stderr, "%v\n", err)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "config.toml", "path to the config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Display the current version of sandboxd",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
	cmd.AddCommand(versionCmd)

	return cmd
}

// defaultOption returns the configuration sandboxd runs with when no
// config.toml is present, which is the common case for a container
// daemon started from a fixed entrypoint.
func defaultOption() Option {
	return Option{
		Host:          "0.0.0.0",
		Port:          "3000",
		MonitorPort:   "9090",
		ShutdownGrace: 5,
		LogConfig: logutil.Config{
			Level:      "info",
			ExpireDays: 7,
		},
	}
}

// loadConfigFromToml loads the configuration from the given TOML file,
// overlaying it on top of whatever defaults the caller already populated.
func loadConfigFromToml(path string, config *Option) error {
	_, err := toml.DecodeFile(path, config)
	if err != nil {
		return fmt.Errorf("error reading %s: %w", path, err)
	}

	return nil
}

// logGlobalConfig logs the resolved configuration once at startup.
func logGlobalConfig(opt *Option) {
	logrus.Info("sandboxd starting...")

	b, _ := json.Marshal(opt)
	logrus.Infof("config: %s", string(b))
}
