/*
Copyright © 2020 Supragya Raj <supragyaraj@gmail.com>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/connector"
)

// connectCmd represents the connect command
var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Run every agent enabled in the config file",
	Long: `Run every agent enabled in the config file (updater, watcher, relayer and processor)
over the configured home and its replicas`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		runNode(cfg, connector.ConfiguredRoles(cfg))
	},
}

func init() {
	rootCmd.AddCommand(connectCmd)
}
