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

func roleCmd(use, short string, roles connector.Roles) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  short,
		Run: func(cmd *cobra.Command, args []string) {
			runNode(loadConfig(), roles)
		},
	}
}

func init() {
	rootCmd.AddCommand(
		roleCmd("updater", "Sign and submit commitments of the home outbox", connector.Roles{Updater: true}),
		roleCmd("watcher", "Watch home and replicas for fraudulent commitments", connector.Roles{Watcher: true}),
		roleCmd("relayer", "Relay home commitments to every replica", connector.Roles{Relayer: true}),
		roleCmd("processor", "Prove and execute confirmed messages on every replica", connector.Roles{Processor: true}),
	)
}
