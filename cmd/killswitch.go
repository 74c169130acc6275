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
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/connector"
	"github.com/supragya/NomadConnector/killswitch"
	"github.com/supragya/NomadConnector/signer"
)

var killReplica string
var killPretty bool

var killswitchCmd = &cobra.Command{
	Use:   "killswitch",
	Short: "Unenroll every configured replica of the home",
	Long: `Unenroll every configured replica (or only --replica) through its connection manager,
using the watcher keyfile. Prints a JSON report and a summary on terminals`,
	Run: func(cmd *cobra.Command, args []string) {
		out := killswitchRun(strings.Join(os.Args[1:], " "))

		encoded, err := json.MarshalIndent(out, "", "    ")
		if err != nil {
			log.Error(err)
			os.Exit(1)
		}
		fmt.Println(string(encoded))
		if killPretty || isatty.IsTerminal(os.Stdout.Fd()) {
			out.Summary(os.Stderr, isatty.IsTerminal(os.Stderr.Fd()))
		}
		if !out.OK() {
			os.Exit(1)
		}
	},
}

func killswitchRun(command string) *killswitch.Output {
	cfg := loadConfig()
	key, err := signer.LoadKeyFile(cfg.Watcher.KeyFile, signer.RoleWatcher)
	if err != nil {
		return killswitch.Failed(command, err)
	}
	chains, err := connector.Dial(cfg)
	if err != nil {
		return killswitch.Failed(command, err)
	}

	var channels []killswitch.Channel
	for i, r := range chains.Replicas {
		if killReplica != "" && r.Name() != killReplica && fmt.Sprint(r.Domain()) != killReplica {
			continue
		}
		channels = append(channels, killswitch.Channel{Home: chains.Home.Name(), Replica: r.Name(), Manager: chains.Managers[i]})
	}
	if len(channels) == 0 {
		return killswitch.Failed(command, errors.Errorf("no replica matches %q", killReplica))
	}
	return killswitch.Run(context.Background(), command, chains.Home, channels, key, cfg.Retry)
}

func init() {
	rootCmd.AddCommand(killswitchCmd)
	killswitchCmd.Flags().StringVarP(&killReplica, "replica", "r", "", "Only unenroll this replica (name or domain)")
	killswitchCmd.Flags().BoolVarP(&killPretty, "pretty", "p", false, "Always print the human summary")
}
