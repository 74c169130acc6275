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
	"encoding/json"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/types"
)

var fraudHome, fraudReplica uint32

var fraudCmd = &cobra.Command{
	Use:   "fraud",
	Short: "Inspect or clear fraud flags",
	Long: `Inspect or clear the persisted fraud flags that halt a home to replica pair.
The node must be stopped; a running node clears flags through POST /fraud/{home}/{replica}/reset`,
}

var fraudListCmd = &cobra.Command{
	Use:   "list",
	Short: "List halted pairs",
	Run: func(cmd *cobra.Command, args []string) {
		registry, closeFn := openRegistry()
		defer closeFn()
		recs := registry.Records()
		if recs == nil {
			recs = []types.FraudRecord{}
		}
		out, err := json.MarshalIndent(recs, "", "    ")
		if err != nil {
			log.Error(err)
			return
		}
		fmt.Println(string(out))
	},
}

var fraudResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Clear the fraud flag of one pair",
	Run: func(cmd *cobra.Command, args []string) {
		registry, closeFn := openRegistry()
		defer closeFn()
		pair := types.Pair{Home: fraudHome, Replica: fraudReplica}
		rec, err := registry.Reset(pair)
		if err != nil {
			log.Error("Cannot reset ", pair, ": ", err)
			closeFn()
			os.Exit(1)
		}
		log.Warn("Fraud flag of ", pair, " cleared (was ", rec.Kind, ": ", rec.Reason, ")")
	},
}

func openRegistry() (*fraud.Registry, func()) {
	st := openStore(loadConfig())
	registry, err := fraud.NewRegistry(st)
	if err != nil {
		log.Error("Cannot load fraud flags: ", err)
		st.Close()
		os.Exit(1)
	}
	return registry, func() { st.Close() }
}

func init() {
	rootCmd.AddCommand(fraudCmd)
	fraudCmd.AddCommand(fraudListCmd, fraudResetCmd)
	fraudResetCmd.Flags().Uint32Var(&fraudHome, "home", 0, "Home domain of the pair")
	fraudResetCmd.Flags().Uint32Var(&fraudReplica, "replica", 0, "Replica domain of the pair")
	fraudResetCmd.MarkFlagRequired("home")
	fraudResetCmd.MarkFlagRequired("replica")
}
