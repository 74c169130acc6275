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
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/mgutz/ansi"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/simulate"
	"github.com/supragya/NomadConnector/types"
)

var simCfg = simulate.DefaultConfig()

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run every agent against in-memory chains and print the message statuses",
	Long: `Run the updater, watcher, relayer and processor against in-memory chains, dispatching
messages round robin to the replicas, and print the final status of every message.
With --gateway the chains are served over HTTP and the agents dial them like remote chains`,
	Run: func(cmd *cobra.Command, args []string) {
		res, err := simulate.Run(context.Background(), simCfg)
		if err != nil {
			log.Error("Simulation failed: ", err)
			os.Exit(1)
		}

		color := isatty.IsTerminal(os.Stdout.Fd())
		paint := func(s types.MessageStatus) string {
			if !color {
				return s.String()
			}
			switch s {
			case types.StatusProcessed:
				return ansi.Color(s.String(), "green")
			case types.StatusFailed:
				return ansi.Color(s.String(), "red")
			default:
				return ansi.Color(s.String(), "yellow")
			}
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "REPLICA\tDOMAIN\tINDEX\tSTATUS\tATTEMPTS")
		for _, r := range res.Replicas {
			for _, rec := range r.Records {
				fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\n", r.Name, r.Domain, rec.Index, paint(rec.Status), rec.Attempts)
			}
		}
		w.Flush()
		fmt.Printf("\nSettled: %v in %s, %d alarms\n", res.Settled, res.Elapsed.Round(time.Millisecond), res.Alarms)
		if !res.Settled {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().IntVarP(&simCfg.Messages, "messages", "m", simCfg.Messages, "Messages to dispatch")
	simulateCmd.Flags().IntVarP(&simCfg.Replicas, "replicas", "k", simCfg.Replicas, "Replicas of the home")
	simulateCmd.Flags().DurationVar(&simCfg.Optimistic, "optimistic", simCfg.Optimistic, "Optimistic window of every replica")
	simulateCmd.Flags().DurationVar(&simCfg.Interval, "interval", simCfg.Interval, "Poll interval of every agent")
	simulateCmd.Flags().DurationVar(&simCfg.Timeout, "timeout", simCfg.Timeout, "Give up after this long")
	simulateCmd.Flags().StringVar(&simCfg.Gateway, "gateway", "", "Serve the chains over HTTP on this address, e.g. 127.0.0.1:26680")
}
