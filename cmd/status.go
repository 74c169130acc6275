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
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/fraud"
	"github.com/supragya/NomadConnector/types"
)

var statusReplica string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of every message known for a replica",
	Long: `Print the status of every message known for a replica, read from the node database.
The node must be stopped; a running node answers GET /status/{replica}/{index}`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()
		rc, ok := cfg.Replica(statusReplica)
		if !ok {
			log.Error("Unknown replica ", statusReplica)
			os.Exit(1)
		}
		st := openStore(cfg)
		defer st.Close()

		pair := types.Pair{Home: cfg.Home.Domain, Replica: rc.Domain}
		registry, err := fraud.NewRegistry(st)
		if err != nil {
			log.Error(err)
			return
		}
		if rec, halted := registry.Record(pair); halted {
			fmt.Printf("Pair %s HALTED since %s (%s): %s\n\n", pair, rec.SetAt.Format(time.RFC3339), rec.Kind, rec.Reason)
		}

		recs, err := st.MessageRecords(rc.Domain)
		if err != nil {
			log.Error(err)
			return
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "INDEX\tSTATUS\tATTEMPTS\tUPDATED\tTX\tREASON")
		for _, r := range recs {
			tx := "-"
			if r.TxHash != nil {
				tx = r.TxHash.Short()
			}
			fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\t%s\n", r.Index, r.Status, r.Attempts, r.UpdatedAt.Format(time.RFC3339), tx, r.Reason)
		}
		w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().StringVarP(&statusReplica, "replica", "r", "", "Replica name or domain")
	statusCmd.MarkFlagRequired("replica")
}
