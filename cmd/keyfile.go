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
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/supragya/NomadConnector/signer"
)

var role, fileLocation string
var isGenerate bool

// keyFileCmd represents the keyfile command
var keyFileCmd = &cobra.Command{
	Use:   "keyfile",
	Short: "Generate or verify an updater or watcher keyfile",
	Long:  `Generate or verify an updater or watcher keyfile`,
	Run: func(cmd *cobra.Command, args []string) {
		if fileLocation == "" {
			log.Error("No file location given (--filelocation)")
			os.Exit(1)
		}
		if isGenerate {
			if _, err := signer.GenerateKeyFile(fileLocation, role); err != nil {
				log.Error("Cannot generate keyfile: ", err)
				os.Exit(1)
			}
			return
		}
		found, err := signer.VerifyKeyFile(fileLocation)
		if err != nil {
			log.Error("Keyfile invalid: ", err)
			os.Exit(1)
		}
		if role != "" && found != role {
			log.Error("Keyfile holds a ", found, " key, not ", role)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(keyFileCmd)
	keyFileCmd.Flags().StringVarP(&role, "role", "r", signer.RoleUpdater, "Agent role the key is for (updater|watcher)")
	keyFileCmd.Flags().StringVarP(&fileLocation, "filelocation", "f", "", "File to generate/validate")
	keyFileCmd.Flags().BoolVarP(&isGenerate, "generate", "g", true, "Generate new file. If not set, validate given KeyFile")
}
