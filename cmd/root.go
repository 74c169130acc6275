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

	"github.com/spf13/cobra"

	homedir "github.com/mitchellh/go-homedir"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/supragya/NomadConnector/config"
	ver "github.com/supragya/NomadConnector/version"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "NomadConnector",
	Short:   "Nomad Connector runs the updater, watcher, relayer and processor agents of a Nomad channel",
	Long:    `Nomad Connector runs the off-chain agents that move messages from a home chain to its replicas`,
	Version: ver.RootCmdVersion,
	Run: func(cmd *cobra.Command, args []string) {
		log.Error("Nothing to do. Select one of the commands (Try ./NomadConnector --help). Exiting")
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.NomadConnector.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "Log level, overrides log_level of the config file")
	rootCmd.PersistentFlags().String("log-format", "", "Log format (text|json), overrides log_format of the config file")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	viper.BindPFlag("log_format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		// Use config file from the flag.
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory.
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		// Search config in home directory with name ".NomadConnector" (without extension).
		viper.AddConfigPath(home)
		viper.SetConfigName(".NomadConnector")
	}

	config.Prepare(viper.GetViper()) // defaults and NOMAD_ environment overrides

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Info("Using config file: ", viper.ConfigFileUsed())
	}
}
