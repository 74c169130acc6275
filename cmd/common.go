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
	"github.com/spf13/viper"
	tmos "github.com/tendermint/tendermint/libs/os"

	"github.com/supragya/NomadConnector/config"
	"github.com/supragya/NomadConnector/connector"
	"github.com/supragya/NomadConnector/logging"
	"github.com/supragya/NomadConnector/store"
)

// loadConfig decodes the configuration and applies its logging settings.
func loadConfig() *config.Config {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		log.Error("Invalid configuration: ", err)
		os.Exit(1)
	}
	if err := logging.Configure(cfg.LogLevel, cfg.LogFormat, os.Stderr); err != nil {
		log.Error(err)
		os.Exit(1)
	}
	return cfg
}

// runNode starts the agents selected by roles and blocks until interrupted.
func runNode(cfg *config.Config, roles connector.Roles) {
	node, err := connector.NewNode(cfg, connector.Options{Roles: roles})
	if err != nil {
		log.Error("Cannot assemble node: ", err)
		os.Exit(1)
	}
	if err := node.Start(); err != nil {
		log.Error("Cannot start node: ", err)
		os.Exit(1)
	}

	tmos.TrapSignal(logging.NewTMLogger(log.WithField("module", "main")), func() {
		if node.IsRunning() {
			if err := node.Stop(); err != nil {
				log.Error("Unable to stop node: ", err)
			}
		}
	})

	// Run forever.
	select {}
}

// openStore opens the node database. It fails while a node holds the database lock.
func openStore(cfg *config.Config) *store.Store {
	db, err := store.OpenDB("nomad", cfg.DBBackend, cfg.DBDir)
	if err != nil {
		log.Error("Cannot open database (is a node running on it?): ", err)
		os.Exit(1)
	}
	st, err := store.New(db)
	if err != nil {
		log.Error(err)
		os.Exit(1)
	}
	return st
}
