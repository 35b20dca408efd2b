package main

import (
	"fmt"
	"os"

	"github.com/ngaut/log"
	"github.com/spf13/cobra"

	"github.com/pingcap-incubator/tinytxn/kv/config"
	"github.com/pingcap-incubator/tinytxn/kv/storage/standalone_storage"
	"github.com/pingcap-incubator/tinytxn/kv/transaction"
)

var (
	configPath string
	dbPath     string

	globalConf *config.Config
	globalDB   *transaction.TxnDB
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tinytxn-cli",
		Short: "Transactional key-value store client",
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db-path", "", "database directory, overrides the config file")

	rootCmd.AddCommand(newShellCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func initGlobal() {
	conf := config.NewDefaultConfig()
	if configPath != "" {
		if err := config.LoadFromFile(configPath, conf); err != nil {
			log.Fatalf("load config %s: %v", configPath, err)
		}
	}
	if dbPath != "" {
		conf.DBPath = dbPath
	}
	log.SetLevelByString(conf.LogLevel)
	globalConf = conf

	db, err := transaction.Open(standalone_storage.NewStandAloneStorage(conf), conf)
	if err != nil {
		log.Fatalf("open database at %s: %v", conf.DBPath, err)
	}
	globalDB = db
}

func closeGlobal() {
	if globalDB == nil {
		return
	}
	if err := globalDB.Close(); err != nil {
		log.Errorf("close database: %v", err)
	}
}
