// Copyright 2025 gorse Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"fmt"

	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/cmd/version"
	"github.com/gorse-io/shopdash/config"
	"github.com/gorse-io/shopdash/dataset"
	"github.com/gorse-io/shopdash/logics"
	"github.com/gorse-io/shopdash/model"
	"github.com/gorse-io/shopdash/storage"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCommand = &cobra.Command{
	Use:   "shopdash",
	Short: "Recommendation core of the e-commerce dashboard.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		debug, _ := cmd.Flags().GetBool("debug")
		log.SetLogger(cmd.Flags(), debug)
		// tables go to stdout
		if cmd.Annotations["output"] == "table" && !debug {
			log.CloseLogger()
		}
	},
}

var versionCommand = &cobra.Command{
	Use:   "version",
	Short: "Show the version of shopdash",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.BuildInfo())
	},
}

func init() {
	log.AddFlags(rootCommand.PersistentFlags())
	rootCommand.PersistentFlags().Bool("debug", false, "use debug log mode")
	rootCommand.PersistentFlags().StringP("config", "c", "", "configuration file path")
	rootCommand.AddCommand(versionCommand)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		log.Logger().Fatal("failed to execute", zap.Error(err))
	}
}

func loadConfig(cmd *cobra.Command) *config.Config {
	configPath, _ := cmd.Flags().GetString("config")
	log.Logger().Info("load config", zap.String("config", configPath))
	conf, err := config.LoadConfig(configPath)
	if err != nil {
		log.Logger().Fatal("failed to load config", zap.Error(err))
	}
	return conf
}

func openDatabase(conf *config.Config) *storage.Database {
	db, err := storage.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err != nil {
		log.Logger().Fatal("failed to connect data store", zap.Error(err),
			zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)))
	}
	if err = db.Init(); err != nil {
		log.Logger().Fatal("failed to init data store", zap.Error(err))
	}
	return db
}

// loadEngine builds an engine from the data store and the model artifact.
// Missing data or a missing model degrade the engine instead of failing:
// the affected operations report data_unavailable or model_unavailable.
func loadEngine(ctx context.Context, conf *config.Config) (*logics.Engine, error) {
	var (
		d          *dataset.Dataset
		similarity *logics.ItemSimilarity
	)
	db, err := storage.Open(conf.Database.DataStore, conf.Database.TablePrefix)
	if err == nil {
		err = db.Init()
	}
	if err != nil {
		log.Logger().Error("data store unavailable", zap.Error(err),
			zap.String("data_store", log.RedactDBURL(conf.Database.DataStore)))
	} else {
		defer db.Close()
		if d, err = db.LoadDataset(ctx); err != nil {
			log.Logger().Error("failed to load transactions", zap.Error(err))
		}
		if pairs, err := db.LoadSimilarity(ctx); err != nil {
			log.Logger().Error("failed to load item similarity", zap.Error(err))
		} else if len(pairs) > 0 {
			similarity = logics.NewItemSimilarity(pairs)
		}
	}

	var predictor model.Predictor = model.Unavailable{}
	if conf.Database.ModelPath != "" {
		if m, err := model.Load(conf.Database.ModelPath); err != nil {
			log.Logger().Warn("factor model unavailable", zap.Error(err))
			predictor = model.Unavailable{Cause: err}
		} else {
			predictor = m
		}
	}

	engine, err := logics.NewEngine(conf, d, similarity, predictor)
	if err != nil {
		return nil, errors.Trace(err)
	}
	return engine, nil
}
