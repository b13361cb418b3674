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
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorse-io/shopdash/base/log"
	"github.com/gorse-io/shopdash/server"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Start the RESTful API server",
	Run: func(cmd *cobra.Command, args []string) {
		conf := loadConfig(cmd)
		if cmd.Flags().Changed("http-host") {
			conf.Server.Host, _ = cmd.Flags().GetString("http-host")
		}
		if cmd.Flags().Changed("http-port") {
			conf.Server.Port, _ = cmd.Flags().GetInt("http-port")
		}
		tp, err := conf.Tracing.NewTracerProvider()
		if err != nil {
			log.Logger().Fatal("failed to create tracer provider", zap.Error(err))
		}
		otel.SetTracerProvider(tp)
		otel.SetErrorHandler(log.GetErrorHandler())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

		engine, err := loadEngine(cmd.Context(), conf)
		if err != nil {
			log.Logger().Fatal("failed to create engine", zap.Error(err))
		}
		s := server.NewRestServer(conf, engine)

		// SIGHUP reloads transactions, similarity and model
		reload := make(chan os.Signal, 1)
		signal.Notify(reload, syscall.SIGHUP)
		go func() {
			for range reload {
				engine, err := loadEngine(context.Background(), conf)
				if err != nil {
					log.Logger().Error("failed to reload engine", zap.Error(err))
					continue
				}
				s.SetEngine(engine)
				log.Logger().Info("engine reloaded", zap.Uint64("fingerprint", engine.Fingerprint()))
			}
		}()

		done := make(chan struct{})
		go func() {
			sigint := make(chan os.Signal, 1)
			signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
			<-sigint
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.Shutdown(ctx); err != nil {
				log.Logger().Error("failed to shutdown http server", zap.Error(err))
			}
			if sdk, ok := tp.(*tracesdk.TracerProvider); ok {
				if err := sdk.Shutdown(ctx); err != nil {
					log.Logger().Error("failed to shutdown tracer provider", zap.Error(err))
				}
			}
			close(done)
		}()
		if err = s.StartHttpServer(); err != nil {
			log.Logger().Fatal("failed to start http server", zap.Error(err))
		}
		<-done
		log.Logger().Info("stop shopdash successfully")
	},
}

func init() {
	serveCommand.Flags().String("http-host", "", "host of RESTful API")
	serveCommand.Flags().Int("http-port", 0, "port of RESTful API")
	rootCommand.AddCommand(serveCommand)
}
