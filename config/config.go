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

package config

import (
	"context"
	"math"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/juju/errors"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/zipkin"
	"go.opentelemetry.io/otel/sdk/resource"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	StrategyCollaborative = "collaborative"
	StrategyItemBased     = "item_based"
	StrategyHybrid        = "hybrid"
	StrategyPopular       = "popular"
)

var Strategies = []string{StrategyCollaborative, StrategyItemBased, StrategyHybrid, StrategyPopular}

// Config is the configuration for the recommendation core and its server.
type Config struct {
	Database    DatabaseConfig    `mapstructure:"database"`
	Interaction InteractionConfig `mapstructure:"interaction"`
	Recommend   RecommendConfig   `mapstructure:"recommend"`
	Popular     PopularConfig     `mapstructure:"popular"`
	Server      ServerConfig      `mapstructure:"server"`
	Tracing     TracingConfig     `mapstructure:"tracing"`
}

// DatabaseConfig locates the feature table and the precomputed artifacts.
type DatabaseConfig struct {
	DataStore   string `mapstructure:"data_store" validate:"required"`
	TablePrefix string `mapstructure:"table_prefix"`
	// ModelPath is the factor model artifact. Empty means no model, and
	// strategies depending on it report model_unavailable.
	ModelPath string `mapstructure:"model_path"`
	// ComputeSimilarity derives item similarity from the interaction matrix
	// when the data store holds no similarity rows.
	ComputeSimilarity bool `mapstructure:"compute_similarity"`
	// SimilarityJobs is the number of goroutines computing item similarity.
	SimilarityJobs int `mapstructure:"similarity_jobs" validate:"gte=1"`
}

// InteractionConfig holds the weights of the interaction score. They must sum to 1.
type InteractionConfig struct {
	RatingWeight  float64 `mapstructure:"rating_weight" validate:"gte=0,lte=1"`
	AmountWeight  float64 `mapstructure:"amount_weight" validate:"gte=0,lte=1"`
	LoyaltyWeight float64 `mapstructure:"loyalty_weight" validate:"gte=0,lte=1"`
}

type RecommendConfig struct {
	DefaultN int    `mapstructure:"default_n" validate:"gt=0"`
	Strategy string `mapstructure:"strategy" validate:"oneof=collaborative item_based hybrid popular"`
	// Alpha is the weight of the collaborative score in the hybrid blend.
	Alpha                float64 `mapstructure:"alpha" validate:"gte=0,lte=1"`
	MatchContentScore    float64 `mapstructure:"match_content_score" validate:"gte=0"`
	MismatchContentScore float64 `mapstructure:"mismatch_content_score" validate:"gte=0"`
	CandidateFactor      int     `mapstructure:"candidate_factor" validate:"gte=1"`
	HistorySize          int     `mapstructure:"history_size" validate:"gt=0"`
	// CacheTTL is how long ranked results are memoized. Zero disables the cache.
	CacheTTL  time.Duration `mapstructure:"cache_ttl" validate:"gte=0"`
	CacheSize uint64        `mapstructure:"cache_size"`
}

// PopularConfig configures the popularity ranker. Score and Filter are expr
// expressions evaluated with `item` (string) and `transactions` in scope.
type PopularConfig struct {
	Score  string `mapstructure:"score" validate:"required"`
	Filter string `mapstructure:"filter"`
}

type ServerConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port" validate:"gte=0,lte=65535"`
	APIKey string `mapstructure:"api_key"`
}

type TracingConfig struct {
	EnableTracing     bool    `mapstructure:"enable_tracing"`
	Exporter          string  `mapstructure:"exporter" validate:"oneof=otlp otlphttp zipkin"`
	CollectorEndpoint string  `mapstructure:"collector_endpoint"`
	Sampler           string  `mapstructure:"sampler" validate:"oneof=always never ratio"`
	Ratio             float64 `mapstructure:"ratio" validate:"gte=0,lte=1"`
}

// NewTracerProvider creates the tracer provider described by the config.
// A no-op provider is returned when tracing is disabled.
func (config *TracingConfig) NewTracerProvider() (trace.TracerProvider, error) {
	if !config.EnableTracing {
		return noop.NewTracerProvider(), nil
	}

	var (
		exporter tracesdk.SpanExporter
		err      error
	)
	switch config.Exporter {
	case "otlp":
		client := otlptracegrpc.NewClient(otlptracegrpc.WithInsecure(), otlptracegrpc.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	case "otlphttp":
		client := otlptracehttp.NewClient(otlptracehttp.WithInsecure(), otlptracehttp.WithEndpoint(config.CollectorEndpoint))
		exporter, err = otlptrace.New(context.Background(), client)
	case "zipkin":
		exporter, err = zipkin.New(config.CollectorEndpoint)
	default:
		return nil, errors.NotSupportedf("exporter %s", config.Exporter)
	}
	if err != nil {
		return nil, errors.Trace(err)
	}

	var sampler tracesdk.Sampler
	switch config.Sampler {
	case "always":
		sampler = tracesdk.AlwaysSample()
	case "never":
		sampler = tracesdk.NeverSample()
	case "ratio":
		sampler = tracesdk.TraceIDRatioBased(config.Ratio)
	default:
		return nil, errors.NotSupportedf("sampler %s", config.Sampler)
	}

	return tracesdk.NewTracerProvider(
		tracesdk.WithSampler(tracesdk.ParentBased(sampler)),
		tracesdk.WithBatcher(exporter),
		tracesdk.WithResource(resource.NewSchemaless(attribute.String("service.name", "shopdash"))),
	), nil
}

// GetDefaultConfig returns the default configuration.
func GetDefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			DataStore:      "sqlite://shopdash.db",
			SimilarityJobs: 1,
		},
		Interaction: InteractionConfig{
			RatingWeight:  0.4,
			AmountWeight:  0.3,
			LoyaltyWeight: 0.3,
		},
		Recommend: RecommendConfig{
			DefaultN:             10,
			Strategy:             StrategyHybrid,
			Alpha:                0.6,
			MatchContentScore:    5.0,
			MismatchContentScore: 2.5,
			CandidateFactor:      2,
			HistorySize:          5,
			CacheTTL:             10 * time.Minute,
			CacheSize:            10000,
		},
		Popular: PopularConfig{
			Score: "len(transactions)",
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8087,
		},
		Tracing: TracingConfig{
			Exporter: "otlp",
			Sampler:  "always",
			Ratio:    1,
		},
	}
}

func setDefault(v *viper.Viper) {
	defaultConfig := GetDefaultConfig()
	// [database]
	v.SetDefault("database.data_store", defaultConfig.Database.DataStore)
	v.SetDefault("database.table_prefix", defaultConfig.Database.TablePrefix)
	v.SetDefault("database.model_path", defaultConfig.Database.ModelPath)
	v.SetDefault("database.compute_similarity", defaultConfig.Database.ComputeSimilarity)
	v.SetDefault("database.similarity_jobs", defaultConfig.Database.SimilarityJobs)
	// [interaction]
	v.SetDefault("interaction.rating_weight", defaultConfig.Interaction.RatingWeight)
	v.SetDefault("interaction.amount_weight", defaultConfig.Interaction.AmountWeight)
	v.SetDefault("interaction.loyalty_weight", defaultConfig.Interaction.LoyaltyWeight)
	// [recommend]
	v.SetDefault("recommend.default_n", defaultConfig.Recommend.DefaultN)
	v.SetDefault("recommend.strategy", defaultConfig.Recommend.Strategy)
	v.SetDefault("recommend.alpha", defaultConfig.Recommend.Alpha)
	v.SetDefault("recommend.match_content_score", defaultConfig.Recommend.MatchContentScore)
	v.SetDefault("recommend.mismatch_content_score", defaultConfig.Recommend.MismatchContentScore)
	v.SetDefault("recommend.candidate_factor", defaultConfig.Recommend.CandidateFactor)
	v.SetDefault("recommend.history_size", defaultConfig.Recommend.HistorySize)
	v.SetDefault("recommend.cache_ttl", defaultConfig.Recommend.CacheTTL)
	v.SetDefault("recommend.cache_size", defaultConfig.Recommend.CacheSize)
	// [popular]
	v.SetDefault("popular.score", defaultConfig.Popular.Score)
	v.SetDefault("popular.filter", defaultConfig.Popular.Filter)
	// [server]
	v.SetDefault("server.host", defaultConfig.Server.Host)
	v.SetDefault("server.port", defaultConfig.Server.Port)
	v.SetDefault("server.api_key", defaultConfig.Server.APIKey)
	// [tracing]
	v.SetDefault("tracing.enable_tracing", defaultConfig.Tracing.EnableTracing)
	v.SetDefault("tracing.exporter", defaultConfig.Tracing.Exporter)
	v.SetDefault("tracing.collector_endpoint", defaultConfig.Tracing.CollectorEndpoint)
	v.SetDefault("tracing.sampler", defaultConfig.Tracing.Sampler)
	v.SetDefault("tracing.ratio", defaultConfig.Tracing.Ratio)
}

// LoadConfig loads configuration from a file (any format viper understands)
// and SHOPDASH_* environment variables. An empty path loads defaults and
// environment only.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefault(v)
	v.SetEnvPrefix("shopdash")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Annotatef(err, "read config %s", path)
		}
	}
	var conf Config
	if err := v.Unmarshal(&conf, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, errors.Trace(err)
	}
	if err := conf.Validate(); err != nil {
		return nil, errors.Trace(err)
	}
	return &conf, nil
}

// Validate checks field ranges and that the interaction weights sum to 1.
func (config *Config) Validate() error {
	validate := validator.New()
	validate.RegisterStructValidation(func(sl validator.StructLevel) {
		c := sl.Current().Interface().(InteractionConfig)
		if math.Abs(c.RatingWeight+c.AmountWeight+c.LoyaltyWeight-1) > 1e-6 {
			sl.ReportError(c.RatingWeight, "RatingWeight", "rating_weight", "weights_sum", "")
		}
	}, InteractionConfig{})
	if err := validate.Struct(config); err != nil {
		return errors.NewNotValid(err, "invalid config")
	}
	return nil
}
