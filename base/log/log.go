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

package log

import (
	"net/url"
	"os"
	"strings"

	"github.com/emicklei/go-restful/v3"
	"github.com/go-sql-driver/mysql"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	flagLogPath       = "log-path"
	flagLogMaxSize    = "log-max-size"
	flagLogMaxAge     = "log-max-age"
	flagLogMaxBackups = "log-max-backups"

	timeLayout = "2006-01-02 15:04:05.999999"
)

var logger = mustDevelopment()

func mustDevelopment() *zap.Logger {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	return l
}

// Logger returns the process-wide logger.
func Logger() *zap.Logger {
	return logger
}

// ResponseLogger returns a logger tagged with the request id of a REST call.
func ResponseLogger(resp *restful.Response) *zap.Logger {
	return logger.With(zap.String("request_id", resp.Header().Get("X-Request-ID")))
}

// CloseLogger keeps only fatal entries, on stderr. CLI commands printing
// tables to stdout call it.
func CloseLogger() {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	logger = zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zap.FatalLevel))
}

func AddFlags(flagSet *pflag.FlagSet) {
	flagSet.String(flagLogPath, "", "path of log file")
	flagSet.Int(flagLogMaxSize, 100, "maximum size in megabytes of the log file")
	flagSet.Int(flagLogMaxAge, 0, "maximum number of days to retain old log files")
	flagSet.Int(flagLogMaxBackups, 0, "maximum number of old log files to retain")
}

// SetLogger replaces the logger: console output at debug level when debug
// is set, JSON at info level otherwise. Entries also go to a rotated file
// when --log-path is given.
func SetLogger(flagSet *pflag.FlagSet, debug bool) {
	sinks := []zapcore.WriteSyncer{zapcore.Lock(os.Stdout)}
	if rotated := rotatedFile(flagSet); rotated != nil {
		sinks = append(sinks, zapcore.AddSync(rotated))
	}
	encoder, level := newEncoder(debug)
	logger = zap.New(zapcore.NewCore(encoder, zap.CombineWriteSyncers(sinks...), level))
}

func newEncoder(debug bool) (zapcore.Encoder, zapcore.Level) {
	if debug {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
		return zapcore.NewConsoleEncoder(cfg), zapcore.DebugLevel
	}
	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	return zapcore.NewJSONEncoder(cfg), zapcore.InfoLevel
}

func rotatedFile(flagSet *pflag.FlagSet) *lumberjack.Logger {
	if !flagSet.Changed(flagLogPath) {
		return nil
	}
	rotated := new(lumberjack.Logger)
	rotated.Filename, _ = flagSet.GetString(flagLogPath)
	rotated.MaxSize, _ = flagSet.GetInt(flagLogMaxSize)
	rotated.MaxAge, _ = flagSet.GetInt(flagLogMaxAge)
	rotated.MaxBackups, _ = flagSet.GetInt(flagLogMaxBackups)
	return rotated
}

// GetErrorHandler routes OpenTelemetry export failures to the logger.
func GetErrorHandler() otel.ErrorHandler {
	return otel.ErrorHandlerFunc(func(err error) {
		Logger().Error("opentelemetry failure", zap.Error(err))
	})
}

// RedactDBURL masks credentials in a database URL before it is logged.
// URLs that fail to parse are returned unchanged.
func RedactDBURL(rawURL string) string {
	if dsn, ok := strings.CutPrefix(rawURL, "mysql://"); ok {
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return rawURL
		}
		cfg.User, cfg.Passwd = mask(cfg.User), mask(cfg.Passwd)
		return "mysql://" + cfg.FormatDSN()
	}
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.User == nil {
		return rawURL
	}
	password, _ := parsed.User.Password()
	parsed.User = url.UserPassword(mask(parsed.User.Username()), mask(password))
	return parsed.String()
}

func mask(s string) string {
	return strings.Repeat("x", len(s))
}
