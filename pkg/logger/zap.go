// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package logger

import (
	"fmt"

	"github.com/go-logr/logr"
	"go.uber.org/zap/zapcore"
	logzap "sigs.k8s.io/controller-runtime/pkg/log/zap"
)

const (
	// DebugLevel is the debug log level, i.e. the most verbose.
	DebugLevel = "debug"
	// InfoLevel is the default log level.
	InfoLevel = "info"
	// ErrorLevel is a log level where only errors are logged.
	ErrorLevel = "error"

	// FormatJSON is the output type that produces a JSON object per log line.
	FormatJSON = "json"
	// FormatText outputs the log as human-readable text.
	FormatText = "text"
)

// MustNewZapLogger is like NewZapLogger but panics on invalid input.
func MustNewZapLogger(level string, format string, additionalOpts ...logzap.Opts) logr.Logger {
	logger, err := NewZapLogger(level, format, additionalOpts...)
	if err != nil {
		panic(err)
	}

	return logger
}

// NewZapLogger creates a new logr.Logger backed by Zap.
func NewZapLogger(level string, format string, additionalOpts ...logzap.Opts) (logr.Logger, error) {
	var opts []logzap.Opts

	switch level {
	case DebugLevel:
		opts = append(opts, logzap.Level(zapcore.DebugLevel))
	case "", InfoLevel:
		opts = append(opts, logzap.Level(zapcore.InfoLevel))
	case ErrorLevel:
		opts = append(opts, logzap.Level(zapcore.ErrorLevel))
	default:
		return logr.Logger{}, fmt.Errorf("invalid log level %q", level)
	}

	switch format {
	case FormatText:
		opts = append(opts, logzap.ConsoleEncoder(setCommonEncoderConfigOptions))
	case "", FormatJSON:
		opts = append(opts, logzap.JSONEncoder(setCommonEncoderConfigOptions))
	default:
		return logr.Logger{}, fmt.Errorf("invalid log format %q", format)
	}

	return logzap.New(append(opts, additionalOpts...)...), nil
}

func setCommonEncoderConfigOptions(encoderConfig *zapcore.EncoderConfig) {
	encoderConfig.EncodeDuration = zapcore.StringDurationEncoder
}
