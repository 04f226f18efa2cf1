// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package app

import (
	"github.com/spf13/pflag"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/apis/config/validation"
	"github.com/lsst-sqre/nublado-controller/pkg/logger"
)

// options is all configurable command line input.
type options struct {
	configFile string
	kubeconfig string
	logLevel   string
	logFormat  string

	config *config.ControllerConfiguration
}

// addFlags adds all command line flags to the given FlagSet.
func (o *options) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.configFile, "config", config.DefaultConfigPath, "Path to the controller configuration file.")
	fs.StringVar(&o.kubeconfig, "kubeconfig", "", "Path to a kubeconfig. Defaults to the in-cluster configuration.")
	fs.StringVar(&o.logLevel, "log-level", "", "The level/severity for the logs. Must be one of [debug,info,error]. Defaults to the configured safir.logLevel.")
	fs.StringVar(&o.logFormat, "log-format", "", "The format for the logs. Must be one of [json,text]. Defaults to the format implied by the configured safir.profile.")
}

// Complete loads the configuration from the config file.
func (o *options) Complete() error {
	cfg, err := config.LoadFromFile(o.configFile)
	if err != nil {
		return err
	}

	o.config = cfg
	return nil
}

// Validate validates the loaded configuration.
func (o *options) Validate() error {
	if errs := validation.ValidateControllerConfiguration(o.config); len(errs) > 0 {
		return errs.ToAggregate()
	}
	return nil
}

// LogConfig returns the logging config. Command line flags take precedence
// over the safir section of the configuration file.
func (o *options) LogConfig() (logLevel, logFormat string) {
	logLevel, logFormat = o.logLevel, o.logFormat

	if logLevel == "" {
		logLevel = o.config.Safir.LogLevel
	}
	if logFormat == "" {
		logFormat = logger.FormatJSON
		if o.config.Safir.Profile == config.ProfileDevelopment {
			logFormat = logger.FormatText
		}
	}
	return
}
