// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package validation

import (
	"slices"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/apimachinery/pkg/util/validation/field"

	"github.com/lsst-sqre/nublado-controller/pkg/apis/config"
	"github.com/lsst-sqre/nublado-controller/pkg/logger"
)

// ValidateControllerConfiguration validates the given `ControllerConfiguration`.
func ValidateControllerConfiguration(cfg *config.ControllerConfiguration) field.ErrorList {
	allErrs := field.ErrorList{}

	allErrs = append(allErrs, validateSafirConfiguration(&cfg.Safir, field.NewPath("safir"))...)

	if cfg.BaseURL == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("baseUrl"), "must provide the external base URL"))
	}
	if cfg.GafaelfawrURL == "" {
		allErrs = append(allErrs, field.Required(field.NewPath("gafaelfawrUrl"), "must provide the identity service URL"))
	}

	if port := cfg.Server.Port; port < 1 || port > 65535 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("server", "port"), port, "must be a valid port number"))
	}

	if cfg.Kubernetes.RequestTimeout.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(field.NewPath("kubernetes", "requestTimeout"), cfg.Kubernetes.RequestTimeout.Duration.String(), "must be greater than zero"))
	}

	allErrs = append(allErrs, validateLabConfiguration(&cfg.Lab, field.NewPath("lab"))...)
	allErrs = append(allErrs, validatePrepullerConfig(&cfg.Prepuller.Config, field.NewPath("prepuller", "config"))...)

	if _, ok := cfg.Form.Forms[config.DefaultFormName]; !ok {
		allErrs = append(allErrs, field.Required(field.NewPath("form", "forms").Key(config.DefaultFormName), "must provide a default form template"))
	}

	return allErrs
}

func validateSafirConfiguration(cfg *config.SafirConfiguration, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if !slices.Contains([]string{logger.DebugLevel, logger.InfoLevel, logger.ErrorLevel}, cfg.LogLevel) {
		allErrs = append(allErrs, field.NotSupported(fldPath.Child("logLevel"), cfg.LogLevel, []string{logger.DebugLevel, logger.InfoLevel, logger.ErrorLevel}))
	}

	if !slices.Contains([]string{config.ProfileProduction, config.ProfileDevelopment}, cfg.Profile) {
		allErrs = append(allErrs, field.NotSupported(fldPath.Child("profile"), cfg.Profile, []string{config.ProfileProduction, config.ProfileDevelopment}))
	}

	return allErrs
}

func validateLabConfiguration(cfg *config.LabConfiguration, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if len(cfg.Sizes) == 0 {
		allErrs = append(allErrs, field.Required(fldPath.Child("sizes"), "must provide at least one lab size"))
	}
	for name, size := range cfg.Sizes {
		if !slices.Contains(config.KnownLabSizes, name) {
			allErrs = append(allErrs, field.NotSupported(fldPath.Child("sizes").Key(name), name, config.KnownLabSizes))
		}
		if size.CPU.Sign() <= 0 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("sizes").Key(name).Child("cpu"), size.CPU.String(), "must be greater than zero"))
		}
		if size.Memory.Sign() <= 0 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child("sizes").Key(name).Child("memory"), size.Memory.String(), "must be greater than zero"))
		}
	}

	seenKeys := sets.New[string]()
	for i, secret := range cfg.Secrets {
		idxPath := fldPath.Child("secrets").Index(i)

		if secret.SecretName == "" {
			allErrs = append(allErrs, field.Required(idxPath.Child("secretName"), "must provide the source secret name"))
		}
		if secret.SecretKey == config.SecretKeyToken {
			allErrs = append(allErrs, field.Forbidden(idxPath.Child("secretKey"), "key \"token\" is reserved for the user token"))
		}
		if seenKeys.Has(secret.SecretKey) {
			allErrs = append(allErrs, field.Duplicate(idxPath.Child("secretKey"), secret.SecretKey))
		}
		seenKeys.Insert(secret.SecretKey)
	}

	for i, file := range cfg.Files {
		idxPath := fldPath.Child("files").Index(i)

		if file.Name == "" {
			allErrs = append(allErrs, field.Required(idxPath.Child("name"), "must provide a file name"))
		}
		if file.MountPath == "" {
			allErrs = append(allErrs, field.Required(idxPath.Child("mountPath"), "must provide a mount path"))
		}
	}

	return allErrs
}

func validatePrepullerConfig(cfg *config.PrepullerConfig, fldPath *field.Path) field.ErrorList {
	allErrs := field.ErrorList{}

	if cfg.GAR == nil && cfg.Docker == nil {
		allErrs = append(allErrs, field.Required(fldPath, "must provide either a gar or a docker image source"))
	}
	if cfg.GAR != nil && cfg.Docker != nil {
		allErrs = append(allErrs, field.Forbidden(fldPath, "gar and docker image sources are mutually exclusive"))
	}

	if cfg.Docker != nil {
		if cfg.Docker.Registry == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("docker", "registry"), "must provide the registry host"))
		}
		if cfg.Docker.Repository == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("docker", "repository"), "must provide the repository"))
		}
	}

	if cfg.GAR != nil {
		if cfg.GAR.Registry == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("gar", "registry"), "must provide the registry host"))
		}
		if cfg.GAR.ProjectID == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("gar", "projectId"), "must provide the project id"))
		}
		if cfg.GAR.Repository == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("gar", "repository"), "must provide the repository"))
		}
		if cfg.GAR.Image == "" {
			allErrs = append(allErrs, field.Required(fldPath.Child("gar", "image"), "must provide the image name"))
		}
	}

	for _, count := range []struct {
		name  string
		value int
	}{
		{"numReleases", cfg.NumReleases},
		{"numWeeklies", cfg.NumWeeklies},
		{"numDailies", cfg.NumDailies},
	} {
		if count.value < 0 {
			allErrs = append(allErrs, field.Invalid(fldPath.Child(count.name), count.value, "must not be negative"))
		}
	}

	if cfg.PollInterval.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("pollInterval"), cfg.PollInterval.Duration.String(), "must be greater than zero"))
	}
	if cfg.PullTimeout.Duration <= 0 {
		allErrs = append(allErrs, field.Invalid(fldPath.Child("pullTimeout"), cfg.PullTimeout.Duration.String(), "must be greater than zero"))
	}

	return allErrs
}
