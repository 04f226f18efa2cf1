// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

package logger_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/lsst-sqre/nublado-controller/pkg/logger"
)

var _ = Describe("Zap", func() {
	Describe("#NewZapLogger", func() {
		It("should return a logger for an empty level and format", func() {
			log, err := logger.NewZapLogger("", "")

			Expect(err).NotTo(HaveOccurred())
			Expect(log.Enabled()).To(BeTrue())
		})

		It("should only log at the configured level", func() {
			log, err := logger.NewZapLogger(logger.ErrorLevel, logger.FormatJSON)

			Expect(err).NotTo(HaveOccurred())
			Expect(log.Enabled()).To(BeFalse())
		})

		It("should enable V(1) logs in debug mode", func() {
			log, err := logger.NewZapLogger(logger.DebugLevel, logger.FormatText)

			Expect(err).NotTo(HaveOccurred())
			Expect(log.V(1).Enabled()).To(BeTrue())
		})

		It("should fail for an unknown level", func() {
			_, err := logger.NewZapLogger("warning", logger.FormatJSON)

			Expect(err).To(MatchError(ContainSubstring("invalid log level")))
		})

		It("should fail for an unknown format", func() {
			_, err := logger.NewZapLogger(logger.InfoLevel, "xml")

			Expect(err).To(MatchError(ContainSubstring("invalid log format")))
		})
	})
})
