// Copyright 2018-2026 CERN
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

package config_test

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/config"
	"github.com/opencloud-eu/sigscan/pkg/signature"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Config", func() {
	var (
		input string
		c     *config.Config
		err   error
	)

	BeforeEach(func() {
		input = ""
	})

	JustBeforeEach(func() {
		c, err = config.Load(strings.NewReader(input))
	})

	Describe("Load", func() {
		It("sets defaults", func() {
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Log.Mode).To(Equal("console"))
			Expect(c.Log.Level).To(Equal("info"))
			Expect(c.Log.Output).To(Equal("stderr"))
			Expect(c.Signatures.Path).To(Equal(signature.DefaultPath))
			Expect(c.Signatures.Algorithm).To(Equal("sha256"))
			Expect(c.Scan.Workers).To(Equal(1))
			Expect(c.Scan.CacheSize).To(BeZero())
			Expect(c.Scan.Exclude).To(BeEmpty())
			Expect(c.Quarantine.Log).To(Equal(audit.DefaultPath))
			Expect(c.Quarantine.Options).To(BeEmpty())
			Expect(c.Metrics.Textfile).To(BeEmpty())
			Expect(c.Tracing.Enabled).To(BeFalse())
			Expect(c.Tracing.ServiceName).To(Equal("sigscan"))
		})

		It("matches Default", func() {
			Expect(c).To(Equal(config.Default()))
		})

		Context("with a complete file", func() {
			BeforeEach(func() {
				input = `
[log]
level = "debug"
mode = "json"
output = "/var/log/sigscan.log"

[signatures]
path = "/etc/sigscan/signatures.toml"
algorithm = "blake2b-256"

[scan]
workers = 4
cache_size = 1024
skip_hidden = true
exclude = ["/proc", "/sys"]

[quarantine]
log = "/var/lib/sigscan/quarantine.log"
dir = "/var/lib/sigscan/quarantine"
file_mode = 0o400

[metrics]
textfile = "/var/lib/node_exporter/sigscan.prom"

[tracing]
enabled = true
endpoint = "otel-collector:4317"
insecure = true
`
			})

			It("reads every section", func() {
				Expect(err).ToNot(HaveOccurred())
				Expect(c.Log.Level).To(Equal("debug"))
				Expect(c.Log.Mode).To(Equal("json"))
				Expect(c.Log.Output).To(Equal("/var/log/sigscan.log"))
				Expect(c.Signatures.Path).To(Equal("/etc/sigscan/signatures.toml"))
				Expect(c.Signatures.Algorithm).To(Equal("blake2b-256"))
				Expect(c.Scan.Workers).To(Equal(4))
				Expect(c.Scan.CacheSize).To(Equal(1024))
				Expect(c.Scan.SkipHidden).To(BeTrue())
				Expect(c.Scan.Exclude).To(Equal([]string{"/proc", "/sys"}))
				Expect(c.Quarantine.Log).To(Equal("/var/lib/sigscan/quarantine.log"))
				Expect(c.Metrics.Textfile).To(Equal("/var/lib/node_exporter/sigscan.prom"))
				Expect(c.Tracing.Enabled).To(BeTrue())
				Expect(c.Tracing.Endpoint).To(Equal("otel-collector:4317"))
			})

			It("hands the remaining quarantine keys to the manager", func() {
				Expect(c.Quarantine.Options).To(HaveKeyWithValue("dir", "/var/lib/sigscan/quarantine"))
				Expect(c.Quarantine.Options).To(HaveKeyWithValue("file_mode", BeEquivalentTo(0400)))
				Expect(c.Quarantine.Options).ToNot(HaveKey("log"))
			})

			It("survives a dump", func() {
				var buf bytes.Buffer
				Expect(c.Encode(&buf)).To(Succeed())
				again, err := config.Load(&buf)
				Expect(err).ToNot(HaveOccurred())
				Expect(again).To(Equal(c))
			})
		})

		Context("with an unknown log mode", func() {
			BeforeEach(func() {
				input = "[log]\nmode = \"xml\"\n"
			})

			It("fails validation", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("mode"))
			})
		})

		Context("with an unknown algorithm", func() {
			BeforeEach(func() {
				input = "[signatures]\nalgorithm = \"crc32\"\n"
			})

			It("fails validation", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("algorithm"))
			})
		})

		Context("with tracing but no endpoint", func() {
			BeforeEach(func() {
				input = "[tracing]\nenabled = true\n"
			})

			It("fails validation", func() {
				Expect(err).To(HaveOccurred())
				Expect(err.Error()).To(ContainSubstring("endpoint"))
			})
		})

		Context("with negative workers", func() {
			BeforeEach(func() {
				input = "[scan]\nworkers = -1\n"
			})

			It("fails validation", func() {
				Expect(err).To(HaveOccurred())
			})
		})

		Context("with broken toml", func() {
			BeforeEach(func() {
				input = "[log\n"
			})

			It("fails", func() {
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("LoadFile", func() {
		It("returns the defaults without a path", func() {
			c, err := config.LoadFile("")
			Expect(err).ToNot(HaveOccurred())
			Expect(c).To(Equal(config.Default()))
		})

		It("reads the file", func() {
			p := filepath.Join(GinkgoT().TempDir(), "sigscan.toml")
			Expect(os.WriteFile(p, []byte("[scan]\nworkers = 8\n"), 0600)).To(Succeed())
			c, err := config.LoadFile(p)
			Expect(err).ToNot(HaveOccurred())
			Expect(c.Scan.Workers).To(Equal(8))
		})

		It("fails for missing files", func() {
			_, err := config.LoadFile(filepath.Join(GinkgoT().TempDir(), "missing.toml"))
			Expect(err).To(HaveOccurred())
		})
	})

	Describe("Dump", func() {
		It("uses the config file keys", func() {
			d := config.Default().Dump()
			Expect(d).To(HaveKey("log"))
			Expect(d["scan"]).To(HaveKeyWithValue("workers", 1))
			Expect(d["quarantine"]).To(HaveKeyWithValue("log", audit.DefaultPath))
		})
	})
})
