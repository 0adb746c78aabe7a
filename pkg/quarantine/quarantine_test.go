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

package quarantine_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/gofrs/flock"
	"github.com/opencloud-eu/sigscan/pkg/audit"
	"github.com/opencloud-eu/sigscan/pkg/errtypes"
	"github.com/opencloud-eu/sigscan/pkg/metrics"
	"github.com/opencloud-eu/sigscan/pkg/quarantine"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/testutil"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

const eicar = `X5O!P%@AP[4\PZX54(P^)7CC)7}$EICAR-STANDARD-ANTIVIRUS-TEST-FILE!$H+H*`

type failingSink struct{}

func (failingSink) Append(context.Context, audit.Record) error {
	return errors.New("disk full")
}

// areaFiles lists the quarantined files, ignoring the lock directory.
func areaFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	Expect(err).ToNot(HaveOccurred())
	var names []string
	for _, e := range entries {
		if e.Name() == ".locks" {
			continue
		}
		names = append(names, e.Name())
	}
	return names
}

func writeFile(path, content string) {
	Expect(os.MkdirAll(filepath.Dir(path), 0700)).To(Succeed())
	Expect(os.WriteFile(path, []byte(content), 0600)).To(Succeed())
}

var _ = Describe("Options", func() {
	It("sets defaults", func() {
		o, err := quarantine.NewOptions(map[string]any{})
		Expect(err).ToNot(HaveOccurred())
		Expect(o.Dir).To(Equal(quarantine.DefaultDir))
		Expect(o.FileMode).To(Equal(uint32(0400)))
		Expect(o.MaxNameAttempts).To(Equal(100))
	})

	It("decodes the config map", func() {
		o, err := quarantine.NewOptions(map[string]any{
			"dir":            "/var/lib/sigscan/quarantine",
			"file_mode":      0440,
			"disable_xattrs": true,
		})
		Expect(err).ToNot(HaveOccurred())
		Expect(o.Dir).To(Equal("/var/lib/sigscan/quarantine"))
		Expect(o.FileMode).To(Equal(uint32(0440)))
		Expect(o.DisableXattrs).To(BeTrue())
	})

	It("rejects invalid modes", func() {
		_, err := quarantine.NewOptions(map[string]any{"file_mode": 01777})
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Manager", func() {
	var (
		ctx  context.Context
		tmp  string
		area string
		log  *audit.Log
		o    *quarantine.Options
		m    *quarantine.Manager
		mt   *metrics.Metrics
		src  string
	)

	BeforeEach(func() {
		ctx = context.Background()
		tmp = GinkgoT().TempDir()
		area = filepath.Join(tmp, "quarantine")
		src = filepath.Join(tmp, "data", "eicar.com")
		writeFile(src, eicar)
		o = &quarantine.Options{Dir: area}
		mt = metrics.New()

		var err error
		log, err = audit.Open(filepath.Join(tmp, "quarantine_log.txt"))
		Expect(err).ToNot(HaveOccurred())
	})

	JustBeforeEach(func() {
		var err error
		m, err = quarantine.New(o, log, quarantine.WithMetrics(mt))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(m.Close)
	})

	It("requires a sink", func() {
		_, err := quarantine.New(o, nil)
		Expect(err).To(HaveOccurred())
	})

	Describe("Quarantine", func() {
		It("moves the file into the area and logs it", func() {
			rec, err := m.Quarantine(ctx, src, quarantine.WithSignature("EICAR"))
			Expect(err).ToNot(HaveOccurred())

			Expect(src).ToNot(BeAnExistingFile())
			Expect(filepath.Dir(rec.DestinationPath)).To(Equal(area))
			Expect(filepath.Base(rec.DestinationPath)).To(MatchRegexp(`^\d{14}\.\d{9}_eicar\.com\.quarantined$`))
			content, err := os.ReadFile(rec.DestinationPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(Equal(eicar))

			Expect(rec.OriginalPath).To(Equal(src))
			Expect(rec.Signature).To(Equal("EICAR"))
			Expect(rec.ID).ToNot(BeEmpty())

			records, err := log.Records(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))
			Expect(records[0].OriginalPath).To(Equal(src))
			Expect(records[0].DestinationPath).To(Equal(rec.DestinationPath))

			raw, err := os.ReadFile(log.Path())
			Expect(err).ToNot(HaveOccurred())
			Expect(string(raw)).To(Equal(src + " -> " + rec.DestinationPath + "\n"))

			Expect(testutil.ToFloat64(mt.Quarantined)).To(Equal(1.0))
		})

		It("encodes the time in the destination name", func() {
			rec, err := m.Quarantine(ctx, src)
			Expect(err).ToNot(HaveOccurred())
			t, name, ok := quarantine.ParseName(rec.DestinationPath)
			Expect(ok).To(BeTrue())
			Expect(name).To(Equal("eicar.com"))
			Expect(t).To(BeTemporally("==", rec.Time))
		})

		It("restricts the quarantined file", func() {
			rec, err := m.Quarantine(ctx, src)
			Expect(err).ToNot(HaveOccurred())
			fi, err := os.Stat(rec.DestinationPath)
			Expect(err).ToNot(HaveOccurred())
			Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0400)))

			fi, err = os.Stat(area)
			Expect(err).ToNot(HaveOccurred())
			Expect(fi.Mode().Perm()).To(Equal(os.FileMode(0700)))
		})

		It("stamps the origin when the filesystem supports it", func() {
			rec, err := m.Quarantine(ctx, src, quarantine.WithSignature("EICAR"))
			Expect(err).ToNot(HaveOccurred())
			origin, err := quarantine.Origin(rec.DestinationPath)
			if errtypes.XattrIsNotSupported(err) {
				Skip("no extended attributes on this filesystem")
			}
			Expect(err).ToNot(HaveOccurred())
			Expect(origin).To(Equal(src))
		})

		It("resolves relative paths", func() {
			wd, err := os.Getwd()
			Expect(err).ToNot(HaveOccurred())
			Expect(os.Chdir(filepath.Dir(src))).To(Succeed())
			DeferCleanup(os.Chdir, wd)

			rec, err := m.Quarantine(ctx, "eicar.com")
			Expect(err).ToNot(HaveOccurred())
			Expect(filepath.IsAbs(rec.OriginalPath)).To(BeTrue())
			Expect(filepath.Base(rec.OriginalPath)).To(Equal("eicar.com"))
		})

		It("fails at the move step for missing files and logs nothing", func() {
			_, err := m.Quarantine(ctx, filepath.Join(tmp, "nope"))
			Expect(err).To(HaveOccurred())

			var qerr *quarantine.Error
			Expect(errors.As(err, &qerr)).To(BeTrue())
			Expect(qerr.Step).To(Equal(quarantine.StepMove))
			Expect(qerr.Record).To(BeNil())
			Expect(errtypes.Is[errtypes.IsNotFound](err)).To(BeTrue())

			Expect(log.Path()).ToNot(BeAnExistingFile())
			Expect(areaFiles(area)).To(BeEmpty())
			Expect(testutil.ToFloat64(mt.QuarantineFailed.WithLabelValues("move"))).To(Equal(1.0))
		})

		It("refuses to quarantine directories", func() {
			_, err := m.Quarantine(ctx, filepath.Dir(src))
			var qerr *quarantine.Error
			Expect(errors.As(err, &qerr)).To(BeTrue())
			Expect(qerr.Step).To(Equal(quarantine.StepMove))
			Expect(filepath.Dir(src)).To(BeADirectory())
			Expect(areaFiles(area)).To(BeEmpty())
		})

		It("refuses to quarantine symbolic links", func() {
			link := filepath.Join(tmp, "link")
			Expect(os.Symlink(src, link)).To(Succeed())
			_, err := m.Quarantine(ctx, link)
			Expect(err).To(HaveOccurred())
			Expect(src).To(BeAnExistingFile())
		})

		Context("when the area can not be created", func() {
			BeforeEach(func() {
				writeFile(area, "in the way")
			})

			It("fails at the ensure-area step", func() {
				_, err := m.Quarantine(ctx, src)
				var qerr *quarantine.Error
				Expect(errors.As(err, &qerr)).To(BeTrue())
				Expect(qerr.Step).To(Equal(quarantine.StepEnsureArea))
				Expect(src).To(BeAnExistingFile())
				Expect(log.Path()).ToNot(BeAnExistingFile())
			})
		})

		Context("when the area already exists", func() {
			BeforeEach(func() {
				Expect(os.MkdirAll(area, 0700)).To(Succeed())
				writeFile(filepath.Join(area, "older.quarantined"), "x")
			})

			It("reuses it", func() {
				_, err := m.Quarantine(ctx, src)
				Expect(err).ToNot(HaveOccurred())
				Expect(areaFiles(area)).To(HaveLen(2))
			})
		})

		Context("when the log can not be written", func() {
			JustBeforeEach(func() {
				var err error
				m, err = quarantine.New(o, failingSink{}, quarantine.WithMetrics(mt))
				Expect(err).ToNot(HaveOccurred())
			})

			It("fails at the log step and reports where the file went", func() {
				_, err := m.Quarantine(ctx, src)
				var qerr *quarantine.Error
				Expect(errors.As(err, &qerr)).To(BeTrue())
				Expect(qerr.Step).To(Equal(quarantine.StepLog))
				Expect(qerr.Record).ToNot(BeNil())
				Expect(qerr.Record.OriginalPath).To(Equal(src))
				Expect(qerr.Record.DestinationPath).To(BeAnExistingFile())
				Expect(src).ToNot(BeAnExistingFile())
				Expect(err.Error()).To(ContainSubstring("disk full"))
			})
		})

		Context("when the caller is cancelled", func() {
			It("still logs a file it moved", func() {
				cctx, cancel := context.WithCancel(ctx)
				cancel()
				rec, err := m.Quarantine(cctx, src)
				Expect(err).ToNot(HaveOccurred())
				Expect(src).ToNot(BeAnExistingFile())

				records, err := log.Records(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(records).To(HaveLen(1))
				Expect(records[0].DestinationPath).To(Equal(rec.DestinationPath))
			})
		})

		Context("when another process holds the log", func() {
			var other *flock.Flock

			JustBeforeEach(func() {
				other = flock.New(log.LockPath())
				Expect(other.Lock()).To(Succeed())
				DeferCleanup(other.Unlock)
			})

			It("waits for the holder instead of failing", func() {
				go func() {
					defer GinkgoRecover()
					time.Sleep(1200 * time.Millisecond)
					Expect(other.Unlock()).To(Succeed())
				}()
				rec, err := m.Quarantine(ctx, src)
				Expect(err).ToNot(HaveOccurred())
				records, err := log.Records(ctx)
				Expect(err).ToNot(HaveOccurred())
				Expect(records).To(ConsistOf(HaveField("DestinationPath", rec.DestinationPath)))
			})

			It("gives up at the log step once the wait is exceeded", func() {
				m.SetLogTimeout(50 * time.Millisecond)
				_, err := m.Quarantine(ctx, src)
				var qerr *quarantine.Error
				Expect(errors.As(err, &qerr)).To(BeTrue())
				Expect(qerr.Step).To(Equal(quarantine.StepLog))
				Expect(qerr.Record.DestinationPath).To(BeAnExistingFile())
				Expect(err).To(MatchError(context.DeadlineExceeded))
			})
		})

		Context("with a frozen clock", func() {
			var frozen time.Time

			JustBeforeEach(func() {
				frozen = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
				m.SetClock(func() time.Time { return frozen })
			})

			It("still hands out increasing, unique names", func() {
				other := filepath.Join(tmp, "other", "eicar.com")
				writeFile(other, eicar)

				first, err := m.Quarantine(ctx, src)
				Expect(err).ToNot(HaveOccurred())
				second, err := m.Quarantine(ctx, other)
				Expect(err).ToNot(HaveOccurred())

				Expect(first.DestinationPath).ToNot(Equal(second.DestinationPath))
				Expect(second.Time.After(first.Time)).To(BeTrue())
				Expect(filepath.Base(first.DestinationPath) < filepath.Base(second.DestinationPath)).To(BeTrue())
				Expect(areaFiles(area)).To(HaveLen(2))
			})

			It("skips names that are already taken", func() {
				taken := filepath.Join(area, quarantine.DestinationName(frozen, src))
				writeFile(taken, "someone else")

				rec, err := m.Quarantine(ctx, src)
				Expect(err).ToNot(HaveOccurred())
				Expect(rec.DestinationPath).ToNot(Equal(taken))
				Expect(rec.Time).To(BeTemporally("==", frozen.Add(time.Nanosecond)))

				content, err := os.ReadFile(taken)
				Expect(err).ToNot(HaveOccurred())
				Expect(string(content)).To(Equal("someone else"))
			})
		})

		It("lets exactly one of several concurrent attempts for a path win", func() {
			const attempts = 8
			var (
				wg       sync.WaitGroup
				mu       sync.Mutex
				success  int
				failures []error
			)
			for i := 0; i < attempts; i++ {
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := m.Quarantine(ctx, src)
					mu.Lock()
					defer mu.Unlock()
					if err == nil {
						success++
						return
					}
					failures = append(failures, err)
				}()
			}
			wg.Wait()

			Expect(success).To(Equal(1))
			for _, err := range failures {
				var qerr *quarantine.Error
				Expect(errors.As(err, &qerr)).To(BeTrue())
				Expect(qerr.Step).To(Equal(quarantine.StepMove))
			}
			Expect(areaFiles(area)).To(HaveLen(1))
			records, err := log.Records(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(1))

			locks, err := os.ReadDir(filepath.Join(area, ".locks"))
			Expect(err).ToNot(HaveOccurred())
			Expect(locks).To(BeEmpty())
		})

		It("quarantines different files concurrently", func() {
			var wg sync.WaitGroup
			for i := 0; i < 10; i++ {
				p := filepath.Join(tmp, "many", string(rune('a'+i)), "eicar.com")
				writeFile(p, eicar)
				wg.Add(1)
				go func() {
					defer GinkgoRecover()
					defer wg.Done()
					_, err := m.Quarantine(ctx, p)
					Expect(err).ToNot(HaveOccurred())
				}()
			}
			wg.Wait()
			Expect(areaFiles(area)).To(HaveLen(10))
			records, err := log.Records(ctx)
			Expect(err).ToNot(HaveOccurred())
			Expect(records).To(HaveLen(10))
		})

		Context("when the area is on another filesystem", func() {
			JustBeforeEach(func() {
				m.SetRename(func(oldpath, newpath string) error {
					return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
				})
			})

			It("copies the file and removes the source", func() {
				before, err := os.Stat(src)
				Expect(err).ToNot(HaveOccurred())

				rec, err := m.Quarantine(ctx, src)
				Expect(err).ToNot(HaveOccurred())
				Expect(src).ToNot(BeAnExistingFile())

				content, err := os.ReadFile(rec.DestinationPath)
				Expect(err).ToNot(HaveOccurred())
				Expect(string(content)).To(Equal(eicar))

				after, err := os.Stat(rec.DestinationPath)
				Expect(err).ToNot(HaveOccurred())
				Expect(after.ModTime().Equal(before.ModTime())).To(BeTrue())
				Expect(areaFiles(area)).To(HaveLen(1))
			})

			It("keeps the source when it can not be removed", func() {
				if os.Geteuid() == 0 {
					Skip("root can remove files from read-only directories")
				}
				dir := filepath.Dir(src)
				Expect(os.Chmod(dir, 0500)).To(Succeed())
				DeferCleanup(os.Chmod, dir, os.FileMode(0700))

				_, err := m.Quarantine(ctx, src)
				var qerr *quarantine.Error
				Expect(errors.As(err, &qerr)).To(BeTrue())
				Expect(qerr.Step).To(Equal(quarantine.StepMove))
				Expect(src).To(BeAnExistingFile())
				Expect(areaFiles(area)).To(BeEmpty())
				Expect(log.Path()).ToNot(BeAnExistingFile())
			})
		})

		Context("when renaming fails", func() {
			JustBeforeEach(func() {
				m.SetRename(func(oldpath, newpath string) error {
					return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EACCES}
				})
			})

			It("removes the placeholder", func() {
				_, err := m.Quarantine(ctx, src)
				Expect(err).To(HaveOccurred())
				Expect(errtypes.Is[errtypes.IsPermissionDenied](err)).To(BeTrue())
				Expect(src).To(BeAnExistingFile())
				Expect(areaFiles(area)).To(BeEmpty())
			})
		})
	})
})

var _ = Describe("destination names", func() {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 42, time.FixedZone("CET", 3600))

	It("uses UTC with nanoseconds", func() {
		Expect(quarantine.DestinationName(ts, "/x/eicar.com")).To(Equal("20240301110000.000000042_eicar.com.quarantined"))
	})

	It("normalises to NFC", func() {
		Expect(quarantine.DestinationName(ts, "/x/cafe\u0301.exe")).To(HaveSuffix("_caf\u00e9.exe.quarantined"))
	})

	It("shortens long names without breaking runes", func() {
		long := strings.Repeat("ä", 200)
		name := quarantine.DestinationName(ts, "/x/"+long)
		Expect(len(name)).To(BeNumerically("<=", 255))
		Expect(utf8.ValidString(name)).To(BeTrue())
		Expect(name).To(HaveSuffix(quarantine.Suffix))
	})

	It("round trips through ParseName", func() {
		t, orig, ok := quarantine.ParseName("/q/" + quarantine.DestinationName(ts, "/x/a_b.txt"))
		Expect(ok).To(BeTrue())
		Expect(orig).To(Equal("a_b.txt"))
		Expect(t.Equal(ts)).To(BeTrue())
	})

	It("rejects foreign names", func() {
		for _, n := range []string{"eicar.com", "x_eicar.com.quarantined", "20240301110000_eicar.com"} {
			_, _, ok := quarantine.ParseName(n)
			Expect(ok).To(BeFalse(), n)
		}
	})
})
