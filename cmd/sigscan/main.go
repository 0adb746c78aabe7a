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

// Command sigscan scans directory trees for files matching known-bad
// digests and moves them into quarantine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/opencloud-eu/sigscan/pkg/appctx"
	"github.com/opencloud-eu/sigscan/pkg/config"
	"github.com/opencloud-eu/sigscan/pkg/logger"
	"github.com/opencloud-eu/sigscan/pkg/trace"
	"github.com/pkg/errors"
)

var (
	conf *config.Config
	ctx  context.Context

	gitCommit, buildDate, version, goVersion string

	configFlag   = flag.String("c", "", "path to the configuration file")
	logLevelFlag = flag.String("log-level", "", "log level, overrides the configuration")
	logModeFlag  = flag.String("log-mode", "", "log mode (console or json), overrides the configuration")
)

func main() {
	flag.Parse()

	cmds := []*command{
		versionCommand(),
		scanCommand(),
		logCommand(),
		configCommand(),
	}

	mainUsage := createMainUsage(cmds)

	if len(flag.Args()) < 1 {
		fmt.Fprintln(os.Stderr, mainUsage)
		os.Exit(1)
	}

	c, err := config.LoadFile(*configFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if *logLevelFlag != "" {
		c.Log.Level = *logLevelFlag
	}
	if *logModeFlag != "" {
		c.Log.Mode = *logModeFlag
	}
	if err := c.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	conf = c

	log, err := logger.FromConfig(conf.Log.Output, conf.Log.Mode, conf.Log.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	var stop context.CancelFunc
	ctx, stop = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	ctx = appctx.WithLogger(ctx, log)

	tp, shutdown, err := trace.NewProvider(ctx, trace.Options{
		Enabled:     conf.Tracing.Enabled,
		Endpoint:    conf.Tracing.Endpoint,
		Insecure:    conf.Tracing.Insecure,
		ServiceName: conf.Tracing.ServiceName,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	trace.SetGlobal(tp)

	action := flag.Args()[0]
	for _, v := range cmds {
		if v.Name != action {
			continue
		}
		if err := v.Parse(flag.Args()[1:]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprintln(os.Stderr, v.Usage())
			os.Exit(1)
		}
		err := v.Action()
		stop()
		if serr := shutdown(context.Background()); serr != nil {
			log.Warn().Err(serr).Msg("could not flush traces")
		}
		os.Exit(exitCode(err))
	}

	fmt.Fprintln(os.Stderr, mainUsage)
	os.Exit(1)
}

// exitCode prints err and maps it to a process status.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		if ee.msg != "" {
			fmt.Fprintln(os.Stderr, ee.msg)
		}
		return ee.code
	}
	fmt.Fprintln(os.Stderr, err)
	return 1
}

func createMainUsage(cmds []*command) string {
	n := 0
	for _, cmd := range cmds {
		l := len(cmd.Name)
		if l > n {
			n = l
		}
	}

	usage := "Usage: sigscan [-c config.toml] [-log-level level] [-log-mode mode] <command> [-flags] [args]\n\n"
	for _, cmd := range cmds {
		usage += fmt.Sprintf("%s%s%s\n", cmd.Name, strings.Repeat(" ", 4+(n-len(cmd.Name))), cmd.Description())
	}
	return usage
}

func versionCommand() *command {
	cmd := newCommand("version")
	cmd.Description = func() string { return "print the version" }
	cmd.Usage = func() string { return "Usage: version" }
	cmd.Action = func() error {
		fmt.Printf("version=%s commit=%s go_version=%s build_date=%s\n", version, gitCommit, goVersion, buildDate)
		return nil
	}
	return cmd
}

func configCommand() *command {
	cmd := newCommand("config")
	cmd.Description = func() string { return "print the effective configuration" }
	cmd.Usage = func() string { return "Usage: config" }
	cmd.Action = func() error {
		return conf.Encode(os.Stdout)
	}
	return cmd
}
