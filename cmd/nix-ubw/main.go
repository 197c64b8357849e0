//
// Copyright 2019-2020 Nestybox, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//

// Command nix-ubw seizes an already-running build daemon, watches every
// process it forks and execs, and throttles compiler/linker invocations
// against a fixed CPU/memory budget so a parallel build cannot oversubscribe
// the host.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/xddxdd/nix-ubw/internal/capability"
	"github.com/xddxdd/nix-ubw/internal/classifier"
	"github.com/xddxdd/nix-ubw/internal/config"
	"github.com/xddxdd/nix-ubw/internal/limiter"
	"github.com/xddxdd/nix-ubw/internal/procctl"
	"github.com/xddxdd/nix-ubw/internal/procfs"
	"github.com/xddxdd/nix-ubw/internal/profile"
	"github.com/xddxdd/nix-ubw/internal/supervisor"
)

// version is set at build time via -ldflags; it defaults to "dev" for
// local/unreleased builds.
var version = "dev"

var opts struct {
	totalCPUs   int
	totalMemGiB int
	daemonName  string
	daemonFlag  string
	configPath  string
	logLevel    string
}

func main() {
	root := &cobra.Command{
		Use:     "nix-ubw",
		Short:   "Throttle compiler/linker processes forked by a build daemon",
		Version: version,
		RunE:    run,
	}

	flags := root.Flags()
	flags.IntVarP(&opts.totalCPUs, "total-cpus", "c", 0, "total CPU budget (0 = autodetect)")
	flags.IntVarP(&opts.totalMemGiB, "total-mem-gb", "m", 0, "total memory budget in GiB (0 = autodetect)")
	flags.StringVar(&opts.daemonName, "daemon-name", config.DefaultDaemonName, "resolved argv[0] of the target build daemon")
	flags.StringVar(&opts.daemonFlag, "daemon-flag", config.DefaultDaemonFlag, "argv[1] identifying the target build daemon")
	flags.StringVar(&opts.configPath, "config", "", "optional TOML file of classifier overrides")
	flags.StringVar(&opts.logLevel, "log-level", defaultLogLevel(), "panic, fatal, error, warn, info, debug or trace")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// defaultLogLevel is the --log-level flag's default: the LOG_LEVEL
// environment variable when set (the teacher's own convention for logrus
// level configuration), falling back to config.DefaultLogLevel otherwise.
// An explicit --log-level still overrides either.
func defaultLogLevel() string {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		return v
	}
	return config.DefaultLogLevel
}

func run(cmd *cobra.Command, args []string) error {
	level, err := log.ParseLevel(opts.logLevel)
	if err != nil {
		return fmt.Errorf("nix-ubw: invalid --log-level %q: %w", opts.logLevel, err)
	}
	log.SetLevel(level)

	if ok, err := capability.HasSysPtrace(); err != nil {
		log.Warnf("could not determine CAP_SYS_PTRACE: %v", err)
	} else if !ok {
		log.Warnf("process lacks CAP_SYS_PTRACE; attach will likely fail (are you root?)")
	}

	cfg, err := buildConfig()
	if err != nil {
		return err
	}
	log.Infof("budget: %d CPUs, %d GiB memory", cfg.TotalCPUs, cfg.TotalMemGiB)

	targets, err := procfs.FindTargetDaemons(cfg.DaemonName, cfg.DaemonFlag)
	if err != nil {
		return fmt.Errorf("nix-ubw: scanning /proc: %w", err)
	}
	if len(targets) == 0 {
		return fmt.Errorf("nix-ubw: no running %q %q process found", cfg.DaemonName, cfg.DaemonFlag)
	}
	log.Infof("found %d candidate daemon process(es): %v", len(targets), targets)

	ctl := procctl.Ptrace{}
	lim := limiter.New(profile.New(cfg.TotalCPUs, cfg.TotalMemGiB), classifier.New(cfg.Overrides), ctl)
	sup := supervisor.New(ctl, lim)

	if _, err := sup.Attach(targets); err != nil {
		return fmt.Errorf("nix-ubw: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		s := <-sigc
		log.Infof("received %v, exiting (traced processes keep running)", s)
		os.Exit(0)
	}()

	if err := sup.Run(); err != nil {
		return fmt.Errorf("nix-ubw: %w", err)
	}
	return nil
}

func buildConfig() (config.Config, error) {
	cfg := config.Config{
		TotalCPUs:   opts.totalCPUs,
		TotalMemGiB: opts.totalMemGiB,
		LogLevel:    opts.logLevel,
		DaemonName:  opts.daemonName,
		DaemonFlag:  opts.daemonFlag,
	}
	if cfg.TotalCPUs <= 0 {
		cfg.TotalCPUs = config.DetectCPUs()
	}
	if cfg.TotalMemGiB <= 0 {
		cfg.TotalMemGiB = config.DetectMemGiB()
	}

	if opts.configPath != "" {
		overrides, err := config.LoadOverrides(opts.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("nix-ubw: loading %s: %w", opts.configPath, err)
		}
		cfg.Overrides = overrides
	}

	return cfg, nil
}
