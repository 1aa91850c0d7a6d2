/*************************************************************************
 * Copyright 2017 Gravwell, Inc. All rights reserved.
 * Contact: <legal@gravwell.io>
 *
 * This software may be modified and distributed under the terms of the
 * BSD 2-clause license. See the LICENSE file for details.
 **************************************************************************/

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"

	"github.com/WhereSoftwareGoesToDie/vaultaire/ingest/log"
	"github.com/WhereSoftwareGoesToDie/vaultaire/supervisor"
	"github.com/WhereSoftwareGoesToDie/vaultaire/version"
)

const progname = "vaultaire-reader"

var (
	debugFlag  = flag.Bool("d", false, "enable debug output")
	workersFlag = flag.Int("w", 0, "number of reader workers (0 = logical CPU count)")
	poolFlag    = flag.String("p", "vaultaire", "Ceph pool name")
	userFlag    = flag.String("u", "vaultaire", "Ceph client user")
	cephConfFlag = flag.String("ceph-conf", "/etc/ceph/ceph.conf", "path to ceph.conf")
	demoOriginFlag = flag.Bool("enable-demo-origin", false, "serve synthesized data for the BENHUR demo origin")
	verFlag     = flag.Bool("version", false, "print version information and exit")

	lg *log.Logger
)

func main() {
	// Long-form aliases share storage with the short flags above.
	flag.BoolVar(debugFlag, "debug", false, "enable debug output")
	flag.IntVar(workersFlag, "workers", 0, "number of reader workers (0 = logical CPU count)")
	flag.StringVar(poolFlag, "pool", "vaultaire", "Ceph pool name")
	flag.StringVar(userFlag, "user", "vaultaire", "Ceph client user")
	flag.Parse()
	if *verFlag {
		version.PrintVersion(os.Stdout)
		os.Exit(0)
	}
	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: vaultaire-reader [flags] BROKER")
		flag.PrintDefaults()
		os.Exit(2)
	}
	broker := flag.Arg(0)

	lg = log.New(os.Stderr) // DO NOT close this, it will prevent backtraces from firing
	lg.SetAppname(progname)
	if *debugFlag {
		lg.SetLevel(log.DEBUG)
	}

	// -w 0 is the "unset" sentinel; resolve the real default only after
	// flags are parsed, never inside the flag's default-value expression.
	workers := *workersFlag
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	stopProfiling := startProfiling(lg)
	defer stopProfiling()

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	cfg := supervisor.Config{
		Broker:      broker,
		Workers:     workers,
		CephConf:    *cephConfFlag,
		User:        *userFlag,
		Pool:        *poolFlag,
		Debug:       *debugFlag,
		DemoEnabled: *demoOriginFlag,
		Progname:    progname,
		Hostname:    hostname,
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := supervisor.Run(ctx, cfg, lg); err != nil {
		lg.Error("vaultaire-reader exiting on error", log.KVErr(err))
		os.Exit(1)
	}
}

// startProfiling mirrors the ingester pack's CPU_PROFILE/MEM_PROFILE
// environment-variable convention: set either to a file path to capture a
// profile for the life of the process.
func startProfiling(lg *log.Logger) func() {
	var cpuFile *os.File
	if p := os.Getenv("CPU_PROFILE"); p != "" {
		f, err := os.Create(p)
		if err != nil {
			lg.Error("failed to create CPU profile", log.KVErr(err))
		} else if err := pprof.StartCPUProfile(f); err != nil {
			lg.Error("failed to start CPU profile", log.KVErr(err))
			f.Close()
		} else {
			cpuFile = f
		}
	}
	memPath := os.Getenv("MEM_PROFILE")

	return func() {
		if cpuFile != nil {
			pprof.StopCPUProfile()
			cpuFile.Close()
		}
		if memPath != "" {
			f, err := os.Create(memPath)
			if err != nil {
				lg.Error("failed to create memory profile", log.KVErr(err))
				return
			}
			defer f.Close()
			if err := pprof.WriteHeapProfile(f); err != nil {
				lg.Error("failed to write memory profile", log.KVErr(err))
			}
		}
	}
}
