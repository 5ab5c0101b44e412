// Copyright 2020 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package benchcmd configures the bigslice session shared by the
// slicebench subcommands. It registers the common cluster flags of
// package sliceflags together with a compute target, and starts the
// session and its status dashboard. The session is returned to the
// caller, which passes it explicitly to every computation.
//
// A benchmark subcommand follows this form:
//
//	var fl benchcmd.Flags
//	benchcmd.RegisterFlags(flag.CommandLine, &fl)
//	flag.Parse()
//	sess, err := benchcmd.Init(fl)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer sess.Shutdown()
//	r, err := sess.Run(ctx, MyComputation)
package benchcmd

import (
	"flag"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Pprof is included to be exposed on the dashboard.
	"os"
	"sort"
	"strings"

	"github.com/grailbio/base/log"
	"github.com/grailbio/base/status"
	"github.com/grailbio/bigslice/exec"
	"github.com/grailbio/bigslice/sliceflags"
)

// System profiles for clusters of the two compute targets.
func init() {
	sliceflags.RegisterSystemProfile("ec2-cpu", "ec2:instance=m5.24xlarge,dataspace=500")
	sliceflags.RegisterSystemProfile("ec2-gpu", "ec2:instance=p3.8xlarge,dataspace=500")
}

// Flags holds the cluster configuration of a benchmark command.
type Flags struct {
	sliceflags.Flags
	// Compute is the compute target that sizes the worker pool when
	// no explicit parallelism is given.
	Compute Compute
}

// RegisterFlags registers the cluster flags with the supplied flag
// set. The dashboard is served on :3333 by default.
func RegisterFlags(fs *flag.FlagSet, fl *Flags) {
	sliceflags.RegisterFlags(fs, &fl.Flags, "")
	fs.Var(&fl.Compute, "compute", "compute target sizing the worker pool: CPU or GPU")
}

// Parallelism returns the degree of parallelism requested by fl.
func (fl Flags) Parallelism() int {
	if fl.Flags.Parallelism > 0 {
		return fl.Flags.Parallelism
	}
	return fl.Compute.Workers()
}

// Init starts a bigslice session according to the supplied flags and
// arranges for its status to be displayed.
func Init(fl Flags) (*exec.Session, error) {
	if fl.SystemHelp {
		printSystemHelp(fl)
		os.Exit(0)
	}
	fl.Flags.Parallelism = fl.Parallelism()
	options, err := fl.ExecOptions()
	if err != nil {
		return nil, err
	}
	log.Printf("starting %s worker pool on %s with parallelism %d", fl.Compute, fl.System.String(), fl.Flags.Parallelism)
	sess := exec.Start(options...)
	DisplayStatus(fl, sess)
	return sess, nil
}

func printSystemHelp(fl Flags) {
	providers, profiles := sliceflags.ProvidersAndProfiles()
	sort.Strings(providers)
	wr := fl.Output()
	fmt.Fprintf(wr, "%s\n\n", sliceflags.SystemHelpLong)
	fmt.Fprintf(wr, "The available providers are: %v\n", strings.Join(providers, ", "))
	var str []string
	for k, v := range profiles {
		str = append(str, fmt.Sprintf("%v is shorthand for: %v\n", k, v))
	}
	sort.Strings(str)
	for _, s := range str {
		fmt.Fprint(wr, s)
	}
}

// DisplayStatus arranges for the session's status to be displayed on
// the console and/or the dashboard, depending on the flags. The
// dashboard serves /debug/status, the session's debug handlers, and
// pprof on http.DefaultServeMux.
func DisplayStatus(fl Flags, sess *exec.Session) {
	if fl.ConsoleStatus {
		var console status.Reporter
		go console.Go(os.Stdout, sess.Status())
	}
	if len(fl.HTTPAddress.Address) > 0 {
		sess.HandleDebug(http.DefaultServeMux)
		http.Handle("/debug/status", status.Handler(sess.Status()))
		go func() {
			log.Printf("dashboard at: %v", fl.HTTPAddress)
			if err := http.ListenAndServe(fl.HTTPAddress.Address, nil); err != nil {
				log.Error.Printf("failed to start dashboard at %v: %v", fl.HTTPAddress, err)
			}
		}()
	}
}
