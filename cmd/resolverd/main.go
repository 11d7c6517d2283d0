// Command resolverd runs the resolver coordinator service: the
// well-known resolv endpoint on port 22000.
//
// Bootstrap parses argv into a Runtime, builds the service, and runs
// until signaled.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package main

import (
	"os"
	"time"

	"github.com/b0platform/b0/brt"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/resolver"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	rt, err := brt.New(argv)
	if err != nil {
		if err == brt.ErrHelp {
			return 0
		}
		nlog.Errorf("argument error: %v", err)
		return 1
	}

	cfg := resolver.Config{
		ResolvAddr:  flagString(argv, "--resolv-addr", ":22000"),
		XSubAddr:    flagString(argv, "--xsub-addr", "127.0.0.1:0"),
		XPubAddr:    flagString(argv, "--xpub-addr", "127.0.0.1:0"),
		MetricsAddr: flagString(argv, "--metrics-addr", ""),
	}

	r, err := resolver.New(rt, cfg)
	if err != nil {
		nlog.Errorf("init failed: %v", err)
		return 2
	}
	if err := r.Run(); err != nil {
		nlog.Errorf("init failed: %v", err)
		return 2
	}
	defer r.Close()

	nlog.Infof("resolverd: resolv=%s xsub=%s xpub=%s", r.ResolvAddr(), r.XSubAddr(), r.XPubAddr())

	for !rt.QuitRequested() {
		time.Sleep(200 * time.Millisecond)
	}
	return 0
}

// flagString is a minimal pre-pass lookup for the resolver's own bind
// addresses, kept separate from brt.Runtime's pflag.FlagSet (which owns
// the shared --remap*/--console-loglevel surface) since these
// bind-address flags are resolverd-specific, not part of every node's
// CLI surface.
func flagString(argv []string, name, def string) string {
	for i, a := range argv {
		if a == name && i+1 < len(argv) {
			return argv[i+1]
		}
	}
	return def
}
