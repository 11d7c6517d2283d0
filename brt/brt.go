// Package brt is the process-wide Runtime singleton: parsed CLI flags,
// the remap table, and the SIGINT-equivalent quit flag, gathered into
// one value created once at program entry and threaded into every node
// constructor rather than kept as package-level globals.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package brt

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/b0platform/b0/cmn"
	"github.com/b0platform/b0/cmn/env"
	"github.com/b0platform/b0/cmn/nlog"
	"github.com/b0platform/b0/xsocket"
)

// Kind is which remap table a --remap-* flag populates.
type Kind int

const (
	KindAny Kind = iota
	KindNode
	KindTopic
	KindService
)

type remapRule struct {
	old, new string
}

// remapList backs a repeatable pflag.Value.
type remapList struct {
	rules *[]remapRule
}

func (r *remapList) String() string { return "" }
func (r *remapList) Type() string   { return "stringSlice" }
func (r *remapList) Set(v string) error {
	parts := strings.SplitN(v, "=", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid remap %q, want OLD=NEW", v)
	}
	*r.rules = append(*r.rules, remapRule{old: parts[0], new: parts[1]})
	return nil
}

// Runtime is the process-wide configuration object: parsed flags, remap
// table, and the process quit flag. Build one with New at program entry
// and pass it to every node constructor.
type Runtime struct {
	ResolverAddr string
	HostID       string
	ConsoleLvl   string
	DebugSocket  string

	anyRemap     []remapRule
	nodeRemap    []remapRule
	topicRemap   []remapRule
	serviceRemap []remapRule

	quit int32 // atomic bool, set by the SIGINT handler or explicit Quit()
}

// ErrHelp is returned by New when argv requests --help; callers should
// print usage and exit 0 ("--help" is not an argument error).
var ErrHelp = pflag.ErrHelp

// New parses argv (excluding argv[0]) into a Runtime, reading env.B0
// defaults first. Each call registers a SIGINT/SIGTERM handler that sets
// the returned Runtime's quit flag. Returns ErrHelp for --help/-h (exit
// code 0) or a flag error the caller should treat as exit code 1.
func New(argv []string) (*Runtime, error) {
	for _, a := range argv {
		if a == "--help" || a == "-h" {
			return nil, ErrHelp
		}
	}

	rt := &Runtime{
		ResolverAddr: resolverAddrFromEnv(),
		HostID:       hostIDFromEnv(),
		ConsoleLvl:   os.Getenv(env.B0.ConsoleLogLvl),
		DebugSocket:  os.Getenv(env.B0.DebugSocket),
	}

	fs := pflag.NewFlagSet("b0", pflag.ContinueOnError)
	// Individual node binaries (resolverd, b0bench, ...) may carry their
	// own flags beyond this shared surface; tolerate them here rather
	// than forcing every caller to register them on this FlagSet too.
	fs.ParseErrorsWhitelist.UnknownFlags = true
	fs.Var(&remapList{rules: &rt.anyRemap}, "remap", "remap OLD=NEW (%h=hostname, %n=node name), repeatable")
	fs.Var(&remapList{rules: &rt.nodeRemap}, "remap-node", "remap a node name, repeatable")
	fs.Var(&remapList{rules: &rt.topicRemap}, "remap-topic", "remap a topic name, repeatable")
	fs.Var(&remapList{rules: &rt.serviceRemap}, "remap-service", "remap a service name, repeatable")
	fs.StringVar(&rt.ConsoleLvl, "console-loglevel", rt.ConsoleLvl, "console log level: trace|debug|info|warn|error|fatal")

	if err := fs.Parse(argv); err != nil {
		return nil, err
	}

	if rt.ConsoleLvl != "" {
		nlog.SetLevel(nlog.ParseLevel(rt.ConsoleLvl))
	}
	if rt.DebugSocket != "" {
		xsocket.SetDebugPatterns(rt.DebugSocket)
	}

	installSignalHandler(rt)
	return rt, nil
}

func resolverAddrFromEnv() string {
	if v := os.Getenv(env.B0.Resolver); v != "" {
		return v
	}
	if v := os.Getenv(env.B0.ResolverLegacy); v != "" {
		nlog.Warningf("%s is deprecated, use %s instead", env.B0.ResolverLegacy, env.B0.Resolver)
		return v
	}
	return env.DefaultResolverAddr
}

func hostIDFromEnv() string {
	if v := os.Getenv(env.B0.HostID); v != "" {
		return v
	}
	h, err := os.Hostname()
	if err != nil {
		return "localhost"
	}
	return h
}

func installSignalHandler(rt *Runtime) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		rt.Quit()
	}()
}

// Quit sets the process-wide quit flag. Idempotent.
func (rt *Runtime) Quit() { atomic.StoreInt32(&rt.quit, 1) }

// QuitRequested reports whether the process-wide quit flag is set.
func (rt *Runtime) QuitRequested() bool { return atomic.LoadInt32(&rt.quit) != 0 }

// Remap applies the remap table to name, trying the kind-specific table
// first and falling back to the any-kind table, expanding %h to hostID
// and %n to nodeName in the replacement. Applied to node, topic, and
// service names alike.
func (rt *Runtime) Remap(kind Kind, nodeName, name string) string {
	var rules []remapRule
	switch kind {
	case KindNode:
		rules = rt.nodeRemap
	case KindTopic:
		rules = rt.topicRemap
	case KindService:
		rules = rt.serviceRemap
	}
	if out, ok := applyRules(rules, name); ok {
		return rt.expand(out, nodeName)
	}
	if out, ok := applyRules(rt.anyRemap, name); ok {
		return rt.expand(out, nodeName)
	}
	return name
}

func applyRules(rules []remapRule, name string) (string, bool) {
	for _, r := range rules {
		if r.old == name {
			return r.new, true
		}
	}
	return "", false
}

func (rt *Runtime) expand(s, nodeName string) string {
	s = strings.ReplaceAll(s, "%h", rt.HostID)
	s = strings.ReplaceAll(s, "%n", nodeName)
	return s
}

// Timeouts exposes the read-mostly timeout knobs every socket wrapper
// defaults to (cmn.Rom), kept alongside Runtime so nodes have one place
// to read process configuration from.
func (rt *Runtime) Timeouts() cmn.Timeouts { return cmn.Rom }
