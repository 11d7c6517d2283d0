// Package nlog - see nlog.go.
/*
 * Copyright (c) 2023, NVIDIA CORPORATION. All rights reserved.
 */
package nlog

import "fmt"

func TraceDepth(depth int, args ...any)   { log(SevTrace, depth, "%s", fmt.Sprintln(args...)) }
func Traceln(args ...any)                 { log(SevTrace, 0, "%s", fmt.Sprintln(args...)) }
func Tracef(format string, args ...any)   { log(SevTrace, 0, format, args...) }
func Debugln(args ...any)                 { log(SevDebug, 0, "%s", fmt.Sprintln(args...)) }
func Debugf(format string, args ...any)   { log(SevDebug, 0, format, args...) }
func InfoDepth(depth int, args ...any)    { log(SevInfo, depth, "%s", fmt.Sprintln(args...)) }
func Infoln(args ...any)                  { log(SevInfo, 0, "%s", fmt.Sprintln(args...)) }
func Infof(format string, args ...any)    { log(SevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(SevWarn, 0, "%s", fmt.Sprintln(args...)) }
func Warningf(format string, args ...any) { log(SevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(SevErr, depth, "%s", fmt.Sprintln(args...)) }
func Errorln(args ...any)                 { log(SevErr, 0, "%s", fmt.Sprintln(args...)) }
func Errorf(format string, args ...any)   { log(SevErr, 0, format, args...) }
func Fatalln(args ...any)                 { log(SevFatal, 0, "%s", fmt.Sprintln(args...)) }
func Fatalf(format string, args ...any)   { log(SevFatal, 0, format, args...) }

// Flush is a no-op retained for call-site parity with a buffered
// logger's API; this console sink writes synchronously under mu.
func Flush(...bool) {}
