//go:build debug

// Package debug provides build-tag gated assertions: compiled in only
// under `-tags debug`, a no-op otherwise (see debug_off.go).
/*
 * Copyright (c) 2018-2026, VDMS-Go Authors. All rights reserved.
 */
package debug

import (
	"fmt"

	"github.com/golang/glog"
)

func Assert(cond bool, a ...any) {
	if !cond {
		panicf(a...)
	}
}

func Assertf(cond bool, f string, a ...any) {
	if !cond {
		panicf(fmt.Sprintf(f, a...))
	}
}

func AssertNoErr(err error) {
	if err != nil {
		panicf(err)
	}
}

func Func(f func()) { f() }

func panicf(a ...any) {
	msg := "DEBUG PANIC: " + fmt.Sprint(a...)
	glog.Errorln(msg)
	glog.Flush()
	panic(msg)
}
