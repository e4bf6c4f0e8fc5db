// Copyright 2026 The Arena Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"bytes"
	"runtime/debug"
	"strings"
	"testing"
)

func stubBuildInfo(t *testing.T, settings ...debug.BuildSetting) {
	t.Helper()
	saved, savedCommit, savedTime := readBuildInfo, Commit, BuildTime
	t.Cleanup(func() { readBuildInfo, Commit, BuildTime = saved, savedCommit, savedTime })
	Commit, BuildTime = "", ""
	readBuildInfo = func() (*debug.BuildInfo, bool) {
		return &debug.BuildInfo{Settings: settings}, true
	}
}

func TestInfoFromLinkerFlags(t *testing.T) {
	stubBuildInfo(t)
	Commit, BuildTime = "abc1234", "2026-10-19T12:00:00Z"
	want := Version + " (abc1234, 2026-10-19T12:00:00Z)"
	if got := Info(); got != want {
		t.Fatalf("Info() = %q, want %q", got, want)
	}
}

func TestInfoFromVCSStamp(t *testing.T) {
	stubBuildInfo(t,
		debug.BuildSetting{Key: "vcs.revision", Value: "0123456789abcdef0123"},
		debug.BuildSetting{Key: "vcs.modified", Value: "true"},
	)
	want := Version + " (0123456789ab-dirty)"
	if got := Info(); got != want {
		t.Fatalf("Info() = %q, want %q", got, want)
	}
}

func TestInfoWithoutBuildInfo(t *testing.T) {
	stubBuildInfo(t)
	readBuildInfo = func() (*debug.BuildInfo, bool) { return nil, false }
	if got := Info(); got != Version+" (unknown)" {
		t.Fatalf("Info() = %q", got)
	}
}

func TestAttr(t *testing.T) {
	stubBuildInfo(t, debug.BuildSetting{Key: "vcs.revision", Value: "feedface"})
	attr := Attr()
	if attr.Key != "build" {
		t.Fatalf("Attr key = %q, want build", attr.Key)
	}
	fields := map[string]string{}
	for _, member := range attr.Value.Group() {
		fields[member.Key] = member.Value.String()
	}
	if fields["commit"] != "feedface" || fields["version"] != Version || fields["dirty"] != "false" {
		t.Fatalf("Attr fields = %v", fields)
	}
}

func TestWrite(t *testing.T) {
	stubBuildInfo(t)
	Commit = "abc1234"
	var out bytes.Buffer
	Write(&out, "arena-master")
	if !strings.HasPrefix(out.String(), "arena-master "+Version+" (abc1234)\n") || !strings.Contains(out.String(), "go: go") {
		t.Fatalf("Write output = %q", out.String())
	}
}
