// SPDX-License-Identifier: GPL-3.0
// Copyright (C) 2026 Hostshaper Contributors

package bpf

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// Minimum kernel for LPM trie iteration and cpumap queue sizes.
const (
	MinKernelMajor = 5
	MinKernelMinor = 4
)

// CheckKernelVersion verifies the running kernel is recent enough.
func CheckKernelVersion() error {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err != nil {
		return fmt.Errorf("failed to get kernel version: %w", err)
	}
	release := releaseString(uname.Release[:])
	major, minor, err := parseRelease(release)
	if err != nil {
		return err
	}
	if !atLeast(major, minor, MinKernelMajor, MinKernelMinor) {
		return fmt.Errorf("kernel %s is too old: need %d.%d+", release, MinKernelMajor, MinKernelMinor)
	}
	return nil
}

// releaseString trims a utsname field at its first NUL. A field that fills
// the whole buffer has none.
func releaseString(b []byte) string {
	if n := bytes.IndexByte(b, 0); n >= 0 {
		b = b[:n]
	}
	return string(b)
}

// parseRelease extracts major.minor from a uname release such as
// "6.12.0-12+deb13-amd64".
func parseRelease(release string) (int, int, error) {
	parts := strings.SplitN(release, ".", 3)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("kernel version %q: invalid format (expected X.Y.Z)", release)
	}
	major, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("kernel version %q: invalid major version", release)
	}
	minorStr := parts[1]
	for i, c := range minorStr {
		if c < '0' || c > '9' {
			minorStr = minorStr[:i]
			break
		}
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return 0, 0, fmt.Errorf("kernel version %q: invalid minor version", release)
	}
	return major, minor, nil
}

func atLeast(major, minor, wantMajor, wantMinor int) bool {
	return major > wantMajor || (major == wantMajor && minor >= wantMinor)
}
