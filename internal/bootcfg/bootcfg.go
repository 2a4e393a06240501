// Package bootcfg parses the kernel command line spec.md §6 defines:
// a small space-separated token grammar ("root=dNpM", "tests") handed
// to the kernel by the bootloader, independent of cmd/kernel's own
// process-level go-flags flag set (that parses how the hosted simulator
// binary itself is invoked, not what the simulated kernel receives).
package bootcfg

import (
	"strconv"
	"strings"
)

// Config is the decoded kernel command line.
type Config struct {
	// RootDevNo/RootPartNo select the root device/partition, from a
	// "root=dNpM" token. RootValid is false if no such token was present.
	RootDevNo  int
	RootPartNo int
	RootValid  bool

	// RunTests mirrors the "tests" token: run the internal test suite
	// and halt instead of starting the scheduler normally.
	RunTests bool
}

// Parse tokenizes the raw command line string on whitespace and
// recognizes the "root=dNpM" and "tests" tokens; unrecognized tokens
// are ignored, matching the teacher's general leniency toward unknown
// boot parameters (a new token some future patch adds should not panic
// an otherwise-bootable image).
func Parse(cmdline string) Config {
	var cfg Config
	for _, tok := range strings.Fields(cmdline) {
		switch {
		case strings.HasPrefix(tok, "root="):
			if devNo, partNo, ok := parseRoot(tok[len("root="):]); ok {
				cfg.RootDevNo = devNo
				cfg.RootPartNo = partNo
				cfg.RootValid = true
			}
		case tok == "tests":
			cfg.RunTests = true
		}
	}
	return cfg
}

// parseRoot decodes "dNpM" into (N, M).
func parseRoot(s string) (devNo, partNo int, ok bool) {
	if len(s) == 0 || s[0] != 'd' {
		return 0, 0, false
	}
	s = s[1:]
	pIdx := strings.IndexByte(s, 'p')
	if pIdx < 0 {
		return 0, 0, false
	}
	d, err := strconv.Atoi(s[:pIdx])
	if err != nil {
		return 0, 0, false
	}
	p, err := strconv.Atoi(s[pIdx+1:])
	if err != nil {
		return 0, 0, false
	}
	return d, p, true
}
