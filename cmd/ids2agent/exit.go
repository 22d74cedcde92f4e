package main

import "github.com/cuemby/ids2agent/pkg/agenterr"

// exitCodeFor maps a command's returned error to the exit-code table in
// spec.md §6, falling back to "ok" for a nil error (cobra only reaches
// this for a non-nil RunE error, but CodeOf(nil) is defined and safe).
func exitCodeFor(err error) int {
	return agenterr.CodeOf(err)
}
