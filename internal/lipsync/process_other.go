//go:build !unix

package lipsync

import "os/exec"

// killProcessGroupOnCancel keeps the default kill of the direct child; WaitDelay
// still bounds how long orphaned pipes can hold Compose.
func killProcessGroupOnCancel(_ *exec.Cmd) {}
