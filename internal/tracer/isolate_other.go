//go:build !unix

package tracer

import "os/exec"

func isolate(cmd *exec.Cmd) {}
