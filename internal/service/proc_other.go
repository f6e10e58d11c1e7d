//go:build !unix

package service

import "os/exec"

// killProcessGroup is a no-op here; WaitDelay still bounds the wait.
func killProcessGroup(*exec.Cmd) {}
