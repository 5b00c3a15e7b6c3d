// Command badgeros simulates the BadgerOS preemptive multitasking kernel
// in-process: a single bootable instance assembled from the kernel/
// packages, driven by replaying syscall programs instead of executing
// real RISC-V machine code.
//
// Commands:
//
//	boot      - assemble a kernel, run init to completion, report shutdown
//	console   - attach an interactive console to a booted kernel's PID 1
//	selftest  - run the built-in end-to-end scenarios and report pass/fail
//	version   - print version information
package main

import (
	"fmt"
	"os"

	"badgeros/cmd/badgeros"
)

func main() {
	if err := badgeros.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
