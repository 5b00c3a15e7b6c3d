package badgeros

import (
	"fmt"
	"sync/atomic"

	"github.com/spf13/cobra"

	"badgeros/internal/testkernel"
	"badgeros/kernel/kconfig"
	"badgeros/kernel/klog"
	"badgeros/kernel/process"
	"badgeros/kernel/signal"
	"badgeros/kernel/syscallabi"
)

var selftestCmd = &cobra.Command{
	Use:   "selftest",
	Short: "Boot a kernel and run the built-in end-to-end scenarios",
	Long: `selftest assembles a fresh kernel instance and drives the init
program and the child-exit-propagation scenario against it, printing a
pass/fail line per scenario. It exits non-zero if any scenario fails.`,
	RunE: runSelftest,
}

func init() {
	rootCmd.AddCommand(selftestCmd)
}

type selftestCase struct {
	name string
	run  func() error
}

func runSelftest(cmd *cobra.Command, args []string) error {
	cases := []selftestCase{
		{"hello-init", selftestHelloInit},
		{"child-exit-propagation", selftestChildExitPropagation},
	}

	failed := 0
	for _, c := range cases {
		if err := c.run(); err != nil {
			fmt.Printf("FAIL %s: %v\n", c.name, err)
			failed++
			continue
		}
		fmt.Printf("PASS %s\n", c.name)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d scenarios failed", failed, len(cases))
	}
	return nil
}

func selftestHelloInit() error {
	cfg := kconfig.New(kconfig.WithPool(1<<20, 4096))
	k, err := testkernel.Boot(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	if err := k.Root.WriteFile("/etc/motd", []byte("welcome to badgeros"), 0o644); err != nil {
		return fmt.Errorf("seed motd: %w", err)
	}

	if _, err := testkernel.RunInitProgram(k, "/etc/motd"); err != nil {
		return fmt.Errorf("run init: %w", err)
	}

	if got := process.ShutdownMode.Load(); got != process.ShutdownPowerOff {
		return fmt.Errorf("shutdown_mode = %d, want power-off", got)
	}
	return nil
}

func selftestChildExitPropagation() error {
	cfg := kconfig.New(kconfig.WithPool(1<<20, 4096))
	k, err := testkernel.Boot(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	parentPID, err := k.BootInit("/sbin/parent", []string{"parent"})
	if err != nil {
		return fmt.Errorf("boot parent: %w", err)
	}
	parent, err := k.Processes.Lookup(parentPID)
	if err != nil {
		return fmt.Errorf("lookup parent: %w", err)
	}

	var handlerRan atomic.Bool
	parent.Signals.SetDisposition(signal.SIGCHLD, signal.Disposition{
		Kind: signal.Handler,
		Handler: func(signal.Number) {
			handlerRan.Store(true)
		},
	})

	childPID, err := k.Processes.Create(parentPID, "/sbin/test", nil)
	if err != nil {
		return fmt.Errorf("create child: %w", err)
	}
	if err := k.Processes.Start(childPID, 0); err != nil {
		return fmt.Errorf("start child: %w", err)
	}
	child, err := k.Processes.Lookup(childPID)
	if err != nil {
		return fmt.Errorf("lookup child: %w", err)
	}
	childThread := child.Threads()[0]

	if _, err := k.Syscall(childPID, childThread, syscallabi.SelfExit, 42); err != nil {
		return fmt.Errorf("self_exit: %w", err)
	}

	k.CPU.Switch()
	k.CPU.Switch()

	if err := k.Processes.Delete(childPID); err != nil {
		return fmt.Errorf("delete child: %w", err)
	}
	if err := testkernel.DeliverSignals(parent, parent.Threads()[0]); err != nil {
		return fmt.Errorf("deliver signals: %w", err)
	}

	if !handlerRan.Load() {
		return fmt.Errorf("parent's SIGCHLD handler did not run")
	}
	status := child.ExitCode
	if !signal.WIfExited(status) || signal.WExitStatus(status) != 42 {
		return fmt.Errorf("child exit status = %#x, want WIFEXITED && WEXITSTATUS == 42", status)
	}

	klog.Debug("selftest: child exit propagated", "parent", parentPID, "child", childPID)
	return nil
}
