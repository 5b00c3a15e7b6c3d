package badgeros

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"badgeros/internal/testkernel"
	"badgeros/kernel/kconfig"
	"badgeros/kernel/klog"
	"badgeros/kernel/process"
)

var (
	bootPoolSize uint64
	bootMotd     string
)

var bootCmd = &cobra.Command{
	Use:   "boot",
	Short: "Assemble a kernel instance and run it through the init program to shutdown",
	Long: `boot runs the full boot contract against an in-process kernel: it
assembles the physical allocator, scheduler, and root filesystem, starts
PID 1 from the built-in init program, then enters the scheduler loop
until the init program requests a shutdown.`,
	RunE: runBoot,
}

func init() {
	bootCmd.Flags().Uint64Var(&bootPoolSize, "pool-size", 1<<20, "physical pool size in bytes")
	bootCmd.Flags().StringVar(&bootMotd, "motd", "welcome to badgeros", "contents of /etc/motd")
	rootCmd.AddCommand(bootCmd)
}

func runBoot(cmd *cobra.Command, args []string) error {
	cfg := kconfig.New(kconfig.WithPool(uintptr(bootPoolSize), 4096))

	k, err := testkernel.Boot(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	if err := k.Root.WriteFile("/etc/motd", []byte(bootMotd), 0o644); err != nil {
		return fmt.Errorf("seed motd: %w", err)
	}

	klog.Info("booting badgeros", "pool_size", bootPoolSize)

	pid, err := testkernel.RunInitProgram(k, "/etc/motd")
	if err != nil {
		return fmt.Errorf("run init: %w", err)
	}
	klog.Info("init program ran", "pid", pid)

	return runSchedulerLoop(k)
}

// runSchedulerLoop implements the "enters the scheduler" tail of the boot
// contract: it ticks the scheduler until the shutdown_mode global goes
// non-zero, then reports which kind of shutdown was requested.
func runSchedulerLoop(k *testkernel.Kernel) error {
	for i := 0; i < 10000; i++ {
		now := time.Now()
		if _, err := k.Tick(now); err != nil {
			return fmt.Errorf("tick: %w", err)
		}
		if mode := process.ShutdownMode.Load(); mode != process.ShutdownNone {
			switch mode {
			case process.ShutdownReboot:
				klog.Info("shutdown requested: reboot")
			default:
				klog.Info("shutdown requested: power off")
			}
			return nil
		}
	}
	return fmt.Errorf("scheduler loop did not observe a shutdown request")
}
