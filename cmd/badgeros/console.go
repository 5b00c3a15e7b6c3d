package badgeros

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"badgeros/internal/testkernel"
	"badgeros/kernel/kconfig"
	"badgeros/kernel/klog"
	"badgeros/kernel/process"
	"badgeros/kernel/syscallabi"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Boot a kernel and attach an interactive console to PID 1",
	Long: `console assembles a kernel instance the same way boot does, then
puts the controlling terminal in raw mode and relays each line typed as
a TEMP_WRITE syscall issued on behalf of PID 1 until the process
requests a shutdown or the console is closed. This stands in for the
serial console a real board's init process would read commands from.`,
	RunE: runConsole,
}

func init() {
	rootCmd.AddCommand(consoleCmd)
}

func runConsole(cmd *cobra.Command, args []string) error {
	cfg := kconfig.New(kconfig.WithPool(1<<20, 4096))
	k, err := testkernel.Boot(cfg)
	if err != nil {
		return fmt.Errorf("boot: %w", err)
	}
	defer k.Shutdown()

	if err := k.Root.WriteFile("/etc/motd", []byte("badgeros console\n"), 0o644); err != nil {
		return fmt.Errorf("seed motd: %w", err)
	}

	pid, err := k.BootInit("/sbin/init", []string{"init"})
	if err != nil {
		return fmt.Errorf("boot init: %w", err)
	}
	proc, err := k.Processes.Lookup(pid)
	if err != nil {
		return fmt.Errorf("lookup init: %w", err)
	}
	th := proc.Threads()[0]

	base, err := k.Processes.Map(pid, 4096, true, false)
	if err != nil {
		return fmt.Errorf("map console buffer: %w", err)
	}

	fd := int(os.Stdin.Fd())
	isTTY := term.IsTerminal(fd)
	var oldState *term.State
	if isTTY {
		oldState, err = term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("raw mode: %w", err)
		}
		defer term.Restore(fd, oldState)
	}

	klog.Info("console attached", "pid", pid, "raw_mode", isTTY)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n")
		if line == "" {
			continue
		}
		if line == "exit" {
			break
		}

		k.Processes.CopyToUser(pid, base, []byte(line))
		if _, err := k.Syscall(pid, th, syscallabi.TempWrite, uint64(base), uint64(len(line))); err != nil {
			return fmt.Errorf("temp_write: %w", err)
		}

		if mode := process.ShutdownMode.Load(); mode != process.ShutdownNone {
			fmt.Fprintln(os.Stdout, "\r\nshutdown requested, closing console")
			break
		}
	}
	return nil
}
