// Command kernel boots the simulated RV64/Sv39 kernel and runs its
// scheduler to quiescence.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/sv39edu/sv39kernel/internal/kernel"
	"github.com/sv39edu/sv39kernel/internal/klog"
)

var (
	flagImage    string
	flagLogLevel string
	flagMemPages int
	flagInit     string
)

func bindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flagImage, "image", "", "path to an existing easy-fs disk image (default: fresh in-memory image)")
	fs.StringVar(&flagLogLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	fs.IntVar(&flagMemPages, "mem-pages", 0, "simulated physical memory size in pages (default: kernelcfg.MemoryEndPages)")
	fs.StringVar(&flagInit, "init", "initproc", "name of the registered program to run as pid 1")
}

func main() {
	root := &cobra.Command{
		Use:   "kernel",
		Short: "Run the simulated RV64/Sv39 educational kernel",
		RunE:  runKernel,
	}
	bindFlags(root.Flags())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runKernel(cmd *cobra.Command, args []string) error {
	if err := klog.SetLevel(flagLogLevel); err != nil {
		return fmt.Errorf("--log-level: %w", err)
	}

	k, err := kernel.Boot(kernel.Config{
		MemPages:  flagMemPages,
		ImagePath: flagImage,
	}, os.Stdout)
	if err != nil {
		return err
	}

	if err := k.RegisterProgram(flagInit, kernel.ShellLoop); err != nil {
		return err
	}
	if err := k.SpawnInit(flagInit); err != nil {
		return err
	}

	k.Run()
	return nil
}
