// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/bbnote/godap"
	"github.com/google/gousb"
	"github.com/juju/errors"
	"github.com/spf13/cobra"
)

func parseUint32(s string) (uint32, error) {
	v, err := strconv.ParseUint(s, 0, 32)
	if err != nil {
		return 0, errors.NotValidf("number %q", s)
	}

	return uint32(v), nil
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List connected probes with the selected vendor and product id.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		probes, err := godap.ListProbes([]gousb.ID{gousb.ID(flagVid)}, []gousb.ID{gousb.ID(flagPid)})
		if err != nil {
			return err
		}

		if len(probes) == 0 {
			logger.Warn("no probe found")
		}

		for _, p := range probes {
			fmt.Printf("%03d:%03d  %s:%s  %-20s %s\n", p.Bus, p.Address, p.Vid, p.Pid, p.Serial, p.Product)
		}

		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Print probe identification and capabilities.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := setUpSignalHandler()

		transport, err := openTransport()
		if err != nil {
			return err
		}

		if err := transport.Open(ctx); err != nil {
			return errors.Annotate(err, "open probe")
		}
		defer transport.Close()

		opts, err := probeOptions(cmd)
		if err != nil {
			return err
		}

		info, err := godap.NewCmsisDap(transport, opts...).ProbeInfo(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("vendor:       %s\n", info.Vendor)
		fmt.Printf("product:      %s\n", info.Product)
		fmt.Printf("serial:       %s\n", info.SerialNumber)
		fmt.Printf("firmware:     %s\n", info.FirmwareVersion)
		fmt.Printf("capabilities: %s\n", info.Capabilities)
		fmt.Printf("packets:      %d x %d bytes\n", info.PacketCount, info.PacketSize)

		return nil
	},
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Print the core type and its debug state.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			name, err := core.TargetName(ctx)
			if err != nil {
				return err
			}

			state, err := core.State(ctx)
			if err != nil {
				return err
			}

			fmt.Printf("%s: %s\n", name, state)
			return nil
		})
	},
}

var haltCmd = &cobra.Command{
	Use:   "halt",
	Short: "Halt the core.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			return core.Halt(ctx, true, timeout)
		})
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a halted core.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			return core.Resume(ctx, true, timeout)
		})
	},
}

var regCmd = &cobra.Command{
	Use:   "reg <name> [value]",
	Short: "Read or write a core register of the halted core.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		register, err := godap.ParseCoreRegister(args[0])
		if err != nil {
			return err
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			if len(args) == 2 {
				value, err := parseUint32(args[1])
				if err != nil {
					return err
				}

				return core.WriteCoreRegister(ctx, register, value)
			}

			value, err := core.ReadCoreRegister(ctx, register)
			if err != nil {
				return err
			}

			fmt.Printf("%s = 0x%08x\n", register, value)
			return nil
		})
	},
}

var memReadCmd = &cobra.Command{
	Use:   "read <address> [words]",
	Short: "Dump memory words.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint32(args[0])
		if err != nil {
			return err
		}

		count := uint32(1)
		if len(args) == 2 {
			if count, err = parseUint32(args[1]); err != nil {
				return err
			}
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			words, err := core.ReadBlock(ctx, address, int(count))
			if err != nil {
				return err
			}

			for i, w := range words {
				if i%4 == 0 {
					fmt.Printf("%08x:", address+uint32(i*4))
				}

				fmt.Printf(" %08x", w)

				if i%4 == 3 || i == len(words)-1 {
					fmt.Println()
				}
			}

			return nil
		})
	},
}

var memWriteCmd = &cobra.Command{
	Use:   "write <address> <word>...",
	Short: "Write memory words.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint32(args[0])
		if err != nil {
			return err
		}

		words := make([]uint32, 0, len(args)-1)

		for _, arg := range args[1:] {
			w, err := parseUint32(arg)
			if err != nil {
				return err
			}
			words = append(words, w)
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			return core.WriteBlock(ctx, address, words)
		})
	},
}

var memDumpCmd = &cobra.Command{
	Use:   "dump <address> <bytes> <file>",
	Short: "Save a memory range to a file.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint32(args[0])
		if err != nil {
			return err
		}

		size, err := parseUint32(args[1])
		if err != nil {
			return err
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			words, err := core.ReadBlock(ctx, address, int((size+3)/4))
			if err != nil {
				return err
			}

			return errors.Trace(ioutil.WriteFile(args[2], godap.WordsToBytes(words)[:size], 0644))
		})
	},
}

var memLoadCmd = &cobra.Command{
	Use:   "load <address> <file>",
	Short: "Write a file to memory, the last word is zero padded.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := parseUint32(args[0])
		if err != nil {
			return err
		}

		data, err := ioutil.ReadFile(args[1])
		if err != nil {
			return errors.Annotatef(err, "read %s", args[1])
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			return core.WriteBlock(ctx, address, godap.BytesToWords(data))
		})
	},
}

var memCmd = &cobra.Command{
	Use:   "mem",
	Short: "Access target memory.",
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset the target through the probe, or through AIRCR with --system.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		system, _ := cmd.Flags().GetBool("system")
		halt, _ := cmd.Flags().GetBool("halt")

		if !system && !halt {
			ctx := setUpSignalHandler()

			dap, err := newChannel(cmd)
			if err != nil {
				return err
			}

			if err := dap.Connect(ctx); err != nil {
				return err
			}
			defer dap.Disconnect(context.Background())

			sequence, err := dap.Reset(ctx)
			if err != nil {
				return err
			}

			logger.Infof("target reset (device specific sequence: %v)", sequence)
			return nil
		}

		return withCore(cmd, func(ctx context.Context, core *godap.CortexM) error {
			if halt {
				return core.ResetHalt(ctx)
			}
			return core.ResetRun(ctx)
		})
	},
}

var flashCmd = &cobra.Command{
	Use:   "flash <image>",
	Short: "Flash a binary or hex image through the DAPLink stream.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		image, err := ioutil.ReadFile(args[0])
		if err != nil {
			return errors.Annotatef(err, "read image %s", args[0])
		}

		ctx := setUpSignalHandler()

		dap, err := newChannel(cmd, godap.WithProgressCallback(func(progress float64) {
			fmt.Fprintf(os.Stderr, "\rflashing %3.0f%%", progress*100)
		}))
		if err != nil {
			return err
		}

		link := godap.NewDapLink(dap)

		if err := link.Connect(ctx); err != nil {
			return err
		}
		defer link.Disconnect(context.Background())

		err = link.Flash(ctx, image)
		fmt.Fprintln(os.Stderr)

		return err
	},
}

var baudCmd = &cobra.Command{
	Use:   "baud [rate]",
	Short: "Read or set the serial bridge baud rate.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := setUpSignalHandler()

		dap, err := newChannel(cmd)
		if err != nil {
			return err
		}

		link := godap.NewDapLink(dap)

		if err := link.Connect(ctx); err != nil {
			return err
		}
		defer link.Disconnect(context.Background())

		if len(args) == 1 {
			rate, err := parseUint32(args[0])
			if err != nil {
				return err
			}

			return link.SetSerialBaudrate(ctx, rate)
		}

		rate, err := link.GetSerialBaudrate(ctx)
		if err != nil {
			return err
		}

		fmt.Println(rate)
		return nil
	},
}

var serialCmd = &cobra.Command{
	Use:   "serial",
	Short: "Bridge stdin and stdout to the target UART until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := setUpSignalHandler()

		dap, err := newChannel(cmd)
		if err != nil {
			return err
		}

		link := godap.NewDapLink(dap)

		if err := link.Connect(ctx); err != nil {
			return err
		}
		defer link.Disconnect(context.Background())

		if rate, _ := cmd.Flags().GetUint32("baud"); rate != 0 {
			if err := link.SetSerialBaudrate(ctx, rate); err != nil {
				return err
			}
		}

		link.StartSerialRead(ctx, func(data string) {
			fmt.Print(data)
		})
		defer link.StopSerialRead()

		lines := make(chan string)

		go func() {
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				lines <- scanner.Text() + "\n"
			}
		}()

		for {
			select {
			case <-ctx.Done():
				return nil
			case line := <-lines:
				if err := link.SerialWrite(ctx, line); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	haltCmd.Flags().Duration("timeout", 0, "give up waiting after this long, 0 waits forever")
	resumeCmd.Flags().Duration("timeout", 0, "give up waiting after this long, 0 waits forever")
	resetCmd.Flags().Bool("system", false, "reset through AIRCR SYSRESETREQ and let the core run")
	resetCmd.Flags().Bool("halt", false, "reset through AIRCR SYSRESETREQ and halt on the reset vector")
	serialCmd.Flags().Uint32("baud", 0, "set the baud rate before bridging")

	memCmd.AddCommand(memReadCmd, memWriteCmd, memDumpCmd, memLoadCmd)

	rootCmd.AddCommand(listCmd, infoCmd, stateCmd, haltCmd, resumeCmd, regCmd, memCmd, resetCmd, flashCmd, baudCmd, serialCmd)
}
