// Copyright 2020 Sebastian Lehmann. All rights reserved.
// Use of this source code is governed by a GNU-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/bbnote/godap"
	"github.com/google/gousb"
	"github.com/juju/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

var (
	logger *logrus.Logger

	flagConfig    string
	flagTransport string
	flagVid       uint16
	flagPid       uint16
	flagSerial    string
	flagClock     uint32
	flagMode      string
	flagLogLevel  int
	flagWaitRetry int
)

var rootCmd = &cobra.Command{
	Use:   "dapctl",
	Short: "dapctl controls Cortex-M targets through CMSIS-DAP probes.",
	Long: `dapctl controls Cortex-M targets through CMSIS-DAP probes. It halts, ` +
		`resumes and inspects cores, accesses memory and registers and flashes ` +
		`images through the DAPLink drag and drop stream.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if flagLogLevel < 0 || flagLogLevel > int(godap.MaxLogLevel) {
			flagLogLevel = int(godap.MaxLogLevel)
		}

		logger.SetLevel(logrus.Level(flagLogLevel))
	},
}

func initLogger() {
	formatter := &prefixed.TextFormatter{
		DisableColors:   false,
		TimestampFormat: "15:04:05",
		FullTimestamp:   true,
		ForceFormatting: true,
	}

	logger = logrus.New()

	logger.SetFormatter(formatter)
	logger.SetOutput(os.Stderr)
}

func addProbeFlags(flags *pflag.FlagSet) {
	flags.StringVarP(&flagConfig, "config", "c", "", "YAML probe profile")
	flags.StringVarP(&flagTransport, "transport", "t", "usb", "probe transport [usb, hid]")
	flags.Uint16Var(&flagVid, "vid", uint16(godap.DapLinkVid), "probe vendor id")
	flags.Uint16Var(&flagPid, "pid", uint16(godap.DapLinkPid), "probe product id")
	flags.StringVarP(&flagSerial, "serial", "s", "", "probe serial number (usb) or device path (hid)")
	flags.Uint32Var(&flagClock, "clock", godap.DefaultClockFrequency, "SWJ clock in Hz")
	flags.StringVarP(&flagMode, "mode", "m", "default", "debug port mode [default, swd, jtag]")
	flags.IntVar(&flagWaitRetry, "wait-retries", 0, "software retries on WAIT acknowledges")
	flags.IntVarP(&flagLogLevel, "log-level", "l", int(logrus.InfoLevel), "logging verbosity [0 - 6]")
}

// setUpSignalHandler returns a context which ends on SIGINT or SIGTERM
func setUpSignalHandler() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan os.Signal, 1)

	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signals
		logger.Debug("received signal, stopping")
		cancel()
	}()

	return ctx
}

// probeOptions merges the profile file with the flags set on the command line
func probeOptions(cmd *cobra.Command) ([]godap.Option, error) {
	cfg := godap.DefaultConfig()

	if flagConfig != "" {
		var err error

		if cfg, err = godap.LoadConfig(flagConfig); err != nil {
			return nil, err
		}
	}

	flags := cmd.Flags()

	if flags.Changed("clock") || flagConfig == "" {
		cfg.ClockFrequency = flagClock
	}

	if flags.Changed("mode") {
		mode, err := godap.ParseConnectMode(flagMode)
		if err != nil {
			return nil, err
		}
		cfg.Mode = mode
	}

	if flags.Changed("wait-retries") {
		cfg.WaitRetries = flagWaitRetry
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return []godap.Option{godap.WithConfig(cfg)}, nil
}

func openTransport() (godap.Transport, error) {
	switch strings.ToLower(flagTransport) {
	case "usb":
		return godap.NewUsbTransport([]gousb.ID{gousb.ID(flagVid)}, []gousb.ID{gousb.ID(flagPid)}, flagSerial), nil
	case "hid":
		return godap.NewHidTransport(flagVid, flagPid, flagSerial), nil
	default:
		return nil, errors.NotValidf("transport %q", flagTransport)
	}
}

func newChannel(cmd *cobra.Command, extra ...godap.Option) (*godap.CmsisDap, error) {
	opts, err := probeOptions(cmd)
	if err != nil {
		return nil, err
	}

	transport, err := openTransport()
	if err != nil {
		return nil, err
	}

	return godap.NewCmsisDap(transport, append(opts, extra...)...), nil
}

// withCore connects to the target core, runs fn and disconnects again
func withCore(cmd *cobra.Command, fn func(ctx context.Context, core *godap.CortexM) error) error {
	ctx := setUpSignalHandler()

	dap, err := newChannel(cmd)
	if err != nil {
		return err
	}

	core := godap.NewCortexM(godap.NewAdi(dap))

	if err := core.Connect(ctx); err != nil {
		return errors.Annotate(err, "connect")
	}

	defer func() {
		if err := core.Disconnect(context.Background()); err != nil {
			logger.Warnf("disconnect: %v", err)
		}
	}()

	return fn(ctx, core)
}

func main() {
	initLogger()
	godap.SetLogger(logger)

	addProbeFlags(rootCmd.PersistentFlags())

	if err := rootCmd.Execute(); err != nil {
		logger.Error(errors.ErrorStack(err))
		os.Exit(1)
	}
}
