// klipper-transform runs G-code through the printer host's move transform
// chain (firmware retraction, object exclusion) and the toolhead.
//
// Usage:
//
//	klipper-transform --config printer.cfg run print.gcode [--output yaml]
//	klipper-transform --config printer.cfg status [print.gcode]
//	klipper-transform --config printer.cfg serve [--addr :7125] [--socket /tmp/klippy_uds]
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"klipper-go-transform/pkg/config"
	"klipper-go-transform/pkg/extras"
	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/webhooks"
)

var version = "dev"

type options struct {
	configPath string
	logLevel   string
	logFile    string
	logFormat  string

	logWriter io.Closer
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "klipper-transform",
		Short:         "Klipper host move transforms: firmware retraction with z-hop",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.setupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = log.GetLogger("").Sync()
			if opts.logWriter != nil {
				_ = opts.logWriter.Close()
			}
		},
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "printer.cfg", "Printer configuration file")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&opts.logFile, "log-file", "", "Write logs to a rotating file instead of stderr")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newStatusCmd(opts))
	root.AddCommand(newServeCmd(opts))
	return root
}

func (o *options) setupLogging(stderr io.Writer) error {
	var logger *log.Logger
	if o.logFile != "" {
		l, w, err := log.NewFileLogger("klipper", log.RotationConfig{
			Filename: o.logFile,
			Compress: true,
		})
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		logger, o.logWriter = l, w
	} else {
		logger = log.New("klipper")
		logger.SetWriter(stderr)
	}
	switch o.logFormat {
	case "json":
		logger.SetFormat(log.FormatJSON)
	case "text":
		logger.SetFormat(log.FormatText)
	default:
		return fmt.Errorf("unknown log format %q", o.logFormat)
	}
	logger.SetLevel(log.ParseLevel(o.logLevel))
	log.ConfigureFromEnv(logger)
	log.SetDefaultLogger(logger)
	return nil
}

// loadPrinter reads the config and brings a printer to the ready state.
func (o *options) loadPrinter() (*printer.Printer, *extras.Objects, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	p := printer.New(cfg)
	objs, err := extras.Load(p)
	if err != nil {
		return nil, nil, err
	}
	return p, objs, nil
}

func main() {
	webhooks.SoftwareVersion = "klipper-go-transform-" + version
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
