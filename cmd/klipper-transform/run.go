package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"klipper-go-transform/pkg/printer"
	"klipper-go-transform/pkg/toolhead"
)

func newRunCmd(opts *options) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "run <file.gcode>",
		Short: "Execute a G-code file and print the moves that reached the toolhead",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if output != "text" && output != "yaml" {
				return fmt.Errorf("unknown output %q", output)
			}
			p, objs, err := opts.loadPrinter()
			if err != nil {
				return err
			}
			if err := runFile(cmd.Context(), p, args[0], cmd.ErrOrStderr()); err != nil {
				return err
			}
			return writeMoves(cmd.OutOrStdout(), objs.Toolhead.Moves(), output)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format (text, yaml)")
	return cmd
}

// runFile executes a G-code file. Responses go to respond.
func runFile(ctx context.Context, p *printer.Printer, path string, respond io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	p.GCode().SetOutput(func(msg string) { fmt.Fprintln(respond, msg) })
	if ctx == nil {
		ctx = context.Background()
	}
	if err := p.RunScript(ctx, string(data)); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

func writeMoves(w io.Writer, moves []toolhead.MoveRecord, output string) error {
	if output == "yaml" {
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(map[string]any{"moves": moves}); err != nil {
			return err
		}
		return enc.Close()
	}
	for _, m := range moves {
		if _, err := fmt.Fprintln(w, m); err != nil {
			return err
		}
	}
	return nil
}

func newStatusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status [file.gcode]",
		Short: "Print the status of every printer object as YAML, optionally after running a file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, _, err := opts.loadPrinter()
			if err != nil {
				return err
			}
			if len(args) == 1 {
				if err := runFile(cmd.Context(), p, args[0], cmd.ErrOrStderr()); err != nil {
					return err
				}
			}
			return writeStatus(cmd.OutOrStdout(), p)
		},
	}
}

func writeStatus(w io.Writer, p *printer.Printer) error {
	names := p.StatusObjects()
	sort.Strings(names)
	doc := make(map[string]any, len(names))
	for _, name := range names {
		st, _ := p.Status(name)
		doc[name] = st
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return err
	}
	return enc.Close()
}
