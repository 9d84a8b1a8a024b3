package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"klipper-go-transform/pkg/log"
	"klipper-go-transform/pkg/webhooks"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd(opts *options) *cobra.Command {
	var (
		addr    string
		socket  string
		noStdin bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the printer API and execute G-code read from stdin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var stdin io.Reader
			if !noStdin {
				stdin = cmd.InOrStdin()
			}
			return serve(cmd.Context(), opts, addr, socket, stdin, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":7125", "HTTP listen address")
	cmd.Flags().StringVar(&socket, "socket", "", "Unix socket path for the API (disabled when empty)")
	cmd.Flags().BoolVar(&noStdin, "no-stdin", false, "Do not read G-code from stdin")
	return cmd
}

func serve(ctx context.Context, opts *options, addr, socket string, stdin io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	logger := log.GetLogger("serve")
	p, _, err := opts.loadPrinter()
	if err != nil {
		return err
	}
	s := webhooks.New(p)
	p.GCode().SetOutput(func(msg string) {
		fmt.Fprintln(out, msg)
		s.RespondGCode(msg)
	})
	p.Start()
	defer p.Stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- s.ListenAndServe(addr) }()
	if socket != "" {
		if err := s.ListenUnix(socket); err != nil {
			shutdown(s)
			return err
		}
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, unix.SIGINT, unix.SIGTERM)
	defer signal.Stop(sigs)

	var lines <-chan string
	if stdin != nil {
		lines = readLines(ctx, stdin)
	}
	for {
		select {
		case sig := <-sigs:
			logger.WithField("signal", sig.String()).Info("shutting down")
			shutdown(s)
			return <-serveErr
		case err := <-serveErr:
			shutdown(s)
			return err
		case <-ctx.Done():
			shutdown(s)
			return <-serveErr
		case line, ok := <-lines:
			if !ok {
				// keep serving the API after stdin closes
				lines = nil
				continue
			}
			if err := p.RunScript(ctx, line); err != nil {
				fmt.Fprintf(out, "!! %s\n", err)
			}
		}
	}
}

func shutdown(s *webhooks.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.GetLogger("serve").WithError(err).Warn("shutdown")
	}
}

// readLines feeds r line by line until EOF or until ctx is done. A read
// already blocked in r is only released by r itself closing.
func readLines(ctx context.Context, r io.Reader) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case ch <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
