// Command ctcpd demonstrates the cTCP engine end to end over a UDP
// datagram socket, reading local application bytes from stdin and writing
// delivered bytes to stdout. It is pure collaborator wiring: no protocol
// logic lives here, only socket I/O, CLI parsing, and the goroutine/ticker
// plumbing the single-threaded engine needs to be driven from.
package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/soypat/ctcp"
)

// stdioSink adapts os.Stdout to ctcp.Sink. Free reports a large constant
// since a terminal or pipe has no meaningful backpressure signal visible
// to this process.
type stdioSink struct {
	w *bufio.Writer
}

func (s *stdioSink) Write(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, s.w.Flush() // zero-length write signals peer EOF; flush and stop.
	}
	n, err := s.w.Write(buf)
	if err == nil {
		err = s.w.Flush()
	}
	return n, err
}

func (s *stdioSink) Free() int { return 1 << 20 }

// stdioSource adapts os.Stdin to ctcp.Source.
type stdioSource struct {
	r *bufio.Reader
}

func (s *stdioSource) Read(buf []byte) (int, error) {
	n, err := s.r.Read(buf)
	return n, err
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		listenAddr string
		peerAddr   string
		verbose    bool
	)
	cmd := &cobra.Command{
		Use:   "ctcpd",
		Short: "Run a cTCP endpoint over UDP, bridging stdin/stdout.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(listenAddr, peerAddr, verbose)
		},
	}
	flags := pflag.NewFlagSet("ctcpd", pflag.ContinueOnError)
	flags.StringVar(&listenAddr, "listen", ":9494", "local UDP address to bind")
	flags.StringVar(&peerAddr, "peer", "", "peer UDP address to connect to (required)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	cmd.Flags().AddFlagSet(flags)
	cmd.MarkFlagRequired("peer")
	return cmd
}

func run(listenAddr, peerAddr string, verbose bool) error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	transport, err := dialUDP(listenAddr, peerAddr)
	if err != nil {
		return fmt.Errorf("dial udp: %w", err)
	}
	defer transport.Close()

	engine := ctcp.NewEngine(logger)
	metrics := ctcp.NewMetrics("ctcpd", engine)

	id := xid.New().String()
	conn := ctcp.NewConnection(id, 0, 0, ctcp.DefaultConfig(), transport,
		&stdioSource{r: bufio.NewReader(os.Stdin)},
		&stdioSink{w: bufio.NewWriter(os.Stdout)},
		ctcp.SystemClock{}, logger)
	conn.SetMetrics(metrics)
	engine.Register(conn)

	var mu sync.Mutex

	readErrs := make(chan error, 1)
	go func() {
		buf := make([]byte, 2048)
		for {
			n, _, err := transport.conn.ReadFromUDP(buf)
			if err != nil {
				readErrs <- err
				return
			}
			mu.Lock()
			err = conn.OnReceive(buf[:n])
			mu.Unlock()
			if err != nil {
				logger.Error("on receive", slog.String("err", err.Error()))
			}
		}
	}()

	stdinTick := make(chan struct{}, 1)
	go func() {
		for {
			stdinTick <- struct{}{}
			time.Sleep(10 * time.Millisecond)
		}
	}()

	ticker := time.NewTicker(40 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-readErrs:
			return fmt.Errorf("udp read: %w", err)
		case <-stdinTick:
			mu.Lock()
			err := conn.OnRead()
			mu.Unlock()
			if err != nil {
				logger.Error("on read", slog.String("err", err.Error()))
			}
		case now := <-ticker.C:
			mu.Lock()
			err := engine.Tick(now)
			closed := conn.State().IsClosed()
			mu.Unlock()
			if err != nil {
				logger.Error("tick", slog.String("err", err.Error()))
			}
			if closed {
				return nil
			}
		}
	}
}
