// Package main provides the CLI entry point for the anchor UDP sample streamer.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/postalsys/anchor/internal/anchor"
	"github.com/postalsys/anchor/internal/command"
	"github.com/postalsys/anchor/internal/config"
	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/service"
	"github.com/postalsys/anchor/internal/sysinfo"
	"github.com/postalsys/anchor/internal/udp"
	"github.com/postalsys/anchor/internal/wizard"
)

var (
	logLevel  string
	logFormat string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "anchor",
		Short: "anchor - UDP sample streamer",
		Long: `anchor streams fixed-size sample buffers to hosts over UDP.

Each buffer is split into datagrams of at most 65507 bytes and followed by
an empty datagram that marks the end of the stream. Hosts start and stop
streaming over a small TCP command channel.`,
		Version:       sysinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level for one-shot commands (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "Log format for one-shot commands (text, json)")

	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(sendCmd())
	rootCmd.AddCommand(recvCmd())
	rootCmd.AddCommand(ctlCmd())
	rootCmd.AddCommand(serviceCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a configuration file interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !term.IsTerminal(int(os.Stdin.Fd())) {
				return errors.New("init needs an interactive terminal; write the config by hand or run from a TTY")
			}

			if _, err := wizard.New().Run(); err != nil {
				return fmt.Errorf("setup wizard: %w", err)
			}
			return nil
		},
	}
}

func runCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the streaming daemon",
		Long:  "Start the streaming daemon with the specified configuration.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger := logging.NewLogger(cfg.Agent.LogLevel, cfg.Agent.LogFormat)

			a, err := anchor.New(cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to create agent: %w", err)
			}

			if err := a.Start(); err != nil {
				a.Close()
				return fmt.Errorf("failed to start agent: %w", err)
			}

			fmt.Printf("Data socket: %s\n", a.Stats().LocalAddr)
			if ips := sysinfo.LocalIPv4s(); len(ips) > 0 {
				fmt.Printf("Host addresses: %s\n", strings.Join(ips, ", "))
			}
			fmt.Printf("Buffer size: %s (%d samples x %d channels)\n",
				humanize.IBytes(uint64(cfg.Source.BufferBytes())), cfg.Source.BufferLength, cfg.Source.Channels)
			if addr := a.CommandAddress(); addr != "" {
				fmt.Printf("Command channel: %s (data port offset %+d)\n", addr, cfg.Command.PortOffset)
			}

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

			var runErr error
			select {
			case sig := <-sigCh:
				fmt.Printf("\nReceived signal %v, shutting down...\n", sig)
			case runErr = <-a.Done():
				fmt.Printf("Streamer stopped: %v\n", runErr)
			}

			if err := a.Stop(); err != nil {
				fmt.Printf("Shutdown error: %v\n", err)
				return err
			}

			st := a.Stats()
			fmt.Printf("Stopped after %d buffers (%s), %d send errors.\n",
				st.BuffersSent, humanize.IBytes(st.BytesSent), st.SendErrors)
			return runErr
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "./anchor.yaml", "Path to configuration file")

	return cmd
}

func sendCmd() *cobra.Command {
	var (
		to        string
		bind      string
		rateLimit string
		chunkSize int
		batchSize int
	)

	cmd := &cobra.Command{
		Use:   "send <file>",
		Short: "Send a file as a single stream",
		Long: `Send the contents of a file to a host as one stream: data datagrams
followed by the empty end-of-stream datagram. Use "-" to read standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateChunkSize(chunkSize); err != nil {
				return err
			}

			payload, err := readInput(args[0])
			if err != nil {
				return err
			}

			dst, err := udp.ParseEndpoint(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}
			local, err := udp.ParseEndpoint(bind)
			if err != nil {
				return fmt.Errorf("--bind: %w", err)
			}

			cfg := udp.DefaultConfig()
			cfg.MaxChunkSize = chunkSize
			cfg.BatchSize = batchSize
			if rateLimit != "" {
				bps, err := config.ParseSize(rateLimit)
				if err != nil {
					return fmt.Errorf("--rate: %w", err)
				}
				cfg.BytesPerSecond = bps
			}

			sock, err := udp.OpenAddrPort(local, cfg, logging.NewLogger(logLevel, logFormat))
			if err != nil {
				return err
			}
			defer sock.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			start := time.Now()
			n, err := sock.SendStreamTo(ctx, payload, dst)
			if err != nil {
				return fmt.Errorf("sent %s of %s: %w",
					humanize.IBytes(uint64(n)), humanize.IBytes(uint64(len(payload))), err)
			}

			elapsed := time.Since(start)
			fmt.Printf("Sent %s in %d datagrams + terminator to %s (%s, %s/s)\n",
				humanize.IBytes(uint64(n)),
				udp.ChunkCount(len(payload), chunkSize),
				dst, elapsed.Round(time.Millisecond), throughput(n, elapsed))
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Destination IPv4 address:port")
	cmd.Flags().StringVar(&bind, "bind", "0.0.0.0:0", "Local IPv4 address:port to send from")
	cmd.Flags().StringVar(&rateLimit, "rate", "", "Pace sending to this many bytes per second (e.g. 10MB)")
	cmd.Flags().IntVar(&chunkSize, "chunk-size", udp.MaxChunkSize, "Payload bytes per datagram")
	cmd.Flags().IntVar(&batchSize, "batch", 1, "Datagrams per send syscall")
	cmd.MarkFlagRequired("to")

	return cmd
}

// validateChunkSize rejects --chunk-size values the socket would otherwise
// clamp, so the datagram count reported after a send is exact.
func validateChunkSize(n int) error {
	if n < 1 || n > udp.MaxChunkSize {
		return fmt.Errorf("--chunk-size must be between 1 and %d, got %d", udp.MaxChunkSize, n)
	}
	return nil
}

func recvCmd() *cobra.Command {
	var (
		listen  string
		output  string
		maxSize string
		idle    time.Duration
	)

	cmd := &cobra.Command{
		Use:   "recv",
		Short: "Receive a single stream",
		Long: `Bind a UDP socket, reassemble one stream and write it out. The stream
ends at the first empty datagram from its sender.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			local, err := udp.ParseEndpoint(listen)
			if err != nil {
				return fmt.Errorf("--listen: %w", err)
			}

			limit := int64(0)
			if maxSize != "" {
				if limit, err = config.ParseSize(maxSize); err != nil {
					return fmt.Errorf("--max-size: %w", err)
				}
			}

			cfg := udp.DefaultConfig()
			cfg.IdleTimeout = idle

			sock, err := udp.OpenAddrPort(local, cfg, logging.NewLogger(logLevel, logFormat))
			if err != nil {
				return err
			}
			defer sock.Close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fmt.Fprintf(os.Stderr, "Listening on %s\n", sock.LocalAddr())

			start := time.Now()
			st, err := sock.ReceiveStream(ctx, int(limit))
			if err != nil {
				return err
			}
			elapsed := time.Since(start)

			if err := writeOutput(output, st.Data); err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Received %s in %d datagrams from %s (%s, %s/s)\n",
				humanize.IBytes(uint64(len(st.Data))), st.Chunks, st.From,
				elapsed.Round(time.Millisecond), throughput(len(st.Data), elapsed))
			if st.Dropped > 0 {
				fmt.Fprintf(os.Stderr, "Dropped %d datagrams from other senders\n", st.Dropped)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "0.0.0.0:3206", "Local IPv4 address:port to receive on")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "Output file, - for standard output")
	cmd.Flags().StringVar(&maxSize, "max-size", "", "Reject streams larger than this (e.g. 1GiB)")
	cmd.Flags().DurationVar(&idle, "idle-timeout", 5*time.Second, "Give up when a started stream goes quiet this long")

	return cmd
}

func ctlCmd() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ctl <command>",
		Short: "Send a command to a running daemon",
		Long: `Send one command over the command channel and print the reply.

Commands: ping, blen, rate, data, stop, halt, boot, or a buffer count (0-9999).
Streams go to this connection's source port plus the daemon's port offset,
so "data" and counts are only useful from a long-lived client.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			word := strings.ToLower(args[0])
			if n, err := parseCount(word); err == nil {
				word = n
			}

			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c, err := command.Dial(ctx, addr)
			if err != nil {
				return err
			}
			defer c.Close()
			c.SetTimeout(timeout)

			reply, err := c.Do(word)
			if err != nil {
				return err
			}
			if command.ExpectsReply(word) {
				fmt.Println(reply)
			}
			if reply == command.ReplyDeny || reply == command.ReplyFail {
				return fmt.Errorf("daemon refused %s: %s", word, reply)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:2206", "Daemon command address")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "Connect and reply timeout")

	return cmd
}

func serviceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage the systemd unit",
	}

	var (
		configPath string
		user       string
		group      string
	)

	install := &cobra.Command{
		Use:   "install",
		Short: "Install, enable and start the daemon as a systemd unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			svc := service.DefaultConfig(configPath)
			svc.User = user
			svc.Group = group
			// Power helpers need privileges the sandbox takes away.
			svc.Hardened = !(cfg.Command.Enabled && cfg.Command.AllowPower)

			return service.Install(svc)
		},
	}
	install.Flags().StringVarP(&configPath, "config", "c", "./anchor.yaml", "Path to configuration file")
	install.Flags().StringVar(&user, "user", "", "Run the daemon as this user")
	install.Flags().StringVar(&group, "group", "", "Run the daemon as this group")

	uninstall := &cobra.Command{
		Use:   "uninstall",
		Short: "Stop and remove the systemd unit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return service.Uninstall("anchor")
		},
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the systemd unit state",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !service.IsInstalled("anchor") {
				fmt.Println("not installed")
				return nil
			}
			st, err := service.Status("anchor")
			if err != nil {
				return err
			}
			fmt.Println(st)
			return nil
		},
	}

	cmd.AddCommand(install, uninstall, status)
	return cmd
}

// parseCount accepts a short decimal count and pads it to a command.
func parseCount(s string) (string, error) {
	if s == "" || strings.TrimLeft(s, "0123456789") != "" {
		return "", fmt.Errorf("not a count: %q", s)
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return "", err
	}
	return command.FormatCount(n)
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(os.Stdin)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

func writeOutput(path string, data []byte) error {
	if path == "-" {
		_, err := os.Stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func throughput(n int, d time.Duration) string {
	if d <= 0 {
		return humanize.Bytes(uint64(n))
	}
	return humanize.Bytes(uint64(float64(n) / d.Seconds()))
}
