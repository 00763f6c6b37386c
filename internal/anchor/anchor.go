// Package anchor runs the streaming daemon: a UDP data socket fed from a
// sample source, steered by the TCP command channel, with optional health
// endpoints.
package anchor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/postalsys/anchor/internal/command"
	"github.com/postalsys/anchor/internal/config"
	"github.com/postalsys/anchor/internal/health"
	"github.com/postalsys/anchor/internal/logging"
	"github.com/postalsys/anchor/internal/metrics"
	"github.com/postalsys/anchor/internal/recovery"
	"github.com/postalsys/anchor/internal/source"
	"github.com/postalsys/anchor/internal/sysinfo"
	"github.com/postalsys/anchor/internal/udp"
)

// Agent wires the daemon components together.
type Agent struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	sock     *udp.Socket
	src      source.Source
	streamer *Streamer
	commands *command.Server
	health   *health.Server

	running atomic.Bool
	cancel  context.CancelFunc
	done    chan error
	wg      sync.WaitGroup
}

// SocketConfig converts the data section into socket options.
func SocketConfig(d config.DataConfig) udp.Config {
	return udp.Config{
		MaxChunkSize:   d.MaxChunkSize,
		ReuseAddr:      d.ReuseAddr,
		BytesPerSecond: int64(d.RateLimit),
		BatchSize:      d.BatchSize,
		WriteTimeout:   d.WriteTimeout,
		TTL:            d.TTL,
		TOS:            d.TOS,
	}
}

// New creates an agent from cfg. The data socket is bound and the source
// opened; nothing is served until Start.
func New(cfg *config.Config, logger *slog.Logger) (*Agent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.NopLogger()
	}

	a := &Agent{
		cfg:     cfg,
		logger:  logging.Component(logger, "agent"),
		metrics: metrics.Default(),
		done:    make(chan error, 1),
	}

	src, err := source.New(cfg.Source)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}
	a.src = src

	sock, err := udp.Open(cfg.Data.Address, uint16(cfg.Data.Port), SocketConfig(cfg.Data), logger)
	if err != nil {
		src.Close()
		return nil, err
	}
	sock.SetMetrics(a.metrics)
	a.sock = sock

	a.streamer = NewStreamer(sock, src, logger)
	a.streamer.SetMetrics(a.metrics)

	if cfg.Command.Enabled {
		a.commands = command.NewServer(command.ServerConfig{
			Address:     cfg.Command.Address,
			PortOffset:  cfg.Command.PortOffset,
			ReadTimeout: cfg.Command.ReadTimeout,
			AllowPower:  cfg.Command.AllowPower,
		}, a.streamer, a.streamer, logger)
		a.commands.SetMetrics(a.metrics)
		a.commands.SetPower(&command.ExecPower{
			PoweroffCmd: cfg.Command.PoweroffCmd,
			RebootCmd:   cfg.Command.RebootCmd,
			Timeout:     30 * time.Second,
		})
	}

	if cfg.Health.Enabled {
		a.health = health.NewServer(health.ServerConfig{
			Address:      cfg.Health.Address,
			ReadTimeout:  cfg.Health.ReadTimeout,
			WriteTimeout: cfg.Health.WriteTimeout,
		}, a)
	}

	return a, nil
}

// Start starts the streamer and the listeners.
func (a *Agent) Start() error {
	if a.running.Load() {
		return fmt.Errorf("agent already running")
	}

	if a.health != nil {
		if err := a.health.Start(); err != nil {
			return fmt.Errorf("start health server: %w", err)
		}
		a.logger.Info("health server listening", logging.KeyAddress, a.health.Address().String())
	}

	if a.commands != nil {
		if err := a.commands.Start(); err != nil {
			if a.health != nil {
				a.health.Stop()
			}
			return fmt.Errorf("start command server: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.cancel = cancel
	a.running.Store(true)

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer recovery.RecoverWithCallback(a.logger, "streamer", func(r interface{}) {
			a.done <- fmt.Errorf("streamer panic: %v", r)
		})

		err := a.streamer.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		if err != nil {
			a.logger.Error("streamer stopped", logging.KeyError, err)
		}
		a.done <- err
	}()

	a.logger.Info("agent started",
		logging.KeyLocalAddr, a.sock.LocalAddr().String(),
		logging.KeySource, a.cfg.Source.Type,
		"sample_rate", a.cfg.Source.SampleRate,
		"bandwidth", a.cfg.Source.Bandwidth,
		"center_freq", a.cfg.Source.CenterFreq)

	return nil
}

// Done is signalled when the streamer stops. A nil value means Stop was called.
func (a *Agent) Done() <-chan error {
	return a.done
}

// Stop shuts down the listeners, the streamer, the socket and the source.
func (a *Agent) Stop() error {
	if !a.running.Swap(false) {
		return nil
	}

	var errs []error
	if a.commands != nil {
		if err := a.commands.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("command server: %w", err))
		}
	}

	a.cancel()
	a.wg.Wait()

	if a.health != nil {
		if err := a.health.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if err := a.sock.Close(); err != nil {
		errs = append(errs, fmt.Errorf("data socket: %w", err))
	}
	if err := a.src.Close(); err != nil {
		errs = append(errs, fmt.Errorf("source: %w", err))
	}

	a.logger.Info("agent stopped")
	return errors.Join(errs...)
}

// Close releases the socket and source of an agent that was never started.
func (a *Agent) Close() error {
	if a.running.Load() {
		return a.Stop()
	}
	return errors.Join(a.sock.Close(), a.src.Close())
}

// IsRunning returns true if the agent is running.
func (a *Agent) IsRunning() bool {
	return a.running.Load()
}

// Streamer returns the agent's streamer.
func (a *Agent) Streamer() *Streamer {
	return a.streamer
}

// CommandAddress returns the command listener address, or "" when disabled.
func (a *Agent) CommandAddress() string {
	if a.commands == nil || a.commands.Address() == nil {
		return ""
	}
	return a.commands.Address().String()
}

// Stats returns daemon statistics for the health endpoints.
func (a *Agent) Stats() health.Stats {
	st := a.streamer.Stats()
	return health.Stats{
		LocalAddr:      a.sock.LocalAddr().String(),
		Streaming:      st.Streaming,
		Target:         st.Target,
		BuffersSent:    st.BuffersSent,
		BytesSent:      st.BytesSent,
		SendErrors:     st.SendErrors,
		CommandRunning: a.commands != nil && a.commands.IsRunning(),
		System:         sysinfo.Collect(),
	}
}
