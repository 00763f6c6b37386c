// Package wizard provides an interactive setup wizard for the anchor daemon.
package wizard

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/postalsys/anchor/internal/config"
)

// Answers holds everything the wizard asks. Form fields bind to it as
// strings so huh can edit them in place.
type Answers struct {
	ConfigPath string

	DataAddress  string
	DataPort     string
	MaxChunkSize string
	RateLimit    string

	CommandEnabled bool
	CommandAddress string
	PortOffset     string
	AllowPower     bool

	SourceType   string
	SourcePath   string
	BufferLength string
	Channels     string
	SampleRate   string

	HealthEnabled bool
	LogLevel      string
}

// DefaultAnswers returns answers matching config.Default.
func DefaultAnswers() *Answers {
	d := config.Default()
	return &Answers{
		ConfigPath:     "./anchor.yaml",
		DataAddress:    d.Data.Address,
		DataPort:       strconv.Itoa(d.Data.Port),
		MaxChunkSize:   strconv.Itoa(d.Data.MaxChunkSize),
		RateLimit:      "0",
		CommandEnabled: d.Command.Enabled,
		CommandAddress: d.Command.Address,
		PortOffset:     strconv.Itoa(d.Command.PortOffset),
		SourceType:     d.Source.Type,
		BufferLength:   strconv.Itoa(d.Source.BufferLength),
		Channels:       strconv.Itoa(d.Source.Channels),
		SampleRate:     strconv.Itoa(d.Source.SampleRate),
		LogLevel:       d.Agent.LogLevel,
	}
}

// Result contains the wizard output.
type Result struct {
	Config     *config.Config
	ConfigPath string
}

// Wizard manages the interactive setup process.
type Wizard struct {
	theme *huh.Theme
}

// New creates a new setup wizard.
func New() *Wizard {
	return &Wizard{
		theme: huh.ThemeDracula(),
	}
}

// Run executes the interactive setup wizard.
func (w *Wizard) Run() (*Result, error) {
	w.printBanner()

	a := DefaultAnswers()
	steps := []func(*Answers) error{
		w.askBasicSetup,
		w.askDataSocket,
		w.askCommandChannel,
		w.askSource,
		w.askAdvancedOptions,
	}
	for _, step := range steps {
		if err := step(a); err != nil {
			return nil, err
		}
	}

	cfg, err := BuildConfig(a)
	if err != nil {
		return nil, err
	}

	if err := WriteConfig(cfg, a.ConfigPath); err != nil {
		return nil, err
	}

	w.printSummary(a.ConfigPath, cfg)

	return &Result{Config: cfg, ConfigPath: a.ConfigPath}, nil
}

func (w *Wizard) printBanner() {
	banner := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("212")).
		Render(`
                    _
   __ _ _ __   ___| |__   ___  _ __
  / _' | '_ \ / __| '_ \ / _ \| '__|
 | (_| | | | | (__| | | | (_) | |
  \__,_|_| |_|\___|_| |_|\___/|_|
`)

	subtitle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("  UDP Sample Streamer - Setup Wizard\n")

	fmt.Println(banner)
	fmt.Println(subtitle)
}

func (w *Wizard) askBasicSetup(a *Answers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Basic Setup").
				Description("Where to write the configuration file."),

			huh.NewInput().
				Title("Config File Path").
				Placeholder("./anchor.yaml").
				Value(&a.ConfigPath).
				Validate(ValidateConfigPath),
		),
	).WithTheme(w.theme).Run()
}

func (w *Wizard) askDataSocket(a *Answers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Data Socket").
				Description("The UDP socket sample buffers are streamed from."),

			huh.NewInput().
				Title("Bind Address").
				Description("IPv4 address; 0.0.0.0 binds every interface").
				Value(&a.DataAddress).
				Validate(ValidateIPv4),

			huh.NewInput().
				Title("Bind Port").
				Value(&a.DataPort).
				Validate(ValidatePort),

			huh.NewInput().
				Title("Datagram Payload Size").
				Description(fmt.Sprintf("Bytes per datagram, at most %d", config.MaxChunkSize)).
				Value(&a.MaxChunkSize).
				Validate(ValidateChunkSize),

			huh.NewInput().
				Title("Rate Limit").
				Description("Bytes per second (e.g. 100MB, 1GiB), 0 for unlimited").
				Value(&a.RateLimit).
				Validate(ValidateSize),
		),
	).WithTheme(w.theme).Run()
}

func (w *Wizard) askCommandChannel(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title("Enable Command Channel?").
				Description("Hosts connect over TCP to start and stop streams").
				Value(&a.CommandEnabled),
		),
	).WithTheme(w.theme)
	if err := form.Run(); err != nil {
		return err
	}
	if !a.CommandEnabled {
		return nil
	}

	return huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Listen Address").
				Placeholder("0.0.0.0:2206").
				Value(&a.CommandAddress).
				Validate(ValidateHostPort),

			huh.NewInput().
				Title("Data Port Offset").
				Description("Streams go to the host's command port plus this offset").
				Value(&a.PortOffset).
				Validate(ValidateInt),

			huh.NewConfirm().
				Title("Allow halt/boot?").
				Description("Lets any host power off or reboot this device").
				Value(&a.AllowPower),
		),
	).WithTheme(w.theme).Run()
}

func (w *Wizard) askSource(a *Answers) error {
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Sample Source").
				Options(
					huh.NewOption("Synthetic test pattern", "pattern"),
					huh.NewOption("Replay a capture file", "file"),
				).
				Value(&a.SourceType),
		),
	).WithTheme(w.theme)
	if err := form.Run(); err != nil {
		return err
	}

	fields := []huh.Field{
		huh.NewInput().
			Title("Buffer Length").
			Description("Samples per buffer; one buffer is one stream").
			Value(&a.BufferLength).
			Validate(ValidatePositive),

		huh.NewInput().
			Title("Channels").
			Description("Interleaved int16 values per sample").
			Value(&a.Channels).
			Validate(ValidatePositive),

		huh.NewInput().
			Title("Sample Rate").
			Value(&a.SampleRate).
			Validate(ValidatePositive),
	}
	if a.SourceType == "file" {
		path := huh.NewInput().
			Title("Capture File").
			Value(&a.SourcePath).
			Validate(func(s string) error {
				if _, err := os.Stat(s); err != nil {
					return fmt.Errorf("cannot read %s", s)
				}
				return nil
			})
		fields = append([]huh.Field{path}, fields...)
	}

	return huh.NewForm(huh.NewGroup(fields...)).WithTheme(w.theme).Run()
}

func (w *Wizard) askAdvancedOptions(a *Answers) error {
	return huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("Advanced Options"),

			huh.NewConfirm().
				Title("Enable Health Server?").
				Description("HTTP /health, /healthz and /metrics on :8080").
				Value(&a.HealthEnabled),

			huh.NewSelect[string]().
				Title("Log Level").
				Options(
					huh.NewOption("Debug", "debug"),
					huh.NewOption("Info", "info"),
					huh.NewOption("Warn", "warn"),
					huh.NewOption("Error", "error"),
				).
				Value(&a.LogLevel),
		),
	).WithTheme(w.theme).Run()
}

// BuildConfig turns answers into a validated configuration.
func BuildConfig(a *Answers) (*config.Config, error) {
	cfg := config.Default()

	cfg.Agent.LogLevel = a.LogLevel
	cfg.Agent.LogFormat = "text"

	var err error
	atoi := func(field, s string) int {
		n, convErr := strconv.Atoi(strings.TrimSpace(s))
		if convErr != nil && err == nil {
			err = fmt.Errorf("%s: %w", field, convErr)
		}
		return n
	}

	cfg.Data.Address = strings.TrimSpace(a.DataAddress)
	cfg.Data.Port = atoi("data port", a.DataPort)
	cfg.Data.MaxChunkSize = atoi("payload size", a.MaxChunkSize)
	rate, parseErr := config.ParseSize(a.RateLimit)
	if parseErr != nil {
		return nil, fmt.Errorf("rate limit: %w", parseErr)
	}
	cfg.Data.RateLimit = config.ByteSize(rate)

	cfg.Command.Enabled = a.CommandEnabled
	if a.CommandEnabled {
		cfg.Command.Address = strings.TrimSpace(a.CommandAddress)
		cfg.Command.PortOffset = atoi("port offset", a.PortOffset)
		cfg.Command.AllowPower = a.AllowPower
	}

	cfg.Source.Type = a.SourceType
	cfg.Source.Path = a.SourcePath
	cfg.Source.BufferLength = atoi("buffer length", a.BufferLength)
	cfg.Source.Channels = atoi("channels", a.Channels)
	cfg.Source.SampleRate = atoi("sample rate", a.SampleRate)

	cfg.Health.Enabled = a.HealthEnabled

	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// WriteConfig writes cfg as YAML to path, creating parent directories.
func WriteConfig(cfg *config.Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := "# anchor configuration\n# Generated by setup wizard\n\n"
	if err := os.WriteFile(path, []byte(header+string(data)), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

func (w *Wizard) printSummary(configPath string, cfg *config.Config) {
	style := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("42"))

	divider := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render("─────────────────────────────────────────────────")

	fmt.Println()
	fmt.Println(divider)
	fmt.Println(style.Render("✓ Setup Complete!"))
	fmt.Println(divider)
	fmt.Println()

	fmt.Printf("  Config file:  %s\n", configPath)
	fmt.Printf("  Data socket:  %s:%d\n", cfg.Data.Address, cfg.Data.Port)
	fmt.Printf("  Buffer size:  %s per stream\n", humanize.IBytes(uint64(cfg.Source.BufferBytes())))
	if cfg.Data.RateLimit > 0 {
		fmt.Printf("  Rate limit:   %s/s\n", humanize.Bytes(uint64(cfg.Data.RateLimit)))
	}
	if cfg.Command.Enabled {
		fmt.Printf("  Commands:     tcp://%s\n", cfg.Command.Address)
	}
	if cfg.Health.Enabled {
		fmt.Printf("  Health:       http://%s/health\n", cfg.Health.Address)
	}

	fmt.Println()
	fmt.Println("  To start the daemon:")
	fmt.Printf("    anchor run -c %s\n", configPath)
	fmt.Println()
}

// ValidateConfigPath requires a .yaml or .yml path.
func ValidateConfigPath(s string) error {
	if s == "" {
		return fmt.Errorf("config path is required")
	}
	if !strings.HasSuffix(s, ".yaml") && !strings.HasSuffix(s, ".yml") {
		return fmt.Errorf("config file should have .yaml or .yml extension")
	}
	return nil
}

// ValidateIPv4 requires a dotted-quad IPv4 address.
func ValidateIPv4(s string) error {
	ip, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil || !ip.Is4() {
		return fmt.Errorf("enter an IPv4 address such as 0.0.0.0")
	}
	return nil
}

// ValidatePort requires 0-65535.
func ValidatePort(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 65535 {
		return fmt.Errorf("port must be between 0 and 65535")
	}
	return nil
}

// ValidateChunkSize requires 1 to config.MaxChunkSize.
func ValidateChunkSize(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 || n > config.MaxChunkSize {
		return fmt.Errorf("payload size must be between 1 and %d", config.MaxChunkSize)
	}
	return nil
}

// ValidateSize accepts anything config.ParseSize does.
func ValidateSize(s string) error {
	_, err := config.ParseSize(s)
	return err
}

// ValidateHostPort requires host:port.
func ValidateHostPort(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("invalid address format (use host:port)")
	}
	return nil
}

// ValidateInt requires an integer.
func ValidateInt(s string) error {
	if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
		return fmt.Errorf("enter a whole number")
	}
	return nil
}

// ValidatePositive requires an integer greater than zero.
func ValidatePositive(s string) error {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 1 {
		return fmt.Errorf("enter a number greater than zero")
	}
	return nil
}
