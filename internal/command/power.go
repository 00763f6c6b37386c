package command

import (
	"context"
	"fmt"
	"os/exec"
	"time"
)

// Power performs device power actions.
type Power interface {
	Poweroff(ctx context.Context) error
	Reboot(ctx context.Context) error
}

// ExecPower runs external commands for power actions.
type ExecPower struct {
	PoweroffCmd []string
	RebootCmd   []string
	Timeout     time.Duration
}

// Poweroff runs PoweroffCmd.
func (p *ExecPower) Poweroff(ctx context.Context) error {
	return p.run(ctx, p.PoweroffCmd)
}

// Reboot runs RebootCmd.
func (p *ExecPower) Reboot(ctx context.Context) error {
	return p.run(ctx, p.RebootCmd)
}

func (p *ExecPower) run(ctx context.Context, argv []string) error {
	if len(argv) == 0 {
		return fmt.Errorf("no command configured")
	}

	if p.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.Timeout)
		defer cancel()
	}

	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (output: %s)", argv[0], err, out)
	}
	return nil
}
