package autoheal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// ServicePlaceholder is substituted with the service name in command templates.
const ServicePlaceholder = "{service}"

// Restarter restarts one service. Implementations must honour ctx.
type Restarter interface {
	Restart(ctx context.Context, service string) error
}

// RestarterFunc adapts a function to the Restarter interface.
type RestarterFunc func(ctx context.Context, service string) error

// Restart implements Restarter.
func (f RestarterFunc) Restart(ctx context.Context, service string) error {
	return f(ctx, service)
}

// CommandRestarter runs an argv template such as ["systemctl", "restart", "{service}"].
// No shell is involved.
type CommandRestarter struct {
	argv    []string
	timeout time.Duration
}

// NewCommandRestarter validates the template. A template without the
// placeholder gets the service name appended as the last argument.
func NewCommandRestarter(argv []string, timeout time.Duration) (*CommandRestarter, error) {
	if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
		return nil, errors.New("restart command is empty")
	}
	tmpl := append([]string(nil), argv...)
	if !strings.Contains(strings.Join(tmpl, " "), ServicePlaceholder) {
		tmpl = append(tmpl, ServicePlaceholder)
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &CommandRestarter{argv: tmpl, timeout: timeout}, nil
}

// Command returns the argv that would restart service.
func (c *CommandRestarter) Command(service string) []string {
	out := make([]string, len(c.argv))
	for i, arg := range c.argv {
		out[i] = strings.ReplaceAll(arg, ServicePlaceholder, service)
	}
	return out
}

// Restart implements Restarter.
func (c *CommandRestarter) Restart(ctx context.Context, service string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	argv := c.Command(service)
	out, err := exec.CommandContext(ctx, argv[0], argv[1:]...).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if len(msg) > 512 {
			msg = msg[:512]
		}
		if msg != "" {
			return fmt.Errorf("restart %s: %w: %s", service, err, msg)
		}
		return fmt.Errorf("restart %s: %w", service, err)
	}
	return nil
}

// DryRunRestarter only logs what it would have restarted.
type DryRunRestarter struct {
	logger *slog.Logger
}

// NewDryRunRestarter returns a restarter that never touches the host.
func NewDryRunRestarter(logger *slog.Logger) *DryRunRestarter {
	if logger == nil {
		logger = slog.Default()
	}
	return &DryRunRestarter{logger: logger}
}

// Restart implements Restarter.
func (d *DryRunRestarter) Restart(_ context.Context, service string) error {
	d.logger.Info("dry-run restart", slog.String("service", service))
	return nil
}
