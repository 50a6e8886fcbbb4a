// Package build runs the external tools that turn sources into the served
// output: the HTML page generator and the CSS processor.
package build

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/EphraimElvis/coralite-io/internal/config"
	"github.com/EphraimElvis/coralite-io/internal/errors"
	"github.com/EphraimElvis/coralite-io/internal/logging"
)

// Builder produces one build target.
type Builder interface {
	Build(ctx context.Context) error
}

// BuilderFunc adapts a function to Builder.
type BuilderFunc func(ctx context.Context) error

// Build calls f(ctx).
func (f BuilderFunc) Build(ctx context.Context) error {
	return f(ctx)
}

// CommandBuilder runs a command line with {placeholder} arguments. The command
// is split on whitespace before placeholders are expanded, so values may
// contain spaces. No shell is involved.
type CommandBuilder struct {
	name    string
	command string
	vars    map[string]string
	dir     string
	logger  logging.Logger
}

// NewCommandBuilder creates a builder named name (used in errors and logs).
func NewCommandBuilder(name, command string, vars map[string]string, logger logging.Logger) *CommandBuilder {
	if logger == nil {
		logger = logging.Discard()
	}

	return &CommandBuilder{
		name:    name,
		command: command,
		vars:    vars,
		logger:  logger.WithComponent("build"),
	}
}

// NewHTMLBuilder builds pages with the configured page generator. Available
// placeholders are {pages}, {templates} and {output}.
func NewHTMLBuilder(cfg config.HTMLConfig, logger logging.Logger) *CommandBuilder {
	return NewCommandBuilder("html", cfg.Command, map[string]string{
		"pages":     cfg.Pages,
		"templates": cfg.Templates,
		"output":    cfg.Output,
	}, logger)
}

// NewCSSBuilder builds the stylesheet with the configured processor. Available
// placeholders are {input}, {output} and {filename}.
func NewCSSBuilder(cfg config.CSSConfig, logger logging.Logger) *CommandBuilder {
	return NewCommandBuilder("css", cfg.Command, map[string]string{
		"input":    cfg.Input,
		"output":   cfg.Output,
		"filename": cfg.Filename,
	}, logger)
}

// WithDir sets the working directory; the default is the current one.
func (b *CommandBuilder) WithDir(dir string) *CommandBuilder {
	b.dir = dir
	return b
}

// Name returns the target name.
func (b *CommandBuilder) Name() string {
	return b.name
}

// Args returns the expanded argument vector.
func (b *CommandBuilder) Args() ([]string, error) {
	fields := strings.Fields(b.command)
	if len(fields) == 0 {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "empty build command").
			WithComponent(b.name)
	}

	args := make([]string, len(fields))
	for i, field := range fields {
		args[i] = b.expand(field)
		if err := validateArgument(args[i]); err != nil {
			return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, err.Error()).
				WithComponent(b.name).
				WithContext("argument", args[i])
		}
	}

	return args, nil
}

func (b *CommandBuilder) expand(field string) string {
	for key, value := range b.vars {
		field = strings.ReplaceAll(field, "{"+key+"}", value)
	}
	return field
}

// Build runs the command once. A non-zero exit becomes a build error carrying
// the tool's combined output.
func (b *CommandBuilder) Build(ctx context.Context) error {
	args, err := b.Args()
	if err != nil {
		return errors.ErrBuildFailed(b.name, err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = b.dir

	start := time.Now()
	output, err := cmd.CombinedOutput()
	if err != nil {
		if ctx.Err() != nil {
			return errors.ErrBuildFailed(b.name, ctx.Err())
		}
		return errors.ErrBuildFailed(b.name,
			fmt.Errorf("%s: %w\n%s", args[0], err, strings.TrimSpace(string(output))))
	}

	b.logger.Debug(ctx, "Build finished",
		"command", args[0],
		"duration", time.Since(start),
		"output", strings.TrimSpace(string(output)))

	return nil
}

// validateArgument rejects control characters, which never appear in a
// legitimate path or flag.
func validateArgument(arg string) error {
	for _, r := range arg {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("argument contains control character %q", r)
		}
	}
	return nil
}
