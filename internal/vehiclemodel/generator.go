package vehiclemodel

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Request describes one generator run.
type Request struct {
	VSSPath    string
	UnitsPath  string
	TargetDir  string // the generator writes <TargetDir>/vehicle
	IncludeDir string
}

// Generator turns a VSS document into an accessor package.
type Generator interface {
	Generate(ctx context.Context, req Request) error
}

// CommandGenerator runs an external generator. Template placeholders
// {vss}, {units}, {target} and {include} are replaced with shell-quoted values.
type CommandGenerator struct {
	Template string
}

// Generate runs the command and returns its output on failure.
func (g *CommandGenerator) Generate(ctx context.Context, req Request) error {
	line := strings.NewReplacer(
		"{vss}", shellQuote(req.VSSPath),
		"{units}", shellQuote(req.UnitsPath),
		"{target}", shellQuote(req.TargetDir),
		"{include}", shellQuote(req.IncludeDir),
	).Replace(g.Template)

	cmd := exec.CommandContext(ctx, "sh", "-c", line)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", err, lastLines(out.String(), 5))
	}
	return nil
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
