// Command agentctl signs and verifies webhook payloads offline and talks to a
// running orchestrator.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	logx "github.com/tanpawarit/agent-orchestrator/pkg/logger"
)

type CLI struct {
	Sign   SignCmd   `cmd:"" help:"Sign a payload with HMAC-SHA256."`
	Verify VerifyCmd `cmd:"" help:"Verify a payload signature."`
	Submit SubmitCmd `cmd:"" help:"Submit text for processing."`
	Result ResultCmd `cmd:"" help:"Show the result of a request."`
	Retry  RetryCmd  `cmd:"" help:"Manually retry webhook delivery for a request."`

	Debug bool `help:"Enable debug logging." env:"AGENTCTL_DEBUG"`
}

// runContext is bound into kong so commands can write to a caller-supplied stream.
type runContext struct {
	Out io.Writer
	In  io.Reader
	Log zerolog.Logger
}

func newParser(cli *CLI, out io.Writer) (*kong.Kong, error) {
	return kong.New(cli,
		kong.Name("agentctl"),
		kong.Description("Operator tool for the agent orchestrator."),
		kong.UsageOnError(),
		kong.Writers(out, out),
	)
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	var cli CLI
	parser, err := newParser(&cli, stdout)
	if err != nil {
		return err
	}
	ctx, err := parser.Parse(args)
	if err != nil {
		return err
	}

	return ctx.Run(&runContext{
		Out: stdout,
		In:  stdin,
		Log: logx.New(os.Stderr, logx.Config{Debug: cli.Debug, PrettyFormat: true}),
	})
}

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "agentctl:", err)
		os.Exit(1)
	}
}
