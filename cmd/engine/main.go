// Command engine plays and exports a demo project with the generation
// engine.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"pipelined.dev/engine/log"
)

type command interface {
	Name() string
	Help() string
	Run() error
	Register(*flag.FlagSet)
}

type cli struct {
	args   []string
	out    io.Writer
	logger *logrus.Logger
}

func (c *cli) run() int {
	name, args := parseArgs(c.args)
	if name == "" {
		c.printUsage()
		return errorExitCode
	}

	for _, cmd := range commands(c.logger) {
		if cmd.Name() != name {
			continue
		}
		flags := flag.NewFlagSet(name, flag.ContinueOnError)
		flags.SetOutput(c.out)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			return errorExitCode
		}
		if err := cmd.Run(); err != nil {
			c.logger.WithFields(logrus.Fields{
				"command": name,
				"error":   err,
			}).Error("command failed")
			return errorExitCode
		}
		return successExitCode
	}
	fmt.Fprintf(c.out, "Unknown command %q\n\n", name)
	c.printUsage()
	return errorExitCode
}

const (
	successExitCode = 0
	errorExitCode   = 1
)

func commands(logger *logrus.Logger) []command {
	return []command{
		&playCommand{logger: logger},
		&exportCommand{logger: logger},
	}
}

func main() {
	c := cli{
		args:   os.Args,
		out:    os.Stdout,
		logger: log.GetLogger(),
	}
	os.Exit(c.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func (c *cli) printUsage() {
	fmt.Fprintln(c.out, "Engine plays and exports a generated demo project")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Usage: engine <command> [flags]")
	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, "Commands:")
	for _, cmd := range commands(c.logger) {
		fmt.Fprintf(c.out, "\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}
