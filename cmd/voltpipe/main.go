// Command voltpipe runs the voltage pipe and inspects its output files.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"
)

type app struct {
	args []string
	out  io.Writer
}

type command interface {
	Name() string
	Help() string
	Run(out io.Writer) error
	Register(*flag.FlagSet)
}

func (a *app) run() int {
	cmdName, args := parseArgs(a.args)
	if cmdName == "" {
		printUsage(a.out)
		return errorExitCode
	}

	for _, cmd := range commands() {
		if cmd.Name() != cmdName {
			continue
		}
		flags := flag.NewFlagSet(cmdName, flag.ContinueOnError)
		flags.SetOutput(a.out)
		cmd.Register(flags)
		if err := flags.Parse(args); err != nil {
			return errorExitCode
		}
		if err := cmd.Run(a.out); err != nil {
			fmt.Fprintf(a.out, "Command failed: %v\n", err)
			return errorExitCode
		}
		return successExitCode
	}
	printUsage(a.out)
	return errorExitCode
}

const (
	successExitCode = 0
	errorExitCode   = 1
)

func commands() []command {
	return []command{&runCommand{}, &inspectCommand{}, &stagesCommand{}}
}

func main() {
	c := app{
		args: os.Args,
		out:  os.Stdout,
	}
	os.Exit(c.run())
}

func parseArgs(args []string) (string, []string) {
	if len(args) < 2 {
		return "", nil
	}
	return args[1], args[2:]
}

func printUsage(out io.Writer) {
	fmt.Fprintln(out, "Voltpipe moves voltage blocks through shared memory rings into files")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Usage: voltpipe <command> [flags]")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Commands:")
	for _, cmd := range commands() {
		fmt.Fprintf(out, "\t%s\t%s\n", cmd.Name(), cmd.Help())
	}
}
