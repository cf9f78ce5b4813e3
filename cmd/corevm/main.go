// Command corevm is the process entry point: it loads a program image
// (assembly text or the binary container format), builds the native
// function table, and runs the interpreter core to completion. CLI flag
// handling lives here, outside the core itself.
package main

import (
	"bufio"
	"fmt"
	"os"

	"github.com/urfave/cli"

	"github.com/Sebastian764/VM/asm"
	"github.com/Sebastian764/VM/native"
	"github.com/Sebastian764/VM/program"
	"github.com/Sebastian764/VM/vm"
)

func main() {
	app := cli.NewApp()
	app.Name = "corevm"
	app.Usage = "run a compiled program image on the stack-based bytecode core"
	app.ArgsUsage = "<file>"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "debug",
			Usage: "trace one line per instruction to stderr",
		},
		cli.BoolFlag{
			Name:  "asm",
			Usage: "treat <file> as assembly source instead of a binary image",
		},
	}
	app.Action = run

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: corevm [--debug] [--asm] <file>")
	}
	path := ctx.Args().Get(0)

	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	var img *program.Image

	if ctx.Bool("asm") {
		lines, err := readLines(file)
		if err != nil {
			return err
		}
		// The assembler only needs native names resolved to indices, which
		// does not require the final image, so a throwaway table (built
		// against an empty image) is enough to assemble `.natives`
		// declarations by name.
		img, err = asm.Assemble(lines, native.NewTable(&program.Image{}, os.Stdout, os.Stdin))
		if err != nil {
			return fmt.Errorf("assemble %s: %w", path, err)
		}
	} else {
		var err error
		img, err = program.Read(file)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
	}

	if err := program.CheckBounds(img); err != nil {
		return fmt.Errorf("invalid program image: %w", err)
	}

	natives := native.NewTable(img, os.Stdout, os.Stdin)

	opts := vm.Options{}
	if ctx.Bool("debug") {
		opts.Trace = os.Stderr
	}

	exitVal, trap := vm.Execute(img, natives.Funcs(), opts)
	if trap != nil {
		fmt.Fprintln(os.Stderr, trap.Error())
		os.Exit(trap.Kind.ExitCode())
	}

	os.Exit(int(exitVal))
	return nil
}

func readLines(f *os.File) ([]string, error) {
	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
