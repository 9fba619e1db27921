// binlift runs the decompilation middle-end over a dump of decoded
// instruction streams and prints the recovered IR and signatures.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/binlift/binlift/config"
	"github.com/binlift/binlift/lifter"
	"github.com/binlift/binlift/log"
	"github.com/binlift/binlift/pipeline"
	"github.com/binlift/binlift/typeinfo"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	typesFlag = &cli.StringFlag{
		Name:  "types",
		Usage: "YAML file with external function declarations",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "log verbosity (0=crit .. 5=trace)",
		Value: 3,
	}
	logFileFlag = &cli.StringFlag{
		Name:  "log.file",
		Usage: "write logs to a rotating file instead of stderr",
	}
	printIRFlag = &cli.BoolFlag{
		Name:  "print-ir",
		Usage: "print the rewritten module IR",
	}
)

func main() {
	app := &cli.App{
		Name:  "binlift",
		Usage: "parameter/return reconstruction middle-end",
		Flags: []cli.Flag{configFlag, typesFlag, verbosityFlag, logFileFlag, printIRFlag},
		Commands: []*cli.Command{
			{
				Name:      "analyze",
				Usage:     "lift and analyze a decoded instruction dump",
				ArgsUsage: "<dump.json>",
				Action:    analyze,
				Flags:     []cli.Flag{configFlag, typesFlag, verbosityFlag, logFileFlag, printIRFlag},
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) {
	lvl := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	if path := ctx.String(logFileFlag.Name); path != "" {
		sink := &lumberjack.Logger{Filename: path, MaxSize: 100, MaxBackups: 3}
		log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(sink, lvl, false)))
		return
	}
	useColor := isatty.IsTerminal(os.Stderr.Fd())
	out := colorable.NewColorableStderr()
	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(out, lvl, useColor)))
}

// dump.json mirrors the lifter input contract: per function, the
// decoded instructions with their operands.
type dumpFile struct {
	Name      string     `json:"name"`
	Functions []dumpFunc `json:"functions"`
}

type dumpFunc struct {
	Name  string     `json:"name"`
	Insns []dumpInsn `json:"instructions"`
}

type dumpInsn struct {
	Addr     uint64    `json:"address"`
	Mnemonic string    `json:"mnemonic"`
	Cond     string    `json:"cond,omitempty"`
	Operands []dumpOpd `json:"operands,omitempty"`
}

type dumpOpd struct {
	Kind      string `json:"kind"` // imm, reg, mem, label
	Imm       int64  `json:"imm,omitempty"`
	Reg       string `json:"reg,omitempty"`
	Shift     string `json:"shift,omitempty"`
	ShiftAmt  uint8  `json:"shift_amt,omitempty"`
	Ext       string `json:"ext,omitempty"`
	ExtShift  uint8  `json:"ext_shift,omitempty"`
	Base      string `json:"base,omitempty"`
	Index     string `json:"index,omitempty"`
	Disp      int64  `json:"disp,omitempty"`
	Writeback string `json:"writeback,omitempty"` // pre, post
	Target    uint64 `json:"target,omitempty"`
}

func analyze(ctx *cli.Context) error {
	setupLogging(ctx)
	if ctx.NArg() != 1 {
		return fmt.Errorf("usage: binlift analyze <dump.json>")
	}

	cfg := config.Default()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return err
		}
	}
	if ctx.IsSet(verbosityFlag.Name) {
		cfg.Verbosity = ctx.Int(verbosityFlag.Name)
	}

	var ti *typeinfo.Table
	tiPath := cfg.TypeInfoPath
	if p := ctx.String(typesFlag.Name); p != "" {
		tiPath = p
	}
	if tiPath != "" {
		var err error
		if ti, err = typeinfo.Load(tiPath); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(ctx.Args().First())
	if err != nil {
		return err
	}
	var dump dumpFile
	if err := json.Unmarshal(data, &dump); err != nil {
		return fmt.Errorf("parsing %s: %w", ctx.Args().First(), err)
	}

	job := pipeline.Job{Name: dump.Name}
	for _, df := range dump.Functions {
		fs := pipeline.FuncStream{Name: df.Name}
		for _, di := range df.Insns {
			fs.Insns = append(fs.Insns, decodeInsn(di))
		}
		job.Funcs = append(job.Funcs, fs)
	}

	mods, err := pipeline.Run(context.Background(), cfg, ti, []pipeline.Job{job})
	if err != nil {
		return err
	}
	m := mods[0]

	if ctx.Bool(printIRFlag.Name) {
		fmt.Print(m.String())
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Function", "Signature"})
	for _, f := range m.Funcs() {
		table.Append([]string{f.Name, f.Sig.String()})
	}
	table.Render()
	return nil
}

func decodeInsn(di dumpInsn) lifter.Instruction {
	in := lifter.Instruction{
		Addr:     di.Addr,
		Mnemonic: lifter.ParseMnemonic(di.Mnemonic),
		Cond:     lifter.CondAL,
	}
	if di.Cond != "" {
		in.Cond = lifter.ParseCond(di.Cond)
	}
	for _, do := range di.Operands {
		in.Operands = append(in.Operands, decodeOpd(do))
	}
	return in
}

func decodeOpd(do dumpOpd) lifter.Operand {
	op := lifter.Operand{
		Imm:      do.Imm,
		Reg:      do.Reg,
		ShiftAmt: do.ShiftAmt,
		ExtShift: do.ExtShift,
		Base:     do.Base,
		Index:    do.Index,
		Disp:     do.Disp,
		Target:   do.Target,
	}
	switch do.Kind {
	case "imm":
		op.Kind = lifter.OpndImm
	case "reg":
		op.Kind = lifter.OpndReg
	case "mem":
		op.Kind = lifter.OpndMem
	case "label":
		op.Kind = lifter.OpndLabel
	}
	switch do.Shift {
	case "lsl":
		op.Shift = lifter.ShiftLSL
	case "lsr":
		op.Shift = lifter.ShiftLSR
	case "asr":
		op.Shift = lifter.ShiftASR
	case "ror":
		op.Shift = lifter.ShiftROR
	}
	switch do.Ext {
	case "uxtb":
		op.Ext = lifter.ExtUXTB
	case "uxth":
		op.Ext = lifter.ExtUXTH
	case "uxtw":
		op.Ext = lifter.ExtUXTW
	case "uxtx":
		op.Ext = lifter.ExtUXTX
	case "sxtb":
		op.Ext = lifter.ExtSXTB
	case "sxth":
		op.Ext = lifter.ExtSXTH
	case "sxtw":
		op.Ext = lifter.ExtSXTW
	case "sxtx":
		op.Ext = lifter.ExtSXTX
	}
	switch do.Writeback {
	case "pre":
		op.Writeback = lifter.WbPre
	case "post":
		op.Writeback = lifter.WbPost
	}
	return op
}
