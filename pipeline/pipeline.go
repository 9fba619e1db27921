// Package pipeline drives the passes over one or more modules:
// lift, reaching definitions, param/return reconstruction. A module
// is owned by exactly one worker; independent modules fan out across
// workers. Cancellation is observed at pass boundaries only — no
// pass suspends mid-transform.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/binlift/binlift/abi"
	"github.com/binlift/binlift/analysis/rda"
	"github.com/binlift/binlift/config"
	"github.com/binlift/binlift/ir"
	"github.com/binlift/binlift/lifter"
	"github.com/binlift/binlift/lifter/aarch64"
	"github.com/binlift/binlift/log"
	"github.com/binlift/binlift/paramret"
	"github.com/binlift/binlift/typeinfo"
)

// FuncStream is one function's decoded instructions in address
// order.
type FuncStream struct {
	Name  string
	Insns []lifter.Instruction
}

// Job is one module to process.
type Job struct {
	Name  string
	Funcs []FuncStream
}

// ParseConv maps the config convention name onto the ABI constant.
func ParseConv(name string) (abi.CallConv, error) {
	switch name {
	case "":
		return abi.ConvDefault, nil
	case "cdecl":
		return abi.ConvCdecl, nil
	case "stdcall":
		return abi.ConvStdcall, nil
	case "fastcall":
		return abi.ConvFastcall, nil
	case "watcom":
		return abi.ConvWatcom, nil
	case "sysv":
		return abi.ConvSysV, nil
	case "microsoft":
		return abi.ConvMicrosoft, nil
	}
	return abi.ConvDefault, fmt.Errorf("pipeline: unknown calling convention %q", name)
}

// Run processes jobs, possibly in parallel, and returns the rewritten
// modules in job order.
func Run(ctx context.Context, cfg config.Config, ti *typeinfo.Table, jobs []Job) ([]*ir.Module, error) {
	arch, ok := abi.ParseArch(cfg.Arch)
	if !ok {
		return nil, fmt.Errorf("pipeline: unknown architecture %q", cfg.Arch)
	}
	conv, err := ParseConv(cfg.CallConv)
	if err != nil {
		return nil, err
	}
	ab, err := abi.New(arch, conv)
	if err != nil {
		return nil, err
	}

	out := make([]*ir.Module, len(jobs))
	g, ctx := errgroup.WithContext(ctx)
	for i := range jobs {
		i := i
		g.Go(func() error {
			m, err := runOne(ctx, cfg, ab, ti, jobs[i])
			if err != nil {
				return err
			}
			out[i] = m
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func runOne(ctx context.Context, cfg config.Config, ab *abi.ABI, ti *typeinfo.Table, job Job) (*ir.Module, error) {
	m := ir.NewModule(job.Name)

	if len(job.Funcs) > 0 {
		if ab.Arch() != abi.ArchAArch64 {
			return nil, fmt.Errorf("pipeline: no lifter front-end for %s", ab.Arch())
		}
		tr := aarch64.NewTranslator(m, ab)
		for _, fs := range job.Funcs {
			if _, err := tr.TranslateFunc(fs.Name, fs.Insns); err != nil {
				return nil, err
			}
		}
	} else {
		ab.RegisterGlobals(m)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rd := rda.NewAnalysis(cfg.RDAIterationCap)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pass := paramret.NewPass(m, ab, rd, ti, paramret.Config{DumpEntries: cfg.DumpEntries})
	if err := pass.Run(); err != nil {
		return nil, err
	}
	log.Info("Module processed", "module", job.Name, "funcs", len(m.Funcs()))
	return m, nil
}
