package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"procwire/core/logging"
	"procwire/core/procerr"
	"procwire/core/status"
	"procwire/pipelinefile"
)

func newPipelineCmd(a *app) *cobra.Command {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "pipeline FILE",
		Short: "Run a pipeline defined in a YAML or TOML file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			def, err := pipelinefile.Load(args[0])
			if err != nil {
				return err
			}
			return runPipeline(cmd, def, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print every stage's status")
	return cmd
}

func runPipeline(cmd *cobra.Command, def pipelinefile.Definition, verbose bool) error {
	log := logging.Component("cli")
	p, err := def.Build()
	if err != nil {
		return err
	}
	waitOpts, timed, err := def.WaitOptions()
	if err != nil {
		return err
	}
	pc, err := p.Spawn()
	if err != nil {
		return err
	}
	collect := relay(pc, cmd.InOrStdin())
	log.Debug().Ints("pids", pc.PIDs()).Int("pgid", pc.PGID()).Msg("pipeline started")

	var ps status.PipelineStatus
	if timed {
		ps, err = pc.WaitWith(waitOpts)
	} else {
		ps, err = pc.Wait()
	}
	res, drainErr := collect()
	_, _ = cmd.OutOrStdout().Write(res.Stdout)
	_, _ = cmd.ErrOrStderr().Write(res.Stderr)

	if errors.Is(err, procerr.ErrTimeout) {
		log.Warn().Dur("timeout", waitOpts.Timeout).Msg("pipeline timed out")
		return &exitError{code: timeoutExitCode}
	}
	if err != nil {
		return err
	}
	if drainErr != nil {
		return drainErr
	}
	if verbose {
		for i, st := range ps.Stages {
			fmt.Fprintf(cmd.ErrOrStderr(), "stage %d: %s\n", i, st)
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "pipeline: %s\n", ps.Aggregate)
	}
	if code := ps.Aggregate.ShellCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
