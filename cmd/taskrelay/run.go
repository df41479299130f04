package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Nyukimin/taskrelay/internal/application/orchestrator"
	"github.com/Nyukimin/taskrelay/internal/domain/execution"
	"github.com/Nyukimin/taskrelay/internal/domain/task"
	"github.com/Nyukimin/taskrelay/internal/infrastructure/progress"
)

type runOptions struct {
	profile string
	toolIDs []string
	debug   bool
}

func newRunCommand(configPath *string) *cobra.Command {
	var opts runOptions

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a single task and print the result",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			t := task.NewTask(task.NewJobID(), strings.Join(args, " ")).
				WithForcedProfile(opts.profile).
				WithForcedToolIDs(opts.toolIDs)

			resp := a.runTask(ctx, t, opts.debug, cmd.ErrOrStderr())
			printResponse(cmd.OutOrStdout(), resp)
			if resp.Status != execution.StatusCompleted {
				return errors.New("task failed")
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.profile, "profile", "p", "", "force a tool profile")
	cmd.Flags().StringSliceVarP(&opts.toolIDs, "tools", "t", nil, "force a tool set (comma separated ids)")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "append internal error detail to failures")
	return cmd
}

// runTask は進捗を端末とチャットに流しながらタスクを処理する
func (a *app) runTask(ctx context.Context, t task.Task, debug bool, progressOut io.Writer) orchestrator.ProcessTaskResponse {
	terminal := progress.SinkFunc(func(ctx context.Context, ev execution.Event) error {
		if ev.Type.IsTerminal() {
			return nil
		}
		_, err := fmt.Fprintf(progressOut, "  … %s\n", progress.Format(ev))
		return err
	})
	sink := progress.Multi{terminal, a.sinks.Open(ctx, t.ID().String(), "Working on it...")}
	emitter := progress.NewEmitter(sink, a.cfg.Progress.Interval)

	resp, _ := a.orch.ProcessTask(ctx, orchestrator.ProcessTaskRequest{
		Task:  t,
		Debug: debug,
		Emit:  emitter.Emit,
	})
	emitter.Close(context.WithoutCancel(ctx))
	return resp
}

func printResponse(w io.Writer, resp orchestrator.ProcessTaskResponse) {
	if resp.Status == execution.StatusCompleted {
		fmt.Fprintln(w, resp.Result)
		if resp.Error != "" {
			fmt.Fprintf(w, "(note: %s)\n", resp.Error)
		}
		return
	}
	if resp.Result != "" {
		fmt.Fprintln(w, resp.Result)
	}
	fmt.Fprintf(w, "error: %s\n", resp.Error)
}
