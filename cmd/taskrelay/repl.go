package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/Nyukimin/taskrelay/internal/domain/task"
)

// maxReplTurns はREPLで保持する会話ターン数
const maxReplTurns = 20

func newReplCommand(configPath *string) *cobra.Command {
	var debug bool

	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive session that keeps conversation history",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "taskrelay> ",
				InterruptPrompt: "^C",
				EOFPrompt:       "exit",
			})
			if err != nil {
				return fmt.Errorf("init readline: %w", err)
			}
			defer rl.Close()

			return a.repl(ctx, rl, debug)
		},
	}
	cmd.Flags().BoolVar(&debug, "debug", false, "append internal error detail to failures")
	return cmd
}

func (a *app) repl(ctx context.Context, rl *readline.Instance, debug bool) error {
	var history []task.Turn
	out := rl.Stdout()

	fmt.Fprintln(out, "Type a task, /reset to clear history, /exit to quit.")
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		switch line {
		case "":
			continue
		case "/exit", "/quit":
			return nil
		case "/reset":
			history = nil
			fmt.Fprintln(out, "history cleared")
			continue
		}

		t := task.NewTask(task.NewJobID(), line).WithHistory(history)
		resp := a.runTask(ctx, t, debug, rl.Stderr())
		printResponse(out, resp)

		history = append(history,
			task.Turn{Role: task.RoleUser, Content: line},
			task.Turn{Role: task.RoleAssistant, Content: resp.Result},
		)
		if len(history) > maxReplTurns {
			history = history[len(history)-maxReplTurns:]
		}
	}
}
