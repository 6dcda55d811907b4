package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"goa.design/clue/log"

	"github.com/balkashynov/pomo/internal/metrics"
	"github.com/balkashynov/pomo/internal/parser"
	"github.com/balkashynov/pomo/internal/timer"
)

// focusTick is how often the focus loop checks the session
var focusTick = time.Second

func newFocusCmd(opts *rootOptions) *cobra.Command {
	flags := &startFlags{}
	var (
		length      string
		metricsAddr string
	)
	cmd := &cobra.Command{
		Use:   "focus <task-id> <task-name...>",
		Short: "Run a timed session that completes on its own",
		Long: `Start a session and keep it running until its focus time is used up, then
complete it. Time spent paused (from another terminal) does not count.
Ctrl-C resets the session.

Examples:
  pomo focus TG-42 "Fix login bug"
  pomo focus TG-42 "Fix login bug" --minutes 50
  pomo focus "#7 Stretch" --type short_break --metrics-addr :9100`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			req, err := flags.request(args, a)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("minutes") {
				length = fmt.Sprint(a.cfg.Focus.Minutes)
				if req.SessionType != parser.SessionWork {
					length = fmt.Sprint(parser.DefaultFocusMinutes(req.SessionType))
				}
			}
			target, err := parser.ParseFocusDuration(length)
			if err != nil {
				return &exitError{code: exitInvalid, err: err}
			}
			if metricsAddr == "" {
				metricsAddr = a.cfg.Focus.MetricsAddr
			}
			return runFocus(cmd, a, req, target, metricsAddr)
		}),
	}
	flags.register(cmd)
	cmd.Flags().StringVarP(&length, "minutes", "m", "25", "Focus time: minutes (25) or a duration (1h30m)")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics, /live and /ready on this address while running")
	return cmd
}

func runFocus(cmd *cobra.Command, a *app, req timer.StartRequest, target time.Duration, metricsAddr string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	out := cmd.OutOrStdout()

	if metricsAddr != "" {
		srvCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		done := make(chan struct{})
		go func() {
			defer close(done)
			if err := metrics.Serve(srvCtx, metricsAddr, metrics.OpsHandler(a.recorder.Registry(), a.pingers)); err != nil {
				log.Error(srvCtx, err, log.KV{K: "msg", V: "metrics server failed"})
			}
		}()
		defer func() {
			cancel()
			<-done
		}()
	}

	// Index calls ignore signals; an interrupt is handled by interruptFocus.
	work := context.WithoutCancel(ctx)
	res, err := a.manager.Start(work, req)
	if err != nil {
		return userError(err)
	}
	fmt.Fprintf(out, "🍅 Focusing on %s: %s for %s (session %s)\n", req.TaskID, req.TaskName, target, res.SessionID)
	printWarning(cmd, res.Warning)

	targetMinutes := target.Minutes()
	ticker := time.NewTicker(focusTick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return interruptFocus(cmd, a, res.SessionID)
		case <-ticker.C:
		}

		s, err := a.manager.Get(work, res.SessionID, a.user.ID)
		if errors.Is(err, timer.ErrNotFoundOrInvalidState) {
			fmt.Fprintln(out, "Session ended elsewhere")
			return nil
		}
		if err != nil {
			return err
		}
		if s.ElapsedMinutes(time.Now()) < targetMinutes {
			continue
		}

		done, err := a.manager.Complete(work, res.SessionID, a.user.ID, true)
		if errors.Is(err, timer.ErrNotFoundOrInvalidState) {
			// Paused or ended between the check and the completion.
			continue
		}
		if err != nil {
			return err
		}
		printCompleted(out, done)
		printWarning(cmd, done.Warning)
		return nil
	}
}

// interruptFocus resets the focus session, resuming it first if it was paused
func interruptFocus(cmd *cobra.Command, a *app, sessionID string) error {
	ctx := context.WithoutCancel(cmd.Context())
	res, err := a.manager.Reset(ctx, sessionID, a.user.ID)
	if errors.Is(err, timer.ErrNotFoundOrInvalidState) {
		s, gerr := a.manager.Get(ctx, sessionID, a.user.ID)
		if gerr != nil {
			fmt.Fprintln(cmd.OutOrStdout(), "Session already ended")
			return nil
		}
		if s.Status == timer.StatusPaused {
			if _, err = a.manager.Resume(ctx, sessionID, a.user.ID); err != nil {
				return userError(err)
			}
			res, err = a.manager.Reset(ctx, sessionID, a.user.ID)
		}
	}
	if err != nil {
		return userError(err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "\nInterrupted")
	printReset(cmd.OutOrStdout(), res)
	printWarning(cmd, res.Warning)
	return nil
}
