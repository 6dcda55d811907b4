package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/balkashynov/pomo/internal/parser"
	"github.com/balkashynov/pomo/internal/timer"
)

// Exit statuses for errors the user can fix
const (
	exitInvalid  = 2
	exitRejected = 3
)

// startFlags are shared by start and focus
type startFlags struct {
	sessionType string
	project     string
}

func (f *startFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.sessionType, "type", "t", parser.SessionWork, "Session type: work|short_break|long_break")
	cmd.Flags().StringVarP(&f.project, "project", "p", "", "Project name shown in notifications")
}

// request builds a start request from "<task-id> <task-name...>" or a single
// "Task name TG-42 @project" line
func (f *startFlags) request(args []string, a *app) (timer.StartRequest, error) {
	sessionType, err := parser.NormalizeSessionType(f.sessionType)
	if err != nil {
		return timer.StartRequest{}, &exitError{code: exitInvalid, err: err}
	}
	req := timer.StartRequest{
		UserID:      a.user.ID,
		UserName:    a.user.Name,
		SessionType: sessionType,
		Project:     f.project,
	}

	if len(args) == 1 {
		parsed := parser.ParseTaskLine(args[0])
		if len(parsed.Errors) > 0 {
			return timer.StartRequest{}, &exitError{code: exitInvalid, err: errors.New(strings.Join(parsed.Errors, "; "))}
		}
		req.TaskID, req.TaskName = parsed.TaskID, parsed.Name
		if req.Project == "" {
			req.Project = parsed.Project
		}
		return req, nil
	}

	taskID, err := parser.NormalizeTaskRef(args[0])
	if err != nil {
		return timer.StartRequest{}, &exitError{code: exitInvalid, err: err}
	}
	req.TaskID = taskID
	req.TaskName = strings.Join(args[1:], " ")
	return req, nil
}

func newStartCmd(opts *rootOptions) *cobra.Command {
	flags := &startFlags{}
	cmd := &cobra.Command{
		Use:   "start <task-id> <task-name...>",
		Short: "Start a Pomodoro session on a task",
		Long: `Start a Pomodoro session on a task. You can only have one live session at a time.

Examples:
  pomo start TG-42 "Fix login bug"
  pomo start "Fix login bug #42 @web"
  pomo start tg-42 Review PR --type short_break`,
		Args: cobra.MinimumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			req, err := flags.request(args, a)
			if err != nil {
				return err
			}
			res, err := a.manager.Start(cmd.Context(), req)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "⏱️  Started session %s for %s: %s\n", res.SessionID, req.TaskID, req.TaskName)
			fmt.Fprintf(out, "Started at: %s\n", res.StartTime.Local().Format("15:04:05"))
			printWarning(cmd, res.Warning)
			return nil
		}),
	}
	flags.register(cmd)
	return cmd
}

func newPauseCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "pause [session-id]",
		Short: "Pause the active session",
		Args:  cobra.MaximumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := sessionArg(cmd, args, a)
			if err != nil {
				return err
			}
			res, err := a.manager.Pause(cmd.Context(), id, a.user.ID)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "⏸️  Paused session %s at %s\n", id, res.PausedAt.Local().Format("15:04:05"))
			fmt.Fprintf(cmd.OutOrStdout(), "Time so far: %d min\n", timer.WholeMinutes(res.AccumulatedMinutes))
			printWarning(cmd, res.Warning)
			return nil
		}),
	}
}

func newResumeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "resume [session-id]",
		Short: "Resume a paused session",
		Args:  cobra.MaximumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := sessionArg(cmd, args, a)
			if err != nil {
				return err
			}
			res, err := a.manager.Resume(cmd.Context(), id, a.user.ID)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "▶️  Resumed session %s at %s\n", id, res.ResumedAt.Local().Format("15:04:05"))
			printWarning(cmd, res.Warning)
			return nil
		}),
	}
}

func newCompleteCmd(opts *rootOptions) *cobra.Command {
	var auto bool
	cmd := &cobra.Command{
		Use:     "complete [session-id]",
		Aliases: []string{"done"},
		Short:   "Complete the active session",
		Long: `Complete the active session and mark its task as completed.

With --auto the session is recorded as finished by the timer and the task
stays in progress.`,
		Args: cobra.MaximumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := sessionArg(cmd, args, a)
			if err != nil {
				return err
			}
			res, err := a.manager.Complete(cmd.Context(), id, a.user.ID, auto)
			if err != nil {
				return userError(err)
			}
			printCompleted(cmd.OutOrStdout(), res)
			printWarning(cmd, res.Warning)
			return nil
		}),
	}
	cmd.Flags().BoolVar(&auto, "auto", false, "Record the completion as driven by the timer")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [session-id]",
		Short: "Cancel the active session",
		Args:  cobra.MaximumNArgs(1),
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			id, err := sessionArg(cmd, args, a)
			if err != nil {
				return err
			}
			res, err := a.manager.Reset(cmd.Context(), id, a.user.ID)
			if err != nil {
				return userError(err)
			}
			printReset(cmd.OutOrStdout(), res)
			printWarning(cmd, res.Warning)
			return nil
		}),
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var history int
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show your live session",
		RunE: opts.withApp(func(cmd *cobra.Command, args []string, a *app) error {
			out := cmd.OutOrStdout()
			s, err := a.manager.ActiveFor(cmd.Context(), a.user.ID)
			switch {
			case errors.Is(err, timer.ErrNotFoundOrInvalidState):
				fmt.Fprintln(out, "No live session")
			case err != nil:
				return err
			default:
				printStatus(out, s, time.Now())
			}

			if history > 0 {
				return printHistory(cmd, a, history)
			}
			return nil
		}),
	}
	cmd.Flags().IntVar(&history, "history", 0, "Also list the N most recent sessions (local store only)")
	return cmd
}

// sessionArg returns the given session id or, without one, the caller's live
// session
func sessionArg(cmd *cobra.Command, args []string, a *app) (string, error) {
	if len(args) == 1 {
		return strings.TrimSpace(args[0]), nil
	}
	s, err := a.manager.ActiveFor(cmd.Context(), a.user.ID)
	if err != nil {
		if errors.Is(err, timer.ErrNotFoundOrInvalidState) {
			return "", &exitError{code: exitRejected, err: errors.New("no live session")}
		}
		return "", err
	}
	return s.ID, nil
}

// userError gives rejected and invalid requests their own exit status
func userError(err error) error {
	var verr *timer.ValidationError
	var dup *timer.DuplicateActiveSessionError
	switch {
	case errors.As(err, &dup):
		return &exitError{code: exitRejected, err: fmt.Errorf("you already have a live session: %s", dup.SessionID)}
	case errors.As(err, &verr):
		return &exitError{code: exitInvalid, err: err}
	case errors.Is(err, timer.ErrNotFoundOrInvalidState):
		return &exitError{code: exitRejected, err: err}
	default:
		return err
	}
}

// printWarning reports record store failures after a successful transition
func printWarning(cmd *cobra.Command, warning error) {
	if warning == nil {
		return
	}
	for _, line := range strings.Split(warning.Error(), "\n") {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", line)
	}
}

func printCompleted(out io.Writer, res timer.CompleteResult) {
	fmt.Fprintf(out, "✅ Completed session %s\n", res.SessionID)
	fmt.Fprintf(out, "Session duration: %s\n", formatMinutes(res.TotalMinutes))
}

func printReset(out io.Writer, res timer.ResetResult) {
	fmt.Fprintf(out, "⏹️  Reset session %s\n", res.SessionID)
	fmt.Fprintf(out, "Time credited: %s\n", formatMinutes(res.CreditedMinutes))
}

func printStatus(out io.Writer, s timer.Session, now time.Time) {
	fmt.Fprintf(out, "⏱️  %s session %s on %s: %s\n", s.Status, s.ID, s.TaskID, s.TaskName)
	fmt.Fprintf(out, "Type: %s\n", s.SessionType)
	fmt.Fprintf(out, "Started at: %s\n", s.StartTime.Local().Format("15:04:05"))
	fmt.Fprintf(out, "Elapsed time: %s\n", formatMinutes(s.ElapsedMinutes(now)))
}

func printHistory(cmd *cobra.Command, a *app, limit int) error {
	out := cmd.OutOrStdout()
	if a.history == nil {
		fmt.Fprintln(out, "Session history is only kept for the sqlite store")
		return nil
	}
	sessions, err := a.history.SessionsForUser(cmd.Context(), a.user.ID, limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nRecent sessions:")
	for _, s := range sessions {
		fmt.Fprintf(out, "  %s  %-10s %-9s %s  %s\n",
			s.StartedAt.Local().Format("2006-01-02 15:04"), s.TaskID, s.Status, formatMinutes(s.DurationMinutes), s.SessionType)
	}
	return nil
}

// formatMinutes formats minutes in a human-readable way
func formatMinutes(m float64) string {
	d := time.Duration(m * float64(time.Minute))
	if d.Hours() >= 1 {
		return fmt.Sprintf("%.1fh", d.Hours())
	} else if d.Minutes() >= 1 {
		return fmt.Sprintf("%.0fm", d.Minutes())
	} else {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
}
