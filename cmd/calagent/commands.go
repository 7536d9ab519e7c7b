package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"calagent/internal/assistant"
	"calagent/internal/calerr"
	appLog "calagent/internal/log"
	"calagent/internal/refresh"
	"calagent/internal/web"
)

// warmupDays is how far ahead the refresh job lists.
const warmupDays = 7

func newServeCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the cache refresh job",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := loadApp(ctx, flags)
			if err != nil {
				return err
			}
			sched, err := newRefresher(a)
			if err != nil {
				return err
			}
			appLog.Info("calagent starting", "version", version, "listen", a.cfg.Listen)

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return web.NewServer(a.svc, a.cfg).Run(gctx)
			})
			if sched != nil {
				g.Go(func() error {
					_ = sched.RunOnce(gctx)
					return sched.Run(gctx)
				})
			}

			err = g.Wait()
			appLog.Info("calagent exiting")
			return err
		},
	}
	cmd.Flags().StringVar(&flags.listen, "listen", "", "HTTP listen address (overrides config if set)")
	return cmd
}

// newRefresher builds the cache warm-up job, or nil when it is disabled.
func newRefresher(a *app) (*refresh.Scheduler, error) {
	if a.cfg.RefreshCron == "" {
		return nil, nil
	}
	return refresh.New(a.cfg.RefreshCron, a.svc.Location(), refresh.Warmup(a.svc, warmupDays))
}

// intervalFlags binds the flags that describe one event time.
type intervalFlags struct {
	start    string
	end      string
	duration int
	date     string
	endDate  string
}

func (f *intervalFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "Start time, 'YYYY-MM-DD HH:MM'")
	cmd.Flags().StringVar(&f.end, "end", "", "End time, 'YYYY-MM-DD HH:MM'")
	cmd.Flags().IntVar(&f.duration, "duration", 0, "Length in minutes (instead of --end)")
	cmd.Flags().StringVar(&f.date, "date", "", "All-day date, 'YYYY-MM-DD'")
	cmd.Flags().StringVar(&f.endDate, "end-date", "", "Last all-day date, inclusive")
}

func (f *intervalFlags) input() assistant.IntervalInput {
	return assistant.IntervalInput{
		Start:    f.start,
		End:      f.end,
		Duration: time.Duration(f.duration) * time.Minute,
		Date:     f.date,
		EndDate:  f.endDate,
	}
}

// recurrenceFlags keeps "not given" apart from zero for --count.
type recurrenceFlags struct {
	frequency string
	count     int
}

func (f *recurrenceFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.frequency, "frequency", "", "Repeat daily, weekly or monthly")
	cmd.Flags().IntVar(&f.count, "count", 0, "Number of occurrences (required with --frequency)")
}

func (f *recurrenceFlags) countPtr(cmd *cobra.Command) *int {
	if !cmd.Flags().Changed("count") {
		return nil
	}
	n := f.count
	return &n
}

func newEventsCmd(flags *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "events", Short: "List or create events"}
	cmd.AddCommand(newEventsListCmd(flags), newEventsCreateCmd(flags))
	return cmd
}

func newEventsListCmd(flags *rootFlags) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "Show the agenda for one or more days",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			first := a.svc.Now()
			if from != "" {
				if first, err = assistant.ParseDate(from, a.svc.Location()); err != nil {
					return err
				}
			}
			last := first
			if to != "" {
				if last, err = assistant.ParseDate(to, a.svc.Location()); err != nil {
					return err
				}
			}

			start, end := a.svc.DayWindow(first, last)
			agenda, err := a.svc.ListEvents(cmd.Context(), start, end)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), strings.TrimRight(assistant.FormatAgenda(agenda), "\n"))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "First day, 'YYYY-MM-DD' (default today)")
	cmd.Flags().StringVar(&to, "to", "", "Last day, inclusive (default --from)")
	return cmd
}

func newEventsCreateCmd(flags *rootFlags) *cobra.Command {
	var (
		req      assistant.CreateRequest
		when     intervalFlags
		rec      recurrenceFlags
		flexFrom string
		flexTo   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an event at a fixed time or in the first free slot",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			if when.start != "" || when.end != "" || when.date != "" || when.endDate != "" {
				iv, err := a.svc.ResolveInterval(when.input())
				if err != nil {
					return err
				}
				req.Fixed = &iv
			}
			if flexFrom != "" || flexTo != "" {
				from, until, err := a.svc.Window(flexFrom, flexTo)
				if err != nil {
					return err
				}
				req.Flexible = &assistant.Flexible{Duration: time.Duration(when.duration) * time.Minute, From: from, Until: until}
			}
			req.Frequency, req.Count = rec.frequency, rec.countPtr(cmd)

			res, err := a.svc.CreateEvent(cmd.Context(), req)
			if err != nil {
				return userError(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.DescribeCreate(res))
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&req.Title, "title", "", "Event title")
	f.StringVar(&req.Description, "description", "", "Event description")
	f.StringVar(&req.Location, "location", "", "Event location")
	f.StringSliceVar(&req.Attendees, "attendee", nil, "Attendee email (repeatable)")
	f.BoolVar(&req.AllowConflicts, "allow-conflicts", false, "Create even when the time overlaps other events")
	f.StringVar(&flexFrom, "flex-from", "", "Earliest start for a flexible event")
	f.StringVar(&flexTo, "flex-until", "", "Latest end for a flexible event")
	when.bind(cmd)
	rec.bind(cmd)
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func newConflictsCmd(flags *rootFlags) *cobra.Command {
	var when intervalFlags
	cmd := &cobra.Command{
		Use:   "conflicts",
		Short: "List events that overlap a proposed time",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			iv, err := a.svc.ResolveInterval(when.input())
			if err != nil {
				return err
			}
			conflicts, err := a.svc.CheckConflicts(cmd.Context(), iv)
			if err != nil {
				return userError(err)
			}

			out := cmd.OutOrStdout()
			if len(conflicts) == 0 {
				fmt.Fprintf(out, "No conflicts for %s-%s.\n", iv.Start.Format(assistant.InputLayout), iv.End.Format("15:04"))
				return nil
			}
			fmt.Fprintf(out, "%d conflicting event(s):\n", len(conflicts))
			for _, c := range conflicts {
				fmt.Fprintf(out, "• %s-%s: %s\n", c.Start().Format(assistant.InputLayout), c.End().Format("15:04"), c.DisplayTitle())
			}
			return nil
		},
	}
	when.bind(cmd)
	return cmd
}

func newSlotCmd(flags *rootFlags) *cobra.Command {
	var (
		duration    int
		from, until string
		gap         int
	)
	cmd := &cobra.Command{
		Use:   "slot",
		Short: "Find the first free slot in a window",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			start, end, err := a.svc.Window(from, until)
			if err != nil {
				return err
			}
			q := assistant.SlotQuery{Duration: time.Duration(duration) * time.Minute, From: start, Until: end}
			if cmd.Flags().Changed("gap") {
				g := time.Duration(gap) * time.Minute
				q.MinGap = &g
			}

			res, err := a.svc.FindSlot(cmd.Context(), q)
			if err != nil {
				return userError(err)
			}
			if !res.Found {
				fmt.Fprintln(cmd.OutOrStdout(), "No free slot in that window.")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "First free slot: %s-%s\n", res.Slot.Start.Format(assistant.InputLayout), res.Slot.End.Format("15:04"))
			return nil
		},
	}
	cmd.Flags().IntVar(&duration, "duration", 0, "Length in minutes (default from config)")
	cmd.Flags().StringVar(&from, "from", "", "Window start, 'YYYY-MM-DD HH:MM'")
	cmd.Flags().StringVar(&until, "until", "", "Window end, 'YYYY-MM-DD HH:MM'")
	cmd.Flags().IntVar(&gap, "gap", 0, "Minutes kept clear around busy events (default from config)")
	return cmd
}

func newRecurCmd(flags *rootFlags) *cobra.Command {
	var (
		when intervalFlags
		rec  recurrenceFlags
	)
	cmd := &cobra.Command{
		Use:   "recur",
		Short: "Preview the occurrences of a repeating event",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			base, err := a.svc.ResolveInterval(when.input())
			if err != nil {
				return err
			}
			occ, rule, err := a.svc.PreviewRecurrence(base, rec.frequency, rec.countPtr(cmd))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if rule != "" {
				fmt.Fprintln(out, "RRULE:"+rule)
			}
			for i, iv := range occ {
				if iv.IsAllDay() {
					fmt.Fprintf(out, "%d. %s (all day)\n", i+1, iv.Start.Format("Mon 2006-01-02"))
					continue
				}
				fmt.Fprintf(out, "%d. %s %s-%s\n", i+1, iv.Start.Format("Mon 2006-01-02"), iv.Start.Format("15:04"), iv.End.Format("15:04"))
			}
			return nil
		},
	}
	when.bind(cmd)
	rec.bind(cmd)
	return cmd
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	var req assistant.DeletionRequest
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Search for an event to delete, or delete a confirmed id",
		Long: `delete runs in two steps. First search by keywords:

  calagent delete --search "team meeting"

then delete the id the search showed, with explicit confirmation:

  calagent delete --id <event-id> --confirm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			res, err := a.svc.Delete(cmd.Context(), req)
			if res.State == assistant.StateIdle && err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.DescribeDeletion(res))
			if err != nil {
				return errReported
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&req.Search, "search", "", "Keywords to find the event")
	cmd.Flags().StringVar(&req.EventID, "id", "", "Event id to delete")
	cmd.Flags().BoolVar(&req.Confirm, "confirm", false, "Confirm deletion of --id")
	cmd.Flags().StringSliceVar(&req.PriorCandidates, "candidates", nil, "Ids the previous search showed")
	return cmd
}

func newNowCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "now",
		Short: "Print the current date, time and weekday in the configured zone",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), flags)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), assistant.DescribeNow(a.svc.Now()))
			return nil
		},
	}
}

// userError keeps validation text and hides store internals behind the
// user-facing message; the cause is logged.
func userError(err error) error {
	if errors.Is(err, calerr.ErrValidation) || errors.Is(err, context.Canceled) {
		return err
	}
	appLog.Error("command failed", err)
	return errors.New(calerr.UserMessage(err))
}
