package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MiltronBee/leave-engine/allocation"
	"github.com/MiltronBee/leave-engine/generic"
)

// =============================================================================
// CALENDAR AND ENTITLEMENT
// =============================================================================

func resolveCmd(g *globals) *cobra.Command {
	var (
		from, to string
		employee string
	)
	cmd := &cobra.Command{
		Use:   "resolve GROUP",
		Short: "Print a group's rotation calendar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			start, err := generic.ParseDate(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			end := start.AddDays(6)
			if to != "" {
				if end, err = generic.ParseDate(to); err != nil {
					return fmt.Errorf("--to: %w", err)
				}
			}

			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			group, err := s.store.GetGroup(ctx, generic.GroupID(args[0]))
			if err != nil {
				return err
			}
			if group == nil {
				return generic.NotFound("group", args[0])
			}
			days, err := s.engine.Resolver.Calendar(ctx, generic.EmployeeID(employee), *group, generic.Period{Start: start, End: end})
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "DATE\tDAY\tWEEK\tACTIVITY\tSHIFT\tNOTE")
			for _, d := range days {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
					d.Date.Key(), d.Date.Weekday().String()[:3], d.WeekIndex, d.Activity, d.Shift, d.Note)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&from, "from", time.Now().Format(generic.DateLayout), "First day (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "Last day (default from + 6 days)")
	cmd.Flags().StringVar(&employee, "employee", "", "Overlay this employee's approved leave")
	return cmd
}

func entitlementCmd(g *globals) *cobra.Command {
	var years int
	cmd := &cobra.Command{
		Use:   "entitlement",
		Short: "Look up the entitlement band for a seniority",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			band, err := s.engine.Table.Lookup(years)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), band.Snapshot(years))
		},
	}
	cmd.Flags().IntVar(&years, "years", 0, "Completed years of service")
	_ = cmd.MarkFlagRequired("years")
	return cmd
}

// =============================================================================
// PROGRAM OPERATIONS
// =============================================================================

func ensureProgramCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-program",
		Short: "Create next year's Pending program unless one is open",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := g.open(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()

			p, created, err := s.engine.Programs.EnsureNextYear(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.ErrOrStderr(), "created program %s for %d\n", p.ID, p.Year)
			}
			return printJSON(cmd.OutOrStdout(), p)
		},
	}
}

func planCmd(g *globals) *cobra.Command {
	var (
		programID string
		simulate  bool
		employees []string
	)
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Auto-assign days for a program",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.programID(cmd, programID)
			if err != nil {
				return err
			}
			opts := allocation.PlanOptions{Simulate: simulate}
			for _, e := range employees {
				opts.EmployeeIDs = append(opts.EmployeeIDs, generic.EmployeeID(e))
			}
			summary, err := s.engine.Planner.PlanProgram(ctx, id, opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&programID, "program", "", "Program id (default current program)")
	cmd.Flags().BoolVar(&simulate, "simulate", false, "Compute outcomes without storing them")
	cmd.Flags().StringSliceVar(&employees, "employee", nil, "Restrict to these employees")
	return cmd
}

func escalateCmd(g *globals) *cobra.Command {
	var (
		programID string
		at        string
	)
	cmd := &cobra.Command{
		Use:   "escalate",
		Short: "Close expired blocks and move unresponsive employees to overflow",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			now := time.Now()
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at: %w", err)
				}
				if t.After(now) {
					return generic.Invalid("at", "must not be in the future")
				}
				now = t
			}

			s, err := g.open(ctx)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.programID(cmd, programID)
			if err != nil {
				return err
			}
			summary, err := s.engine.Scheduler.EscalateExpired(ctx, id, now)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), summary)
		},
	}
	cmd.Flags().StringVar(&programID, "program", "", "Program id (default current program)")
	cmd.Flags().StringVar(&at, "at", "", "Evaluate deadlines at this RFC 3339 time (default now)")
	return cmd
}

// programID returns id, or the current program's when id is empty.
func (s *session) programID(cmd *cobra.Command, id string) (generic.ProgramID, error) {
	if id != "" {
		return generic.ProgramID(id), nil
	}
	p, err := s.engine.Programs.Current(cmd.Context())
	if err != nil {
		return "", err
	}
	return p.ID, nil
}
