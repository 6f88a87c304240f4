package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	perrors "github.com/p-blackswan/studyplan/internal/errors"
	"github.com/p-blackswan/studyplan/internal/plan"
	"github.com/p-blackswan/studyplan/internal/studyplan"
)

var statusMarks = map[plan.Status]string{
	plan.StatusDone:       "[x]",
	plan.StatusInProgress: "[~]",
	plan.StatusNotStarted: "[ ]",
}

func newNewCommand(a *app) *cobra.Command {
	var motivation string
	cmd := &cobra.Command{
		Use:   "new <topic>",
		Short: "Create a study plan for a topic",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Create(cmd.Context(), strings.Join(args, " "), motivation)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Created %s (%d units)\n", res.Project.Title, res.Project.UnitCount())
			fmt.Fprintf(out, "  id:  %s\n", res.Project.ID)
			fmt.Fprintf(out, "  dir: %s\n", res.Dir)
			printNotes(out, res.Notes)
			return nil
		},
	}
	cmd.Flags().StringVarP(&motivation, "motivation", "m", "", "Why you want to learn this; shapes the plan")
	return cmd
}

func newPlanCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "plan <project>",
		Short: "Show a project's units and progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := a.svc.ShowPlan(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			p := view.Project
			fmt.Fprintf(out, "%s  (%d/%d complete)\n", p.Title, view.Completed(), p.UnitCount())
			if p.Purpose != "" {
				fmt.Fprintf(out, "Purpose: %s\n", p.Purpose)
			}
			for _, u := range p.Units {
				fmt.Fprintf(out, "  %s %2d. %s\n", statusMarks[u.Status], u.Index, u.Title)
			}
			printNotes(out, view.Notes)
			return nil
		},
	}
}

func newUnitCommand(a *app) *cobra.Command {
	var opts studyplan.UnitOptions
	cmd := &cobra.Command{
		Use:   "unit <project> <n>",
		Short: "Show a unit, or update it with --done, --start, --note or --refine",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			view, err := a.svc.ShowUnit(cmd.Context(), args[0], index, opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			u := view.Unit
			fmt.Fprintf(out, "Unit %d: %s  %s\n", u.Index, u.Title, statusMarks[u.Status])
			if u.Objective != "" {
				fmt.Fprintf(out, "Objective: %s\n", u.Objective)
			}
			if len(u.Resources) > 0 {
				fmt.Fprintln(out, "Resources:")
				for _, r := range u.Resources {
					fmt.Fprintf(out, "  - [%s] %s <%s>\n", r.Type, r.Title, r.URL)
				}
			}
			if len(u.Tasks) > 0 {
				fmt.Fprintln(out, "Tasks:")
				for _, t := range u.Tasks {
					fmt.Fprintf(out, "  - [%s] %s\n", t.Type, t.Title)
				}
			}
			if note := view.State.Note(u.Index); note != "" {
				fmt.Fprintf(out, "Notes: %s\n", note)
			}
			if view.Refined {
				fmt.Fprintln(out, "Refined; the previous version is kept for rollback.")
			}
			fmt.Fprintf(out, "File: %s\n", view.Path)
			printNotes(out, view.Notes)
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.MarkDone, "done", false, "Mark the unit complete")
	cmd.Flags().BoolVar(&opts.Start, "start", false, "Make this the current unit")
	cmd.Flags().StringVar(&opts.Note, "note", "", "Store a note for the unit")
	cmd.Flags().StringVar(&opts.RefineFeedback, "refine", "", "Regenerate the unit's content with this feedback")
	return cmd
}

func newSyncCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync <project>",
		Short: "Re-render every file from project.json and state.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := a.svc.Sync(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Synced %s (%d/%d complete)\n",
				res.Project.Title, len(res.State.CompletedUnits), res.Project.UnitCount())
			printNotes(out, res.Notes)
			return nil
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "history <project> <n>",
		Short: "List the refinement snapshots of a unit",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			snaps, err := a.svc.History(cmd.Context(), args[0], index)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(snaps) == 0 {
				fmt.Fprintf(out, "Unit %d has not been refined.\n", index)
				return nil
			}
			for _, s := range snaps {
				fmt.Fprintf(out, "%s  %s  %q (was %q)\n",
					s.Timestamp.Format("2006-01-02 15:04:05"), shortID(s.ID), s.Feedback, s.PreviousUnit.Title)
			}
			return nil
		},
	}
}

func newRollbackCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rollback <project> <n>",
		Short: "Restore a unit to the version before its last refinement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			res, err := a.svc.Rollback(cmd.Context(), args[0], index)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unit %d restored: %s\n", index, res.Unit.Title)
			return nil
		},
	}
}

func newListCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List projects, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.svc.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintf(out, "No projects under %s\n", a.svc.Root())
				return nil
			}
			for _, e := range entries {
				fmt.Fprintf(out, "%-40s  %2d units  %s  %s\n",
					e.ID, e.UnitCount, e.CreatedAt.Format("2006-01-02"), e.Title)
			}
			return nil
		},
	}
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, perrors.Validationf("unit number %q is not an integer", s)
	}
	return n, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func printNotes(w io.Writer, notes []string) {
	for _, n := range notes {
		fmt.Fprintf(w, "note: %s\n", n)
	}
}
