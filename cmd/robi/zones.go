package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/scrypster/robi/internal/zones"
	"github.com/scrypster/robi/pkg/types"
)

// withGraph opens the configured store for the duration of fn.
func withGraph(opts *rootOptions, fn func(*zones.Graph) error) error {
	cfg, err := opts.loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()
	return fn(zones.NewGraph(store))
}

func newZonesCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zones",
		Short: "Inspect and edit the home map",
	}
	cmd.AddCommand(
		newZonesListCmd(opts),
		newZonesAddCmd(opts),
		newZonesLinkCmd(opts),
		newZonesCurrentCmd(opts),
		newZonesPathCmd(opts),
	)
	return cmd
}

func newZonesListCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every zone",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withGraph(opts, func(g *zones.Graph) error {
				all, err := g.ListAll(cmd.Context())
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tACCESSIBLE\tCURRENT")
				for _, z := range all {
					current := ""
					if z.CurrentRobot {
						current = "*"
					}
					fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", z.ID, z.Name, z.Category, z.Accessible, current)
				}
				return w.Flush()
			})
		},
	}
}

func newZonesAddCmd(opts *rootOptions) *cobra.Command {
	var category, description string
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a zone (no-op if it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(opts, func(g *zones.Graph) error {
				z, created, err := g.GetOrCreate(cmd.Context(), args[0], category, description)
				if err != nil {
					return err
				}
				verb := "exists"
				if created {
					verb = "created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s zone %d %s (%s)\n", verb, z.ID, z.Name, z.Category)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "unknown", "Zone category (kitchen, living, bedroom, bathroom, unknown)")
	cmd.Flags().StringVar(&description, "description", "", "Free-text description")
	return cmd
}

func newZonesLinkCmd(opts *rootOptions) *cobra.Command {
	var hint string
	var distance int
	cmd := &cobra.Command{
		Use:   "link <from> <to>",
		Short: "Add a directed path between two zones",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(opts, func(g *zones.Graph) error {
				ctx := cmd.Context()
				from, _, err := g.GetOrCreate(ctx, args[0], "", "")
				if err != nil {
					return err
				}
				to, _, err := g.GetOrCreate(ctx, args[1], "", "")
				if err != nil {
					return err
				}
				var dist *int
				if cmd.Flags().Changed("distance") {
					dist = &distance
				}
				e, err := g.AddEdge(ctx, from.ID, to.ID, hint, dist)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "linked %s -> %s (edge %d)\n", from.Name, to.Name, e.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&hint, "hint", "", "Direction hint, e.g. \"through the door on the left\"")
	cmd.Flags().IntVar(&distance, "distance", 0, "Distance in centimetres")
	return cmd
}

func newZonesCurrentCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "current [name]",
		Short: "Show or set the robot's current zone",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(opts, func(g *zones.Graph) error {
				ctx := cmd.Context()
				if len(args) == 1 {
					z, _, err := g.GetOrCreate(ctx, args[0], "", "")
					if err != nil {
						return err
					}
					if _, err := g.SetCurrentZone(ctx, z.ID); err != nil {
						return err
					}
				}
				z, err := g.CurrentZone(ctx)
				if err != nil {
					return err
				}
				if z == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "no current zone")
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "current zone: %s\n", z.Name)
				return nil
			})
		},
	}
}

func newZonesPathCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "path <from> <to>",
		Short: "Print the fewest-hop route between two zones",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withGraph(opts, func(g *zones.Graph) error {
				ctx := cmd.Context()
				path, err := g.FindPath(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if len(path) == 0 {
					fmt.Fprintf(cmd.OutOrStdout(), "no path from %s to %s\n", args[0], args[1])
					return nil
				}
				all, err := g.ListAll(ctx)
				if err != nil {
					return err
				}
				return printPath(cmd.OutOrStdout(), path, zoneNames(all))
			})
		},
	}
}

func zoneNames(all []*types.Zone) map[int64]string {
	names := make(map[int64]string, len(all))
	for _, z := range all {
		names[z.ID] = z.Name
	}
	return names
}

func printPath(out io.Writer, path []*types.ZoneEdge, names map[int64]string) error {
	if len(path) == 0 {
		return errors.New("empty path")
	}
	for i, e := range path {
		line := fmt.Sprintf("%d. %s -> %s", i+1, names[e.FromZoneID], names[e.ToZoneID])
		if e.DirectionHint != "" {
			line += " (" + e.DirectionHint + ")"
		}
		if e.DistanceCm != nil {
			line += fmt.Sprintf(" %dcm", *e.DistanceCm)
		}
		if _, err := fmt.Fprintln(out, line); err != nil {
			return err
		}
	}
	return nil
}
