package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mcoot/pxcanvas/internal/api/response"
	"github.com/mcoot/pxcanvas/internal/model"
)

func newPlaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "place <x> <y> <color>",
		Short: "Place a cell",
		Long: `Place one cell on the canvas. Color is a hex RGB value such as #FF8800.

A placement made while on cooldown is reported with the time left; it is
not an error.`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := parseCoordArgs(args[0], args[1])
			if err != nil {
				return err
			}

			result, err := api.Place(cmd.Context(), coord, args[2])
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(*result)
			return nil
		},
	}
}

func parseCoordArgs(xs, ys string) (model.Coord, error) {
	x, err := strconv.Atoi(xs)
	if err != nil {
		return model.Coord{}, fmt.Errorf("invalid x %q", xs)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return model.Coord{}, fmt.Errorf("invalid y %q", ys)
	}
	return model.Coord{X: x, Y: y}, nil
}

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show placement cooldown status",
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := api.Status(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(*result)
			return nil
		},
	}
}

func newPaletteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "palette",
		Short: "Saved palette commands",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show your saved palette",
		RunE: func(cmd *cobra.Command, args []string) error {
			colors, err := api.Palette(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(response.Palette{Colors: colors})
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <color>...",
		Short: "Replace your saved palette",
		RunE: func(cmd *cobra.Command, args []string) error {
			colors, err := api.SavePalette(cmd.Context(), args)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(response.Palette{Colors: colors})
			return nil
		},
	})

	return cmd
}

func newCanvasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "canvas",
		Short: "Read the canvas",
	}

	var grid bool
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Show the full canvas",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap, err := api.Snapshot(cmd.Context())
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(canvasView{Canvas: response.CanvasFromModel(snap), grid: grid})
			return nil
		},
	}
	snapshotCmd.Flags().BoolVar(&grid, "grid", false, "Draw the canvas as a character grid")
	cmd.AddCommand(snapshotCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "cell <x> <y>",
		Short: "Show one cell",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := parseCoordArgs(args[0], args[1])
			if err != nil {
				return err
			}

			cell, err := api.Cell(cmd.Context(), coord)
			if err != nil {
				return err
			}

			out := NewOutput(cfg.Output, cmd.OutOrStdout())
			out.Print(response.CellFromModel(*cell))
			return nil
		},
	})

	return cmd
}
