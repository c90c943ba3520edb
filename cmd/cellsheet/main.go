package main

import (
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"

	"github.com/crhntr/cellsheet"
)

func main() {
	var verbosity int

	rootCmd := &cobra.Command{
		Use:   "cellsheet",
		Short: "Work with cellsheet workbook files",
		Long: `Cellsheet stores a grid of cell text, evaluates cell expressions on
demand, and tracks dependencies between cells so edits only recompute
what changed.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			commonlog.Configure(verbosity, nil)
		},
	}
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbose", "v", 0, "log verbosity")

	serveCmd := &cobra.Command{
		Use:   "serve [workbook-file]",
		Short: "Serve a workbook over HTTP",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "listen address (overrides cellsheet.toml)")
	serveCmd.Flags().Bool("safe", false, "show raw cell text without evaluating cells (sheet scripts in the file are still applied at load)")

	getCmd := &cobra.Command{
		Use:   "get workbook-file label",
		Short: "Evaluate one cell and print its display text",
		Args:  cobra.ExactArgs(2),
		RunE:  runGet,
	}
	getCmd.Flags().Int("sheet", 0, "sheet index")

	setCmd := &cobra.Command{
		Use:   "set workbook-file label text",
		Short: "Set one cell's text and save the workbook",
		Args:  cobra.ExactArgs(3),
		RunE:  runSet,
	}
	setCmd.Flags().Int("sheet", 0, "sheet index")

	recalcCmd := &cobra.Command{
		Use:   "recalc workbook-file",
		Short: "Re-evaluate every cell with text and report errors",
		Args:  cobra.ExactArgs(1),
		RunE:  runRecalc,
	}

	rootCmd.AddCommand(serveCmd, getCmd, setCmd, recalcCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := cellsheet.LoadConfig(".")
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	var wb *cellsheet.Workbook
	if len(args) == 1 {
		wb, err = cellsheet.Open(args[0])
		if err != nil {
			return err
		}
	} else {
		wb, err = cfg.NewWorkbook()
		if err != nil {
			return err
		}
	}
	if safe, _ := cmd.Flags().GetBool("safe"); safe {
		wb.SetSafeMode(true)
	}
	server := cellsheet.NewServer(wb)
	fmt.Printf("serving on http://%s\n", cfg.Server.Addr)
	return http.ListenAndServe(cfg.Server.Addr, server.Routes())
}

func runGet(cmd *cobra.Command, args []string) error {
	wb, err := cellsheet.Open(args[0])
	if err != nil {
		return err
	}
	row, col, err := cellsheet.Coord(args[1])
	if err != nil {
		return err
	}
	sheet, _ := cmd.Flags().GetInt("sheet")
	k := cellsheet.Address{Row: row, Col: col, Sheet: sheet}
	v := wb.Value(cmd.Context(), k)
	fmt.Println(cellsheet.Display(v))
	if tip := cellsheet.Tooltip(v); tip != "" {
		commonlog.GetLogger("cellsheet.cli").Infof("%s: %s", k.Label(), tip)
	}
	return nil
}

func runSet(cmd *cobra.Command, args []string) error {
	wb, err := cellsheet.Open(args[0])
	if err != nil {
		return err
	}
	row, col, err := cellsheet.Coord(args[1])
	if err != nil {
		return err
	}
	sheet, _ := cmd.Flags().GetInt("sheet")
	k := cellsheet.Address{Row: row, Col: col, Sheet: sheet}
	if err := wb.SetText(k, args[2]); err != nil {
		return err
	}
	return wb.Save(args[0])
}

func runRecalc(cmd *cobra.Command, args []string) error {
	wb, err := cellsheet.Open(args[0])
	if err != nil {
		return err
	}
	count := wb.RecalcAll(cmd.Context())
	fmt.Printf("evaluated %d cells\n", count)
	var failures int
	rows, cols, sheets := wb.Shape()
	for s := 0; s < sheets; s++ {
		for r := 1; r <= rows; r++ {
			for c := 1; c <= cols; c++ {
				k := cellsheet.Address{Row: r, Col: c, Sheet: s}
				if v, isErr := wb.Value(cmd.Context(), k).(cellsheet.ErrorValue); isErr {
					failures++
					fmt.Printf("%s %s: %s\n", k.Label(), v.Kind, v.Detail)
				}
			}
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d cells failed to evaluate", failures)
	}
	return wb.Save(args[0])
}
