package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nerrad567/probebench/internal/plugin"
)

func newScanCmd(configPath *string) *cobra.Command {
	var initialize bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan every loaded driver once and print the result as JSON",
		Long: `Run the composite device scan across all loaded drivers. A failing
driver is reported in the per-driver status map and does not stop the
others. With --initialize every discovered device is then initialized and
the initialization report is printed too. Devices are closed before exit.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runScan(cmd.Context(), *configPath, initialize, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&initialize, "initialize", false, "initialize every discovered device")
	return cmd
}

func runScan(ctx context.Context, configPath string, initialize bool, out io.Writer) error {
	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}
	a, err := bootstrap(ctx, cfg, quietLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()
	defer a.console.CleanupAll(context.WithoutCancel(ctx))

	result := map[string]any{
		"plugins": a.report,
		"scan":    a.console.ScanAllDevices(ctx),
	}
	if initialize {
		result["initialize"] = a.console.InitializeAll(ctx)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func newDriversCmd(configPath *string) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "drivers",
		Short: "List loaded drivers and their commands",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDrivers(cmd.Context(), *configPath, format, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "table", "output format (table, json)")
	return cmd
}

func runDrivers(ctx context.Context, configPath, format string, out io.Writer) error {
	if format != "table" && format != "json" {
		return fmt.Errorf("unsupported format %q (use table or json)", format)
	}

	cfg, err := loadConfig(configPath, true)
	if err != nil {
		return err
	}
	a, err := bootstrap(ctx, cfg, quietLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	descriptors := make([]plugin.Descriptor, 0)
	for _, name := range a.console.ListDrivers() {
		d, err := a.console.Describe(name)
		if err != nil {
			continue
		}
		descriptors = append(descriptors, d)
	}

	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"drivers": descriptors,
			"failed":  a.report.Failed,
		})
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tFACTORY\tSOURCE\tSTATE\tCOMMANDS")
	for _, d := range descriptors {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", d.Name, d.Factory, d.Source, d.State, commandList(d.Commands))
	}
	for _, f := range a.report.Failed {
		fmt.Fprintf(w, "%s\t-\tmanifest\tfailed\t%v\n", f.Name, f.Err)
	}
	return w.Flush()
}

func commandList(commands map[string]string) string {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ",")
}
