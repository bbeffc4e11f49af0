package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/trendfire/trendfire/pkg/export"
	"github.com/trendfire/trendfire/pkg/stores"
)

const (
	formatText = "text"
	formatJSON = "json"
	formatYAML = "yaml"
)

func addOutputFlag(cmd *cobra.Command, target *string, def string) {
	cmd.Flags().StringVarP(target, "output", "o", def, "output format: text, json or yaml")
}

// writeOutput renders v as JSON or YAML, or through text for the text
// format.
func writeOutput(w io.Writer, format string, v interface{}, text func(io.Writer) error) error {
	switch format {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	case formatText:
		if text == nil {
			return fmt.Errorf("text output is not supported here")
		}
		return text(w)
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func writeExportTasks(w io.Writer, tasks []export.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PRODUCT\tDESTINATION\tTARGET\tOPERATION\tSTATE")
	for _, t := range tasks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", t.Product, t.Destination, t.Target, t.Operation, t.State)
	}
	return tw.Flush()
}

func writeLedgerTasks(w io.Writer, tasks []*stores.Task) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN\tPRODUCT\tDESTINATION\tTARGET\tSTATE\tSUBMITTED\tERROR")
	for _, t := range tasks {
		var msg string
		if t.Error != nil {
			msg = *t.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			shortID(t.RunID), t.Product, t.Destination, t.Target, t.State,
			t.SubmittedAt.Format("2006-01-02 15:04:05"), msg)
	}
	return tw.Flush()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
