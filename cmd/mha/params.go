package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"gomha/pkg/model/attention"
)

func newParamsCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "params",
		Short: "List the parameters of the configured block",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			m, err := attention.New(cfg)
			if err != nil {
				return err
			}

			var data [][]string
			for _, p := range m.Parameters() {
				data = append(data, []string{p.Name, p.Value.ShapeString(), humanize.Comma(int64(p.Value.Size()))})
			}

			out := cmd.OutOrStdout()
			table := tablewriter.NewWriter(out)
			table.SetHeader([]string{"NAME", "SHAPE", "COUNT"})
			table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
			table.SetAlignment(tablewriter.ALIGN_LEFT)
			table.SetHeaderLine(false)
			table.SetBorder(false)
			table.SetNoWhiteSpace(true)
			table.SetTablePadding("    ")
			table.AppendBulk(data)
			table.Render()

			total := m.NumParams()
			fmt.Fprintf(out, "\n%s parameters (%s as float32), heads=%d head_dim=%d\n",
				humanize.Comma(int64(total)), humanize.Bytes(uint64(total)*4), m.NumHeads, m.HeadDim)
			if cfg.HalfPrecision {
				fmt.Fprintln(out, "parameters rounded to binary16 precision")
			}
			return nil
		},
	}
}
