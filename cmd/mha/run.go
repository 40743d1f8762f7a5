package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"gomha/pkg/model/attention"
	"gomha/pkg/tensor"
)

// inputSeedOffset keeps the input stream apart from the parameter and dropout streams.
const inputSeedOffset = 1 << 32

func newRunCmd(opts *options) *cobra.Command {
	var head int
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one forward pass on random inputs and print the attention weights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
			}
			if head < 0 || head >= cfg.NumHeads {
				return errors.Errorf("--head must be in [0, %d), got %d", cfg.NumHeads, head)
			}

			m, err := attention.New(cfg)
			if err != nil {
				return err
			}
			m.SetTraining(opts.training)

			in, err := opts.inputs(cfg)
			if err != nil {
				return err
			}
			output, err := m.Forward(in.Query, in.Key, in.Value, in.Mask)
			if err != nil {
				return err
			}
			weights := m.AttentionWeights()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "query:   %s\n", in.Query.ShapeString())
			fmt.Fprintf(out, "key:     %s\n", in.Key.ShapeString())
			fmt.Fprintf(out, "value:   %s\n", in.Value.ShapeString())
			fmt.Fprintf(out, "output:  %s\n", output.ShapeString())
			fmt.Fprintf(out, "weights: %s\n", weights.ShapeString())
			fmt.Fprintf(out, "\nattention weights, batch 0, head %d:\n", head)
			printWeights(out, weights, head)
			return nil
		},
	}
	cmd.Flags().IntVar(&head, "head", 0, "Head whose weights are printed")
	return cmd
}

// inputs draws standard normal query, key and value tensors from the configured seed.
func (o *options) inputs(cfg attention.Config) (attention.Inputs, error) {
	if o.batch <= 0 || o.queryLen <= 0 || o.keyLen <= 0 {
		return attention.Inputs{}, errors.Errorf("--batch, --query-len and --key-len must be positive, got %d, %d and %d",
			o.batch, o.queryLen, o.keyLen)
	}

	dist := distuv.Normal{Mu: 0, Sigma: 1, Src: rand.NewSource(uint64(cfg.Seed) + inputSeedOffset)}
	normal := func(shape ...int) *tensor.Tensor {
		t := tensor.NewTensor(shape)
		for i := range t.Data {
			t.Data[i] = float32(dist.Rand())
		}
		return t
	}

	in := attention.Inputs{
		Query: normal(o.batch, o.queryLen, cfg.ModelDim),
		Key:   normal(o.batch, o.keyLen, cfg.ModelDim),
		Value: normal(o.batch, o.keyLen, cfg.ModelDim),
	}
	if o.causal {
		if o.queryLen != o.keyLen {
			return in, errors.Errorf("--causal requires --query-len == --key-len, got %d and %d", o.queryLen, o.keyLen)
		}
		in.Mask = attention.CausalMask(o.queryLen)
	}
	return in, nil
}

// printWeights renders weights[0, head] as a query by key table.
func printWeights(w io.Writer, weights *tensor.Tensor, head int) {
	queryLen, keyLen := weights.Shape[2], weights.Shape[3]

	header := []string{"Q\\K"}
	for j := 0; j < keyLen; j++ {
		header = append(header, strconv.Itoa(j))
	}

	var data [][]string
	for i := 0; i < queryLen; i++ {
		row := []string{strconv.Itoa(i)}
		for j := 0; j < keyLen; j++ {
			row = append(row, strconv.FormatFloat(float64(weights.Get(0, head, i, j)), 'f', 3, 32))
		}
		data = append(data, row)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)
	table.SetAlignment(tablewriter.ALIGN_RIGHT)
	table.SetBorder(false)
	table.AppendBulk(data)
	table.Render()
}
