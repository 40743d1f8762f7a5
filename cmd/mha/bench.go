package main

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"gomha/pkg/model/attention"
)

func newBenchCmd(opts *options) *cobra.Command {
	var iterations int
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Time repeated forward passes on random inputs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if iterations <= 0 {
				return errors.Errorf("--iterations must be positive, got %d", iterations)
			}
			cfg, err := opts.resolveConfig(cmd)
			if err != nil {
				return err
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

			bar := progressbar.NewOptions(iterations,
				progressbar.OptionSetDescription("forward"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowIts(),
				progressbar.OptionSetItsString("passes"),
				progressbar.OptionSetTheme(progressbar.ThemeUnicode),
			)

			var elapsed time.Duration
			for i := 0; i < iterations; i++ {
				start := time.Now()
				if _, err := m.Forward(in.Query, in.Key, in.Value, in.Mask); err != nil {
					return errors.WithMessagef(err, "iteration %d", i)
				}
				elapsed += time.Since(start)
				_ = bar.Add(1)
			}
			_ = bar.Finish()
			klog.V(1).Infof("benchmark finished: iterations=%d total=%s", iterations, elapsed)

			fmt.Fprintf(cmd.OutOrStdout(), "\n%d passes of %s x %s, heads=%d: %s per pass\n",
				iterations, in.Query.ShapeString(), in.Key.ShapeString(), cfg.NumHeads,
				elapsed/time.Duration(iterations))
			return nil
		},
	}
	cmd.Flags().IntVar(&iterations, "iterations", 100, "Number of forward passes")
	return cmd
}
