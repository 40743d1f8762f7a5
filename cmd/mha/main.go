// Command mha runs a multi-head attention block on random inputs and prints
// the shapes, parameters and attention weights it produces.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"gomha/pkg/model/attention"
)

// options holds the flags shared by every subcommand.
type options struct {
	configPath string
	cfg        attention.Config

	batch    int
	queryLen int
	keyLen   int
	causal   bool
	training bool
}

func newRootCmd() *cobra.Command {
	opts := &options{cfg: attention.DefaultConfig()}

	root := &cobra.Command{
		Use:           "mha",
		Short:         "Multi-head scaled dot-product attention playground",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "YAML file with num_heads, model_dim, dropout_rate, seed and half_precision")
	flags.IntVar(&opts.cfg.NumHeads, "heads", opts.cfg.NumHeads, "Number of attention heads")
	flags.IntVar(&opts.cfg.ModelDim, "dim", opts.cfg.ModelDim, "Model dimension, divisible by --heads")
	flags.Float32Var(&opts.cfg.DropoutRate, "dropout", opts.cfg.DropoutRate, "Dropout rate on the attention weights")
	flags.Int64Var(&opts.cfg.Seed, "seed", opts.cfg.Seed, "Seed for parameters, inputs and dropout")
	flags.BoolVar(&opts.cfg.HalfPrecision, "half", opts.cfg.HalfPrecision, "Round parameters to binary16 precision")
	flags.IntVar(&opts.batch, "batch", 2, "Batch size")
	flags.IntVar(&opts.queryLen, "query-len", 10, "Query sequence length")
	flags.IntVar(&opts.keyLen, "key-len", 10, "Key/value sequence length")
	flags.BoolVar(&opts.causal, "causal", false, "Apply a causal mask (requires --query-len == --key-len)")
	flags.BoolVar(&opts.training, "training", false, "Run in training mode (dropout enabled)")

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	flags.AddGoFlagSet(klogFlags)

	root.AddCommand(
		newRunCmd(opts),
		newParamsCmd(opts),
		newBenchCmd(opts),
	)
	return root
}

// resolveConfig merges the --config file with the flags explicitly set on the command line.
func (o *options) resolveConfig(cmd *cobra.Command) (attention.Config, error) {
	if o.configPath == "" {
		return o.cfg, o.cfg.Validate()
	}

	cfg, err := attention.LoadConfig(o.configPath)
	if err != nil {
		return cfg, err
	}
	flags := cmd.Flags()
	if flags.Changed("heads") {
		cfg.NumHeads = o.cfg.NumHeads
	}
	if flags.Changed("dim") {
		cfg.ModelDim = o.cfg.ModelDim
	}
	if flags.Changed("dropout") {
		cfg.DropoutRate = o.cfg.DropoutRate
	}
	if flags.Changed("seed") {
		cfg.Seed = o.cfg.Seed
	}
	if flags.Changed("half") {
		cfg.HalfPrecision = o.cfg.HalfPrecision
	}
	return cfg, cfg.Validate()
}

func main() {
	defer klog.Flush()
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
