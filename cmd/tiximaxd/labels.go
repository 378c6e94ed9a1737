package main

import (
	"fmt"
	"math/rand/v2"
	"os"

	"github.com/spf13/cobra"

	"tiximax/config"
	"tiximax/labels"
)

var (
	labelCount  int
	labelHTML   string
	labelUnique bool
	labelSeed   uint64
)

// labelsCmd generates a batch offline and optionally renders its sheet.
var labelsCmd = &cobra.Command{
	Use:   "labels",
	Short: "Generate a label batch without the server",
	Long: `Generate a batch of label codes and print them one per line.

With --html the batch is also rendered as a printable sheet with
every label in scope.`,
	RunE: runLabels,
}

func init() {
	labelsCmd.Flags().IntVarP(&labelCount, "count", "n", 0, "number of labels (default: labels.batch_size from config)")
	labelsCmd.Flags().StringVar(&labelHTML, "html", "", "write the sheet to this file")
	labelsCmd.Flags().BoolVar(&labelUnique, "unique", false, "no repeated codes within the batch")
	labelsCmd.Flags().Uint64Var(&labelSeed, "seed", 0, "seed for reproducible batches (0: random)")
}

func runLabels(cmd *cobra.Command, args []string) error {
	count := labelCount
	unique := labelUnique
	if count == 0 || !cmd.Flags().Changed("unique") {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if count == 0 {
			count = cfg.Labels.BatchSize
		}
		if !cmd.Flags().Changed("unique") {
			unique = cfg.Labels.Unique
		}
	}
	if count < 0 || count > labels.MaxBatch {
		return labels.ErrInvalidBatchSize
	}

	var src rand.Source
	if labelSeed != 0 {
		src = rand.NewPCG(labelSeed, labelSeed)
	}
	codes := labels.NewGenerator(src, unique).GenerateBatch(count)

	out := cmd.OutOrStdout()
	for _, c := range codes {
		fmt.Fprintln(out, c)
	}
	if labelHTML == "" {
		return nil
	}

	sheet := make([]labels.Label, len(codes))
	for i, c := range codes {
		sheet[i] = labels.Label{Index: i, Code: c, Visible: true}
	}
	f, err := os.Create(labelHTML)
	if err != nil {
		return err
	}
	if err := labels.RenderSheet(f, "Labels", labels.AllScope, sheet); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
