package app

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/search"
	"github.com/SigmoidFreud/spaCy/eval"
	"github.com/SigmoidFreud/spaCy/nlp/parser/dependency/model"
	deptrans "github.com/SigmoidFreud/spaCy/nlp/parser/dependency/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

var (
	parseModelPath  string
	parseOutputPath string
)

var parseCmd = &cobra.Command{
	Use:   "parse <corpus>",
	Short: "Parse a corpus with a trained model",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().StringVar(&parseModelPath, "model", "", "trained model file")
	parseCmd.Flags().StringVar(&parseOutputPath, "output", "", "output file (default stdout)")
	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	corpus, err := readCorpus(args[0])
	if err != nil {
		return err
	}
	if len(corpus) == 0 {
		return fmt.Errorf("empty corpus %s", args[0])
	}

	var (
		m          *model.Linear
		labels     *util.EnumSet
		systemName = cfg.System
	)
	if parseModelPath != "" {
		m, labels, systemName, err = loadModel(parseModelPath)
		if err != nil {
			return err
		}
	} else {
		// untrained fallback, useful only for plumbing checks
		labels = util.NewEnumSet(8)
		corpusLabels(corpus, labels)
		if labels.Len() == 0 {
			labels.Add("dep")
		}
		logger.Warn("no model given, parsing with random weights")
	}
	system, err := newSystem(systemName, labels)
	if err != nil {
		return err
	}
	if m == nil {
		m = model.NewLinear(deptrans.ContextWidth, cfg.EmbedDim, system.Transitions().Len(), cfg.Seed)
	}
	if m.Classes != system.Transitions().Len() {
		return fmt.Errorf("model has %d classes but %s with %d labels has %d",
			m.Classes, system.Name(), labels.Len(), system.Transitions().Len())
	}

	out := os.Stdout
	if parseOutputPath != "" {
		f, err := os.Create(parseOutputPath)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	w := bufio.NewWriter(out)
	defer w.Flush()

	proj, scorer := m.Folded()
	embed := model.HashEmbed{Dim: cfg.EmbedDim}.EmbedFunc()
	var scored eval.Attachment

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(corpus)
	}
	for start := 0; start < len(corpus); start += batchSize {
		end := min(start+batchSize, len(corpus))
		batch := corpus[start:end]
		inputs := make([]interface{}, len(batch))
		lengths := make([]int, len(batch))
		for i, cs := range batch {
			inputs[i] = cs.Sent
			lengths[i] = len(cs.Sent)
		}
		cache := features.Build(cmd.Context(), inputs, lengths, embed, proj, cfg.Workers)

		states := make([]*deptrans.State, len(batch))
		if cfg.BeamWidth <= 1 {
			engine := &search.Greedy{System: system, Scorer: scorer, Workers: cfg.Workers, Log: logger}
			parsed, err := engine.ParseBatch(cmd.Context(), inputs, cache)
			if err != nil {
				return err
			}
			for i, c := range parsed {
				states[i] = c.(*deptrans.State)
			}
		} else {
			engine := &search.Engine{
				System:  system,
				Scorer:  scorer,
				Width:   cfg.BeamWidth,
				Density: float32(cfg.BeamDensity),
				Log:     logger,
			}
			beams, err := engine.ParseBatch(cmd.Context(), inputs, cache, nil)
			if err != nil {
				return err
			}
			for i, beam := range beams {
				states[i] = beam.Best().State.(*deptrans.State)
			}
		}
		for i, cs := range batch {
			writeParse(w, cs.Sent, states[i], labels)
			if cs.HasGold {
				scored.Add(states[i].Heads(), states[i].Labels(), cs.GoldHeads, goldLabelIDs(cs.GoldLabels, labels))
			}
		}
	}
	if scored.Tokens > 0 {
		logger.Info("attachment accuracy",
			"tokens", scored.Tokens,
			"uas", fmt.Sprintf("%.4f", scored.UAS()),
			"las", fmt.Sprintf("%.4f", scored.LAS()))
	}
	return nil
}

// goldLabelIDs resolves gold relation names against the model's label
// set; relations the model never saw resolve to -1 and can only score
// as label mismatches.
func goldLabelIDs(names []nlp.DepRel, labels *util.EnumSet) []int {
	ids := make([]int, len(names))
	for i, name := range names {
		if id, exists := labels.IndexOf(string(name)); exists {
			ids[i] = id
		} else {
			ids[i] = -1
		}
	}
	return ids
}
