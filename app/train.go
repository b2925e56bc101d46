package app

import (
	"fmt"
	"math/rand"

	"github.com/spf13/cobra"

	"github.com/SigmoidFreud/spaCy/alg/features"
	"github.com/SigmoidFreud/spaCy/alg/train"
	"github.com/SigmoidFreud/spaCy/nlp/parser/dependency/model"
	deptrans "github.com/SigmoidFreud/spaCy/nlp/parser/dependency/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

var trainModelPath string

var trainCmd = &cobra.Command{
	Use:   "train <gold corpus>",
	Short: "Train a model on a gold-annotated corpus",
	Args:  cobra.ExactArgs(1),
	RunE:  runTrain,
}

func init() {
	trainCmd.Flags().StringVar(&trainModelPath, "model", "model.gob", "output model file")
	rootCmd.AddCommand(trainCmd)
}

func runTrain(cmd *cobra.Command, args []string) error {
	corpus, err := readCorpus(args[0])
	if err != nil {
		return err
	}
	var annotated []corpusSentence
	for _, cs := range corpus {
		if cs.HasGold {
			annotated = append(annotated, cs)
		}
	}
	if len(annotated) == 0 {
		return fmt.Errorf("no gold-annotated sentences in %s", args[0])
	}
	if dropped := len(corpus) - len(annotated); dropped > 0 {
		logger.Warn("dropping unannotated sentences", "count", dropped)
	}

	labels := util.NewEnumSet(32)
	corpusLabels(annotated, labels)
	system, err := newSystem(cfg.System, labels)
	if err != nil {
		return err
	}

	examples := make([]train.Example, len(annotated))
	for i, cs := range annotated {
		examples[i] = train.Example{
			Input:  cs.Sent,
			Length: len(cs.Sent),
			Gold:   nlp.NewGold(cs.GoldHeads, nlp.EnumLabels(cs.GoldLabels, labels)),
		}
	}

	m := model.NewLinear(deptrans.ContextWidth, cfg.EmbedDim, system.Transitions().Len(), cfg.Seed)
	trainer := &train.Trainer{System: system, Scorer: m, Log: logger}
	embed := model.HashEmbed{Dim: cfg.EmbedDim}.EmbedFunc()
	proj := m.Projector()
	rng := rand.New(rand.NewSource(cfg.Seed))

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(examples)
	}
	for epoch := 1; epoch <= cfg.Epochs; epoch++ {
		rng.Shuffle(len(examples), func(i, j int) {
			examples[i], examples[j] = examples[j], examples[i]
		})
		var (
			epochLoss    float64
			epochStates  int
			epochSkipped int
		)
		for start := 0; start < len(examples); start += batchSize {
			end := min(start+batchSize, len(examples))
			batch := examples[start:end]
			inputs := make([]interface{}, len(batch))
			lengths := make([]int, len(batch))
			for i, ex := range batch {
				inputs[i] = ex.Input
				lengths[i] = ex.Length
			}
			cache := features.Build(cmd.Context(), inputs, lengths, embed, proj, cfg.Workers)
			result, err := trainer.TrainBatch(cmd.Context(), batch, cache)
			if err != nil {
				return err
			}
			m.Update(float32(cfg.LearnRate))
			epochLoss += result.Loss
			epochStates += result.States
			epochSkipped += result.Skipped
		}
		logger.Info("epoch done",
			"epoch", epoch,
			"loss", fmt.Sprintf("%.4f", epochLoss),
			"states", epochStates,
			"skipped", epochSkipped)
	}

	if err := saveModel(trainModelPath, cfg.System, labels, m); err != nil {
		return err
	}
	logger.Info("model saved", "path", trainModelPath, "classes", system.Transitions().Len())
	return nil
}
