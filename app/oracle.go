package app

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/SigmoidFreud/spaCy/alg/transition"
	deptrans "github.com/SigmoidFreud/spaCy/nlp/parser/dependency/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

var oracleCmd = &cobra.Command{
	Use:   "oracle <gold corpus>",
	Short: "Print the oracle action sequence of every gold sentence",
	Args:  cobra.ExactArgs(1),
	RunE:  runOracle,
}

func init() {
	rootCmd.AddCommand(oracleCmd)
}

func runOracle(cmd *cobra.Command, args []string) error {
	corpus, err := readCorpus(args[0])
	if err != nil {
		return err
	}
	labels := util.NewEnumSet(32)
	corpusLabels(corpus, labels)
	system, err := newSystem(cfg.System, labels)
	if err != nil {
		return err
	}
	actions := system.Transitions()

	w := bufio.NewWriter(os.Stdout)
	defer w.Flush()
	var unreachable int
	for i, cs := range corpus {
		if !cs.HasGold {
			continue
		}
		gold := nlp.NewGold(cs.GoldHeads, nlp.EnumLabels(cs.GoldLabels, labels))
		sequence, err := system.OracleSequence(cs.Sent, gold)
		if errors.Is(err, transition.ErrOracleUnreachable) {
			unreachable++
			logger.Warn("gold unreachable", "sentence", i+1, "tokens", len(cs.Sent))
			continue
		}
		if err != nil {
			return err
		}
		names := make([]string, len(sequence))
		for n, id := range sequence {
			names[n] = actionName(actions.Get(id), labels)
		}
		fmt.Fprintf(w, "%d\t%s\n", i+1, strings.Join(names, " "))
	}
	if unreachable > 0 {
		logger.Info("unreachable sentences", "count", unreachable, "total", len(corpus))
	}
	return nil
}

func actionName(t transition.Transition, labels *util.EnumSet) string {
	var kind string
	switch t.Kind {
	case deptrans.Shift:
		kind = "SHIFT"
	case deptrans.Reduce:
		kind = "REDUCE"
	case deptrans.Left:
		kind = "LEFT-ARC"
	case deptrans.Right:
		kind = "RIGHT-ARC"
	default:
		kind = string(t.Kind)
	}
	if t.Label == transition.NoLabel {
		return kind
	}
	return kind + ":" + labels.ValueOf(t.Label)
}
