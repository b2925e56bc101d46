package app

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	deptrans "github.com/SigmoidFreud/spaCy/nlp/parser/dependency/transition"
	nlp "github.com/SigmoidFreud/spaCy/nlp/types"
	"github.com/SigmoidFreud/spaCy/util"
)

// corpusSentence is one read sentence with optional gold columns.
type corpusSentence struct {
	Sent       nlp.Sentence
	GoldHeads  []int
	GoldLabels []nlp.DepRel
	HasGold    bool
}

// readCorpus parses a tab-separated corpus: FORM, POS, and optionally
// 1-based HEAD (0 for root) and DEPREL columns; sentences are separated
// by blank lines.
func readCorpus(path string) ([]corpusSentence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var (
		corpus  []corpusSentence
		current corpusSentence
	)
	flush := func() {
		if len(current.Sent) > 0 {
			corpus = append(corpus, current)
		}
		current = corpusSentence{HasGold: true}
	}
	current.HasGold = true
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		fields := strings.Split(line, "\t")
		if len(fields) < 2 {
			return nil, fmt.Errorf("line %d: want at least FORM and POS, got %q", lineNum, line)
		}
		current.Sent = append(current.Sent, nlp.Token{Word: fields[0], POS: fields[1]})
		if len(fields) >= 4 {
			head, err := strconv.Atoi(fields[2])
			if err != nil {
				return nil, fmt.Errorf("line %d: bad head %q: %w", lineNum, fields[2], err)
			}
			current.GoldHeads = append(current.GoldHeads, head-1)
			current.GoldLabels = append(current.GoldLabels, nlp.DepRel(fields[3]))
		} else {
			current.HasGold = false
		}
	}
	flush()
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return corpus, nil
}

// writeParse emits a parsed sentence in the corpus format, heads
// translated back to 1-based with 0 for root.
func writeParse(w io.Writer, sent nlp.Sentence, state *deptrans.State, labels *util.EnumSet) {
	heads := state.Heads()
	rels := state.Labels()
	for i, tok := range sent {
		head := heads[i] + 1
		label := string(nlp.RootLabel)
		if heads[i] >= 0 && rels[i] >= 0 {
			label = labels.ValueOf(rels[i])
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", tok.Word, tok.POS, head, label)
	}
	fmt.Fprintln(w)
}
