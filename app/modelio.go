package app

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"

	"github.com/SigmoidFreud/spaCy/alg/transition"
	"github.com/SigmoidFreud/spaCy/nlp/parser/dependency/model"
	deptrans "github.com/SigmoidFreud/spaCy/nlp/parser/dependency/transition"
	"github.com/SigmoidFreud/spaCy/util"
)

func newSystem(name string, labels *util.EnumSet) (transition.System, error) {
	switch name {
	case "arceager":
		return deptrans.NewArcEager(labels), nil
	case "arcstandard":
		return deptrans.NewArcStandard(labels), nil
	default:
		return nil, fmt.Errorf("unknown transition system %q", name)
	}
}

// modelBlob bundles the scorer weights with the action table they were
// trained against; both are opaque to the engines.
type modelBlob struct {
	System string
	Labels []string
	Model  []byte
}

func saveModel(path, system string, labels *util.EnumSet, m *model.Linear) error {
	weights, err := m.Save()
	if err != nil {
		return err
	}
	names := make([]string, labels.Len())
	for i := range names {
		names[i] = labels.ValueOf(i)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(modelBlob{System: system, Labels: names, Model: weights}); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

func loadModel(path string) (*model.Linear, *util.EnumSet, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, "", err
	}
	var blob modelBlob
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&blob); err != nil {
		return nil, nil, "", fmt.Errorf("decoding model %s: %w", path, err)
	}
	labels := util.NewEnumSet(len(blob.Labels))
	for _, name := range blob.Labels {
		labels.Add(name)
	}
	m, err := model.Load(blob.Model)
	if err != nil {
		return nil, nil, "", fmt.Errorf("decoding weights in %s: %w", path, err)
	}
	return m, labels, blob.System, nil
}

// corpusLabels enumerates the relations of a gold corpus, append-only in
// order of first appearance.
func corpusLabels(corpus []corpusSentence, labels *util.EnumSet) {
	for _, cs := range corpus {
		for _, rel := range cs.GoldLabels {
			labels.Add(string(rel))
		}
	}
}
