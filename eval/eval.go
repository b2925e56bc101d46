// Package eval scores predicted dependency structures against gold
// annotation.
package eval

// Attachment accumulates unlabeled and labeled attachment counts over
// any number of sentences. The zero value is ready to use.
type Attachment struct {
	Tokens       int
	HeadsCorrect int
	ArcsCorrect  int
}

// Add scores one sentence. heads and labels are the predicted governor
// and relation id per token, goldHeads and goldLabels the reference; a
// head of -1 marks a root and its label is not compared.
func (a *Attachment) Add(heads, labels, goldHeads, goldLabels []int) {
	for i := range goldHeads {
		a.Tokens++
		if heads[i] != goldHeads[i] {
			continue
		}
		a.HeadsCorrect++
		if heads[i] < 0 || labels[i] == goldLabels[i] {
			a.ArcsCorrect++
		}
	}
}

// UAS is the unlabeled attachment score: the share of tokens whose
// governor is correct.
func (a *Attachment) UAS() float64 {
	if a.Tokens == 0 {
		return 0
	}
	return float64(a.HeadsCorrect) / float64(a.Tokens)
}

// LAS is the labeled attachment score: governor and relation both
// correct.
func (a *Attachment) LAS() float64 {
	if a.Tokens == 0 {
		return 0
	}
	return float64(a.ArcsCorrect) / float64(a.Tokens)
}

func Precision(truePositives, testPositives int) float64 {
	if testPositives == 0 {
		return 0
	}
	return float64(truePositives) / float64(testPositives)
}

func Recall(truePositives, conditionPositives int) float64 {
	if conditionPositives == 0 {
		return 0
	}
	return float64(truePositives) / float64(conditionPositives)
}

func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2.0 * (precision * recall) / (precision + recall)
}
