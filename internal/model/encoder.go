package model

// LabelEncoder maps categorical string values to the integer codes the
// classifiers were trained on. Codes are the index of the value in the
// ordered class list.
type LabelEncoder struct {
	classes []string
	index   map[string]int
}

// NewLabelEncoder builds an encoder from an ordered class list.
func NewLabelEncoder(classes []string) *LabelEncoder {
	idx := make(map[string]int, len(classes))
	for i, c := range classes {
		idx[c] = i
	}
	return &LabelEncoder{classes: append([]string(nil), classes...), index: idx}
}

// Encode returns the code for a value. An unseen value silently falls back
// to the first known class; that is the trained model's contract, not an
// error surfaced to the caller.
func (e *LabelEncoder) Encode(value string) float64 {
	if code, ok := e.index[value]; ok {
		return float64(code)
	}
	return 0
}

// Classes returns the ordered class list.
func (e *LabelEncoder) Classes() []string {
	return append([]string(nil), e.classes...)
}
