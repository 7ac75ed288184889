package pageindex

import "unicode"

// EstimateTokens approximates how many model tokens text costs: about 1.3
// per word plus one for every two punctuation marks. It is used for
// logging and budgeting only, never for correctness.
func EstimateTokens(text string) int {
	words, punct := 0, 0
	inWord := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			inWord = false
			continue
		}
		if !inWord {
			words++
			inWord = true
		}
		if unicode.IsPunct(r) {
			punct++
		}
	}
	return words*13/10 + punct/2
}
