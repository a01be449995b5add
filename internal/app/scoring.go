package app

import (
	"math"

	"crowdlabel-service/internal/domain"
)

// ScoreRule computes the score awarded for one accepted submission. The rule
// is owned by the ledger store: every implementation applies it inside
// AppendSubmission and nothing else recomputes scores.
type ScoreRule func(domain.SubmissionRecord) int

// FlatScoreRule awards one point per accepted submission.
func FlatScoreRule(domain.SubmissionRecord) int { return 1 }

// ConfidenceWeightedScoreRule awards round(confidence*10) points, minimum 1,
// so low-confidence answers still count.
func ConfidenceWeightedScoreRule(rec domain.SubmissionRecord) int {
	points := int(math.Round(rec.Confidence * 10))
	if points < 1 {
		points = 1
	}
	return points
}

// ScoreRuleByName maps a config value to a rule. Unknown names fall back to flat.
func ScoreRuleByName(name string) ScoreRule {
	if name == "confidence" {
		return ConfidenceWeightedScoreRule
	}
	return FlatScoreRule
}
