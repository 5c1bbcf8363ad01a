// Package reasoning implements the fuzzy logic reasoner used to validate
// and enrich NPC dialogue.
//
// Facts carry a [LogicalValue] (truth, confidence, relevance) rather than a
// boolean. Rules are Horn-style: a list of premise formulas and a single
// atomic conclusion. [Reasoner.ForwardChain] derives new facts up to a fixed
// point or an iteration cap, [Reasoner.BackwardChain] proves a goal within
// a depth budget, and [Reasoner.NeuralInfer] falls back on entity embedding
// similarity when neither applies.
//
// Inference is bounded and heuristic; it is not a theorem prover.
package reasoning

import "fmt"

// DefaultThreshold is the truth value at or above which a value is
// considered true.
const DefaultThreshold = 0.5

// LogicalValue is a fuzzy truth value.
type LogicalValue struct {
	// Truth is the degree of truth in [0,1].
	Truth float64
	// Confidence is how much the value can be trusted, in [0,1].
	Confidence float64
	// Relevance is the contextual weight of the value, in [0,1].
	Relevance float64
}

// Value returns a LogicalValue with the given truth and full confidence and
// relevance.
func Value(truth float64) LogicalValue {
	return LogicalValue{Truth: truth, Confidence: 1, Relevance: 1}
}

// Unknown is the value reported when nothing is known about a query.
var Unknown = LogicalValue{Truth: 0, Confidence: 0, Relevance: 1}

// And is fuzzy conjunction: minimum truth, product of confidences, mean
// relevance.
func (v LogicalValue) And(o LogicalValue) LogicalValue {
	return LogicalValue{
		Truth:      min(v.Truth, o.Truth),
		Confidence: v.Confidence * o.Confidence,
		Relevance:  (v.Relevance + o.Relevance) / 2,
	}
}

// Or is fuzzy disjunction: maximum truth, maximum confidence, mean
// relevance.
func (v LogicalValue) Or(o LogicalValue) LogicalValue {
	return LogicalValue{
		Truth:      max(v.Truth, o.Truth),
		Confidence: max(v.Confidence, o.Confidence),
		Relevance:  (v.Relevance + o.Relevance) / 2,
	}
}

// Not is fuzzy negation. Confidence and relevance are unchanged.
func (v LogicalValue) Not() LogicalValue {
	v.Truth = 1 - v.Truth
	return v
}

// IsTrue reports whether Truth ≥ threshold.
func (v LogicalValue) IsTrue(threshold float64) bool { return v.Truth >= threshold }

// IsFalse reports whether Truth < threshold.
func (v LogicalValue) IsFalse(threshold float64) bool { return v.Truth < threshold }

// String implements fmt.Stringer.
func (v LogicalValue) String() string {
	return fmt.Sprintf("Truth: %.3g, Confidence: %.3g", v.Truth, v.Confidence)
}

func clamp01(x float64) float64 {
	return min(max(x, 0), 1)
}
