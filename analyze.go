package examparse

import (
	"fmt"
	"sort"

	"github.com/brunobiangulo/examparse/attribution"
	"github.com/brunobiangulo/examparse/exam"
	"github.com/brunobiangulo/examparse/statemachine"
	"github.com/brunobiangulo/examparse/validate"
)

// Analysis is the outcome of the structural pass over one fragment sequence.
type Analysis struct {
	// Blocks is the input in order_index order.
	Blocks    []exam.ContentBlock
	Questions []*exam.ParsedQuestion
	Preamble  []exam.ContentBlock
	Report    exam.ValidationReport
}

// Analyze runs the whole structural pass with no I/O: ordering check, state
// machine, attribution, anomaly evaluation and the validation report.
// Blocks must carry order indices; use exam.Sequence first for raw
// extractor output.
func Analyze(blocks []exam.ContentBlock, cfg attribution.Config) Analysis {
	ordered, docAnomalies := orderBlocks(blocks)
	res := statemachine.Parse(ordered, cfg)
	return Analysis{
		Blocks:    ordered,
		Questions: res.Questions,
		Preamble:  res.Preamble,
		Report:    validate.Document(res.Questions, ordered, docAnomalies),
	}
}

// orderBlocks restores order_index order and reports the correction as a
// document-level anomaly.
func orderBlocks(blocks []exam.ContentBlock) ([]exam.ContentBlock, []exam.Anomaly) {
	ordered, corrected := exam.EnsureOrdered(blocks)
	if !corrected {
		return ordered, nil
	}
	return ordered, []exam.Anomaly{exam.NewAnomaly(exam.AnomalyOrderCorrected,
		fmt.Sprintf("%d fragments arrived out of order_index order and were re-sorted", len(blocks)))}
}

// Revalidate rebuilds the validation report of a stored result. Without the
// original fragment list it falls back to the fragments the questions
// themselves hold, which loses the preamble and any raw-only anchors
// outside them. Lines split from one fragment share its order_index there,
// so that list is sorted but not checked for order.
func Revalidate(res *Result, blocks []exam.ContentBlock) exam.ValidationReport {
	if blocks == nil {
		for _, q := range res.Questions {
			blocks = append(blocks, q.Fragments()...)
		}
		sort.SliceStable(blocks, func(i, j int) bool { return blocks[i].OrderIndex < blocks[j].OrderIndex })
		return validate.Document(res.Questions, blocks, nil)
	}
	ordered, docAnomalies := orderBlocks(blocks)
	return validate.Document(res.Questions, ordered, docAnomalies)
}
