package runner

import (
	"encoding/json"
	"fmt"

	"github.com/mtzanidakis/juror/internal/evaluator"
	"github.com/mtzanidakis/juror/internal/store"
)

// Results rebuilds the output records of a run from the store, in input
// order. Failed items are left out, as they are from the output file.
func Results(st *store.Store, runID string) ([]evaluator.Result, error) {
	rows, err := st.GetItemResults(runID, true)
	if err != nil {
		return nil, err
	}
	results := make([]evaluator.Result, 0, len(rows))
	for _, row := range rows {
		var res evaluator.Result
		if err := json.Unmarshal(row.Result, &res); err != nil {
			return nil, fmt.Errorf("decode result of item %d: %w", row.Index, err)
		}
		results = append(results, res)
	}
	return results, nil
}
