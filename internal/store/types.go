package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cwbudde/axialfit/internal/document"
)

// Kind tells single-start and multi-start documents apart.
type Kind string

const (
	KindSingle Kind = "single"
	KindGlobal Kind = "global"
)

// Record is a stored result document. Exactly one of Single and Global is
// set. Only the document itself is written to disk, so a file produced by
// any other tool that emits the same JSON fields loads as well.
type Record struct {
	ID      string
	Created time.Time // modification time of document.json when loaded
	Single  *document.Single
	Global  *document.Global
}

// Kind returns the kind of the held document.
func (r *Record) Kind() Kind {
	if r.Global != nil {
		return KindGlobal
	}
	return KindSingle
}

// MarshalJSON writes the held document.
func (r *Record) MarshalJSON() ([]byte, error) {
	if r.Global != nil {
		return json.Marshal(r.Global)
	}
	return json.Marshal(r.Single)
}

// UnmarshalJSON decides the document kind from its "global" field.
func (r *Record) UnmarshalJSON(data []byte) error {
	var head struct {
		Global bool `json:"global"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	if head.Global {
		r.Single, r.Global = nil, &document.Global{}
		return json.Unmarshal(data, r.Global)
	}
	r.Single, r.Global = &document.Single{}, nil
	return json.Unmarshal(data, r.Single)
}

// RecordInfo summarizes a stored document without its histories.
type RecordInfo struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	Created      time.Time `json:"created"`
	Terms        []string  `json:"terms"`
	Iterations   int       `json:"nit"`
	Evaluations  int       `json:"nfev"`
	Starts       int       `json:"nrandomstart"`
	CostFinal    float64   `json:"cost_final"`
	RRMSWFEFinal *float64  `json:"rrmswfe_final,omitempty"`
}

// Info converts a full Record to RecordInfo.
func (r *Record) Info() RecordInfo {
	info := RecordInfo{ID: r.ID, Kind: r.Kind(), Created: r.Created}
	var h document.Header
	if r.Global != nil {
		h = r.Global.Header
		info.Iterations, info.Evaluations = r.Global.NIt, r.Global.NFev
		info.Starts = r.Global.NRandomStart
		info.CostFinal, info.RRMSWFEFinal = r.Global.CostFinal, r.Global.RRMSWFEFinal
	} else if r.Single != nil {
		h = r.Single.Header
		info.Iterations, info.Evaluations = r.Single.NIt, r.Single.NFev
		info.CostFinal, info.RRMSWFEFinal = r.Single.CostFinal, r.Single.RRMSWFEFinal
	}
	for i := range len(h.Codex) {
		info.Terms = append(info.Terms, h.Codex[i])
	}
	return info
}

// Validate checks that the record holds one consistent document.
func (r *Record) Validate() error {
	if r.ID == "" {
		return &ValidationError{Field: "ID", Reason: "cannot be empty"}
	}
	switch {
	case r.Single == nil && r.Global == nil:
		return &ValidationError{Field: "Document", Reason: "cannot be nil"}
	case r.Single != nil && r.Global != nil:
		return &ValidationError{Field: "Document", Reason: "holds both a single and a global document"}
	}

	if r.Single != nil {
		d := r.Single
		if d.Global {
			return &ValidationError{Field: "global", Reason: "must be false for a single-start document"}
		}
		if err := checkHistory("", len(d.ResultIter), len(d.CostIter), d.RRMSWFEIter); err != nil {
			return err
		}
		return checkCounts(d.NIt, d.NFev, len(d.Codex), len(d.ResultFinal))
	}

	d := r.Global
	if !d.Global {
		return &ValidationError{Field: "global", Reason: "must be true for a multi-start document"}
	}
	if len(d.CostIter) == 0 {
		return &ValidationError{Field: "cost_iter", Reason: "cannot be empty"}
	}
	if len(d.ResultIter) != len(d.CostIter) {
		return &ValidationError{Field: "result_iter", Reason: fmt.Sprintf("has %d starts, cost_iter has %d", len(d.ResultIter), len(d.CostIter))}
	}
	if d.RRMSWFEIter != nil && len(d.RRMSWFEIter) != len(d.CostIter) {
		return &ValidationError{Field: "rrmswfe_iter", Reason: fmt.Sprintf("has %d starts, cost_iter has %d", len(d.RRMSWFEIter), len(d.CostIter))}
	}
	for i := range d.CostIter {
		var rr []float64
		if d.RRMSWFEIter != nil {
			rr = d.RRMSWFEIter[i]
		}
		if err := checkHistory(fmt.Sprintf("start %d ", i), len(d.ResultIter[i]), len(d.CostIter[i]), rr); err != nil {
			return err
		}
	}
	return checkCounts(d.NIt, d.NFev, len(d.Codex), len(d.ResultFinal))
}

func checkHistory(prefix string, params, costs int, rrmswfe []float64) error {
	if costs == 0 {
		return &ValidationError{Field: prefix + "cost_iter", Reason: "cannot be empty"}
	}
	if params != costs {
		return &ValidationError{Field: prefix + "result_iter", Reason: fmt.Sprintf("has %d entries, cost_iter has %d", params, costs)}
	}
	if rrmswfe != nil && len(rrmswfe) != costs {
		return &ValidationError{Field: prefix + "rrmswfe_iter", Reason: fmt.Sprintf("has %d entries, cost_iter has %d", len(rrmswfe), costs)}
	}
	return nil
}

func checkCounts(nit, nfev, terms, final int) error {
	if nit < 0 {
		return &ValidationError{Field: "nit", Reason: "cannot be negative"}
	}
	if nfev < 0 {
		return &ValidationError{Field: "nfev", Reason: "cannot be negative"}
	}
	if terms == 0 {
		return &ValidationError{Field: "codex", Reason: "cannot be empty"}
	}
	if final != terms {
		return &ValidationError{Field: "result_final", Reason: fmt.Sprintf("has %d coefficients for %d codex terms", final, terms)}
	}
	return nil
}

// ValidationError represents a document validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}
