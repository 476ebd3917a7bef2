package store

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Record)
		field  string
	}{
		{"valid single", func(r *Record) {}, ""},
		{"empty id", func(r *Record) { r.ID = "" }, "ID"},
		{"no document", func(r *Record) { r.Single = nil }, "Document"},
		{"both documents", func(r *Record) { r.Global = createTestGlobal("x").Global }, "Document"},
		{"global flag", func(r *Record) { r.Single.Global = true }, "global"},
		{"empty history", func(r *Record) {
			r.Single.CostIter, r.Single.ResultIter = nil, nil
		}, "cost_iter"},
		{"residual length", func(r *Record) { r.Single.RRMSWFEIter = []float64{1} }, "rrmswfe_iter"},
		{"negative nfev", func(r *Record) { r.Single.NFev = -1 }, "nfev"},
		{"final length", func(r *Record) { r.Single.ResultFinal = []float64{1} }, "result_final"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := createTestSingle("x")
			tt.modify(rec)
			err := rec.Validate()

			if tt.field == "" {
				if err != nil {
					t.Fatalf("Expected valid record, got %v", err)
				}
				return
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Expected ValidationError, got %v", err)
			}
			if verr.Field != tt.field {
				t.Errorf("Expected field %q, got %q", tt.field, verr.Field)
			}
		})
	}
}

func TestRecordValidateGlobal(t *testing.T) {
	rec := createTestGlobal("g")
	if err := rec.Validate(); err != nil {
		t.Fatalf("Expected valid global record, got %v", err)
	}

	rec.Global.ResultIter = rec.Global.ResultIter[:1]
	var verr *ValidationError
	if err := rec.Validate(); !errors.As(err, &verr) || verr.Field != "result_iter" {
		t.Errorf("Expected result_iter error, got %v", err)
	}

	rec = createTestGlobal("g")
	rec.Global.CostIter[1] = append(rec.Global.CostIter[1], 3)
	if err := rec.Validate(); !errors.As(err, &verr) || verr.Field != "start 1 result_iter" {
		t.Errorf("Expected per-start error, got %v", err)
	}
}

func TestRecordJSONKind(t *testing.T) {
	for _, rec := range []*Record{createTestSingle("s"), createTestGlobal("g")} {
		data, err := json.Marshal(rec)
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}

		var fields map[string]json.RawMessage
		if err := json.Unmarshal(data, &fields); err != nil {
			t.Fatal(err)
		}
		if _, ok := fields["cost_iter"]; !ok {
			t.Error("Record must serialize as the bare document")
		}

		var back Record
		if err := json.Unmarshal(data, &back); err != nil {
			t.Fatalf("Unmarshal failed: %v", err)
		}
		if back.Kind() != rec.Kind() {
			t.Errorf("Kind changed from %s to %s", rec.Kind(), back.Kind())
		}
		if diff := cmp.Diff(rec.Single, back.Single); diff != "" {
			t.Errorf("Single document changed (-want +got):\n%s", diff)
		}
		if diff := cmp.Diff(rec.Global, back.Global); diff != "" {
			t.Errorf("Global document changed (-want +got):\n%s", diff)
		}
	}
}

func TestNotFoundError(t *testing.T) {
	err := &NotFoundError{ID: "abc"}
	if err.Error() != "document not found: abc" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if (&NotFoundError{}).Error() != "document not found" {
		t.Error("Unexpected message without id")
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError should match ErrNotFound")
	}
}
