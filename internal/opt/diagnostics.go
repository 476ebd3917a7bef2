package opt

import (
	"regexp"
	"strconv"
	"strings"
)

// IterationMarker opens every per-iteration section of the diagnostic
// stream. Text before the first marker describes iteration 0.
const IterationMarker = "ITERATION"

var (
	markerLine  = regexp.MustCompile(`(?m)^\s*` + IterationMarker + `\s+(\d+)\s*$`)
	iterateLine = regexp.MustCompile(`At iterate\s*(\d+)\s+f=\s*(\S+)`)
	exponentD   = strings.NewReplacer("D", "E", "d", "e")
)

type section struct {
	iter int
	body string
}

// splitSections cuts the stream at every iteration marker. Consecutive
// sections with the same number come from a solver restart and are merged.
func splitSections(text string) []section {
	locs := markerLine.FindAllStringSubmatchIndex(text, -1)

	end := len(text)
	if len(locs) > 0 {
		end = locs[0][0]
	}
	sections := []section{{iter: 0, body: text[:end]}}

	for i, loc := range locs {
		n, _ := strconv.Atoi(text[loc[2]:loc[3]])
		end := len(text)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		body := text[loc[1]:end]
		if last := &sections[len(sections)-1]; i > 0 && last.iter == n {
			last.body += body
			continue
		}
		sections = append(sections, section{iter: n, body: body})
	}
	return sections
}

// ParseFloat parses a floating point token that may use a Fortran style
// D exponent, such as 3.0000000D+02.
func ParseFloat(token string) (float64, error) {
	return strconv.ParseFloat(exponentD.Replace(token), 64)
}

// ParseCosts extracts the per-iteration objective values from captured
// solver diagnostics. Entry k of the result is the objective value at
// iteration k, with iteration 0 being the initial guess.
//
// Every section must report exactly one function value. A final section
// without one belongs to a search that stopped before accepting a new
// point and is dropped. Parsing is a pure function of the text.
func ParseCosts(text string) ([]float64, error) {
	sections := splitSections(text)
	costs := make([]float64, 0, len(sections))

	for i, s := range sections {
		if s.iter != len(costs) {
			return nil, &ParseError{
				Iteration: s.iter,
				Reason:    "iteration out of sequence, expected " + strconv.Itoa(len(costs)),
			}
		}

		matches := iterateLine.FindAllStringSubmatch(s.body, -1)
		switch {
		case len(matches) == 0 && i > 0 && i == len(sections)-1:
			return costs, nil
		case len(matches) == 0:
			return nil, &ParseError{Iteration: s.iter, Reason: "no function value reported"}
		case len(matches) > 1:
			return nil, &ParseError{
				Iteration: s.iter,
				Reason:    strconv.Itoa(len(matches)) + " function values in one section, missing " + IterationMarker + " marker",
			}
		}

		m := matches[0]
		if n, _ := strconv.Atoi(m[1]); n != s.iter {
			return nil, &ParseError{Iteration: s.iter, Token: m[1], Reason: "function value reported for another iterate"}
		}
		f, err := ParseFloat(m[2])
		if err != nil {
			return nil, &ParseError{Iteration: s.iter, Token: m[2], Reason: "invalid function value"}
		}
		costs = append(costs, f)
	}
	return costs, nil
}

// IterationRecord pairs an accepted point with its objective value.
type IterationRecord struct {
	Iteration int
	Params    []float64
	Cost      float64
}

// Align pairs the parameter history with the parsed cost history. Both
// start at iteration 0 and must have the same length.
func Align(params [][]float64, costs []float64) ([]IterationRecord, error) {
	if len(params) != len(costs) {
		return nil, &AlignmentError{Params: len(params), Costs: len(costs)}
	}
	records := make([]IterationRecord, len(params))
	for i := range params {
		records[i] = IterationRecord{Iteration: i, Params: params[i], Cost: costs[i]}
	}
	return records, nil
}
