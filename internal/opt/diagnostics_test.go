package opt

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fortranTrace = `RUNNING THE L-BFGS-B CODE
           * * *
Machine precision =  2.220D-16
N = 4    M = 10
At iterate    0    f=  4.5000000D+02    |proj g|=  1.0000000D+01


ITERATION     1
LINE SEARCH 0 times; norm of step = 1.0D+00
At iterate    1    f=  3.0000000D+02    |proj g|=  5.0000000D+00


ITERATION     2
LINE SEARCH 1 times; norm of step = 5.0D-01
At iterate    2    f=  1.2500000d+01    |proj g|=  2.0000000D-01

 F =   1.2500000D+01
`

func TestParseCostsFortranExponent(t *testing.T) {
	costs, err := ParseCosts(fortranTrace)
	require.NoError(t, err)
	require.Equal(t, []float64{450, 300, 12.5}, costs)
	assert.Equal(t, 300.0, costs[1])
}

func TestParseCostsIdempotent(t *testing.T) {
	first, err := ParseCosts(fortranTrace)
	require.NoError(t, err)
	second, err := ParseCosts(fortranTrace)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseCostsMissingMarker(t *testing.T) {
	broken := strings.Replace(fortranTrace, "ITERATION     2\n", "", 1)

	_, err := ParseCosts(broken)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, 1, perr.Iteration)
	assert.ErrorIs(t, err, ErrDiagnostics)
}

func TestParseCostsSkippedIteration(t *testing.T) {
	broken := strings.Replace(fortranTrace, "ITERATION     2", "ITERATION     3", 1)

	_, err := ParseCosts(broken)
	assert.ErrorIs(t, err, ErrDiagnostics)
}

func TestParseCostsBadToken(t *testing.T) {
	broken := strings.Replace(fortranTrace, "3.0000000D+02", "3.0000000X+02", 1)

	_, err := ParseCosts(broken)
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "3.0000000X+02", perr.Token)
}

func TestParseCostsMergesRestart(t *testing.T) {
	text := `At iterate    0    f=  2.0D+00    |proj g|=  1.0D+00


ITERATION     1
Refreshing LBFGS memory and restarting iteration.


ITERATION     1
LINE SEARCH 0 times; norm of step = 1.0D+00
At iterate    1    f=  1.0D+00    |proj g|=  1.0D-01
`
	costs, err := ParseCosts(text)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 1}, costs)
}

func TestParseCostsDropsUnfinishedIteration(t *testing.T) {
	text := fortranTrace + `

ITERATION     3

ABNORMAL_TERMINATION_IN_LNSRCH
`
	costs, err := ParseCosts(text)
	require.NoError(t, err)
	assert.Len(t, costs, 3)
}

func TestParseCostsEmptyText(t *testing.T) {
	_, err := ParseCosts("")
	assert.ErrorIs(t, err, ErrDiagnostics)
}

func TestAlign(t *testing.T) {
	params := [][]float64{{0, 0}, {1, 1}}

	records, err := Align(params, []float64{5, 2})
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[1].Iteration)
	assert.Equal(t, 2.0, records[1].Cost)

	_, err = Align(params, []float64{5, 2, 1})
	var aerr *AlignmentError
	require.ErrorAs(t, err, &aerr)
	assert.Equal(t, 2, aerr.Params)
	assert.Equal(t, 3, aerr.Costs)
	assert.ErrorIs(t, err, ErrDiagnostics)
}

func TestIterationHookRows(t *testing.T) {
	var fired []int
	h := newIterationHook(func(iter int) { fired = append(fired, iter) })

	table := "RUNNING THE L-BFGS-B CODE\n\n" +
		"   it   nf   nseg   nact   sub   itls   stepl   tstep   projg      f\n" +
		"    0    1     -     -   -     -     -        -        1.000      2.000\n" +
		"   1     3     1     0 con    0     1.0     1.0  1.000e-01  1.000e+00\n" +
		"   2     5     1     0 ---    1     0.5     0.5  1.0"
	// split writes across row boundaries
	for _, chunk := range []string{table[:40], table[40:130], table[130:]} {
		_, err := h.Write([]byte(chunk))
		require.NoError(t, err)
	}
	h.Write([]byte("00e-02  5.000e-01\n   2     5     1     0 ---    1     0.5     0.5  1.000e-02  5.000e-01\n"))
	h.Write([]byte("   3     9     1     0 ---    2 0.0 0.0 1.0e-02\n"))
	h.Flush()

	assert.Equal(t, []int{1, 2}, fired)
}
