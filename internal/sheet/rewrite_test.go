package sheet

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRewriteFormula(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"=B3*B4", `VAL("B3")*VAL("B4")`},
		{"=SUM(B3:B10)", `SUM(RANGE("B3","B10"))`},
		{"=$B$3+C2", `VAL("B3")+VAL("C2")`},
		{"=IF(A1=5,1,0)", `IF(VAL("A1")==5,1,0)`},
		{"=A1<>B1", `VAL("A1")!=VAL("B1")`},
		{"=IF(A1>=2,A1,0)", `IF(VAL("A1")>=2,VAL("A1"),0)`},
		{"=A1^2", `VAL("A1")**2`},
		{`="x"&A1`, `"x" + STR(VAL("A1"))`},
		{`=IF(A1>0,"B2",C3)`, `IF(VAL("A1")>0,"B2",VAL("C3"))`},
		{"=SUMPRODUCT(B3:B5,C3:C5)", `SUMPRODUCT(RANGE("B3","B5"),RANGE("C3","C5"))`},
		{"1+2", "1+2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, rewriteFormula(tc.in), "input %s", tc.in)
	}
}

func TestColumnConversions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1, colToIndex("A"))
	assert.Equal(t, 26, colToIndex("Z"))
	assert.Equal(t, 27, colToIndex("AA"))
	assert.Equal(t, "A", indexToCol(1))
	assert.Equal(t, "Z", indexToCol(26))
	assert.Equal(t, "AA", indexToCol(27))
}

func TestSplitRef(t *testing.T) {
	t.Parallel()

	col, row, ok := splitRef("$B$12")
	assert.True(t, ok)
	assert.Equal(t, "B", col)
	assert.Equal(t, 12, row)

	_, _, ok = splitRef("12B")
	assert.False(t, ok)
}

func TestScenarioColumns(t *testing.T) {
	t.Parallel()

	assert.Equal(t, []string{"B", "C", "D", "E"}, scenarioColumns())
}
