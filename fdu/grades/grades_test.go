package grades_test

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/fdu/fdutest"
	"github.com/fduhole/fdusdk/fdu/grades"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const gradePage = `<html><body><table><tbody>
<tr><td>MATH120017</td><td>2023-2024</td><td>2</td><td>数学分析</td><td>5</td><td>A</td></tr>
<tr><td>PHYS120014</td><td>2023-2024</td><td>2</td><td>大学物理</td><td>4</td><td>B+</td></tr>
<tr><td>PEDU110086</td><td>2023-2024</td><td>2</td><td>体育</td><td>1</td><td>P</td></tr>
<tr><td>COMP110004</td><td>2023-2024</td><td>1</td><td>程序设计</td><td>3</td><td>A-</td></tr>
</tbody></table></body></html>`

const rankingPage = `<html><body><table><tbody>
<tr><td>*明</td><td>2021</td><td>本科</td><td>计算机科学</td><td>一</td><td>3.91</td><td>120</td></tr>
<tr><td>张三</td><td>2021</td><td>本科</td><td>计算机科学</td><td>一</td><td>3.72</td><td>118</td></tr>
<tr><td>*华</td><td>2021</td><td>本科</td><td>计算机科学</td><td>一</td><td>3.55</td><td>121</td></tr>
<tr><td>*强</td><td>2021</td><td>本科</td><td>软件工程</td><td>一</td><td>3.80</td><td>119</td></tr>
</tbody></table></body></html>`

func newLoggedInService(t *testing.T) (*grades.Service, *fdutest.MockPortal) {
	t.Helper()
	mock := fdutest.NewMockPortal()
	t.Cleanup(mock.Close)

	mock.Handle("/list/bks_xx_cj", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gradePage)
	})
	mock.Handle("/eams/myActualGpa!search.action", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rankingPage)
	})

	c := mock.NewClient()
	require.NoError(t, c.Login(context.Background(), fdutest.UID, fdutest.Password))
	return grades.New(c), mock
}

func TestAll(t *testing.T) {
	svc, _ := newLoggedInService(t)

	all, err := svc.All(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 4)

	assert.Equal(t, "MATH120017", all[0].Code)
	assert.Equal(t, "数学分析", all[0].Name)
	assert.Equal(t, 5.0, all[0].Credit)
	assert.Equal(t, 4.0, all[0].Point)
	assert.Equal(t, "B+", all[1].Grade)
	assert.Equal(t, 3.3, all[1].Point)
}

func TestAllRequiresLogin(t *testing.T) {
	mock := fdutest.NewMockPortal()
	defer mock.Close()

	svc := grades.New(mock.NewClient())
	_, err := svc.All(context.Background())
	assert.ErrorIs(t, err, fdu.ErrNotLoggedIn)
}

func TestCurrentSemester(t *testing.T) {
	svc, _ := newLoggedInService(t)

	cur, err := svc.CurrentSemester(context.Background())
	require.NoError(t, err)
	require.Len(t, cur, 3)
	for _, g := range cur {
		assert.Equal(t, "2023-2024", g.Year)
		assert.Equal(t, "2", g.Semester)
	}
}

func TestFromRanking(t *testing.T) {
	svc, _ := newLoggedInService(t)

	gpa, err := svc.FromRanking(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.72, gpa.GPA)
	assert.Equal(t, 118.0, gpa.Credits)
	assert.Equal(t, 2, gpa.Ranking)
	assert.Equal(t, 3, gpa.Total) // the other major does not count
	assert.InDelta(t, 2.0/3.0, gpa.Percentage, 1e-9)
}

func TestFromTranscript(t *testing.T) {
	svc, _ := newLoggedInService(t)

	gpa, err := svc.FromTranscript(context.Background())
	require.NoError(t, err)
	// P-graded course is excluded from both sums.
	wantCredits := 5.0 + 4 + 3
	want := (4.0*5 + 3.3*4 + 3.7*3) / wantCredits
	assert.InDelta(t, want, gpa.GPA, 1e-9)
	assert.Equal(t, wantCredits, gpa.Credits)
}

func TestGPAFallsBackToTranscript(t *testing.T) {
	mock := fdutest.NewMockPortal()
	defer mock.Close()
	mock.Handle("/list/bks_xx_cj", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, gradePage)
	})
	mock.Handle("/eams/myActualGpa!search.action", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "maintenance", http.StatusServiceUnavailable)
	})

	c := mock.NewClient()
	require.NoError(t, c.Login(context.Background(), fdutest.UID, fdutest.Password))

	gpa := grades.New(c).GPA(context.Background())
	assert.Greater(t, gpa.GPA, 0.0)
}

func TestAllMemoized(t *testing.T) {
	mock := fdutest.NewMockPortal()
	defer mock.Close()
	hits := 0
	mock.Handle("/list/bks_xx_cj", func(w http.ResponseWriter, r *http.Request) {
		hits++
		fmt.Fprint(w, gradePage)
	})

	c := mock.NewClient()
	require.NoError(t, c.Login(context.Background(), fdutest.UID, fdutest.Password))

	svc := grades.New(c)
	ctx := context.Background()
	_, err := svc.All(ctx)
	require.NoError(t, err)
	_, err = svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	svc.Invalidate()
	_, err = svc.All(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, hits)
}

func TestPointOf(t *testing.T) {
	cases := map[string]float64{
		"A": 4.0, "A-": 3.7, "B+": 3.3, "B": 3.0, "B-": 2.7,
		"C+": 2.3, "C": 2.0, "C-": 1.7, "D+": 1.3, "D": 1.0,
		"F": 0, "P": 0,
	}
	for grade, want := range cases {
		got, ok := grades.PointOf(grade)
		assert.True(t, ok, grade)
		assert.Equal(t, want, got, grade)
	}
	_, ok := grades.PointOf("E")
	assert.False(t, ok)
}
