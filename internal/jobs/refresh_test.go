package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fduhole/fdusdk/fdu"
	"github.com/fduhole/fdusdk/fdu/fdutest"
	"github.com/fduhole/fdusdk/internal/session"
	"github.com/fduhole/fdusdk/internal/store"
)

const gradePage = `<html><body><table><tbody>
<tr><td>MATH120017</td><td>2023-2024</td><td>2</td><td>数学分析</td><td>5</td><td>A</td></tr>
<tr><td>COMP110004</td><td>2023-2024</td><td>1</td><td>程序设计</td><td>3</td><td>A-</td></tr>
</tbody></table></body></html>`

const gradePageExtended = `<html><body><table><tbody>
<tr><td>MATH120017</td><td>2023-2024</td><td>2</td><td>数学分析</td><td>5</td><td>A</td></tr>
<tr><td>COMP110004</td><td>2023-2024</td><td>1</td><td>程序设计</td><td>3</td><td>A-</td></tr>
<tr><td>PHYS120014</td><td>2023-2024</td><td>2</td><td>大学物理</td><td>4</td><td>B+</td></tr>
</tbody></table></body></html>`

const rankingPage = `<html><body><table><tbody>
<tr><td>*明</td><td>2021</td><td>本科</td><td>计算机科学</td><td>一</td><td>3.91</td><td>120</td></tr>
<tr><td>张三</td><td>2021</td><td>本科</td><td>计算机科学</td><td>一</td><td>3.72</td><td>118</td></tr>
</tbody></table></body></html>`

type portalFixture struct {
	mock *fdutest.MockPortal

	mu        sync.Mutex
	gradeBody string
	ticked    bool
	dailyFail bool
}

func newFixture(t *testing.T) *portalFixture {
	t.Helper()

	f := &portalFixture{
		mock:      fdutest.NewMockPortal(),
		gradeBody: gradePage,
	}
	t.Cleanup(f.mock.Close)

	f.mock.Handle("/list/bks_xx_cj", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		fmt.Fprint(w, f.gradeBody)
	})
	f.mock.Handle("/eams/myActualGpa!search.action", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, rankingPage)
	})
	f.mock.Handle("/ncov/wap/fudan/get-info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if f.dailyFail {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		date := ""
		if f.ticked {
			date = time.Now().Format("20060102")
		}
		fmt.Fprintf(w, `{"d":{"info":{"date":%q}}}`, date)
	})
	return f
}

func (f *portalFixture) setGrades(body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gradeBody = body
}

func (f *portalFixture) setTicked(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ticked = v
}

func newRunner(t *testing.T, f *portalFixture) (*Runner, string) {
	t.Helper()

	dataDir := t.TempDir()
	st, err := store.New(filepath.Join(dataDir, "fdusdk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		DataDir:       dataDir,
		UID:           fdutest.UID,
		Password:      fdutest.Password,
		Interval:      time.Hour,
		Timeout:       30 * time.Second,
		KeepSnapshots: 5,
	}
	return NewRunner(cfg, f.mock.NewClient(), st, nil, nil), dataDir
}

func TestRefreshFirstCycle(t *testing.T) {
	f := newFixture(t)
	f.setTicked(true)
	runner, dataDir := newRunner(t, f)

	report, err := runner.Refresh(context.Background())
	require.NoError(t, err)

	assert.Equal(t, fdutest.UID, report.UID)
	assert.Equal(t, 2, report.Courses)
	assert.Equal(t, []string{"COMP110004", "MATH120017"}, report.NewCourses)
	assert.True(t, report.TickedToday)
	assert.InDelta(t, 3.72, report.GPA.GPA, 1e-9)

	// Report persisted to disk.
	data, err := os.ReadFile(filepath.Join(dataDir, "report.json"))
	require.NoError(t, err)
	var onDisk Report
	require.NoError(t, json.Unmarshal(data, &onDisk))
	assert.Equal(t, report.Courses, onDisk.Courses)

	assert.Equal(t, report, runner.Last())
}

func TestRefreshPersistsSession(t *testing.T) {
	f := newFixture(t)
	dataDir := t.TempDir()
	st, err := store.New(filepath.Join(dataDir, "fdusdk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jar, err := session.NewJar()
	require.NoError(t, err)
	sessions, err := session.OpenStore(filepath.Join(dataDir, "sessions"), session.DefaultTTL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sessions.Close() })

	cfg := Config{
		DataDir:       dataDir,
		UID:           fdutest.UID,
		Password:      fdutest.Password,
		Interval:      time.Hour,
		Timeout:       30 * time.Second,
		KeepSnapshots: 5,
	}
	runner := NewRunner(cfg, f.mock.NewClient(fdu.WithCookieJar(jar)), st, jar, sessions)

	_, err = runner.Refresh(context.Background())
	require.NoError(t, err)

	_, found, err := sessions.Get(context.Background(), fdutest.UID)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestRefreshSessionStoreFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	dataDir := t.TempDir()
	st, err := store.New(filepath.Join(dataDir, "fdusdk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	jar, err := session.NewJar()
	require.NoError(t, err)
	sessions, err := session.OpenStore(filepath.Join(dataDir, "sessions"), session.DefaultTTL)
	require.NoError(t, err)
	require.NoError(t, sessions.Close())

	cfg := Config{
		DataDir:       dataDir,
		UID:           fdutest.UID,
		Password:      fdutest.Password,
		Interval:      time.Hour,
		Timeout:       30 * time.Second,
		KeepSnapshots: 5,
	}
	runner := NewRunner(cfg, f.mock.NewClient(fdu.WithCookieJar(jar)), st, jar, sessions)

	// The closed session store only costs a warning.
	report, err := runner.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, report.Courses)
}

func TestRefreshDetectsNewGrades(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)
	ctx := context.Background()

	_, err := runner.Refresh(ctx)
	require.NoError(t, err)

	// Second cycle with one newly published grade.
	f.setGrades(gradePageExtended)
	report, err := runner.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, report.Courses)
	assert.Equal(t, []string{"PHYS120014"}, report.NewCourses)
}

func TestRefreshNoNewGrades(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)
	ctx := context.Background()

	_, err := runner.Refresh(ctx)
	require.NoError(t, err)

	report, err := runner.Refresh(ctx)
	require.NoError(t, err)
	assert.Empty(t, report.NewCourses)
}

func TestRefreshLogsInOnce(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)
	ctx := context.Background()

	_, err := runner.Refresh(ctx)
	require.NoError(t, err)
	_, err = runner.Refresh(ctx)
	require.NoError(t, err)

	// Session cookie survives across cycles.
	assert.Equal(t, 1, f.mock.Logins())
}

func TestRefreshDailyFailureIsNotFatal(t *testing.T) {
	f := newFixture(t)
	f.mu.Lock()
	f.dailyFail = true
	f.mu.Unlock()
	runner, _ := newRunner(t, f)

	report, err := runner.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, report.TickedToday)
}

func TestRefreshLoginFailure(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)
	f.mock.RejectNextLogin()

	_, err := runner.Refresh(context.Background())
	assert.Error(t, err)
	assert.Nil(t, runner.Last())
}

func TestRefreshPrunesSnapshots(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)
	runner.cfg.KeepSnapshots = 2
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := runner.Refresh(ctx)
		require.NoError(t, err)
	}

	n, err := runner.store.SnapshotCount(ctx, fdutest.UID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestRunHonorsCancel(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		runner.Run(ctx)
		close(done)
	}()

	// First cycle runs immediately.
	assert.Eventually(t, func() bool { return runner.Last() != nil }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run loop did not stop")
	}
}

func TestTriggerRefresh(t *testing.T) {
	f := newFixture(t)
	runner, _ := newRunner(t, f)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runner.Run(ctx)

	assert.Eventually(t, func() bool { return runner.Last() != nil }, 5*time.Second, 10*time.Millisecond)
	first := runner.Last()

	f.setGrades(gradePageExtended)
	runner.TriggerRefresh()

	assert.Eventually(t, func() bool {
		last := runner.Last()
		return last != nil && last != first && last.Courses == 3
	}, 5*time.Second, 10*time.Millisecond)
}
