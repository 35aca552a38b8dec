package repair

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/require"
)

// scriptedExecutor fails until the configured attempt and records every
// candidate it sees.
type scriptedExecutor struct {
	failures int
	errMsg   string
	calls    []string
}

func (s *scriptedExecutor) execute(_ context.Context, candidate string) (string, error) {
	s.calls = append(s.calls, candidate)
	if len(s.calls) <= s.failures {
		return "", errors.New(s.errMsg)
	}
	return "result:" + candidate, nil
}

type scriptedRepairer struct {
	calls  int
	errs   []error
	inputs []string
}

func (r *scriptedRepairer) repair(_ context.Context, candidate, errMsg string) (string, error) {
	r.calls++
	r.inputs = append(r.inputs, errMsg)
	if len(r.errs) >= r.calls && r.errs[r.calls-1] != nil {
		return "", r.errs[r.calls-1]
	}
	return fmt.Sprintf("%s+fix%d", candidate, r.calls), nil
}

func newLoop(t *testing.T, exec *scriptedExecutor, rep *scriptedRepairer, maxRetries int) *Loop[string] {
	t.Helper()
	l, err := New(Config[string]{
		Name:       "test",
		Execute:    exec.execute,
		Repair:     rep.repair,
		MaxRetries: maxRetries,
	})
	require.NoError(t, err)
	return l
}

func TestRepair_Loop_PassFirstTry(t *testing.T) {
	exec := &scriptedExecutor{}
	rep := &scriptedRepairer{}

	out := newLoop(t, exec, rep, 3).Run(context.Background(), "q", 0)

	require.Equal(t, Pass, out.Status)
	require.Equal(t, 0, out.Retries)
	require.Equal(t, 1, out.Attempts)
	require.Empty(t, out.Err)
	require.Equal(t, "result:q", out.Result)
	require.Equal(t, 0, rep.calls)
}

func TestRepair_Loop_TwoFailuresThenPass(t *testing.T) {
	exec := &scriptedExecutor{failures: 2, errMsg: "syntax error"}
	rep := &scriptedRepairer{}

	out := newLoop(t, exec, rep, 3).Run(context.Background(), "q", 0)

	require.Equal(t, Pass, out.Status)
	require.Equal(t, 2, out.Retries)
	require.Equal(t, 3, out.Attempts)
	require.Empty(t, out.Err)
	require.Equal(t, "q+fix1+fix2", out.Candidate)
	require.Equal(t, "result:q+fix1+fix2", out.Result)
	require.Equal(t, []string{"q", "q+fix1", "q+fix1+fix2"}, exec.calls)
	require.Equal(t, []string{"syntax error", "syntax error"}, rep.inputs)
}

func TestRepair_Loop_ZeroBudgetExecutesOnce(t *testing.T) {
	exec := &scriptedExecutor{failures: 100, errMsg: "relation does not exist"}
	rep := &scriptedRepairer{}

	out := newLoop(t, exec, rep, 0).Run(context.Background(), "q", 0)

	require.Equal(t, NotPass, out.Status)
	require.Equal(t, 1, out.Retries)
	require.Equal(t, 1, out.Attempts)
	require.Len(t, exec.calls, 1)
	require.Equal(t, 0, rep.calls)
	require.Equal(t, "relation does not exist", out.Err)
	require.Equal(t, "q", out.Candidate)
}

func TestRepair_Loop_BudgetProperties(t *testing.T) {
	for budget := 0; budget <= 5; budget++ {
		for failures := 0; failures <= 7; failures++ {
			t.Run(fmt.Sprintf("budget=%d/failures=%d", budget, failures), func(t *testing.T) {
				exec := &scriptedExecutor{failures: failures, errMsg: "boom"}
				rep := &scriptedRepairer{}

				out := newLoop(t, exec, rep, budget).Run(context.Background(), "q", 0)

				limit := max(budget, 1)
				require.LessOrEqual(t, out.Retries, limit)
				require.Equal(t, len(exec.calls), out.Attempts)
				if out.Status == NotPass {
					require.Equal(t, limit, out.Attempts)
					require.Equal(t, limit, out.Retries)
					require.NotEmpty(t, out.Err)
					// No repair after the final failure.
					require.Equal(t, limit-1, rep.calls)
				} else {
					require.Equal(t, Pass, out.Status)
					require.LessOrEqual(t, out.Attempts, limit)
					require.Equal(t, failures, out.Retries)
					require.Empty(t, out.Err)
				}
			})
		}
	}
}

func TestRepair_Loop_ResumesWithCarriedRetries(t *testing.T) {
	exec := &scriptedExecutor{failures: 100, errMsg: "boom"}
	rep := &scriptedRepairer{}

	out := newLoop(t, exec, rep, 3).Run(context.Background(), "q", 2)

	require.Equal(t, NotPass, out.Status)
	require.Equal(t, 3, out.Retries)
	require.Equal(t, 1, out.Attempts)
}

func TestRepair_Loop_RepairErrorCountsAsFailedAttempt(t *testing.T) {
	exec := &scriptedExecutor{failures: 2, errMsg: "bad"}
	rep := &scriptedRepairer{errs: []error{errors.New("provider unavailable")}}

	out := newLoop(t, exec, rep, 3).Run(context.Background(), "q", 0)

	// First repair failed so the original candidate ran twice.
	require.Equal(t, []string{"q", "q", "q+fix2"}, exec.calls)
	require.Equal(t, Pass, out.Status)
	require.Equal(t, 2, out.Retries)
	require.EqualError(t, out.RepairErr, "provider unavailable")
}

func TestRepair_Loop_RepairAlwaysFailingIsBounded(t *testing.T) {
	exec := &scriptedExecutor{failures: 100, errMsg: "bad"}
	down := errors.New("down")
	rep := &scriptedRepairer{errs: []error{down, down, down, down}}

	out := newLoop(t, exec, rep, 3).Run(context.Background(), "q", 0)

	require.Equal(t, NotPass, out.Status)
	require.Equal(t, 3, out.Retries)
	require.Equal(t, 3, out.Attempts)
	require.ErrorIs(t, out.RepairErr, down)
}

func TestRepair_Loop_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	exec := &scriptedExecutor{failures: 100, errMsg: "bad"}
	rep := &scriptedRepairer{}

	l, err := New(Config[string]{
		Name: "test",
		Execute: func(ctx context.Context, c string) (string, error) {
			cancel()
			return exec.execute(ctx, c)
		},
		Repair:     rep.repair,
		MaxRetries: 5,
	})
	require.NoError(t, err)

	out := l.Run(ctx, "q", 0)
	require.Equal(t, NotPass, out.Status)
	require.Equal(t, 1, out.Attempts)
	require.Equal(t, 0, rep.calls)
}

func TestRepair_Loop_TruncatesErrors(t *testing.T) {
	long := strings.Repeat("é", 1000)
	exec := &scriptedExecutor{failures: 100, errMsg: long}
	rep := &scriptedRepairer{}

	l, err := New(Config[string]{
		Name:          "test",
		Execute:       exec.execute,
		Repair:        rep.repair,
		MaxRetries:    2,
		MaxErrorChars: 300,
	})
	require.NoError(t, err)

	out := l.Run(context.Background(), "q", 0)
	require.Equal(t, 300, utf8.RuneCountInString(out.Err))
	require.True(t, utf8.ValidString(out.Err))
	for _, in := range rep.inputs {
		require.LessOrEqual(t, utf8.RuneCountInString(in), 300)
	}
}

func TestRepair_Loop_EmptyErrorMessageIsNotEmptyInState(t *testing.T) {
	exec := &scriptedExecutor{failures: 100, errMsg: ""}
	out := newLoop(t, exec, &scriptedRepairer{}, 1).Run(context.Background(), "q", 0)
	require.Equal(t, NotPass, out.Status)
	require.NotEmpty(t, out.Err)
}

func TestRepair_Loop_OnAttempt(t *testing.T) {
	exec := &scriptedExecutor{failures: 1, errMsg: "bad"}
	rep := &scriptedRepairer{}
	var attempts []Attempt

	l, err := New(Config[string]{
		Name:       "sql",
		Execute:    exec.execute,
		Repair:     rep.repair,
		MaxRetries: 3,
		OnAttempt:  func(a Attempt) { attempts = append(attempts, a) },
	})
	require.NoError(t, err)

	l.Run(context.Background(), "q", 0)
	require.Len(t, attempts, 2)
	require.Equal(t, NotPass, attempts[0].Status)
	require.Equal(t, "bad", attempts[0].Err)
	require.Equal(t, Pass, attempts[1].Status)
	require.Equal(t, "sql", attempts[1].Loop)
	require.Equal(t, 2, attempts[1].Number)
}

func TestRepair_Config_Validate(t *testing.T) {
	noopExec := func(context.Context, string) (int, error) { return 0, nil }
	noopRepair := func(context.Context, string, string) (string, error) { return "", nil }

	tests := []struct {
		name    string
		cfg     Config[int]
		wantErr string
	}{
		{"missing name", Config[int]{Execute: noopExec, Repair: noopRepair}, "name is required"},
		{"missing execute", Config[int]{Name: "x", Repair: noopRepair}, "execute function is required"},
		{"missing repair", Config[int]{Name: "x", Execute: noopExec}, "repair function is required"},
		{"negative retries", Config[int]{Name: "x", Execute: noopExec, Repair: noopRepair, MaxRetries: -1}, "max retries must not be negative"},
		{"negative chars", Config[int]{Name: "x", Execute: noopExec, Repair: noopRepair, MaxErrorChars: -1}, "max error chars must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.cfg)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}

	cfg := Config[int]{Name: "x", Execute: noopExec, Repair: noopRepair}
	require.NoError(t, cfg.Validate())
	require.Equal(t, DefaultMaxErrorChars, cfg.MaxErrorChars)
	require.NotNil(t, cfg.Logger)
}

func TestRepair_Truncate(t *testing.T) {
	require.Equal(t, "abc", Truncate("abc", 10))
	require.Equal(t, "ab", Truncate("abc", 2))
	require.Equal(t, "日本", Truncate("日本語", 2))
	require.Equal(t, "", Truncate("abc", 0))
	require.Equal(t, "a�", Truncate("a\xffb", 2))
}
