package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rileyhilliard/fleetrun/internal/state"
)

func TestScript_ThenAndInvoke(t *testing.T) {
	sub := New("install").Then(Sh("apt-get install -y fio"))
	s := New("bench").Invoke(sub).Then(Signal("installed"))

	assert.Equal(t, "bench", s.Name())
	require.Equal(t, 2, s.Len())
	cmds := s.Cmds()
	assert.Equal(t, KindInvoke, cmds[0].Kind())
	assert.Equal(t, KindSignal, cmds[1].Kind())

	cmds[0] = Echo("mutated")
	assert.Equal(t, KindInvoke, s.Cmds()[0].Kind(), "Cmds returns a copy")
}

func TestScript_Tree(t *testing.T) {
	cond, err := If(`MODE == "fast"`, []Cmd{Sh("fast")}, []Cmd{Sh("slow")})
	require.NoError(t, err)
	s := New("bench").
		Then(cond).
		Then(Loop(2, []Cmd{Echo("tick")}))

	want := `bench
  - if: MODE == "fast"
    then:
      - sh: fast
    else:
      - sh: slow
  - loop: 2 times
    - echo: tick
`
	assert.Equal(t, want, s.Tree())
}

func TestSummarize(t *testing.T) {
	st := state.New()
	st.Set("NODE", "node1")

	sub := New("sub").Then(Signal("sub-done"))
	cond, err := If("true", []Cmd{Signal("then-${{NODE}}")}, []Cmd{WaitFor("else")})
	require.NoError(t, err)
	s := New("main").
		Then(Signal("started")).
		Then(Signal("started")).
		Then(cond).
		Then(Loop(3, []Cmd{WaitFor("tick")})).
		Invoke(sub).
		Invoke(sub)

	sum := Summarize(s, st)
	assert.Equal(t, []string{"started", "then-node1", "sub-done"}, sum.Signals)
	assert.Equal(t, []string{"else", "tick"}, sum.Waits)
	assert.Empty(t, sum.Warnings)
	assert.True(t, sum.Emits("sub-done"))
	assert.True(t, sum.WaitsFor("tick"))
	assert.False(t, sum.WaitsFor("started"))
}

func TestSummarize_Warnings(t *testing.T) {
	t.Run("unresolved name", func(t *testing.T) {
		sum := Summarize(New("s").Then(WaitFor("ready-${{MISSING}}")), state.New())
		assert.Empty(t, sum.Waits)
		require.Len(t, sum.Warnings, 1)
		assert.Contains(t, sum.Warnings[0], "MISSING")
	})

	t.Run("empty name", func(t *testing.T) {
		sum := Summarize(New("s").Then(Signal(" ")), nil)
		assert.Empty(t, sum.Signals)
		require.Len(t, sum.Warnings, 1)
		assert.Contains(t, sum.Warnings[0], "empty name")
	})

	t.Run("invoke cycle", func(t *testing.T) {
		a := New("a")
		b := New("b").Then(Signal("b")).Invoke(a)
		a.Then(Signal("a")).Invoke(b)

		sum := Summarize(a, nil)
		assert.Equal(t, []string{"a", "b"}, sum.Signals)
		require.Len(t, sum.Warnings, 1)
		assert.Contains(t, sum.Warnings[0], "a -> b -> a")
	})

	t.Run("wait before own signal", func(t *testing.T) {
		sum := Summarize(New("s").Then(WaitFor("x")).Then(Signal("x")), nil)
		require.Len(t, sum.Warnings, 1)
		assert.Contains(t, sum.Warnings[0], "before signaling")
	})

	t.Run("signal then wait is fine", func(t *testing.T) {
		sum := Summarize(New("s").Then(Signal("x")).Then(WaitFor("x")), nil)
		assert.Empty(t, sum.Warnings)
	})
}
