package proctable

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertReparentsUnknownParent(t *testing.T) {
	tbl := New()
	p := tbl.Insert(100, 9999, 100)
	require.Equal(t, tbl.InitPid(), p.Ppid)
}

func TestInsertInheritsParentSidWhenUnspecified(t *testing.T) {
	tbl := New()
	parent := tbl.Insert(50, tbl.SelfPid(), 50)
	child := tbl.Insert(51, 50, 0)
	require.Equal(t, parent.Sid, child.Sid)
}

func TestInsertOnExistingPidOnlyAppliesLegalMutations(t *testing.T) {
	tbl := New()
	tbl.Insert(60, tbl.SelfPid(), 60)

	// re-parenting onto any pid other than init is ignored.
	p := tbl.Insert(60, 9999, 60)
	require.NotEqual(t, tbl.InitPid(), p.Ppid)

	// re-parenting onto init is the one legal re-parent.
	p = tbl.Insert(60, tbl.InitPid(), 60)
	require.Equal(t, tbl.InitPid(), p.Ppid)

	// setting sid to anything other than the process's own pid is ignored.
	p = tbl.Insert(60, tbl.InitPid(), 9999)
	require.Equal(t, 60, p.Sid)

	// setting sid to the process's own pid (setsid()) is the one legal
	// sid mutation.
	tbl.SetSid(60, 1) // simulate a prior, unrelated sid
	p = tbl.Insert(60, tbl.InitPid(), 60)
	require.Equal(t, 60, p.Sid)
}

func TestNewSeedsSelfReferentialSentinels(t *testing.T) {
	tbl := New()
	init := tbl.Get(tbl.InitPid())
	require.Equal(t, init.Pid, init.Ppid)

	self := tbl.Get(tbl.SelfPid())
	require.Equal(t, self.Pid, self.Ppid)
}

func TestRemoveReparentsChildrenAndNeverEvictsSentinels(t *testing.T) {
	tbl := New()
	tbl.Insert(10, 1, 10)
	tbl.Insert(11, 10, 10)

	tbl.Remove(10)
	require.NotNil(t, tbl.Get(11))
	require.Equal(t, tbl.InitPid(), tbl.Get(11).Ppid)

	tbl.Remove(tbl.InitPid())
	require.NotNil(t, tbl.Get(tbl.InitPid()), "init must never be removable")

	tbl.Remove(tbl.SelfPid())
	require.NotNil(t, tbl.Get(tbl.SelfPid()), "self must never be removable")
}

func TestExitCollectIsFIFO(t *testing.T) {
	tbl := New()
	tbl.Insert(20, 1, 20)
	tbl.Insert(21, 1, 21)

	tbl.Exit(20, 0)
	tbl.Exit(21, 0)

	first := tbl.Collect()
	require.NotNil(t, first)
	require.Equal(t, 20, first.Pid)

	second := tbl.Collect()
	require.NotNil(t, second)
	require.Equal(t, 21, second.Pid)

	require.Nil(t, tbl.Collect())
}

func TestDropRemovesWholeSubtree(t *testing.T) {
	tbl := New()
	tbl.Insert(30, 1, 30)
	tbl.Insert(31, 30, 30)
	tbl.Insert(32, 31, 30)

	tbl.Drop(30)

	require.Nil(t, tbl.Get(30))
	require.Nil(t, tbl.Get(31))
	require.Nil(t, tbl.Get(32))
}

func TestForEachVisitsEveryTrackedProcess(t *testing.T) {
	tbl := New()
	tbl.Insert(40, 1, 40)
	tbl.Insert(41, 1, 41)

	seen := map[int]bool{}
	tbl.ForEach(func(p *Process) { seen[p.Pid] = true })

	require.True(t, seen[40])
	require.True(t, seen[41])
	require.True(t, seen[tbl.InitPid()])
	require.True(t, seen[tbl.SelfPid()])
}
