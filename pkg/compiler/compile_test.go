package compiler

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracket-qos/pkg/queuetree"
)

var devs = Devices{ToISP: "isp0", ToInternet: "inet0"}

func sampleTree(t *testing.T) *queuetree.QueueTree {
	t.Helper()
	tree := queuetree.New(queuetree.LaneCount{ToISP: 2, ToInternet: 2})
	tower := queuetree.NewTower("North", "t1", 100, 20)
	ap := tower.Add(queuetree.NewAccessPoint("ap", "ap1", 50, 10))
	ap.Add(queuetree.NewClient("Alice", "c1", 20, 4, []string{"10.0.0.1", "10.0.0.2"}))
	require.NoError(t, tree.Attach(0, tower))
	require.NoError(t, tree.Attach(1, queuetree.NewClient("Bob", "c2", 25, 5, []string{"10.0.1.1"})))
	require.NoError(t, tree.Attach(0, queuetree.NewClient("Carol", "c3", 10, 2, []string{"10.0.2.1"})))
	return tree
}

func classesOn(rec *Recorder, dev string, lane uint32) []ClassOp {
	var out []ClassOp
	for _, c := range rec.Classes {
		if c.Dev == dev && c.ClassID.Major == lane {
			out = append(out, c)
		}
	}
	return out
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "1:3", Handle{1, 3}.String())
	assert.Equal(t, "a:ff", Handle{10, 255}.String())
}

func TestRates(t *testing.T) {
	r, c := aggregateRates(100)
	assert.Equal(t, [2]uint32{95, 100}, [2]uint32{r, c})
	r, c = aggregateRates(19)
	assert.Equal(t, [2]uint32{18, 19}, [2]uint32{r, c})
	r, c = clientRates(20)
	assert.Equal(t, [2]uint32{10, 22}, [2]uint32{r, c})
	r, c = clientRates(25)
	assert.Equal(t, [2]uint32{13, 28}, [2]uint32{r, c})
	r, c = clientRates(100)
	assert.Equal(t, [2]uint32{50, 109}, [2]uint32{r, c})
}

func TestCompile(t *testing.T) {
	rec := &Recorder{}
	res, err := Compile(context.Background(), sampleTree(t), rec, devs)
	require.NoError(t, err)
	require.NoError(t, res.Err())

	want := []ClassOp{
		{Dev: "isp0", Parent: Handle{1, 1}, ClassID: Handle{1, 3}, RateMbps: 95, CeilMbps: 100, Prio: 3},
		{Dev: "isp0", Parent: Handle{1, 3}, ClassID: Handle{1, 4}, RateMbps: 47, CeilMbps: 50, Prio: 3},
		{Dev: "isp0", Parent: Handle{1, 4}, ClassID: Handle{1, 5}, RateMbps: 10, CeilMbps: 22, Prio: 3},
		{Dev: "isp0", Parent: Handle{1, 1}, ClassID: Handle{1, 6}, RateMbps: 5, CeilMbps: 11, Prio: 3},
	}
	if diff := cmp.Diff(want, classesOn(rec, "isp0", 1)); diff != "" {
		t.Fatalf("lane 1 download classes (-want +got):\n%s", diff)
	}
	up := classesOn(rec, "inet0", 1)
	require.Len(t, up, 4)
	assert.Equal(t, ClassOp{Dev: "inet0", Parent: Handle{1, 4}, ClassID: Handle{1, 5}, RateMbps: 2, CeilMbps: 5, Prio: 3}, up[2])

	lane2 := classesOn(rec, "isp0", 2)
	require.Len(t, lane2, 1)
	assert.Equal(t, Handle{2, FirstDynamicMinor}, lane2[0].ClassID)
	assert.Equal(t, Handle{2, RootMinor}, lane2[0].Parent)

	assert.Len(t, rec.Qdiscs, 6, "one leaf per client per direction")
	assert.ElementsMatch(t, []BindOp{
		{IP: "10.0.0.1", Lane: 1, ClassID: Handle{1, 5}},
		{IP: "10.0.0.2", Lane: 1, ClassID: Handle{1, 5}},
		{IP: "10.0.2.1", Lane: 1, ClassID: Handle{1, 6}},
		{IP: "10.0.1.1", Lane: 2, ClassID: Handle{2, 3}},
	}, rec.Binds)
	assert.Equal(t, uint32(1), BindOp{Lane: 2}.CPU())

	assert.Equal(t, "t1", res.QueueSites[Handle{1, 3}])
	assert.Equal(t, "c2", res.QueueSites[Handle{2, 3}])
	assert.Len(t, res.QueueSites, 5)
	assert.Equal(t, "c1", res.IPSites["10.0.0.2"])
	assert.Equal(t, 0, res.Failures())
	require.Len(t, res.Lanes, 2)
	assert.Equal(t, 8, res.Lanes[0].Classes)
	assert.Equal(t, 3, res.Lanes[0].Bindings)
}

func TestCompileParentBeforeChild(t *testing.T) {
	rec := &Recorder{}
	_, err := Compile(context.Background(), sampleTree(t), rec, devs)
	require.NoError(t, err)
	created := map[Handle]bool{{1, RootMinor}: true, {2, RootMinor}: true}
	for _, c := range classesOn(rec, "isp0", 1) {
		assert.True(t, created[c.Parent], "parent %s created before %s", c.Parent, c.ClassID)
		created[c.ClassID] = true
	}
}

func TestCompileSubtreeFailureIsolated(t *testing.T) {
	boom := errors.New("RTNETLINK answers: Invalid argument")
	rec := &Recorder{Fail: func(op any) error {
		if c, ok := op.(ClassOp); ok && c.ClassID == (Handle{1, 3}) && c.Dev == "inet0" {
			return boom
		}
		return nil
	}}
	res, err := Compile(context.Background(), sampleTree(t), rec, devs)
	require.NoError(t, err)

	require.Equal(t, 1, res.Failures())
	f := res.Lanes[0].Failures[0]
	assert.Equal(t, "t1", f.SiteID)
	assert.Equal(t, Handle{1, 3}, f.Handle)
	assert.ErrorIs(t, res.Err(), boom)

	for _, c := range rec.Classes {
		assert.NotEqual(t, Handle{1, 3}, c.Parent, "failed tower's children are skipped")
	}
	sibling := classesOn(rec, "isp0", 1)
	require.Len(t, sibling, 2)
	assert.Equal(t, Handle{1, 4}, sibling[1].ClassID, "sibling gets the next id; the failed id is not reused")
	assert.Equal(t, "c3", res.QueueSites[Handle{1, 4}])
	assert.Len(t, classesOn(rec, "isp0", 2), 1, "other lanes are unaffected")
}

func TestCompileBindFailure(t *testing.T) {
	rec := &Recorder{Fail: func(op any) error {
		if b, ok := op.(BindOp); ok && b.IP == "10.0.0.1" {
			return errors.New("map full")
		}
		return nil
	}}
	res, err := Compile(context.Background(), sampleTree(t), rec, devs)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failures())
	assert.Equal(t, 2, res.Lanes[0].Bindings)
	_, bound := res.IPSites["10.0.0.1"]
	assert.False(t, bound)
	assert.Equal(t, "c1", res.IPSites["10.0.0.2"])
}

func TestCompileUnknownKind(t *testing.T) {
	tree := sampleTree(t)
	tree.Queues[1].Children[0].Kind = 99
	_, err := Compile(context.Background(), tree, &Recorder{}, devs)
	assert.ErrorIs(t, err, queuetree.ErrUnknownKind)
}

func TestCompileEmptyTree(t *testing.T) {
	rec := &Recorder{}
	res, err := Compile(context.Background(), queuetree.New(queuetree.LaneCount{ToISP: 3, ToInternet: 3}), rec, devs)
	require.NoError(t, err)
	assert.Len(t, res.Lanes, 3)
	assert.Equal(t, 0, rec.Ops())
}

func TestSubtreeFailureUnwraps(t *testing.T) {
	boom := errors.New("rtnetlink busy")
	f := SubtreeFailure{SiteID: "c1", Handle: Handle{2, 5}, Err: boom}
	assert.ErrorIs(t, f, boom)
	assert.Contains(t, f.Error(), "2:5")

	res := Result{Lanes: []LaneResult{{Lane: 1}, {Lane: 2, Failures: []SubtreeFailure{f}}}}
	assert.ErrorIs(t, res.Lanes[1].Err(), boom)
	assert.ErrorIs(t, res.Err(), boom)
	assert.NoError(t, res.Lanes[0].Err())
}
