package sensors

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/ownetctl/internal/ownet"
	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/testutil/owtest"
	"github.com/danmuck/ownetctl/internal/testutil/testlog"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, tree *owtest.Tree, persistent bool) (ownet.Proxy, *owtest.Server) {
	t.Helper()
	srv := owtest.Start(t, tree.Handle)
	host, port := srv.HostPort()
	opts := ownet.DefaultOptions()
	opts.Host, opts.Port = host, port
	opts.Persistent = persistent
	opts.Session.IOTimeout = time.Second
	p, err := ownet.Connect(t.Context(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, srv
}

func TestParseProperties(t *testing.T) {
	p, err := ParseProperties([]byte("t,000000,000000,ro,000012,v,"))
	require.NoError(t, err)
	assert.Equal(t, Properties{Type: "t", Mode: "ro", Len: 12, Pers: "v"}, p)
	assert.True(t, p.Readable())
	assert.False(t, p.Fixed())

	_, err = ParseProperties([]byte("t,0,0,ro,12,v"))
	require.Error(t, err, "six fields")
	_, err = ParseProperties([]byte("t,x,0,ro,12,v,"))
	require.Error(t, err)
}

func TestCast(t *testing.T) {
	cases := []struct {
		kind Kind
		raw  string
		want any
	}{
		{KindInt, "        1234", int64(1234)},
		{KindFloat, "     21.5625", 21.5625},
		{KindString, "DS18S20", "DS18S20"},
		{KindBytes, "\x01\x02", []byte{1, 2}},
		{KindBool, "1", true},
		{KindBool, " 0", false},
	}
	for _, tc := range cases {
		got, err := Cast(tc.kind, []byte(tc.raw))
		require.NoError(t, err, "%s %q", tc.kind, tc.raw)
		assert.Equal(t, tc.want, got)
	}
	_, err := Cast(KindFloat, []byte("warm"))
	require.Error(t, err)
}

func TestKindOfCoversTypeCodes(t *testing.T) {
	for _, code := range []string{"i", "u", "f", "l", "a", "b", "y", "d", "t", "g", "p"} {
		_, ok := KindOf(code)
		assert.True(t, ok, code)
	}
	_, ok := KindOf("z")
	assert.False(t, ok)
}

func TestMangle(t *testing.T) {
	assert.Equal(t, "B1_R1_A", mangle("B1-R1-A/"))
	assert.Equal(t, "temperatures", mangle("temperatures.ALL"))
	assert.Equal(t, "type", mangle("type"))
}

func TestScanListsDevicesOnly(t *testing.T) {
	testlog.Start(t)
	p, _ := connect(t, owtest.SensorTree().WithSystem().WithStructure(), false)
	got, err := NewRoot(p).Scan(t.Context())
	require.NoError(t, err)
	if diff := cmp.Diff([]string{"/10.AABBCC/", "/26.DDEEFF/"}, got); diff != "" {
		t.Fatalf("scan mismatch (-want +got):\n%s", diff)
	}
}

func TestSensorBuildsTypedFields(t *testing.T) {
	testlog.Start(t)
	p, _ := connect(t, owtest.SensorTree().WithStructure(), false)
	root := NewRoot(p)
	ctx := t.Context()

	s, err := root.Sensor(ctx, "/26.DDEEFF")
	require.NoError(t, err)
	assert.Equal(t, "/26.DDEEFF/", s.Path)
	assert.Equal(t, "DS2438 at 26DDEEFF000000B7", s.String())
	assert.Equal(t, "26", s.Fixed["family"])

	want := []string{"B1_R1_A", "IAD", "VAD", "address", "family", "pages", "temperature", "type"}
	if diff := cmp.Diff(want, s.Names()); diff != "" {
		t.Fatalf("names mismatch (-want +got):\n%s", diff)
	}
	assert.NotContains(t, s.Fields, "disconnect", "write-only entries are skipped")
	assert.Empty(t, s.Dirs["pages"].Fields, "page entries are skipped")

	temp, err := s.Fields["temperature"].Float(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 19.25, temp, 1e-9)

	iad, err := s.Fields["IAD"].Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, false, iad)

	gain, err := s.Dirs["B1_R1_A"].Fields["gain"].Float(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, gain, 1e-9)
}

func TestSensorIsCachedAndStructureSharedPerFamily(t *testing.T) {
	testlog.Start(t)
	tree := owtest.SensorTree().WithStructure()
	tree.Set("/10.112233/family", []byte("10"))
	tree.Set("/10.112233/type", []byte("DS18S20"))
	tree.Set("/10.112233/address", []byte("10112233000000AA"))
	tree.Set("/10.112233/temperature", []byte("     -3.5"))
	p, srv := connect(t, tree, false)
	root := NewRoot(p)
	ctx := t.Context()

	first, err := root.Sensor(ctx, "/10.AABBCC/")
	require.NoError(t, err)
	again, err := root.Sensor(ctx, "/10.AABBCC/")
	require.NoError(t, err)
	assert.Same(t, first, again)

	before := countPrefix(srv.Requests(), protocol.PathStructure)
	other, err := root.Sensor(ctx, "/10.112233/")
	require.NoError(t, err)
	assert.Equal(t, before, countPrefix(srv.Requests(), protocol.PathStructure), "family structure re-read")
	assert.Equal(t, "DS18S20", other.Type())

	v, err := other.Fields["temperature"].Float(ctx)
	require.NoError(t, err)
	assert.InDelta(t, -3.5, v, 1e-9)
}

func TestSensorErrors(t *testing.T) {
	testlog.Start(t)
	tree := owtest.SensorTree().WithStructure()
	tree.Set("/settings/units/temperature_scale", []byte("C"))
	p, _ := connect(t, tree, false)
	root := NewRoot(p)

	_, err := root.Sensor(t.Context(), "/99.000000/")
	assert.ErrorIs(t, err, ErrNoSuchSensor)

	_, err = root.Sensor(t.Context(), "/settings/")
	assert.ErrorIs(t, err, ErrNotSensor)
}

func TestWalkVisitsLeavesInOrder(t *testing.T) {
	testlog.Start(t)
	tree := owtest.SensorTree()
	for _, persistent := range []bool{false, true} {
		p, _ := connect(t, tree, persistent)
		var got []string
		err := Walk(t.Context(), p, "/", WalkOptions{Concurrency: 3}, func(l Leaf) error {
			require.NoError(t, l.Err, l.Path)
			got = append(got, l.Path)
			return nil
		})
		require.NoError(t, err)
		want := []string{
			"/10.AABBCC/address", "/10.AABBCC/alias", "/10.AABBCC/family",
			"/10.AABBCC/temperature", "/10.AABBCC/type",
			"/26.DDEEFF/VAD", "/26.DDEEFF/family", "/26.DDEEFF/temperature", "/26.DDEEFF/type",
		}
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("persistent=%v walk mismatch (-want +got):\n%s", persistent, diff)
		}
	}
}

func TestWalkSingleLeafAndServerErrors(t *testing.T) {
	testlog.Start(t)
	p, _ := connect(t, owtest.SensorTree(), false)

	var leaves []Leaf
	collect := func(l Leaf) error {
		leaves = append(leaves, l)
		return nil
	}
	require.NoError(t, Walk(t.Context(), p, "/10.AABBCC/type", WalkOptions{}, collect))
	require.Len(t, leaves, 1)
	assert.Equal(t, []byte("DS18S20"), leaves[0].Value)

	leaves = nil
	require.NoError(t, Walk(t.Context(), p, "/nowhere/", WalkOptions{}, collect))
	require.Len(t, leaves, 1)
	var se *protocol.ServerError
	require.ErrorAs(t, leaves[0].Err, &se)
	assert.Equal(t, int32(owtest.ENOENT), se.Code)
}

func TestWalkStopsOnCallbackError(t *testing.T) {
	testlog.Start(t)
	p, _ := connect(t, owtest.SensorTree(), false)
	stop := errors.New("stop")
	calls := 0
	err := Walk(t.Context(), p, "/", WalkOptions{}, func(Leaf) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestWalkAbortsOnTransportError(t *testing.T) {
	testlog.Start(t)
	var once sync.Once
	tree := owtest.SensorTree()
	var current atomic.Pointer[owtest.Server]
	srv := owtest.Start(t, func(req owtest.Request) owtest.Response {
		if req.Path == "/26.DDEEFF/" {
			once.Do(func() { go current.Load().Close() })
			time.Sleep(50 * time.Millisecond)
		}
		return tree.Handle(req)
	})
	current.Store(srv)
	host, port := srv.HostPort()
	opts := ownet.DefaultOptions()
	opts.Host, opts.Port = host, port
	opts.Session.IOTimeout = time.Second
	p, err := ownet.Connect(t.Context(), opts)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	err = Walk(ctx, p, "/", WalkOptions{Concurrency: 1}, func(Leaf) error { return nil })
	require.Error(t, err)
	assert.True(t, protocol.IsTransport(err), "got %v", err)
}

func countPrefix(reqs []owtest.Request, prefix string) int {
	n := 0
	for _, r := range reqs {
		if len(r.Path) >= len(prefix) && r.Path[:len(prefix)] == prefix {
			n++
		}
	}
	return n
}
