package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/danmuck/ownetctl/internal/protocol"
	"github.com/danmuck/ownetctl/internal/protocol/frame"
	"github.com/danmuck/ownetctl/internal/testutil/owtest"
	"github.com/danmuck/ownetctl/internal/testutil/testlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	err := cmd.ExecuteContext(t.Context())
	return out.String(), errOut.String(), err
}

func startServer(t *testing.T, tree *owtest.Tree) (*owtest.Server, string) {
	t.Helper()
	srv := owtest.Start(t, tree.Handle)
	return srv, "//" + srv.Addr()
}

func TestPingAndLs(t *testing.T) {
	testlog.Start(t)
	srv, base := startServer(t, owtest.SensorTree())

	out, _, err := run(t, "ping", base+"/")
	require.NoError(t, err)
	assert.Equal(t, "ok "+srv.Addr()+"\n", out)

	out, _, err = run(t, "ls", base+"/")
	require.NoError(t, err)
	assert.Equal(t, "/10.AABBCC/\n/26.DDEEFF/\n", out)

	out, _, err = run(t, "ls", "--no-slash", base+"/10.AABBCC/")
	require.NoError(t, err)
	assert.Contains(t, out, "/10.AABBCC/temperature\n")

	req, ok := srv.LastRequest()
	require.True(t, ok)
	assert.Equal(t, frame.MsgDirAll, req.Header.MsgType())
}

func TestReadWritePresent(t *testing.T) {
	testlog.Start(t)
	tree := owtest.SensorTree()
	srv, base := startServer(t, tree)

	out, _, err := run(t, "read", base+"/10.AABBCC/temperature")
	require.NoError(t, err)
	assert.Equal(t, "     21.5625\n", out)

	out, _, err = run(t, "read", "--hex", "--size", "2", "--offset", "5", base+"/10.AABBCC/temperature")
	require.NoError(t, err)
	assert.Equal(t, "3231\n", out)

	_, _, err = run(t, "-F", "write", base+"/10.AABBCC/type", "DS18B20")
	require.NoError(t, err)
	v, _ := tree.Get("/10.AABBCC/type")
	assert.Equal(t, "DS18B20", string(v))
	req, _ := srv.LastRequest()
	assert.Equal(t, frame.TempF, req.Header.Flags.TempScale())

	_, _, err = run(t, "write", base+"/10.AABBCC/alias", "kitchen")
	var se *protocol.ServerError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int32(owtest.EACCES), se.Code)

	out, _, err = run(t, "present", base+"/10.AABBCC/missing")
	require.NoError(t, err)
	assert.Equal(t, "false\n", out)
}

func TestWalkPrintsValuesAndErrors(t *testing.T) {
	testlog.Start(t)
	_, base := startServer(t, owtest.SensorTree())

	out, errOut, err := run(t, "walk", "--persistent", base+"/26.DDEEFF/")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "/26.DDEEFF/VAD"))
	assert.Contains(t, lines[0], `"      4.97"`)
	assert.Empty(t, errOut)

	_, errOut, err = run(t, "walk", base+"/gone/")
	require.NoError(t, err)
	assert.Contains(t, errOut, "Unable to walk /gone/")
}

func TestSensorsDescribesDevices(t *testing.T) {
	testlog.Start(t)
	_, base := startServer(t, owtest.SensorTree().WithStructure())

	out, _, err := run(t, "sensors", base+"/")
	require.NoError(t, err)
	assert.Contains(t, out, "DS18S20 at 10AABBCC000000E1")
	assert.Contains(t, out, "|-temperature(). ")
	assert.Contains(t, out, "|-B1_R1_A/")
}

func TestConfigShowAndInit(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "owctl.toml")

	out, _, err := run(t, "config", "init", path)
	require.NoError(t, err)
	assert.Equal(t, "wrote "+path+"\n", out)
	_, _, err = run(t, "config", "init", path)
	require.Error(t, err)

	out, _, err = run(t, "--config", path, "-K", "--format", "fi", "config", "show")
	require.NoError(t, err)
	assert.Regexp(t, `temperature = ['"]K['"]`, out)
	assert.Regexp(t, `format = ['"]fi['"]`, out)

	require.NoError(t, os.WriteFile(path, []byte("[server]\nport = \"\"\n"), 0o600))
	_, _, err = run(t, "--config", path, "config", "show")
	require.Error(t, err)
}

func TestCommandLineErrors(t *testing.T) {
	testlog.Start(t)
	_, _, err := run(t, "ls", "http://localhost/")
	require.ErrorContains(t, err, "invalid URI scheme")

	_, _, err = run(t, "-C", "-F", "version")
	require.Error(t, err)

	_, _, err = run(t, "--format", "bogus", "ping")
	require.ErrorContains(t, err, "flags.format")

	_, _, err = run(t, "read")
	require.Error(t, err)
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version", "--short")
	require.NoError(t, err)
	assert.Equal(t, "dev\n", out)
}

func TestIsServerURI(t *testing.T) {
	assert.True(t, isServerURI("//localhost:4304/"))
	assert.True(t, isServerURI("owserver://h/"))
	assert.False(t, isServerURI("/10.AABBCC/temperature"))
}
