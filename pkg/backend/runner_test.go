package backend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reservoir/pkg/apperror"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not supported on windows")
	}
	path := filepath.Join(t.TempDir(), "fake.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func TestExecRunner_Success(t *testing.T) {
	script := writeScript(t, `echo "out $1"; echo "err" >&2; pwd > where.txt`)
	dir := t.TempDir()

	exe, err := NewExecRunner().Run(context.Background(), Command{
		Binary: script, Args: []string{"CASE"}, Dir: dir, Timeout: 10 * time.Second,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, exe.ExitCode)
	assert.Equal(t, "out CASE\n", exe.Stdout)
	assert.Equal(t, "err\n", exe.Stderr)
	assert.FileExists(t, filepath.Join(dir, "where.txt"))
}

func TestExecRunner_NonZeroExit(t *testing.T) {
	script := writeScript(t, `echo "Error: bad deck" >&2; exit 3`)

	exe, err := NewExecRunner().Run(context.Background(), Command{Binary: script})
	require.NoError(t, err)
	assert.Equal(t, 3, exe.ExitCode)

	nz := NonZeroExit("flow", exe)
	assert.True(t, apperror.Is(nz, apperror.CodeNonZeroExit))
	assert.Contains(t, nz.Error(), "Error: bad deck")
}

func TestExecRunner_Timeout(t *testing.T) {
	script := writeScript(t, `sleep 5`)
	r := NewExecRunner()
	r.WaitDelay = 100 * time.Millisecond

	started := time.Now()
	_, err := r.Run(context.Background(), Command{Binary: script, Timeout: 100 * time.Millisecond})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeTimeout), err.Error())
	assert.Less(t, time.Since(started), 4*time.Second)
}

func TestExecRunner_Cancelled(t *testing.T) {
	script := writeScript(t, `sleep 5`)
	r := NewExecRunner()
	r.WaitDelay = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	_, err := r.Run(ctx, Command{Binary: script, Timeout: time.Minute})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeCancelled), err.Error())
}

func TestExecRunner_BinaryNotFound(t *testing.T) {
	_, err := NewExecRunner().Run(context.Background(), Command{Binary: "definitely-not-a-simulator-binary"})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeBinaryNotFound))
	assert.True(t, apperror.IsInfrastructure(err))
}

func TestExecRunner_Env(t *testing.T) {
	script := writeScript(t, `echo "$SIM_CASE"`)
	exe, err := NewExecRunner().Run(context.Background(), Command{Binary: script, Env: []string{"SIM_CASE=SPE1"}})
	require.NoError(t, err)
	assert.Equal(t, "SPE1\n", exe.Stdout)
}

func TestExecRunner_TruncatesOutput(t *testing.T) {
	script := writeScript(t, `i=0; while [ $i -lt 200 ]; do echo "0123456789"; i=$((i+1)); done`)
	r := NewExecRunner()
	r.MaxOutputBytes = 100

	exe, err := r.Run(context.Background(), Command{Binary: script})
	require.NoError(t, err)
	assert.True(t, exe.Truncated)
	assert.Len(t, exe.Stdout, 100)
}

func TestLimitedWriter(t *testing.T) {
	var buf bytes.Buffer
	lw := &limitedWriter{w: &buf, max: 5}

	n, err := lw.Write([]byte("abc"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = lw.Write([]byte("defgh"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	assert.Equal(t, "abcde", buf.String())
	assert.True(t, lw.truncated)
	assert.Equal(t, int64(3), lw.discarded)
}

func TestTail(t *testing.T) {
	text := "one\n\ntwo\nthree\n  \nfour\n"
	assert.Equal(t, "three; four", Tail(text, 2))
	assert.Equal(t, "one; two; three; four", Tail(text, 10))
	assert.Empty(t, Tail("", 3))
	assert.False(t, strings.Contains(Tail(text, 3), "\n"))
}
