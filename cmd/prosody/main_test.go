package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RyanBlaney/sonido-prosody/kaldi"
	"github.com/RyanBlaney/sonido-prosody/transcode"
)

func writeSilence(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "silence.wav")
	require.NoError(t, transcode.SaveWAV(path, &transcode.AudioData{
		PCM:        make([]float64, 16000),
		SampleRate: 16000,
		Channels:   1,
		Duration:   time.Second,
	}))
	return path
}

func TestRunWritesDefaultMATOutput(t *testing.T) {
	dir := t.TempDir()
	wav := writeSilence(t, dir)

	var stderr bytes.Buffer
	code := run([]string{wav}, &stderr)
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(dir, "silence.mat"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("MATLAB 5.0 MAT-file")))
}

func TestRunWritesArkByExtension(t *testing.T) {
	dir := t.TempDir()
	wav := writeSilence(t, dir)
	out := filepath.Join(dir, "feats.ark")

	var stderr bytes.Buffer
	code := run([]string{"-o", out, "-stop", "0.5", wav}, &stderr)
	require.Equal(t, 0, code, stderr.String())

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()

	matrices, err := kaldi.ReadTextArchive(f)
	require.NoError(t, err)
	require.Len(t, matrices, 1)
	assert.Equal(t, "silence", matrices[0].Key)
	// floor((0.5 - 0.08) / 0.04) + 1
	assert.Len(t, matrices[0].Rows, 11)
}

func TestRunUsesConfigFile(t *testing.T) {
	dir := t.TempDir()
	wav := writeSilence(t, dir)
	cfg := filepath.Join(dir, "prosody.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte(
		"filterbank:\n  nb_channels: 8\nstreams:\n  delta: false\n  delta_delta: false\n  dct: false\n  pitch_delta: false\noutput:\n  format: yaml\n",
	), 0o644))

	var stderr bytes.Buffer
	code := run([]string{"-config", cfg, wav}, &stderr)
	require.Equal(t, 0, code, stderr.String())

	data, err := os.ReadFile(filepath.Join(dir, "silence.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "name: energy")
	assert.Contains(t, string(data), "name: pov")
	assert.NotContains(t, string(data), "name: dct")
}

func TestRunLogsJSON(t *testing.T) {
	dir := t.TempDir()
	wav := writeSilence(t, dir)

	var stderr bytes.Buffer
	code := run([]string{"-log-format", "json", "-log-level", "info", wav}, &stderr)
	require.Equal(t, 0, code, stderr.String())
	assert.Contains(t, stderr.String(), `"msg":"Features written"`)
	assert.Contains(t, stderr.String(), `"level":"INFO"`)
}

func TestRunFailures(t *testing.T) {
	dir := t.TempDir()
	wav := writeSilence(t, dir)
	mp3 := filepath.Join(dir, "speech.mp3")
	require.NoError(t, os.WriteFile(mp3, []byte("not audio"), 0o644))

	cases := []struct {
		name string
		args []string
		want string
	}{
		{name: "no input", args: nil, want: "usage"},
		{name: "missing config", args: []string{"-config", filepath.Join(dir, "nope.yaml"), wav}, want: "invalid configuration"},
		{name: "missing wav", args: []string{filepath.Join(dir, "nope.wav")}, want: "nope.wav"},
		{name: "bad format", args: []string{"-format", "hdf5", wav}, want: "output.format"},
		{name: "bad log level", args: []string{"-log-level", "chatty", wav}, want: "chatty"},
		{name: "bad log format", args: []string{"-log-format", "xml", wav}, want: "unknown log format"},
		{name: "missing ffmpeg", args: []string{"-ffmpeg", "sonido-prosody-no-such-ffmpeg", mp3}, want: "sonido-prosody-no-such-ffmpeg is required"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var stderr bytes.Buffer
			assert.Equal(t, 1, run(tc.args, &stderr))
			assert.Contains(t, stderr.String(), tc.want)
		})
	}

	_, err := os.Stat(filepath.Join(dir, "silence.mat"))
	assert.True(t, os.IsNotExist(err), "failed runs must not leave output behind")
}
