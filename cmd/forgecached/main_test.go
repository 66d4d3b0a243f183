package main

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBinaryPath string

func TestMain(m *testing.M) {
	tempBinary := filepath.Join(os.TempDir(), "forgecached-test-"+fmt.Sprintf("%d", time.Now().UnixNano()))

	buildCmd := exec.Command("go", "build", "-o", tempBinary, ".")
	var buildOut bytes.Buffer
	buildCmd.Stdout = &buildOut
	buildCmd.Stderr = &buildOut

	if err := buildCmd.Run(); err != nil {
		fmt.Printf("Failed to build CLI for testing: %v\nBuild output: %s\n", err, buildOut.String())
		os.Exit(1)
	}

	testBinaryPath = tempBinary

	code := m.Run()

	os.Remove(testBinaryPath)
	os.Exit(code)
}

func runCLICommand(dir string, args ...string) (string, error) {
	if testBinaryPath == "" {
		return "", fmt.Errorf("test binary not built")
	}
	cmd := exec.Command(testBinaryPath, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String() + stderr.String(), err
}

func setupTestProject(t *testing.T) string {
	dir := t.TempDir()
	files := map[string]string{
		"shaders/basic.hlsl":  "// vertex shader\n",
		"shaders/common.hlsl": "// shared header\n",
		"README.md":           "# test project\n",
	}
	for path, content := range files {
		full := filepath.Join(dir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	}
	return dir
}

func TestWarmCacheWalksProjectFiles(t *testing.T) {
	dir := setupTestProject(t)

	output, err := runCLICommand(dir, "--root", dir, "warm-cache")
	require.NoError(t, err)
	assert.Contains(t, output, "warmed")
	assert.Contains(t, output, "file dependencies")
}

func TestCompileSmokeTestProducesArtifact(t *testing.T) {
	output, err := runCLICommand(t.TempDir(), "compile-smoke-test", "--initializer", "demo.src")
	require.NoError(t, err)
	assert.Contains(t, output, "state=")
	assert.Contains(t, output, "demo.src")
}

func TestCompileSmokeTestDefaultsInitializer(t *testing.T) {
	output, err := runCLICommand(t.TempDir(), "compile-smoke-test")
	require.NoError(t, err)
	assert.Contains(t, output, "smoke.src")
}

func TestPackArchiveReportsMissingEntry(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "out.xpak")

	output, err := runCLICommand(dir, "pack-archive",
		"--loose-dir", filepath.Join(dir, "loose"),
		"--archive-path", archivePath,
		"--entry", "does-not-exist")
	require.NoError(t, err)
	assert.Contains(t, output, "skipping")
	assert.Contains(t, output, "packed 0 entries")
}

func TestInspectXPAKRejectsMissingArchive(t *testing.T) {
	dir := t.TempDir()
	_, err := runCLICommand(dir, "inspect-xpak", "--path", filepath.Join(dir, "missing.xpak"))
	assert.Error(t, err)
}

func TestVersionFlag(t *testing.T) {
	output, err := runCLICommand(t.TempDir(), "--version")
	require.NoError(t, err)
	assert.Contains(t, output, "forgecached")
}
