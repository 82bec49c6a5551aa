package svcinstall

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveServiceName(t *testing.T) {
	require.Equal(t, "ssrlocal-home", resolveServiceName("home"))
	require.Equal(t, "ssrlocal-home", resolveServiceName("ssrlocal-home"))
}

func TestGenerateUnitIncludesBinaryAndConfigPaths(t *testing.T) {
	unit := generateUnit("ssrlocal-home", "/usr/local/bin/ssrlocal", "/etc/ssrlocal/configs/home.toml")
	require.Contains(t, unit, "ExecStart=/usr/local/bin/ssrlocal run -c /etc/ssrlocal/configs/home.toml")
	require.Contains(t, unit, "[Install]")
	require.Contains(t, unit, "WantedBy=multi-user.target")
}

func TestCopyFilePreservesContentAndMode(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src.toml")
	require.NoError(t, os.WriteFile(src, []byte("hello"), 0600))

	dst := filepath.Join(dir, "dst.toml")
	require.NoError(t, copyFile(src, dst, 0644))

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	info, err := os.Stat(dst)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0644), info.Mode())
}
