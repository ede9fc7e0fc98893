package cmd

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insfound/internal/config"
)

func withConfig(t *testing.T, cfg config.Config, err error) {
	t.Helper()
	orig := loadConfig
	loadConfig = func(string) (config.Config, error) { return cfg, err }
	t.Cleanup(func() { loadConfig = orig })
}

func TestClassifyCommand(t *testing.T) {
	withConfig(t, config.Config{Admission: config.AdmissionConfig{DenyDomains: []string{"*.blocked.example"}}}, nil)

	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"classify", "https://Example.com/pricing", "http://127.0.0.1/", "https://a.blocked.example/"})

	require.NoError(t, root.Execute())
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "accept\thttps://Example.com/pricing\thttps://example.com/pricing"))
	assert.Equal(t, "reject\thttp://127.0.0.1/\tprivate or loopback urls are not allowed", lines[1])
	assert.Equal(t, "reject\thttps://a.blocked.example/\tdomain is not allowed", lines[2])
}

func TestClassifyRequiresArgs(t *testing.T) {
	withConfig(t, config.Config{}, nil)

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"classify"})
	require.Error(t, root.Execute())
}

func TestConfigErrorStopsCommand(t *testing.T) {
	withConfig(t, config.Config{}, errors.New("bad config"))

	root := newRootCmd()
	root.SetOut(&bytes.Buffer{})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs([]string{"classify", "https://example.com"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad config")
}
