package app

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kart-io/sentinel-rag/pkg/app/cliflag"
)

type ragSection struct {
	TopK int           `mapstructure:"top-k"`
	TTL  time.Duration `mapstructure:"ttl"`
	Mode string        `mapstructure:"mode"`
}

type testOptions struct {
	RAG       *ragSection `mapstructure:"rag"`
	completed bool
	validErr  error
}

func newTestOptions() *testOptions {
	return &testOptions{RAG: &ragSection{TopK: 3, TTL: time.Hour, Mode: "default"}}
}

func (o *testOptions) Flags() (fss cliflag.NamedFlagSets) {
	fs := fss.FlagSet("rag")
	fs.IntVar(&o.RAG.TopK, "rag.top-k", o.RAG.TopK, "top k")
	fs.DurationVar(&o.RAG.TTL, "rag.ttl", o.RAG.TTL, "ttl")
	fs.StringVar(&o.RAG.Mode, "rag.mode", o.RAG.Mode, "mode")
	return fss
}

func (o *testOptions) Complete() error { o.completed = true; return nil }
func (o *testOptions) Validate() error { return o.validErr }

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-app.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApp_ConfigPrecedence(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "rag:\n  top-k: 7\n  ttl: 10m\n  mode: ${RAG_TEST_MODE}\n")
	t.Setenv("RAG_TEST_MODE", "from-env-ref")
	t.Setenv("TEST_APP_RAG_TTL", "2m")

	opts := newTestOptions()
	ran := false
	a := NewApp(WithName("test-app"), WithNoVersion(), WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }))
	a.Command().SetArgs([]string{"--config", path, "--rag.top-k", "9"})

	require.NoError(t, a.Command().Execute())
	assert.True(t, ran)
	assert.True(t, opts.completed)
	assert.Equal(t, 9, opts.RAG.TopK, "changed flag wins")
	assert.Equal(t, 2*time.Minute, opts.RAG.TTL, "env beats config file")
	assert.Equal(t, "from-env-ref", opts.RAG.Mode, "config values expand env references")
}

func TestApp_DefaultsWithoutConfig(t *testing.T) {
	t.Chdir(t.TempDir())
	opts := newTestOptions()
	a := NewApp(WithName("test-app"), WithNoVersion(), WithOptions(opts), WithRunFunc(func() error { return nil }))
	a.Command().SetArgs(nil)

	require.NoError(t, a.Command().Execute())
	assert.Equal(t, 3, opts.RAG.TopK)
	assert.Equal(t, time.Hour, opts.RAG.TTL)
}

func TestApp_SubcommandSharesOptions(t *testing.T) {
	t.Chdir(t.TempDir())
	opts := newTestOptions()
	var got int
	sub := &cobra.Command{
		Use: "ask",
		RunE: func(*cobra.Command, []string) error {
			got = opts.RAG.TopK
			return nil
		},
	}
	a := NewApp(WithName("test-app"), WithNoVersion(), WithOptions(opts), WithCommands(sub))
	a.Command().SetArgs([]string{"ask", "--rag.top-k", "5"})

	require.NoError(t, a.Command().Execute())
	assert.Equal(t, 5, got)
}

func TestApp_ValidationFailureStopsRun(t *testing.T) {
	t.Chdir(t.TempDir())
	opts := newTestOptions()
	opts.validErr = errors.New("rag.top-k must be positive")
	ran := false
	a := NewApp(WithName("test-app"), WithNoVersion(), WithSilence(), WithOptions(opts),
		WithRunFunc(func() error { ran = true; return nil }))
	a.Command().SetArgs(nil)

	err := a.Command().Execute()
	require.Error(t, err)
	assert.False(t, ran)
}

func TestApp_BadConfigFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := writeConfig(t, "rag: [unclosed\n")
	a := NewApp(WithName("test-app"), WithNoVersion(), WithSilence(), WithOptions(newTestOptions()),
		WithRunFunc(func() error { return nil }))
	a.Command().SetArgs([]string{"--config", path})
	assert.Error(t, a.Command().Execute())
}

func TestEnvPrefix(t *testing.T) {
	assert.Equal(t, "SENTINEL_RAG", EnvPrefix("sentinel-rag"))
}
