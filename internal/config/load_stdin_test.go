package config

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateSingleStdinFileSource_AllowsZeroOrOneStdinSource(t *testing.T) {
	t.Run("none", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "/tmp/dsn")
		v.Set("database.password_file", "/tmp/password")

		assert.NoError(t, validateSingleStdinFileSource(v))
	})

	t.Run("one", func(t *testing.T) {
		v := viper.New()
		v.Set("database.dsn_file", "@-")
		v.Set("database.password_file", "/tmp/password")

		assert.NoError(t, validateSingleStdinFileSource(v))
	})
}

func TestValidateSingleStdinFileSource_RejectsMultipleStdinSources(t *testing.T) {
	v := viper.New()
	v.Set("database.dsn_file", "@-")
	v.Set("database.password_file", " @- ")

	err := validateSingleStdinFileSource(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "database.dsn_file")
	assert.Contains(t, err.Error(), "database.password_file")
}

func TestReadSecretFile_Stdin(t *testing.T) {
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("  root:pw@tcp(db:4000)/garage \n")

	secret, err := readSecretFile("@-")
	require.NoError(t, err)
	assert.Equal(t, "root:pw@tcp(db:4000)/garage", secret)
}

func TestLoad_DSNFromStdin(t *testing.T) {
	isolate(t)
	orig := stdin
	t.Cleanup(func() { stdin = orig })
	stdin = strings.NewReader("app:pw@tcp(db:4000)/garage\n")

	cfg, err := Load(newFlagSet(), []string{"--database.dsn_file", "@-"})
	require.NoError(t, err)
	assert.Equal(t, "app:pw@tcp(db:4000)/garage", cfg.Database.ConnectionString)

	name, err := cfg.Database.EffectiveDatabaseName()
	require.NoError(t, err)
	assert.Equal(t, "garage", name)
}

func TestLoad_RejectsTwoStdinSources(t *testing.T) {
	isolate(t)
	_, err := Load(newFlagSet(), []string{"--database.dsn_file=@-", "--database.password_file=@-"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "only one @- source is allowed")
}
