package users

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUsersCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gristproxy.hcl")
	require.NoError(t, os.WriteFile(path, []byte(`
grist_url    = "https://grist.example.com"
auth0_domain = "tenant.auth0.com"

user "a@x.com" {
  key = "0123456789abcdef-secret-K1"
}
`), 0o600))

	t.Setenv("USER_1_EMAIL", "b@x.com")
	t.Setenv("USER_1_KEY", "K2")

	var out bytes.Buffer
	UsersCmd.SetOut(&out)
	UsersCmd.SetArgs([]string{"--config", path})
	require.NoError(t, UsersCmd.Execute())

	s := out.String()
	assert.Contains(t, s, "a@x.com")
	assert.Contains(t, s, "b@x.com")
	assert.Contains(t, s, "env:USER_1")
	assert.NotContains(t, s, "0123456789abcdef-secret-K1")
	assert.Contains(t, s, "t-K1")
}

func TestUsersCommand_MissingConfig(t *testing.T) {
	UsersCmd.SetOut(&bytes.Buffer{})
	UsersCmd.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "nope.hcl")})
	assert.Error(t, UsersCmd.Execute())
}
