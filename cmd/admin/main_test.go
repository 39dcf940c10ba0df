package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pipeline-proxy/internal/identity"
)

func execute(args ...string) (string, error) {
	a := &app{}
	defer a.close()
	cmd := newRootCmd(a)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestFlagValidationHappensBeforeConnecting(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bind missing remote", []string{"runs", "bind", "--run", identity.Mint()}, `required flag(s) "remote" not set`},
		{"bind bad run", []string{"runs", "bind", "--run", "x", "--remote", identity.Mint()}, "--run must be"},
		{"post-processing bad metadata", []string{"runs", "post-processing", "--run", identity.Mint(), "--state", "failed", "--metadata", "{"}, "--metadata must be valid JSON"},
		{"resolve unknown kind", []string{"identity", "resolve", "--kind", "artifact", "--local", identity.Mint()}, "unknown kind"},
		{"resolve neither id", []string{"identity", "resolve", "--kind", "run"}, "exactly one of"},
		{"resolve bad organization", []string{"identity", "resolve", "--kind", "run", "--local", identity.Mint(), "--organization", "acme"}, "--organization must be"},
		{"resolve both ids", []string{"identity", "resolve", "--kind", "run", "--local", "a", "--remote", "b"}, "none of the others can be"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCommandsAreRegistered(t *testing.T) {
	root := newRootCmd(&app{})
	for _, path := range [][]string{
		{"migrate"},
		{"runs", "bind"},
		{"runs", "post-processing"},
		{"identity", "resolve"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}
