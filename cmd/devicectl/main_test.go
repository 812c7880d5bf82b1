package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deixis/robopanel/internal/config"
)

type fakeBroker struct {
	published  [][2]string
	devices    []string
	registered []string
	regErr     error
	closed     bool
}

func (f *fakeBroker) Publish(_ context.Context, topic, message string) error {
	f.published = append(f.published, [2]string{topic, message})
	return nil
}

func (f *fakeBroker) Devices(_ context.Context, username string) ([]string, error) {
	return f.devices, nil
}

func (f *fakeBroker) RegisterUser(_ context.Context, username, password string) error {
	f.registered = append(f.registered, username)
	return f.regErr
}

func (f *fakeBroker) Close() error {
	f.closed = true
	return nil
}

// run executes devicectl with args against fb and returns stdout.
func run(t *testing.T, fb *fakeBroker, args ...string) (string, *config.RedisConfig, error) {
	t.Helper()
	// A temp config file keeps the test independent of the working directory.
	path := filepath.Join(t.TempDir(), config.FileName)
	require.NoError(t, os.WriteFile(path, []byte("redis:\n  addr: broker.test\n"), 0o644))

	var got *config.RedisConfig
	var out bytes.Buffer
	root := newRootCmd(&out, func(cfg config.RedisConfig) (Broker, error) {
		got = &cfg
		return fb, nil
	})
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--config", path}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), got, err
}

func TestPublish(t *testing.T) {
	t.Setenv("DB_IP", "")
	fb := &fakeBroker{}
	_, cfg, err := run(t, fb, "publish", "--identifier=alice-0A1B", "--command=action_say", "--data=hello there")
	require.NoError(t, err)
	assert.Equal(t, [][2]string{{"alice-0A1B_action_say", "hello there"}}, fb.published)
	assert.True(t, fb.closed)
	require.NotNil(t, cfg)
	assert.Equal(t, "broker.test:6379", cfg.Address())
}

func TestPublish_RequiresIdentifier(t *testing.T) {
	fb := &fakeBroker{}
	_, _, err := run(t, fb, "publish", "--command=say")
	require.Error(t, err)
	assert.Empty(t, fb.published)
}

func TestFeed(t *testing.T) {
	tests := []struct {
		command string
		want    [2]string
	}{
		{"startcam", [2]string{"cam1_action_video", "0"}},
		{"stopcam", [2]string{"cam1_action_video", "-1"}},
		{"startmic", [2]string{"cam1_action_audio", "0"}},
		{"stopmic", [2]string{"cam1_action_audio", "-1"}},
	}
	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			fb := &fakeBroker{}
			_, _, err := run(t, fb, "feed", "--identifier=cam1", "--command="+tt.command)
			require.NoError(t, err)
			assert.Equal(t, [][2]string{tt.want}, fb.published)
		})
	}
}

func TestFeed_UnknownCommand(t *testing.T) {
	fb := &fakeBroker{}
	_, cfg, err := run(t, fb, "feed", "--identifier=cam1", "--command=zoom")
	require.ErrorContains(t, err, `unknown feed command "zoom"`)
	assert.Nil(t, cfg, "no connection is made")
}

func TestDevices(t *testing.T) {
	fb := &fakeBroker{devices: []string{"alice-0A1B:cam", "alice-0A1B:robot"}}
	out, _, err := run(t, fb, "devices", "--username=alice")
	require.NoError(t, err)
	assert.Equal(t, "alice-0A1B:cam\nalice-0A1B:robot\n", out)
}

func TestRegister(t *testing.T) {
	fb := &fakeBroker{}
	out, _, err := run(t, fb, "register", "--username=alice", "--password=password1")
	require.NoError(t, err)
	assert.Equal(t, "Registration completed!\n", out)
	assert.Equal(t, []string{"alice"}, fb.registered)

	fb = &fakeBroker{regErr: errors.New("NOPERM")}
	out, _, err = run(t, fb, "register", "--username=alice", "--password=password1")
	require.Error(t, err)
	assert.Equal(t, "Registration failed...\n", out)
}

func TestRegister_Validation(t *testing.T) {
	fb := &fakeBroker{}
	_, _, err := run(t, fb, "register", "--username=al", "--password=password1")
	require.ErrorContains(t, err, "at least 4 characters")
	assert.Empty(t, fb.registered)
}
