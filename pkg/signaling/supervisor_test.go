package signaling

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/phone_station/pkg/config"
)

// writeScript создает исполняемый скрипт, изображающий движок сигнализации
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func testTrunkConfig(t *testing.T, binary string) *config.TrunkConfig {
	t.Helper()
	return &config.TrunkConfig{
		Server:          "sip.example.com",
		Port:            5060,
		Username:        "operator",
		Password:        "secret",
		CallerID:        "Studio 1",
		Lines:           8,
		Binary:          binary,
		ConfigDir:       filepath.Join(t.TempDir(), "engine"),
		RegisterTimeout: config.Duration(5 * time.Second),
	}
}

func TestValidateNumber(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"+15551234567", "+15551234567", true},
		{"100", "100", true},
		{"8 495 123 45 67", "84951234567", true},
		{"12345#67", "", false},
		{"*70", "", false},
		{"abc", "", false},
		{"+1555;transport=udp", "", false},
		{"sip:100@evil", "", false},
		{"", "", false},
		{"   ", "", false},
		{"++100", "", false},
	}

	for _, tc := range cases {
		got, err := ValidateNumber(tc.in)
		if tc.ok {
			require.NoError(t, err, "номер %q", tc.in)
			assert.Equal(t, tc.want, got)
		} else {
			require.Error(t, err, "номер %q", tc.in)
			assert.ErrorIs(t, err, ErrInvalidNumber)
		}
	}
}

func TestDialValidation(t *testing.T) {
	sup := New(testTrunkConfig(t, "unused"), nil)

	// линия вне диапазона
	err := sup.Dial(0, "+15551234567")
	assert.ErrorIs(t, err, ErrInvalidLine)
	err = sup.Dial(9, "+15551234567")
	assert.ErrorIs(t, err, ErrInvalidLine)

	// плохой номер отклоняется до обращения к движку
	err = sup.Dial(1, "12345#67")
	assert.ErrorIs(t, err, ErrInvalidNumber)

	// корректный запрос на незапущенном супервизоре
	err = sup.Dial(1, "+15551234567")
	assert.ErrorIs(t, err, ErrEngineDown)
}

func TestWriteEngineConfig(t *testing.T) {
	cfg := testTrunkConfig(t, "unused")
	require.NoError(t, writeEngineConfig(cfg))

	dirInfo, err := os.Stat(cfg.ConfigDir)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o700), dirInfo.Mode().Perm())

	accounts := filepath.Join(cfg.ConfigDir, "accounts")
	info, err := os.Stat(accounts)
	require.NoError(t, err)
	// в файле пароль, доступ только владельцу
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(accounts)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, cfg.Lines, "по записи на виртуальную линию")
	for i, entry := range lines {
		assert.Contains(t, entry, "sip:operator@sip.example.com:5060")
		assert.Contains(t, entry, "auth_pass=secret")
		assert.Contains(t, entry, fmt.Sprintf("line=%d", i+1))
	}

	_, err = os.Stat(filepath.Join(cfg.ConfigDir, "config"))
	require.NoError(t, err)
}

func TestStartSpawnFailure(t *testing.T) {
	cfg := testTrunkConfig(t, "/nonexistent/engine-binary")
	sup := New(cfg, nil)

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProcessSpawnFailed)
	assert.False(t, sup.Running())
}

func TestStartRegistrationTimeout(t *testing.T) {
	script := writeScript(t, `exec sleep 60`)
	cfg := testTrunkConfig(t, script)
	cfg.RegisterTimeout = config.Duration(300 * time.Millisecond)
	sup := New(cfg, nil)

	err := sup.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRegistrationTimeout)
	assert.False(t, sup.Running())
}

func TestStartRegisterDialStop(t *testing.T) {
	script := writeScript(t, `echo "register: 200 OK"
exec sleep 60`)
	cfg := testTrunkConfig(t, script)
	sup := New(cfg, nil)

	require.NoError(t, sup.Start(context.Background()))
	assert.True(t, sup.Running())
	assert.True(t, sup.Registered())

	// событие регистрации доступно потребителю
	select {
	case ev := <-sup.Events():
		assert.Equal(t, EventRegistered, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("событие регистрации не получено")
	}

	require.NoError(t, sup.Dial(3, "+15551234567"))
	require.NoError(t, sup.Hangup(3))

	sup.Stop()
	assert.False(t, sup.Running())

	// после Stop поток событий завершается
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, open := <-sup.Events():
			if !open {
				return
			}
		case <-deadline:
			t.Fatal("поток событий не закрылся после Stop")
		}
	}
}

func TestStopAfterStopIsSafe(t *testing.T) {
	script := writeScript(t, `echo "register: 200 OK"
exec sleep 60`)
	sup := New(testTrunkConfig(t, script), nil)

	require.NoError(t, sup.Start(context.Background()))
	sup.Stop()
	sup.Stop()

	assert.ErrorIs(t, sup.Dial(1, "100"), ErrEngineDown)
}

// TestProcessDiedSingleRestart смерть процесса дает ровно одну попытку
// автоматического перезапуска; вторая смерть — фатальный статус
func TestProcessDiedSingleRestart(t *testing.T) {
	// движок регистрируется и сразу умирает
	script := writeScript(t, `echo "register: 200 OK"`)
	sup := New(testTrunkConfig(t, script), nil)

	require.NoError(t, sup.Start(context.Background()))

	var died, registered int
	sawFatal := false
	deadline := time.After(10 * time.Second)
	for !sawFatal {
		select {
		case ev, open := <-sup.Events():
			require.True(t, open, "поток событий закрылся до фатального статуса")
			switch ev.Type {
			case EventProcessDied:
				died++
			case EventRegistered:
				registered++
			case EventFatal:
				sawFatal = true
			}
		case <-deadline:
			t.Fatalf("фатальный статус не получен (died=%d)", died)
		}
	}

	assert.Equal(t, 2, died, "две смерти процесса")
	assert.Equal(t, 1, sup.RestartCount(), "ровно одна попытка перезапуска")
	assert.GreaterOrEqual(t, registered, 1)

	sup.Stop()
}
