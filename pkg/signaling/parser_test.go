package signaling

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRegistration(t *testing.T) {
	p := NewParser()

	ev, ok := p.Parse("register: 200 OK")
	require.True(t, ok)
	assert.Equal(t, EventRegistered, ev.Type)

	ev, ok = p.Parse("  REGISTER: 200 OK (42 bindings)")
	require.True(t, ok)
	assert.Equal(t, EventRegistered, ev.Type)

	for _, raw := range []string{
		"register: 401 Unauthorized",
		"register: 403 Forbidden",
		"register: 503 Service Unavailable",
	} {
		ev, ok = p.Parse(raw)
		require.True(t, ok, raw)
		assert.Equal(t, EventRegistrationFailed, ev.Type, raw)
	}
}

func TestParseCallEvents(t *testing.T) {
	p := NewParser()

	ev, ok := p.Parse("line 3: call ringing")
	require.True(t, ok)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, 3, ev.Line)

	ev, ok = p.Parse("line 7: 180 ringing")
	require.True(t, ok)
	assert.Equal(t, EventProgress, ev.Type)
	assert.Equal(t, 7, ev.Line)

	ev, ok = p.Parse("line 3: call established")
	require.True(t, ok)
	assert.Equal(t, EventAnswered, ev.Type)
	assert.Equal(t, 3, ev.Line)

	ev, ok = p.Parse("line 3: call closed")
	require.True(t, ok)
	assert.Equal(t, EventTerminated, ev.Type)
	assert.Empty(t, ev.Reason)

	ev, ok = p.Parse("line 3: call closed: Connection reset by peer")
	require.True(t, ok)
	assert.Equal(t, EventTerminated, ev.Type)
	assert.Equal(t, "Connection reset by peer", ev.Reason)
}

// TestParseUnrecognized незнакомые строки пропускаются, не ломая разбор
func TestParseUnrecognized(t *testing.T) {
	p := NewParser()

	for _, raw := range []string{
		"",
		"   ",
		"mediaenc: dtls",
		"line: no id here",
		"line 0: call established",
		"line abc: call established",
		"ua: using account sip:op@example.com",
		"!!! garbage \x00 bytes",
	} {
		_, ok := p.Parse(raw)
		assert.False(t, ok, "строка %q не должна распознаваться", raw)
	}
}

// TestParseGarbageThenValid плохая строка не мешает следующей корректной
func TestParseGarbageThenValid(t *testing.T) {
	p := NewParser()

	_, ok := p.Parse("@@@ complete garbage @@@")
	require.False(t, ok)

	ev, ok := p.Parse("line 3: call established")
	require.True(t, ok)
	assert.Equal(t, EventAnswered, ev.Type)
	assert.Equal(t, 3, ev.Line)
}
