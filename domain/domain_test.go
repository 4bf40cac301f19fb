package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoomKey_Symmetric(t *testing.T) {
	assert.Equal(t, RoomKey("alice@x", "bob@x"), RoomKey("bob@x", "alice@x"))
	assert.Equal(t, "alice@x+bob@x", RoomKey("bob@x", "alice@x"))
}

func TestRoomKey_DistinctPairsDiffer(t *testing.T) {
	assert.NotEqual(t, RoomKey("alice@x", "bob@x"), RoomKey("alice@x", "carol@x"))
}

func TestSplitRoomKey(t *testing.T) {
	a, b, ok := SplitRoomKey("alice@x+bob@x")
	require.True(t, ok)
	assert.Equal(t, "alice@x", a)
	assert.Equal(t, "bob@x", b)

	_, _, ok = SplitRoomKey("no-separator")
	assert.False(t, ok)
}

func TestOtherParticipant(t *testing.T) {
	key := RoomKey("alice@x", "bob@x")

	other, ok := OtherParticipant(key, "alice@x")
	require.True(t, ok)
	assert.Equal(t, "bob@x", other)

	other, ok = OtherParticipant(key, "bob@x")
	require.True(t, ok)
	assert.Equal(t, "alice@x", other)

	_, ok = OtherParticipant(key, "carol@x")
	assert.False(t, ok)
}

func TestValidIdentity(t *testing.T) {
	assert.True(t, ValidIdentity("alice@x"))
	assert.False(t, ValidIdentity(""))
	assert.False(t, ValidIdentity("alice+spam@x"))
}

func TestLocalPart(t *testing.T) {
	assert.Equal(t, "alice", LocalPart("alice@example.com"))
	assert.Equal(t, "noat", LocalPart("noat"))
}

func TestNormalizeFile(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want *FileAttachment
	}{
		{
			name: "structured object",
			raw:  `{"url":"https://cdn/x.png","name":"x.png","type":"image/png","size":42}`,
			want: &FileAttachment{URL: "https://cdn/x.png", Name: "x.png", Type: "image/png", Size: 42},
		},
		{
			name: "string-encoded object",
			raw:  `"{\"url\":\"https://cdn/x.png\",\"name\":\"x.png\"}"`,
			want: &FileAttachment{URL: "https://cdn/x.png", Name: "x.png"},
		},
		{
			name: "unparseable string",
			raw:  `"not a file object"`,
			want: nil,
		},
		{
			name: "object without url",
			raw:  `{"name":"x.png","size":42}`,
			want: nil,
		},
		{
			name: "absent",
			raw:  "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeFile(json.RawMessage(tt.raw))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChatPayload_OmitsAbsentFile(t *testing.T) {
	data, err := json.Marshal(ChatPayload{Type: "chat", From: "alice@x", Text: "hi"})
	require.NoError(t, err)

	var fields map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &fields))
	assert.NotContains(t, fields, "file")
}
