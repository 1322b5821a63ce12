package util

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationKey_IsSymmetric(t *testing.T) {
	pairs := [][2]string{
		{"1", "2"},
		{"9", "10"},
		{"abc", "abd"},
		{"665f1c", "665e99"},
		{"", "x"},
	}
	for _, p := range pairs {
		req := require.New(t)
		req.Equal(ConversationKey(p[0], p[1]), ConversationKey(p[1], p[0]))
	}
}

func TestConversationKey_SortsAsStrings(t *testing.T) {
	req := require.New(t)

	// "10" < "9" lexicographically
	req.Equal("10_9", ConversationKey("9", "10"))
	req.Equal("10_9", ConversationKeyOf(9, 10))
	req.Equal("1_2", ConversationKeyOf(2, 1))
}

func TestParseConversationKey(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		a, b    uint64
		wantErr bool
	}{
		{name: "canonical", key: "1_2", a: 1, b: 2},
		{name: "string order", key: "10_9", a: 10, b: 9},
		{name: "reversed is not canonical", key: "9_10", wantErr: true},
		{name: "same user twice", key: "3_3", wantErr: true},
		{name: "missing part", key: "3_", wantErr: true},
		{name: "three parts", key: "1_2_3", wantErr: true},
		{name: "not numeric", key: "a_b", wantErr: true},
		{name: "leading zero alias", key: "02_1", wantErr: true},
		{name: "empty", key: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			a, b, err := ParseConversationKey(tt.key)
			if tt.wantErr {
				req.ErrorIs(err, ErrInvalidConversationKey)
				return
			}
			req.NoError(err)
			req.Equal(tt.a, a)
			req.Equal(tt.b, b)
		})
	}
}

func TestPeerOf(t *testing.T) {
	req := require.New(t)
	key := ConversationKeyOf(7, 42)

	peer, ok := PeerOf(key, 7)
	req.True(ok)
	req.Equal(uint64(42), peer)

	peer, ok = PeerOf(key, 42)
	req.True(ok)
	req.Equal(uint64(7), peer)

	_, ok = PeerOf(key, 8)
	req.False(ok)

	_, ok = PeerOf("garbage", 7)
	req.False(ok)
}
