package share

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveLinkDataShape(t *testing.T) {
	link, err := DeriveLinkData()
	require.NoError(t, err)
	require.Equal(t, LinkRoom, link.Kind)
	require.Len(t, link.ID, 20)
	require.Regexp(t, `^[0-9a-f]{20}$`, link.ID)

	key, err := decodeKey(link.Key)
	require.NoError(t, err)
	require.Len(t, key, KeySize)
}

func TestEncodeParseRoundTrip(t *testing.T) {
	for range 50 {
		link, err := DeriveLinkData()
		require.NoError(t, err)

		raw, err := EncodeLink("https://draw.example.com/board?x=1", link)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(raw, "https://draw.example.com/board?x=1#room="))

		got, ok := ParseLink(raw)
		require.True(t, ok)
		require.Equal(t, link, got)
	}
}

func TestParseLinkDispatchesOnPrefix(t *testing.T) {
	got, ok := ParseShareLink("#json=snap_1,abc-DEF")
	require.True(t, ok)
	require.Equal(t, Link{Kind: LinkShare, ID: "snap_1", Key: "abc-DEF"}, got)
	_, ok = ParseLink("#json=snap_1,abc-DEF")
	require.False(t, ok, "share link is not a room link")

	got, ok = ParseLink("room=0123456789abcdef0123,k")
	require.True(t, ok)
	require.Equal(t, LinkRoom, got.Kind)
	_, ok = ParseShareLink("room=0123456789abcdef0123,k")
	require.False(t, ok, "room link is not a share link")

	for _, raw := range []string{
		"https://draw.example.com/",
		"#room=abc",
		"#room=abc,def,ghi",
		"#room=ab c,def",
		"#room=abc,de+f",
		"#other=abc,def",
		"#room=" + strings.Repeat("a", 129) + ",key",
	} {
		_, ok := ParseLink(raw)
		require.False(t, ok, raw)
		_, ok = ParseShareLink(raw)
		require.False(t, ok, raw)
	}
}

func TestEncodeLinkRejectsBadInput(t *testing.T) {
	_, err := EncodeLink("https://x", Link{Kind: LinkRoom, ID: "bad id", Key: "k"})
	require.Error(t, err)
	_, err = EncodeLink("https://x", Link{Kind: LinkNone, ID: "a", Key: "k"})
	require.Error(t, err)
}

func TestValidRoomID(t *testing.T) {
	require.True(t, ValidRoomID("abc_DEF-123"))
	require.True(t, ValidRoomID(strings.Repeat("a", 128)))
	require.False(t, ValidRoomID(""))
	require.False(t, ValidRoomID(strings.Repeat("a", 129)))
	require.False(t, ValidRoomID("a/b"))
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy exhausted") }

func TestGenerateKeyFailure(t *testing.T) {
	prev := randReader
	randReader = failingReader{}
	t.Cleanup(func() { randReader = prev })

	_, err := GenerateKey()
	require.Equal(t, CodeKeyGeneration, CodeOf(err))
	_, err = DeriveLinkData()
	require.Equal(t, CodeKeyGeneration, CodeOf(err))
}
