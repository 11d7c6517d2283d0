package envelope_test

import (
	"testing"

	"github.com/b0platform/b0/envelope"
	"github.com/stretchr/testify/require"
)

func TestRoundTrip(t *testing.T) {
	e := envelope.Single(envelope.Part{
		ContentType: "application/json",
		Payload:     []byte(`{"a":1}`),
	})
	b, err := e.Encode()
	require.NoError(t, err)

	got, err := envelope.Decode(b)
	require.NoError(t, err)
	require.Len(t, got.Parts, 1)
	require.Equal(t, "application/json", got.Parts[0].ContentType)
	require.Equal(t, []byte(`{"a":1}`), got.Parts[0].Payload)
	require.Empty(t, got.Parts[0].CompressionAlgorithm)
}

func TestRoundTripCompressed(t *testing.T) {
	e := envelope.Single(envelope.Part{
		ContentType:               "application/octet-stream",
		CompressionAlgorithm:      "lz4",
		CompressionLevel:          -1,
		UncompressedContentLength: 128,
		Payload:                   []byte("deadbeef"),
	})
	b, err := e.Encode()
	require.NoError(t, err)

	got, err := envelope.Decode(b)
	require.NoError(t, err)
	require.Equal(t, "lz4", got.Parts[0].CompressionAlgorithm)
	require.Equal(t, -1, got.Parts[0].CompressionLevel)
	require.Equal(t, 128, got.Parts[0].UncompressedContentLength)
}

func TestDecodeMissingPartCount(t *testing.T) {
	_, err := envelope.Decode([]byte("Content-length-0: 3\n\nabc"))
	require.Error(t, err)
}

func TestDecodeMissingContentLength(t *testing.T) {
	_, err := envelope.Decode([]byte("Part-count: 1\n\nabc"))
	require.Error(t, err)
}

func TestDecodeOrderIndependent(t *testing.T) {
	// header fields out of canonical order must still parse
	raw := "Content-type-0: text/plain\nContent-length-0: 5\nPart-count: 1\n\nhello"
	got, err := envelope.Decode([]byte(raw))
	require.NoError(t, err)
	require.Equal(t, "text/plain", got.Parts[0].ContentType)
	require.Equal(t, []byte("hello"), got.Parts[0].Payload)
}

func TestDecodeShortPayload(t *testing.T) {
	_, err := envelope.Decode([]byte("Part-count: 1\nContent-length-0: 100\n\nshort"))
	require.Error(t, err)
}
