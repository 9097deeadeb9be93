package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
)

func TestByteArray_RoundTrip(t *testing.T) {
	big := make([]byte, 100000)
	for i := range big {
		big[i] = byte(i * 31)
	}

	for _, b := range [][]byte{{}, {0xAB}, big} {
		var buf bytes.Buffer
		require.NoError(t, WriteBytes(&buf, b))
		require.Equal(t, 4+len(b), buf.Len(), "no padding after the raw bytes")

		got, err := ReadBytes(&buf)
		require.NoError(t, err)
		require.Equal(t, b, got)
		require.Zero(t, buf.Len())
	}
}

func TestByteArray_ShortInput(t *testing.T) {
	in := binary.BigEndian.AppendUint32(nil, 10)
	in = append(in, 1, 2, 3, 4, 5)

	_, err := ReadBytes(bytes.NewReader(in))
	require.Error(t, err)
	require.True(t, IsSerializationError(err))
	require.ErrorIs(t, err, ErrTruncated)

	_, err = ReadBytes(bytes.NewReader([]byte{0, 0}))
	require.ErrorIs(t, err, ErrTruncated)
}

func TestMarshal_AssignLayout(t *testing.T) {
	task := domain.Task{
		ID: 42, Width: 640, Height: 480, Iterations: 300,
		Box: domain.BoundingBox{MinRe: -2, MaxRe: 1, MinIm: -1.5, MaxIm: 1.5},
	}
	body := Marshal(AssignTask(task))

	require.Len(t, body, 1+8*4)
	require.Equal(t, byte(TagAssign), body[0])
	fields := body[1:]
	require.Equal(t, uint32(640), binary.BigEndian.Uint32(fields[0:]))
	require.Equal(t, uint32(480), binary.BigEndian.Uint32(fields[4:]))
	require.Equal(t, uint32(300), binary.BigEndian.Uint32(fields[8:]))
	require.Equal(t, uint32(42), binary.BigEndian.Uint32(fields[12:]))
	require.Equal(t, math.Float32bits(-2), binary.BigEndian.Uint32(fields[16:]))
	require.Equal(t, math.Float32bits(1.5), binary.BigEndian.Uint32(fields[28:]))

	m, err := Unmarshal(body)
	require.NoError(t, err)
	require.Equal(t, task, m.(Assign).Task())
}

func TestMarshal_ResultLayout(t *testing.T) {
	body := Marshal(Result{TaskID: 7, Payload: []byte("png"), Accelerated: true})
	want := []byte{
		byte(TagResult),
		0, 0, 0, 7,
		0, 0, 0, 3, 'p', 'n', 'g',
		1,
	}
	require.Equal(t, want, body)
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name  string
		body  []byte
		field string
		want  error
	}{
		{"empty body", nil, "tag", ErrTruncated},
		{"unknown tag", []byte{99}, "tag", ErrUnknownTag},
		{"short done", []byte{byte(TagDone), 0, 1}, "total_count", ErrTruncated},
		{"short payload", Marshal(Result{TaskID: 1, Payload: []byte("abcdef")})[:12], "payload", ErrTruncated},
		{"trailing bytes", append(Marshal(Quit{}), 0), "", ErrTrailingBytes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.body)
			var se *SerializationError
			require.True(t, errors.As(err, &se))
			require.Equal(t, tt.field, se.Field)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestUnmarshal_InitCarriesSinkName(t *testing.T) {
	m, err := Unmarshal(Marshal(Init{Sink: "headless:/tmp/out"}))
	require.NoError(t, err)
	require.Equal(t, Init{Sink: "headless:/tmp/out"}, m)

	m, err = Unmarshal(Marshal(Exit{Reason: ExitRemoteUnreachable}))
	require.NoError(t, err)
	require.Equal(t, ExitRemoteUnreachable, m.(Exit).Reason)
}

func TestReadBytes_PropagatesReaderErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := ReadBytes(io.MultiReader(bytes.NewReader([]byte{0, 0, 0, 4}), errReader{boom}))
	require.ErrorIs(t, err, boom)
}

type errReader struct{ err error }

func (r errReader) Read([]byte) (int, error) { return 0, r.err }
