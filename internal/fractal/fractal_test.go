package fractal

import (
	"context"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
)

func TestEscape(t *testing.T) {
	require.Equal(t, uint32(100), Escape(0, 0, 100), "origin never escapes")
	require.Equal(t, uint32(100), Escape(-1, 0, 100), "period-2 point stays bounded")
	require.Equal(t, uint32(1), Escape(2, 0, 100), "z = 6 after one step")
	require.Equal(t, uint32(1), Escape(0, 0, 1))
	require.Less(t, Escape(0.5, 0.5, 100), uint32(100))
}

func TestPalette(t *testing.T) {
	p := NewPalette(50)
	require.Equal(t, uint32(50), p.Iterations())
	require.Equal(t, color.RGBA{A: 0xff}, p.Color(50), "points inside the set are black")
	require.Equal(t, p.Color(50), p.Color(1000))
	require.NotEqual(t, p.Color(25), p.Color(50))
}

func testTask() domain.Task {
	return domain.Task{
		ID: 3, Width: 37, Height: 21, Iterations: 64,
		Box: domain.BoundingBox{MinRe: -2, MaxRe: 1, MinIm: -1.2, MaxIm: 1.2},
	}
}

func TestRender(t *testing.T) {
	task := testTask()
	img, err := Render(task, NewPalette(task.Iterations))
	require.NoError(t, err)
	require.Equal(t, 37, img.Bounds().Dx())
	require.Equal(t, 21, img.Bounds().Dy())

	_, err = Render(task, NewPalette(10))
	require.Error(t, err, "palette must match the iteration bound")

	task.Width = 0
	_, err = Render(task, NewPalette(task.Iterations))
	require.Error(t, err)
}

func TestKernel_MatchesRender(t *testing.T) {
	task := testTask()
	want, err := Render(task, NewPalette(task.Iterations))
	require.NoError(t, err)

	k, err := NewProgram(0, 4).Compile(task.Width, task.Height, task.Iterations)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		select {
		case res := <-k.Run(context.Background(), task):
			require.NoError(t, res.Err)
			require.Equal(t, want.Pix, res.Image.Pix)
		case <-time.After(5 * time.Second):
			t.Fatal("kernel did not finish")
		}
	}
}

func TestKernel_ShapeMismatch(t *testing.T) {
	k, err := NewProgram(0, 2).Compile(8, 8, 10)
	require.NoError(t, err)
	require.True(t, k.Matches(8, 8, 10))
	require.False(t, k.Matches(8, 8, 11))

	res := <-k.Run(context.Background(), testTask())
	require.ErrorIs(t, res.Err, ErrShapeMismatch)

	_, err = NewProgram(0, 2).Compile(0, 8, 10)
	require.Error(t, err)
}

func TestKernel_Cancelled(t *testing.T) {
	task := testTask()
	k, err := NewProgram(0, 1).Compile(task.Width, task.Height, task.Iterations)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := <-k.Run(ctx, task)
	require.ErrorIs(t, res.Err, context.Canceled)
}

func TestEncodeDecode(t *testing.T) {
	task := testTask()
	img, err := Render(task, NewPalette(task.Iterations))
	require.NoError(t, err)

	b, err := Encode(img)
	require.NoError(t, err)
	require.Equal(t, []byte("\x89PNG"), b[:4])

	back, err := Decode(b)
	require.NoError(t, err)
	require.Equal(t, img.Bounds(), back.Bounds())
	r1, g1, b1, _ := img.At(5, 5).RGBA()
	r2, g2, b2, _ := back.At(5, 5).RGBA()
	require.Equal(t, []uint32{r1, g1, b1}, []uint32{r2, g2, b2})

	_, err = Decode([]byte("not a png"))
	require.Error(t, err)
}

func TestFileName(t *testing.T) {
	require.Equal(t, "0007.png", FileName(7))
	require.Equal(t, "12345.png", FileName(12345))
}
