package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"distributed-fractal/internal/domain"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("test", nil)
	require.NoError(t, err)

	require.Equal(t, 20283, cfg.Port)
	require.Equal(t, "localhost:20283", cfg.Addr())
	require.Equal(t, ":20283", cfg.ListenAddr())
	require.Equal(t, 50*time.Millisecond, cfg.Interval)
	require.Equal(t, 5*time.Second, cfg.DrainTimeout)
	require.Equal(t, FractalConfig{Width: 1024, Height: 768, Iterations: 500, TilesX: 1, TilesY: 1, Frames: 100, Zoom: 0.9}, cfg.Fractals)
	require.Equal(t, 1, cfg.WorkerCount(true))
	require.Equal(t, 0, cfg.WorkerCount(false))
	require.Equal(t, ":8080", cfg.HttpListenAddr)
	require.Equal(t, "@every 10s", cfg.StatusSchedule)
	require.Equal(t, "localhost:20284", cfg.ControllerTarget())
	require.Empty(t, cfg.InitSink)

	sc := cfg.Stream()
	require.NoError(t, sc.Validate())
	require.Equal(t, uint32(1024), sc.Width)
}

func TestLoad_Flags(t *testing.T) {
	cfg, err := Load("test", []string{
		"-p", "4000", "-w", "3", "-o", "-d", "2", "-g", "--output-dir", "out",
		"-n", "a:1,b:2", "--limit", "normal=2", "--limit", "gpu=0", "--init", "headless",
	})
	require.NoError(t, err)

	require.Equal(t, 4000, cfg.Port)
	require.Equal(t, 3, cfg.WorkerCount(true))
	require.True(t, cfg.Accelerated)
	require.Equal(t, uint32(2), cfg.Device)
	require.True(t, cfg.Headless)
	require.Equal(t, "out", cfg.OutputDir)
	require.Equal(t, []string{"a:1", "b:2"}, cfg.Nodes)
	require.Equal(t, "headless", cfg.InitSink)

	updates, err := cfg.LimitUpdates()
	require.NoError(t, err)
	require.Equal(t, []domain.LimitUpdate{{Class: "normal", Limit: 2}, {Class: "accelerated", Limit: 0}}, updates)
}

func TestLoad_FileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fractal_server.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fractals:\n  width: 640\n  height: 480\ninterval: 20ms\n"), 0o644))
	t.Setenv("FRACTAL_FRACTALS_HEIGHT", "400")
	t.Setenv("FRACTAL_MAX_NORMAL", "7")

	cfg, err := Load("test", []string{"--config", path})
	require.NoError(t, err)
	require.Equal(t, uint32(640), cfg.Fractals.Width)
	require.Equal(t, uint32(400), cfg.Fractals.Height)
	require.Equal(t, 20*time.Millisecond, cfg.Interval)
	require.Equal(t, 7, cfg.MaxNormal)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		args []string
		env  map[string]string
	}{
		{name: "unknown flag", args: []string{"--frobnicate"}},
		{name: "port out of range", args: []string{"-p", "70000"}},
		{name: "bad node address", args: []string{"-n", "nohostport"}},
		{name: "bad limit", args: []string{"--limit", "normal"}},
		{name: "unknown limit class", args: []string{"--limit", "quantum=1"}},
		{name: "negative limit", args: []string{"--limit", "normal=-1"}},
		{name: "zero width", env: map[string]string{"FRACTAL_FRACTALS_WIDTH": "0"}},
		{name: "zoom above one", env: map[string]string{"FRACTAL_FRACTALS_ZOOM": "1.5"}},
		{name: "unknown init sink", args: []string{"--init", "window"}},
		{name: "headless without output dir", args: []string{"-g", "--output-dir", ""}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load("test", tt.args)
			require.Error(t, err)
			require.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
		})
	}
}
