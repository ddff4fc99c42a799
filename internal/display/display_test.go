package display

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/patchwork-go/internal/errors"
)

func TestParsePositives(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		m        int
		want     []int
		category errors.ErrorCategory
	}{
		{"single", "3", 16, []int{2}, ""},
		{"list with spaces", " 1, 4 ,16\n", 16, []int{0, 3, 15}, ""},
		{"duplicates", "2,2,5,2", 16, []int{1, 4}, ""},
		{"empty means none", "", 16, []int{}, ""},
		{"trailing comma", "1,", 4, []int{0}, ""},
		{"zero out of range", "0", 16, nil, errors.CategoryConfiguration},
		{"above m", "17", 16, nil, errors.CategoryConfiguration},
		{"negative", "-1", 16, nil, errors.CategoryConfiguration},
		{"not a number", "1,two", 16, nil, errors.CategoryValidation},
		{"float", "1.5", 16, nil, errors.CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParsePositives(tt.input, tt.m)
			if tt.category != "" {
				require.Error(t, err)
				assert.True(t, errors.IsCategory(err, tt.category), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPromptLine(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	term := NewTerminal(strings.NewReader("2, 3\n1\n"), &out)

	got, err := term.PromptPositives(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
	assert.Contains(t, out.String(), Prompt)

	got, err = term.PromptPositives(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, got)

	_, err = term.PromptPositives(context.Background(), 4)
	require.Error(t, err, "exhausted input")
}

func TestPromptLineWithoutNewline(t *testing.T) {
	t.Parallel()

	term := NewTerminal(strings.NewReader("4"), &bytes.Buffer{})
	got, err := term.PromptPositives(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, got)
}

func TestPromptLineCancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	term := NewTerminal(strings.NewReader("1\n"), &bytes.Buffer{})
	_, err := term.PromptPositives(ctx, 4)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryCancellation))
}

func writeGradient(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 255 / 7)})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func TestThumbnail(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "grad.png")
	writeGradient(t, path)

	art, err := Thumbnail(path, 8, 2)
	require.NoError(t, err)
	lines := strings.Split(art, "\n")
	require.Len(t, lines, 2)
	assert.Len(t, lines[0], 8)
	assert.Equal(t, byte(' '), lines[0][0])
	assert.Equal(t, byte('@'), lines[0][7])

	_, err = Thumbnail(filepath.Join(t.TempDir(), "missing.png"), 8, 2)
	assert.Error(t, err)
}

func TestShowRendersGrid(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	refs := make([]string, 5)
	for i := range refs {
		refs[i] = filepath.Join(dir, "p"+string(rune('a'+i))+".png")
		writeGradient(t, refs[i])
	}
	refs[4] = filepath.Join(dir, "gone.png")

	var out bytes.Buffer
	term := NewTerminal(strings.NewReader(""), &out, WithColumns(2), WithThumbnailSize(12, 3), WithInteractive(false))
	require.NoError(t, term.Show(context.Background(), refs))

	s := out.String()
	assert.Contains(t, s, "5 patches")
	assert.Contains(t, s, "pa.png")
	assert.Contains(t, s, "unreadable")
	for _, n := range []string{"1", "2", "3", "4", "5"} {
		assert.Contains(t, s, n)
	}
}
