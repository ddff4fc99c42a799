// Package display shows a batch of image patches in the terminal and asks
// which of them are positive.
package display

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"

	"github.com/tphakala/patchwork-go/internal/errors"
	"github.com/tphakala/patchwork-go/internal/imageloader"
)

// Prompt is the question asked after every batch.
const Prompt = "comma-delimited list of class-1 patches"

// luminance ramp from dark to bright
const ramp = " .:-=+*#%@"

var (
	colorAccent = lipgloss.Color("#20B9B4")
	colorMuted  = lipgloss.Color("#2C4A54")
	colorError  = lipgloss.Color("#E74C3C")

	cellStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorMuted).
			Padding(0, 1)
	indexStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	nameStyle  = lipgloss.NewStyle().Foreground(colorMuted)
	errorStyle = lipgloss.NewStyle().Foreground(colorError)
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorAccent).MarginBottom(1)
)

// Terminal renders batches as a grid of ASCII thumbnails and reads the
// positives from the keyboard.
type Terminal struct {
	reader      *bufio.Reader
	out         io.Writer
	columns     int
	thumbWidth  int
	thumbHeight int
	interactive bool
}

// Option configures a Terminal.
type Option func(*Terminal)

// WithColumns sets the number of grid columns.
func WithColumns(n int) Option {
	return func(t *Terminal) { t.columns = n }
}

// WithThumbnailSize sets the thumbnail size in characters.
func WithThumbnailSize(width, height int) Option {
	return func(t *Terminal) { t.thumbWidth, t.thumbHeight = width, height }
}

// WithInteractive forces the form prompt on or off.
func WithInteractive(on bool) Option {
	return func(t *Terminal) { t.interactive = on }
}

// NewTerminal creates a terminal display. The form prompt is used when in is a TTY.
func NewTerminal(in io.Reader, out io.Writer, opts ...Option) *Terminal {
	t := &Terminal{
		reader:      bufio.NewReader(in),
		out:         out,
		columns:     4,
		thumbWidth:  16,
		thumbHeight: 8,
		interactive: isTerminal(in),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Show draws the images in a grid, numbered from 1.
func (t *Terminal) Show(ctx context.Context, refs []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cells := make([]string, len(refs))
	for i, ref := range refs {
		cells[i] = t.renderCell(i+1, ref)
	}

	var rows []string
	for start := 0; start < len(cells); start += t.columns {
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells[start:min(start+t.columns, len(cells))]...))
	}
	grid := lipgloss.JoinVertical(lipgloss.Left, rows...)

	_, err := fmt.Fprintln(t.out, titleStyle.Render(fmt.Sprintf("%d patches", len(refs)))+"\n"+grid)
	if err != nil {
		return errors.New(err).Component("display").Category(errors.CategoryFileIO).Build()
	}
	return nil
}

func (t *Terminal) renderCell(n int, ref string) string {
	name := filepath.Base(ref)
	if len(name) > t.thumbWidth-3 {
		name = name[:max(t.thumbWidth-4, 1)] + "…"
	}
	header := indexStyle.Render(fmt.Sprintf("%d", n)) + " " + nameStyle.Render(name)

	thumb, err := Thumbnail(ref, t.thumbWidth, t.thumbHeight)
	if err != nil {
		thumb = errorStyle.Render("unreadable")
	}
	return cellStyle.Width(t.thumbWidth + 2).Render(header + "\n" + thumb)
}

// Thumbnail renders the image at path as width x height characters of
// luminance. Gray images are read as one channel.
func Thumbnail(path string, width, height int) (string, error) {
	opts := imageloader.Options{Height: height, Width: width, Channels: 3, Norm: 255}
	im, err := imageloader.LoadImage(path, opts)
	if errors.IsCategory(err, errors.CategoryImageDecode) {
		opts.Channels = 1
		im, err = imageloader.LoadImage(path, opts)
	}
	if err != nil {
		return "", err
	}
	return asciiArt(im), nil
}

func asciiArt(im imageloader.Image) string {
	var sb strings.Builder
	for y := range im.Height {
		if y > 0 {
			sb.WriteByte('\n')
		}
		for x := range im.Width {
			var l float32
			if im.Channels >= 3 {
				l = 0.299*im.At(y, x, 0) + 0.587*im.At(y, x, 1) + 0.114*im.At(y, x, 2)
			} else {
				l = im.At(y, x, 0)
			}
			idx := int(l * float32(len(ramp)-1))
			sb.WriteByte(ramp[min(max(idx, 0), len(ramp)-1)])
		}
	}
	return sb.String()
}

// PromptPositives asks which of the m shown patches are positive and returns
// zero-based positions.
func (t *Terminal) PromptPositives(ctx context.Context, m int) ([]int, error) {
	if t.interactive {
		return t.promptForm(ctx, m)
	}
	return t.promptLine(ctx, m)
}

func (t *Terminal) promptForm(ctx context.Context, m int) ([]int, error) {
	var answer string
	input := huh.NewInput().
		Title(Prompt).
		Description(fmt.Sprintf("numbers 1 to %d, empty for none", m)).
		Value(&answer).
		Validate(func(s string) error {
			_, err := ParsePositives(s, m)
			return err
		})
	if err := huh.NewForm(huh.NewGroup(input)).RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) || ctx.Err() != nil {
			return nil, errors.New(err).Component("display").Category(errors.CategoryCancellation).Build()
		}
		return nil, errors.New(err).Component("display").Category(errors.CategoryAnnotation).Build()
	}
	return ParsePositives(answer, m)
}

func (t *Terminal) promptLine(ctx context.Context, m int) ([]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.New(err).Component("display").Category(errors.CategoryCancellation).Build()
	}
	if _, err := fmt.Fprintf(t.out, "%s: ", Prompt); err != nil {
		return nil, errors.New(err).Component("display").Category(errors.CategoryFileIO).Build()
	}
	line, err := t.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return nil, errors.New(err).Component("display").Category(errors.CategoryAnnotation).Build()
	}
	return ParsePositives(line, m)
}
