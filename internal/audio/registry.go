package audio

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

// sniffSize is how many leading bytes are used for magic number detection
const sniffSize = 512

// FormatRegistry manages audio formats and picks one for a file
type FormatRegistry struct {
	formats []Format
}

// NewFormatRegistry creates a new empty format registry
func NewFormatRegistry() *FormatRegistry {
	slog.Debug("creating new format registry")
	return &FormatRegistry{
		formats: make([]Format, 0),
	}
}

// Register adds a format to the registry
func (r *FormatRegistry) Register(format Format) {
	if format == nil {
		slog.Warn("attempted to register nil format")
		return
	}

	r.formats = append(r.formats, format)

	slog.Info("format registered",
		"format", format.Name(),
		"extensions", format.Extensions(),
		"total_formats", len(r.formats))
}

// Formats returns all registered formats in registration order
func (r *FormatRegistry) Formats() []Format {
	return r.formats
}

// SupportedExtensions returns every extension claimed by a registered
// format, without duplicates
func (r *FormatRegistry) SupportedExtensions() []string {
	seen := make(map[string]bool)
	var extensions []string

	for _, format := range r.formats {
		for _, ext := range format.Extensions() {
			lower := strings.ToLower(ext)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			extensions = append(extensions, lower)
		}
	}

	return extensions
}

// FindFormatForFile picks a format by filename extension only. The first
// registered format wins.
func (r *FormatRegistry) FindFormatForFile(filename string) Format {
	if filename == "" {
		slog.Debug("empty filename provided")
		return nil
	}

	for _, format := range r.formats {
		if format.CanHandleFile(filename) {
			slog.Debug("format detected by extension",
				"filename", filename,
				"format", format.Name())
			return format
		}
	}

	slog.Debug("no format found for filename", "filename", filename)
	return nil
}

// DetectFormatWithContent detects the format from magic bytes first and
// falls back to the filename extension
func (r *FormatRegistry) DetectFormatWithContent(filename string, header []byte) Format {
	if len(header) == 0 {
		slog.Debug("empty content, using extension fallback", "filename", filename)
		return r.FindFormatForFile(filename)
	}

	mtype := mimetype.Detect(header)
	ext := mtype.Extension()

	slog.Debug("magic byte detection result",
		"filename", filename,
		"detected_mime", mtype.String(),
		"detected_extension", ext,
		"bytes_analyzed", len(header))

	if ext != "" {
		for _, format := range r.formats {
			if hasExtension(ext, format.Extensions()) {
				slog.Info("format detected by magic bytes",
					"filename", filename,
					"format", format.Name(),
					"mime_type", mtype.String())
				return format
			}
		}
	}

	slog.Debug("magic detection failed, falling back to extension", "filename", filename)
	return r.FindFormatForFile(filename)
}

// CreateReaderForFile opens path on fs, detects its format and returns a
// reader that owns the opened file
func (r *FormatRegistry) CreateReaderForFile(fs afero.Fs, path string) (SampleReader, error) {
	slog.Debug("creating reader for file", "path", path)

	file, err := fs.Open(path)
	if err != nil {
		slog.Error("failed to open audio file", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	header := make([]byte, sniffSize)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		file.Close()
		slog.Error("failed to read header for magic detection", "path", path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("%w: rewind %s: %v", ErrOpenFailed, path, err)
	}

	format := r.DetectFormatWithContent(path, header[:n])
	if format == nil {
		file.Close()
		slog.Error("no suitable format found", "path", path)
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	reader, err := format.CreateReaderFor(file, true)
	if err != nil {
		slog.Error("format failed to open file",
			"path", path,
			"format", format.Name(),
			"error", err)
		return nil, err
	}

	slog.Info("reader created",
		"path", path,
		"format", format.Name())
	return reader, nil
}
