// Package softcodec is a pure-Go platform codec. It implements the
// mediacodec decoder contract, buffer pool included, on top of go-audio,
// go-mp3, mewkiz/flac and beep's Vorbis decoder so files can be decoded where
// no native media codec is available.
package softcodec

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"

	"codecbridge.dev/internal/mediacodec"
)

const (
	DefaultBufferCount     = 4
	DefaultFramesPerBuffer = 1024

	sniffSize = 512
)

// Config sizes the output buffer pool of every decoder a Codec opens
type Config struct {
	BufferCount     int
	FramesPerBuffer int
}

// DefaultConfig returns a four buffer pool of 1024 frames each
func DefaultConfig() Config {
	return Config{
		BufferCount:     DefaultBufferCount,
		FramesPerBuffer: DefaultFramesPerBuffer,
	}
}

func (c Config) normalized() Config {
	if c.BufferCount <= 0 {
		c.BufferCount = DefaultBufferCount
	}
	if c.FramesPerBuffer <= 0 {
		c.FramesPerBuffer = DefaultFramesPerBuffer
	}
	return c
}

// codecKind identifies the backend that decodes a stream
type codecKind string

const (
	kindWav     codecKind = "wav"
	kindAiff    codecKind = "aiff"
	kindMp3     codecKind = "mp3"
	kindFlac    codecKind = "flac"
	kindOgg     codecKind = "ogg"
	kindOpus    codecKind = "opus"
	kindAac     codecKind = "aac"
	kindUnknown codecKind = ""
)

type openFunc func(afero.File) (pcmSource, error)

// backends maps each decodable kind to its opener. Kinds that are detected
// but missing here are reported as unsupported codecs.
var backends = map[codecKind]openFunc{
	kindWav:  openWav,
	kindAiff: openAiff,
	kindMp3:  openMp3,
	kindFlac: openFlac,
	kindOgg:  openVorbis,
}

var extensionKinds = map[string]codecKind{
	".wav":  kindWav,
	".wave": kindWav,
	".aif":  kindAiff,
	".aiff": kindAiff,
	".mp3":  kindMp3,
	".mpeg": kindMp3,
	".flac": kindFlac,
	".ogg":  kindOgg,
	".oga":  kindOgg,
	".opus": kindOpus,
	".aac":  kindAac,
	".m4a":  kindAac,
}

// Codec opens software decoders for files on a filesystem. It implements
// mediacodec.Opener.
type Codec struct {
	fs     afero.Fs
	config Config
}

// New creates a codec reading from fs
func New(fs afero.Fs, config Config) *Codec {
	config = config.normalized()
	slog.Debug("creating software codec",
		"buffer_count", config.BufferCount,
		"frames_per_buffer", config.FramesPerBuffer)
	return &Codec{fs: fs, config: config}
}

// SupportedExtensions returns the extensions whose codec can actually decode
func SupportedExtensions() []string {
	var extensions []string
	for ext, kind := range extensionKinds {
		if _, ok := backends[kind]; ok {
			extensions = append(extensions, ext)
		}
	}
	slices.Sort(extensions)
	return extensions
}

// Open constructs a decoder for path. Failing to open the file is an error;
// a file the codec cannot decode yields a decoder whose Err is set, the way a
// native codec reports a missing codec.
func (c *Codec) Open(path string) (mediacodec.Decoder, error) {
	slog.Debug("opening software decoder", "path", path)

	file, err := c.fs.Open(path)
	if err != nil {
		slog.Error("failed to open audio file", "path", path, "error", err)
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	kind, err := detectKind(file, path)
	if err != nil {
		file.Close()
		return nil, err
	}

	d := &Decoder{
		fs:     c.fs,
		path:   path,
		kind:   kind,
		config: c.config,
	}

	open, ok := backends[kind]
	if !ok {
		file.Close()
		d.err = fmt.Errorf("%w: %s", mediacodec.ErrUnsupportedCodec, describeKind(kind, path))
		slog.Warn("no software codec for file", "path", path, "kind", kind)
		return d, nil
	}

	src, err := open(file)
	if err != nil {
		file.Close()
		d.err = err
		slog.Warn("software codec rejected file", "path", path, "kind", kind, "error", err)
		return d, nil
	}

	d.init(src)
	return d, nil
}

func describeKind(kind codecKind, path string) string {
	if kind == kindUnknown {
		return filepath.Ext(path)
	}
	return string(kind)
}

// detectKind sniffs the first bytes of file with mimetype and falls back to
// the extension. file is rewound before returning.
func detectKind(file afero.File, path string) (codecKind, error) {
	header := make([]byte, sniffSize)
	n, err := io.ReadFull(file, header)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		slog.Error("failed to read header for magic detection", "path", path, "error", err)
		return kindUnknown, fmt.Errorf("read header of %s: %w", path, err)
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return kindUnknown, fmt.Errorf("rewind %s: %w", path, err)
	}

	kind := kindUnknown
	if n > 0 {
		mtype := mimetype.Detect(header[:n])
		kind = kindForMime(mtype)
		slog.Debug("magic byte detection result",
			"path", path,
			"detected_mime", mtype.String(),
			"kind", kind,
			"bytes_analyzed", n)
	}

	if kind == kindUnknown {
		kind = extensionKinds[strings.ToLower(filepath.Ext(path))]
		slog.Debug("using extension fallback", "path", path, "kind", kind)
	}
	return kind, nil
}

func kindForMime(mtype *mimetype.MIME) codecKind {
	switch {
	case mtype.Is("audio/wav"):
		return kindWav
	case mtype.Is("audio/aiff"):
		return kindAiff
	case mtype.Is("audio/mpeg"):
		return kindMp3
	case mtype.Is("audio/flac"):
		return kindFlac
	case mtype.Is("audio/opus"):
		return kindOpus
	case mtype.Is("audio/ogg"), mtype.Is("application/ogg"):
		return kindOgg
	case mtype.Is("audio/aac"), mtype.Is("audio/mp4"), mtype.Is("audio/x-m4a"):
		return kindAac
	}
	return kindUnknown
}
