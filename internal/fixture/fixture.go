// Package fixture builds the deterministic sequence of (asset, question)
// pairs that drives one benchmark conversation.
package fixture

import (
	"fmt"
	"math/rand/v2"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/mwiater/vlmbench/internal/appconfig"
	"github.com/mwiater/vlmbench/internal/logging"
)

// Default asset patterns, relative to the data directory.
const (
	DefaultImagePattern = "test-img-*.jpg"
	DefaultTextPattern  = "test-txt-*.txt"
)

// Kind distinguishes image assets from text assets.
type Kind string

const (
	KindImage Kind = "image"
	KindText  Kind = "text"
)

// Asset is one fixture input: an image reference or a text blob.
type Asset struct {
	Kind      Kind
	Path      string
	MediaType string
	// CacheID is stable for a given path and lets engines reuse encoded images.
	CacheID string
	Text    string
}

// Entry pairs one asset with one question.
type Entry struct {
	Asset    Asset
	Question string
}

// LoadOptions selects the assets and questions that make up a fixture.
type LoadOptions struct {
	Mode          string
	DataDir       string
	Pattern       string
	QuestionsFile string
	Repeat        int
	Seed          int64
}

// NewRand returns the generator used for shuffling. The same seed always
// yields the same sequence.
func NewRand(seed int64) *rand.Rand {
	s := uint64(seed)
	return rand.New(rand.NewPCG(s, s))
}

// CacheID derives the stable identifier of an asset path.
func CacheID(path string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(path)).String()
}

// Build replicates assets and questions repeat times, shuffles both with rng
// (assets first, then questions) and pairs them by position. The result is as
// long as the shorter replicated list; the excess of the longer one is dropped.
func Build(assets []Asset, questions []string, repeat int, rng *rand.Rand) []Entry {
	if repeat < 1 || len(assets) == 0 || len(questions) == 0 {
		return nil
	}

	pool := make([]Asset, 0, len(assets)*repeat)
	qs := make([]string, 0, len(questions)*repeat)
	for i := 0; i < repeat; i++ {
		pool = append(pool, assets...)
		qs = append(qs, questions...)
	}

	rng.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
	rng.Shuffle(len(qs), func(i, j int) { qs[i], qs[j] = qs[j], qs[i] })

	n := min(len(pool), len(qs))
	entries := make([]Entry, n)
	for i := 0; i < n; i++ {
		entries[i] = Entry{Asset: pool[i], Question: qs[i]}
	}
	return entries
}

// Load enumerates assets from disk, selects the question catalog and builds
// the fixture. A directory with no matching assets yields an empty fixture.
func Load(opts LoadOptions) ([]Entry, error) {
	if opts.Repeat < 1 {
		return nil, fmt.Errorf("repeat must be at least 1, got %d", opts.Repeat)
	}

	mode := strings.ToLower(strings.TrimSpace(opts.Mode))
	if mode == "" {
		mode = appconfig.ModeImage
	}

	pattern := opts.Pattern
	if pattern == "" {
		pattern = DefaultImagePattern
		if mode == appconfig.ModeText {
			pattern = DefaultTextPattern
		}
	}

	questions, err := questionsFor(mode, opts.QuestionsFile)
	if err != nil {
		return nil, err
	}

	paths, err := filepath.Glob(filepath.Join(opts.DataDir, pattern))
	if err != nil {
		return nil, fmt.Errorf("invalid asset pattern %q: %w", pattern, err)
	}
	sort.Strings(paths)

	if len(paths) == 0 {
		logging.LogEvent("fixture: no assets match %s in %s; fixture is empty", pattern, opts.DataDir)
		return nil, nil
	}

	assets := make([]Asset, 0, len(paths))
	for _, p := range paths {
		asset, err := loadAsset(mode, p)
		if err != nil {
			return nil, err
		}
		assets = append(assets, asset)
	}

	entries := Build(assets, questions, opts.Repeat, NewRand(opts.Seed))
	logging.LogEvent("fixture: %d assets x %d questions x %d -> %d entries", len(assets), len(questions), opts.Repeat, len(entries))
	return entries, nil
}

func questionsFor(mode, file string) ([]string, error) {
	if strings.TrimSpace(file) != "" {
		return LoadQuestions(file)
	}
	switch mode {
	case appconfig.ModeImage:
		return ImageQuestions, nil
	case appconfig.ModeText:
		return TextQuestions, nil
	default:
		return nil, fmt.Errorf("unsupported mode %q (expected image or text)", mode)
	}
}

func loadAsset(mode, path string) (Asset, error) {
	if mode == appconfig.ModeText {
		data, err := os.ReadFile(path)
		if err != nil {
			return Asset{}, fmt.Errorf("read text asset %q: %w", path, err)
		}
		return Asset{Kind: KindText, Path: path, Text: string(data)}, nil
	}
	return Asset{
		Kind:      KindImage,
		Path:      path,
		MediaType: MediaType(path),
		CacheID:   CacheID(path),
	}, nil
}

// MediaType guesses the MIME type of an image from its extension.
func MediaType(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	}
	if mt := mime.TypeByExtension(ext); mt != "" {
		return mt
	}
	return "application/octet-stream"
}
