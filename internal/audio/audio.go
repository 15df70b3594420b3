// Package audio resolves session audio references into transcription
// requests. The only shipped implementation reads recordings from a local
// directory; object storage would slot in behind the same interface.
package audio

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/corvidlabs/attune/pkg/provider/stt"
	"github.com/corvidlabs/attune/pkg/types"
)

// mimeByExt covers the audio containers mobile clients actually upload.
// mime.TypeByExtension handles the rest of the long tail.
var mimeByExt = map[string]string{
	".wav":  "audio/wav",
	".m4a":  "audio/m4a",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
}

// Dir serves session audio from a local directory. The session's AudioRef is
// interpreted as a path relative to the root; references escaping the root
// are rejected.
type Dir struct {
	root string
}

// NewDir creates a Dir rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Fetch loads the recording named by s.AudioRef and returns it as a
// transcription request. The whole file is read up front so a retried
// transcription attempt can replay the payload.
func (d *Dir) Fetch(_ context.Context, s *types.Session) (stt.Request, error) {
	if s.AudioRef == "" {
		return stt.Request{}, fmt.Errorf("audio: session %s has no audio reference", s.ID)
	}
	ref := filepath.Clean(s.AudioRef)
	if !filepath.IsLocal(ref) {
		return stt.Request{}, fmt.Errorf("audio: invalid audio reference %q", s.AudioRef)
	}

	data, err := os.ReadFile(filepath.Join(d.root, ref))
	if err != nil {
		return stt.Request{}, fmt.Errorf("audio: read %q: %w", ref, err)
	}

	return stt.Request{
		Audio:            bytes.NewReader(data),
		MIMEType:         TypeByName(ref),
		ExpectedDuration: s.Duration,
	}, nil
}

// TypeByName guesses the MIME type of an audio file from its extension.
// Unknown extensions fall back to application/octet-stream.
func TypeByName(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if t, ok := mimeByExt[ext]; ok {
		return t
	}
	if t := mime.TypeByExtension(ext); t != "" {
		return t
	}
	return "application/octet-stream"
}
