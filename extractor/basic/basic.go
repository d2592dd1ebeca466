// Package basic is a reference Extractor implementation: it satisfies the
// pipeline's extractor contract with deterministic, dependency-free
// metadata extraction so the CLI is usable without a real search-content
// extractor wired in, and so the pipeline's tests have a concrete,
// predictable extractor to drive. It is not part of the pipeline's
// contract surface.
package basic

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"strconv"
	"strings"

	"github.com/arjunmehta/filedex/extractor"
	"github.com/arjunmehta/filedex/internal/fileref"
	"github.com/arjunmehta/filedex/internal/store"
)

// textExtensions lists the extensions basic will read a first line and
// digest from; everything else gets only stat-derived triples.
var textExtensions = map[string]struct{}{
	".txt": {}, ".md": {}, ".go": {}, ".py": {}, ".js": {}, ".ts": {},
	".json": {}, ".yaml": {}, ".yml": {}, ".toml": {}, ".c": {}, ".h": {},
}

// Extractor is the reference implementation.
type Extractor struct{}

// New returns a ready-to-use reference Extractor.
func New() *Extractor { return &Extractor{} }

// ProcessFile implements extractor.Extractor. It always accepts and
// completes synchronously (before returning true), which the contract
// permits ("sync or async"). If ctx is already cancelled after the stat,
// it returns true without calling notify.
func (e *Extractor) ProcessFile(ctx extractor.CancelToken, file fileref.Ref, isDir bool, builder *extractor.MutationBuilder, notify extractor.NotifyFunc) bool {
	info, err := os.Stat(file.String())
	if err != nil {
		notify(file, err)
		return true
	}
	if ctx.Err() != nil {
		return true
	}

	builder.Add(store.PredType, store.ObjectResource)
	builder.Add(store.PredFileName, file.Base())
	builder.Add(store.PredFileLastModified, info.ModTime().UTC().Format("2006-01-02T15:04:05Z"))
	builder.Add(store.PredBelongsToDir, file.Dir().URI())

	if !isDir {
		builder.Add(store.PredFileSize, strconv.FormatInt(info.Size(), 10))
		if _, ok := textExtensions[extOf(file.Base())]; ok {
			if digest, firstLine, err := digestAndFirstLine(file.String()); err == nil {
				builder.Add("nie:comment", firstLine)
				builder.Add("nie:contentChecksum", digest)
			}
			if content, err := os.ReadFile(file.String()); err == nil {
				builder.SetContent(string(content))
			}
		}
	}

	notify(file, nil)
	return true
}

func extOf(name string) string {
	idx := strings.LastIndexByte(name, '.')
	if idx < 0 {
		return ""
	}
	return name[idx:]
}

func digestAndFirstLine(path string) (digest, firstLine string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", err
	}
	defer f.Close()

	h := sha256.New()
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if firstLine == "" {
			firstLine = scanner.Text()
			if len(firstLine) > 200 {
				firstLine = firstLine[:200]
			}
		}
		h.Write(scanner.Bytes())
	}
	return hex.EncodeToString(h.Sum(nil)), firstLine, nil
}
