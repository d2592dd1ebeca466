// Package crawl implements the concrete Crawler collaborator (C6): a
// filepath.WalkDir-based directory tree walker that calls back into the
// event source adapter for every entry it visits.
package crawl

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/arjunmehta/filedex/internal/fileref"
)

// Callbacks mirrors the Crawler collaborator's signal surface from spec
// §4.1: check_file/check_directory gate enumeration,
// check_directory_contents allows a subtree veto after seeing direct
// children, and Finished is called with the walked root once the walk
// ends; it carries no counts.
type Callbacks struct {
	CheckFile              func(file fileref.Ref) bool
	CheckDirectory         func(dir fileref.Ref) bool
	CheckDirectoryContents func(dir fileref.Ref, children []fileref.Ref) bool
	Finished               func(root fileref.Ref)
}

// Crawler walks DirectoryTask roots, invoking Callbacks for each entry.
type Crawler struct {
	cb Callbacks
	// visitedReal tracks real (symlink-resolved) directory identities
	// already walked, so a symlink cycle cannot recurse forever.
	visitedReal map[string]struct{}
}

// New returns a Crawler that reports through cb.
func New(cb Callbacks) *Crawler {
	return &Crawler{cb: cb, visitedReal: make(map[string]struct{})}
}

// Walk performs one recursive (or single-level, if recurse is false)
// crawl of root, honoring ctx cancellation between entries.
func (c *Crawler) Walk(ctx context.Context, root fileref.Ref, recurse bool) error {
	defer c.cb.Finished(root)

	rootInfo, err := os.Lstat(root.String())
	if err != nil {
		return err
	}
	if !rootInfo.IsDir() {
		if c.cb.CheckFile(root) {
			return nil
		}
		return nil
	}

	return c.walkDir(ctx, root, recurse, true)
}

func (c *Crawler) walkDir(ctx context.Context, dir fileref.Ref, recurse bool, isRoot bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if !isRoot && c.cb.CheckDirectory != nil && !c.cb.CheckDirectory(dir) {
		return nil
	}

	if real, err := filepath.EvalSymlinks(dir.String()); err == nil {
		if _, seen := c.visitedReal[real]; seen {
			return nil
		}
		c.visitedReal[real] = struct{}{}
	}

	entries, err := os.ReadDir(dir.String())
	if err != nil {
		return err
	}

	children := make([]fileref.Ref, 0, len(entries))
	for _, e := range entries {
		children = append(children, fileref.New(filepath.Join(dir.String(), e.Name())))
	}
	if c.cb.CheckDirectoryContents != nil && !c.cb.CheckDirectoryContents(dir, children) {
		return nil
	}

	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		child := fileref.New(filepath.Join(dir.String(), e.Name()))
		info, err := e.Info()
		if err != nil {
			continue
		}
		if err := c.visitEntry(ctx, child, info, recurse); err != nil {
			return err
		}
	}
	return nil
}

func (c *Crawler) visitEntry(ctx context.Context, child fileref.Ref, info fs.FileInfo, recurse bool) error {
	isDir := info.IsDir()
	if info.Mode()&os.ModeSymlink != 0 {
		if target, err := os.Stat(child.String()); err == nil {
			isDir = target.IsDir()
		}
	}

	if isDir {
		if !recurse {
			return nil
		}
		return c.walkDir(ctx, child, recurse, false)
	}

	if c.cb.CheckFile != nil {
		c.cb.CheckFile(child)
	}
	return nil
}
