package ext4

import "io"

const (
	maxSymlinks = 40
	maxPathLen  = 4096
	// maxIterations guards against an unbounded resolution loop; it should
	// never trigger in practice; it exists only to turn a latent bug into a
	// loud failure instead of a hang.
	maxIterations = 1000

	pathSeparator = '/'
)

// FollowSymlinks selects how resolvePath treats a symlink in the final
// path component. Intermediate components always follow symlinks,
// regardless of this setting.
type FollowSymlinks int

const (
	// FollowAll follows a symlink even when it is the path's last
	// component, matching open/read/readdir/stat semantics.
	FollowAll FollowSymlinks = iota
	// FollowExcludeFinalComponent leaves the last component's symlink
	// unresolved, matching lstat/readlink semantics.
	FollowExcludeFinalComponent
)

// resolvePath walks path from the root inode, following "." and "..",
// expanding symlinks per follow, and returns the inode the path names
// along with its fully-resolved, separator-deduplicated form.
func resolvePath(sb *superblock, gdt *groupDescriptorTable, src blockSource, path string, follow FollowSymlinks) (*inode, string, error) {
	if len(path) == 0 || path[0] != pathSeparator {
		return nil, "", ErrNotAbsolute
	}
	if len(path) > maxPathLen {
		return nil, "", ErrPathTooLong
	}

	p := pathDedupSep([]byte(path))

	in, err := readInode(rootInodeIndex, sb, gdt, src)
	if err != nil {
		return nil, "", err
	}

	index := 1
	numSymlinks := 0

	for iterations := 0; index < len(p); iterations++ {
		if iterations > maxIterations {
			panic("ext4: path resolution exceeded its iteration guard")
		}

		compEnd, hasSep := findNextSep(p, index)
		isLastComponent := !hasSep || compEnd == len(p)-1
		compEndWithSep := compEnd
		if hasSep {
			compEndWithSep = compEnd + 1
		}
		comp := string(p[index:compEnd])

		if in.fileType != fileTypeDirectory {
			return nil, "", ErrNotADirectory
		}

		if comp == "." {
			p = splice(p, index, compEndWithSep, nil)
			continue
		}

		child, err := lookupChild(in, comp, sb, gdt, src)
		if err != nil {
			return nil, "", err
		}

		if comp == ".." {
			removeStart := findParentComponentStart(p, index)
			p = splice(p, removeStart, compEndWithSep, nil)
			index = removeStart
			in = child
			continue
		}

		if child.fileType == fileTypeSymbolicLink && (follow == FollowAll || !isLastComponent) {
			numSymlinks++
			if numSymlinks > maxSymlinks {
				return nil, "", ErrTooManySymlinks
			}

			target, err := symlinkTarget(child, src, sb)
			if err != nil {
				return nil, "", err
			}
			if target == "" || len(target) > maxPathLen {
				return nil, "", corruptErr(CorruptSymlinkTarget, "inode %d: empty or oversize symlink target", child.number)
			}

			var replaceStart int
			if target[0] == pathSeparator {
				in, err = readInode(rootInodeIndex, sb, gdt, src)
				if err != nil {
					return nil, "", err
				}
				index = 1
				replaceStart = 0
			} else {
				replaceStart = index
			}

			p = splice(p, replaceStart, compEnd, []byte(target))
			if len(p) > maxPathLen {
				return nil, "", ErrPathTooLong
			}
			p = pathDedupSep(p)
			continue
		}

		index = compEndWithSep
		in = child
	}

	if len(p) > 1 && p[len(p)-1] == pathSeparator {
		if in.fileType != fileTypeDirectory {
			return nil, "", ErrNotADirectory
		}
		p = p[:len(p)-1]
	}

	return in, string(p), nil
}

// lookupChild resolves name within parent's directory listing and returns
// the full decoded inode it names.
func lookupChild(parent *inode, name string, sb *superblock, gdt *groupDescriptorTable, src blockSource) (*inode, error) {
	if parent.fileType != fileTypeDirectory {
		return nil, ErrNotADirectory
	}
	checksumBase := inodeChecksumBase(sb.checksumSeed, parent.number, parent.generation)
	fb, err := newFileBlocks(parent, src, sb.blockSize, checksumBase, sb.features.metadataChecksums())
	if err != nil {
		return nil, err
	}
	entry, err := lookupDirEntryByName(parent, fb, src, sb, checksumBase, name)
	if err != nil {
		return nil, err
	}
	return readInode(entry.inode, sb, gdt, src)
}

// symlinkTarget returns a symlink inode's target path, reading it from the
// inline payload when short enough to have been stored there, or from the
// inode's own data blocks otherwise.
func symlinkTarget(in *inode, src blockSource, sb *superblock) (string, error) {
	if in.linkTarget != "" || in.size == 0 {
		return in.linkTarget, nil
	}
	checksumBase := inodeChecksumBase(sb.checksumSeed, in.number, in.generation)
	fb, err := newFileBlocks(in, src, sb.blockSize, checksumBase, sb.features.metadataChecksums())
	if err != nil {
		return "", err
	}
	fr := newFileReader(fb, sb.blockSize, in.size)
	buf := make([]byte, in.size)
	n, err := fr.readAt(src, buf, 0)
	if err != nil && err != io.EOF {
		return "", err
	}
	return string(buf[:n]), nil
}

// splice replaces p[start:end] with replacement, returning the resulting
// slice. The tail is copied before the write so overlapping source and
// destination ranges (replacement shorter or longer than the removed span)
// never corrupt unprocessed bytes.
func splice(p []byte, start, end int, replacement []byte) []byte {
	tail := make([]byte, len(p)-end)
	copy(tail, p[end:])
	out := append([]byte{}, p[:start]...)
	out = append(out, replacement...)
	out = append(out, tail...)
	return out
}

// findNextSep scans forward from start for the next separator, returning
// its index and true, or len(path) and false if none remains.
func findNextSep(path []byte, start int) (int, bool) {
	for i := start; i < len(path); i++ {
		if path[i] == pathSeparator {
			return i, true
		}
	}
	return len(path), false
}

// findPrevSep scans backward from start (inclusive) for a separator.
func findPrevSep(path []byte, start int) (int, bool) {
	for i := start; i >= 0; i-- {
		if path[i] == pathSeparator {
			return i, true
		}
	}
	return 0, false
}

// findParentComponentStart returns where the component preceding the one
// starting at start begins: the byte just after the previous separator, or
// 1 (just past the leading "/") if start is already the first component.
func findParentComponentStart(path []byte, start int) int {
	if start == 1 {
		return start
	}
	idx, ok := findPrevSep(path, start-2)
	if !ok {
		return 1
	}
	return idx + 1
}

// pathDedupSep collapses consecutive separators in place. The write cursor
// never runs ahead of the read cursor, so compacting into the same backing
// array is safe.
func pathDedupSep(path []byte) []byte {
	out := path[:0]
	prevSep := false
	for _, c := range path {
		if c == pathSeparator {
			if prevSep {
				continue
			}
			prevSep = true
		} else {
			prevSep = false
		}
		out = append(out, c)
	}
	return out
}
