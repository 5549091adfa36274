package marketplace

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/scc-tools/scc/internal/orgconfig"
	"github.com/scc-tools/scc/internal/paths"
)

// copyDirSource materializes a directory source by copying the tree.
func copyDirSource(dst, srcPath string) error {
	info, err := os.Stat(srcPath)
	if err != nil {
		return fmt.Errorf("reading marketplace directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("marketplace path %q is not a directory", srcPath)
	}
	return copyTree(srcPath, dst, func(rel string) bool {
		return rel == ".git" || rel == paths.ManifestFileName
	})
}

// copyFileSource materializes a file source pointing directly at a
// marketplace.json catalog.
func copyFileSource(dst, srcPath string) error {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return fmt.Errorf("reading marketplace catalog: %w", err)
	}
	return writeManifestFile(dst, data)
}

// fetchNPM downloads a package tarball from the npm registry and unpacks its
// package/ directory. Without a pinned version the registry's latest
// dist-tag is resolved first.
func (m *Materializer) fetchNPM(ctx context.Context, dst string, src orgconfig.MarketplaceSource) error {
	version := src.Version
	if version == "" {
		var err error
		version, err = m.resolveNPMLatest(ctx, src.Package)
		if err != nil {
			return err
		}
	}

	tarName := src.Package
	if i := strings.LastIndex(tarName, "/"); i >= 0 {
		// Scoped packages tarball under the unscoped name.
		tarName = tarName[i+1:]
	}
	url := fmt.Sprintf("https://registry.npmjs.org/%s/-/%s-%s.tgz", src.Package, tarName, version)
	body, _, err := m.get(ctx, url, nil)
	if err != nil {
		return err
	}
	return untarStripped(dst, body, "package/")
}

func (m *Materializer) resolveNPMLatest(ctx context.Context, pkg string) (string, error) {
	body, _, err := m.get(ctx, "https://registry.npmjs.org/"+pkg, nil)
	if err != nil {
		return "", err
	}
	var meta struct {
		DistTags map[string]string `json:"dist-tags"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		return "", fmt.Errorf("parsing registry metadata for %s: %w", pkg, err)
	}
	latest := meta.DistTags["latest"]
	if latest == "" {
		return "", fmt.Errorf("package %s has no latest dist-tag", pkg)
	}
	return latest, nil
}

// untarInto unpacks a gzipped tarball into dir.
func untarInto(dir string, data []byte) error {
	return untarStripped(dir, data, "")
}

// untarStripped unpacks a gzipped tarball, dropping the given leading path
// component and rejecting entries that would escape dir.
func untarStripped(dir string, data []byte, strip string) error {
	gz, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("reading tarball: %w", err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading tarball entry: %w", err)
		}
		name := hdr.Name
		if strip != "" {
			if !strings.HasPrefix(name, strip) {
				continue
			}
			name = name[len(strip):]
		}
		if name == "" {
			continue
		}
		target := filepath.Join(dir, filepath.FromSlash(name))
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(filepath.Separator)) {
			return fmt.Errorf("tarball entry %q escapes extraction directory", hdr.Name)
		}
		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			f, err := os.OpenFile(target, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, os.FileMode(hdr.Mode)&0o777)
			if err != nil {
				return err
			}
			if _, err := io.Copy(f, io.LimitReader(tr, 512<<20)); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
		default:
			// Symlinks and specials are dropped; catalogs are plain trees.
		}
	}
}

// copyTree copies src into dst, skipping top-level entries for which skip
// returns true.
func copyTree(src, dst string, skip func(rel string) bool) error {
	return filepath.WalkDir(src, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if skip != nil {
			top := rel
			if i := strings.IndexRune(rel, filepath.Separator); i >= 0 {
				top = rel[:i]
			}
			if skip(top) {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o755)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		return copyFile(p, target)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
