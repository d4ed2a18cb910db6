package epub

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Write emits the book to outPath. The mimetype entry comes first and is
// stored uncompressed; untouched entries are copied raw, so their bytes
// (compressed and uncompressed) match the source archive. Replaced chapters
// are written exactly once, in their original archive position.
func Write(book *Book, outPath string) error {
	if book.Path != "" && samePath(book.Path, outPath) {
		return fmt.Errorf("refusing to overwrite source archive %s", book.Path)
	}

	dir := filepath.Dir(outPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".epubtran-*.epub")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmpName)
		}
	}()

	zw := zip.NewWriter(tmp)

	if mf, ok := book.byName[MimetypeName]; ok {
		data, err := readEntry(mf)
		if err != nil {
			return fmt.Errorf("failed to read mimetype: %w", err)
		}
		// Modified is left zero so no extra field is emitted and the
		// mimetype string stays at its fixed offset.
		w, err := zw.CreateHeader(&zip.FileHeader{
			Name:         MimetypeName,
			Method:       zip.Store,
			ModifiedTime: mf.ModifiedTime,
			ModifiedDate: mf.ModifiedDate,
		})
		if err != nil {
			return fmt.Errorf("failed to write mimetype: %w", err)
		}
		if _, err := w.Write(data); err != nil {
			return fmt.Errorf("failed to write mimetype: %w", err)
		}
	}

	for _, f := range book.files {
		if f.Name == MimetypeName {
			continue
		}
		if data, ok := book.replacement(f.Name); ok {
			w, err := zw.CreateHeader(&zip.FileHeader{
				Name:     f.Name,
				Method:   zip.Deflate,
				Modified: f.Modified,
			})
			if err != nil {
				return fmt.Errorf("failed to add %s: %w", f.Name, err)
			}
			if _, err := w.Write(data); err != nil {
				return fmt.Errorf("failed to write %s: %w", f.Name, err)
			}
			continue
		}
		if err := zw.Copy(f); err != nil {
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("failed to finalize archive: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}
	if err := os.Rename(tmpName, outPath); err != nil {
		return fmt.Errorf("failed to move archive into place: %w", err)
	}
	committed = true
	return nil
}

// OutputPath derives the default output name: <stem>_<lang>.epub next to
// the source.
func OutputPath(source, lang string) string {
	ext := filepath.Ext(source)
	stem := strings.TrimSuffix(source, ext)
	if ext == "" {
		ext = ".epub"
	}
	return fmt.Sprintf("%s_%s%s", stem, lang, ext)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA == nil && errB == nil && absA == absB {
		return true
	}
	infoA, err := os.Stat(a)
	if err != nil {
		return false
	}
	infoB, err := os.Stat(b)
	if err != nil {
		return false
	}
	return os.SameFile(infoA, infoB)
}
