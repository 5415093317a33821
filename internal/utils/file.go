package utils

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var imageExts = map[string]bool{
	"jpg": true, "jpeg": true, "png": true, "gif": true, "webp": true,
}

// EnsureDir creates a directory if it doesn't exist
func EnsureDir(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// GetFileExtension returns the lowercase file extension without the dot
func GetFileExtension(filename string) string {
	return strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
}

// IsImageFile checks if a file has an extension the decoder understands
func IsImageFile(filename string) bool {
	return imageExts[GetFileExtension(filename)]
}

// SnapshotFilename returns dir/<prefix><unix seconds>.jpg, e.g. food_detection_1700000000.jpg
func SnapshotFilename(dir, prefix string, at time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("%s%d.jpg", SanitizeFilename(prefix), at.Unix()))
}

// AnnotatedFilename returns dir/<input name>_annotated.<format>
func AnnotatedFilename(inputFile, outputDir, format string) string {
	baseName := filepath.Base(inputFile)
	nameWithoutExt := strings.TrimSuffix(baseName, filepath.Ext(baseName))
	if format == "" {
		format = "jpg"
	}
	return filepath.Join(outputDir, fmt.Sprintf("%s_annotated.%s", SanitizeFilename(nameWithoutExt), format))
}

// ExpandImageArgs turns a mix of files and directories into a list of image files.
// Directories are walked recursively; explicit file arguments are kept as given.
func ExpandImageArgs(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && IsImageFile(path) {
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// SanitizeFilename removes or replaces invalid characters in filenames
func SanitizeFilename(filename string) string {
	replacer := strings.NewReplacer(
		"/", "_", "\\", "_", ":", "_", "*", "_", "?", "_",
		"\"", "_", "<", "_", ">", "_", "|", "_",
	)
	// Remove leading/trailing spaces and dots
	return strings.Trim(replacer.Replace(filename), " .")
}

// FormatFileSize formats file size in human-readable format
func FormatFileSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}

	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}

	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
