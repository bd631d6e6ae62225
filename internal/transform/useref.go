package transform

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"brook/internal/pipeline"
)

var (
	buildBlockPattern = regexp.MustCompile(`(?s)<!--\s*build:(css|js)\s+(\S+)\s*-->(.*?)<!--\s*endbuild\s*-->`)
	assetRefPattern   = regexp.MustCompile(`(?i)(?:href|src)\s*=\s*["']([^"']+)["']`)
)

var ErrAssetNotFound = errors.New("transform: referenced asset not found")

// Useref rewrites build blocks in html files:
//
//	<!-- build:css styles/vendor.css -->
//	<link rel="stylesheet" href="/node_modules/a.css">
//	<!-- endbuild -->
//
// Every block becomes a single reference to its target, and the referenced
// files, looked up in searchPath order, are concatenated into a new file at
// that target.
func Useref(searchPath ...string) pipeline.Step {
	dirs := append([]string(nil), searchPath...)
	return pipeline.Expand("useref", func(ctx context.Context, file *pipeline.File) ([]*pipeline.File, error) {
		if !strings.EqualFold(file.Ext(), ".html") && !strings.EqualFold(file.Ext(), ".htm") {
			return []*pipeline.File{file}, nil
		}
		return rewriteBuildBlocks(ctx, file, dirs)
	})
}

func rewriteBuildBlocks(ctx context.Context, file *pipeline.File, dirs []string) ([]*pipeline.File, error) {
	matches := buildBlockPattern.FindAllSubmatchIndex(file.Contents, -1)
	if len(matches) == 0 {
		return []*pipeline.File{file}, nil
	}

	var rewritten bytes.Buffer
	assets := make([]*pipeline.File, 0, len(matches))
	seen := map[string]int{}
	cursor := 0
	for _, match := range matches {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		kind := string(file.Contents[match[2]:match[3]])
		target := string(file.Contents[match[4]:match[5]])
		body := file.Contents[match[6]:match[7]]

		contents, err := concatAssets(kind, body, dirs)
		if err != nil {
			return nil, fmt.Errorf("block %s: %w", target, err)
		}

		rewritten.Write(file.Contents[cursor:match[0]])
		rewritten.WriteString(referenceTag(kind, target))
		cursor = match[1]

		assetPath := strings.TrimPrefix(path.Clean("/"+target), "/")
		asset := pipeline.NewFile(assetPath, contents)
		if index, ok := seen[assetPath]; ok {
			if !bytes.Equal(assets[index].Contents, contents) {
				return nil, fmt.Errorf("block %s: %w", target, pipeline.ErrConflictingOutput)
			}
			continue
		}
		seen[assetPath] = len(assets)
		assets = append(assets, asset)
	}
	rewritten.Write(file.Contents[cursor:])

	page := file.Clone()
	page.Contents = rewritten.Bytes()
	return append([]*pipeline.File{page}, assets...), nil
}

func concatAssets(kind string, body []byte, dirs []string) ([]byte, error) {
	refs := assetRefPattern.FindAllSubmatch(body, -1)
	var out bytes.Buffer
	for index, ref := range refs {
		contents, err := readAsset(string(ref[1]), dirs)
		if err != nil {
			return nil, err
		}
		if index > 0 {
			out.WriteByte('\n')
			if kind == "js" {
				out.WriteString(";\n")
			}
		}
		out.Write(contents)
	}
	return out.Bytes(), nil
}

func readAsset(ref string, dirs []string) ([]byte, error) {
	clean := strings.SplitN(ref, "?", 2)[0]
	clean = strings.TrimPrefix(path.Clean("/"+clean), "/")
	for _, dir := range dirs {
		contents, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(clean)))
		if err == nil {
			return contents, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
}

func referenceTag(kind, target string) string {
	if kind == "css" {
		return fmt.Sprintf(`<link rel="stylesheet" href="%s">`, target)
	}
	return fmt.Sprintf(`<script src="%s"></script>`, target)
}
