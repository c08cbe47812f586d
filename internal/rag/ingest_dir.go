package ragsvc

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kart-io/logger"

	"github.com/kart-io/sentinel-rag/internal/rag/biz"
)

// DefaultIncludes 目录入库默认匹配的文件。
var DefaultIncludes = []string{"**/*.md", "**/*.txt"}

// SourceFile 待入库的文件，ID 为相对根目录的斜杠路径。
type SourceFile struct {
	ID   string
	Path string
}

// DirIngestReport 目录入库统计。
type DirIngestReport struct {
	Files     int               `json:"files"`
	Indexed   int               `json:"indexed"`
	Unchanged int               `json:"unchanged"`
	Failed    map[string]string `json:"failed,omitempty"`
}

// ProgressFunc 每处理完一个文件调用一次。
type ProgressFunc func(done, total int, file SourceFile)

// CollectFiles 遍历 root，返回匹配 includes 且不匹配 excludes 的文件，按 ID 排序。
// includes 为空时使用 DefaultIncludes。
func CollectFiles(root string, includes, excludes []string) ([]SourceFile, error) {
	if len(includes) == 0 {
		includes = DefaultIncludes
	}
	for _, p := range append(append([]string{}, includes...), excludes...) {
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid glob pattern %q", p)
		}
	}

	var files []SourceFile
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel != "." && matchAny(excludes, rel+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if matchAny(includes, rel) && !matchAny(excludes, rel) {
			files = append(files, SourceFile{ID: rel, Path: path})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ID < files[j].ID })
	return files, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, _ := doublestar.Match(p, name); ok {
			return true
		}
	}
	return false
}

// IngestFiles 逐个入库文件，版本号由内容哈希决定，未变化的文件被跳过。
// 单个文件失败不会中断其余文件，取消 ctx 时立即返回。
func (rt *Runtime) IngestFiles(ctx context.Context, files []SourceFile, progress ProgressFunc) (*DirIngestReport, error) {
	report := &DirIngestReport{Files: len(files), Failed: map[string]string{}}

	for i, f := range files {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		outcome, err := rt.ingestFile(ctx, f)
		switch {
		case err != nil:
			report.Failed[f.ID] = err.Error()
			logger.Warnw("failed to ingest file", "document_id", f.ID, "error", err.Error())
		case outcome == biz.IngestIndexed:
			report.Indexed++
		default:
			report.Unchanged++
		}

		if progress != nil {
			progress(i+1, len(files), f)
		}
	}
	return report, nil
}

func (rt *Runtime) ingestFile(ctx context.Context, f SourceFile) (string, error) {
	data, err := os.ReadFile(f.Path)
	if err != nil {
		return biz.IngestError, err
	}
	res, err := rt.Service.IngestContent(ctx, f.ID, string(data), f.Path)
	if err != nil {
		return biz.IngestError, err
	}
	return res.Outcome, nil
}
