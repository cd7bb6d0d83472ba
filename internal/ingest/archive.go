package ingest

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/bzip2"
	"compress/gzip"
	"io"
	"path"
	"strings"

	"github.com/ulikunitz/xz"
)

const (
	// maxArchiveFileSize 单文件上限, 超过的基本是生成物或数据文件
	maxArchiveFileSize = 1024 * 1024
	// maxArchiveFiles 单归档文件数上限
	maxArchiveFiles = 2000
)

// skipDirs 整目录跳过的名单 (依赖/构建产物/版本控制)
var skipDirs = map[string]bool{
	"__pycache__": true, ".git": true, ".svn": true, ".hg": true,
	"node_modules": true, ".tox": true, ".venv": true, "venv": true,
	".mypy_cache": true, ".pytest_cache": true,
	"dist": true, "build": true, ".next": true, "target": true,
}

// skipExtensions 按扩展名跳过的名单 (二进制/媒体/嵌套归档)
var skipExtensions = map[string]bool{
	".pyc": true, ".pyo": true, ".so": true, ".dylib": true, ".dll": true,
	".o": true, ".a": true,
	".class": true, ".jar": true, ".war": true, ".exe": true, ".bin": true,
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".ico": true,
	".svg": true, ".bmp": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true,
	".lock": true, ".map": true,
}

// ArchiveFile 归档中提取出的一个文件
type ArchiveFile struct {
	Path string
	Data []byte
}

// ExtractArchive 展开代码归档, 过滤掉不值得摄取的文件
// 格式损坏时返回空列表而不是错误 (作业层把空结果当失败处理)
func ExtractArchive(data []byte, filename string) []ArchiveFile {
	switch {
	case strings.HasSuffix(filename, ".tar.gz"), strings.HasSuffix(filename, ".tgz"):
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil
		}
		defer gz.Close()
		return extractTar(gz)

	case strings.HasSuffix(filename, ".tar.bz2"):
		return extractTar(bzip2.NewReader(bytes.NewReader(data)))

	case strings.HasSuffix(filename, ".tar.xz"):
		xr, err := xz.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil
		}
		return extractTar(xr)

	case strings.HasSuffix(filename, ".tar"):
		return extractTar(bytes.NewReader(data))

	case strings.HasSuffix(filename, ".zip"):
		return extractZip(data)
	}
	return nil
}

func extractTar(r io.Reader) []ArchiveFile {
	var files []ArchiveFile
	tr := tar.NewReader(r)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}
		if shouldSkip(header.Name, header.Size) {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(tr, maxArchiveFileSize+1))
		if err != nil {
			return nil
		}
		files = append(files, ArchiveFile{Path: header.Name, Data: content})
		if len(files) >= maxArchiveFiles {
			break
		}
	}
	return files
}

func extractZip(data []byte) []ArchiveFile {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}

	var files []ArchiveFile
	for _, info := range zr.File {
		if info.FileInfo().IsDir() {
			continue
		}
		if shouldSkip(info.Name, int64(info.UncompressedSize64)) {
			continue
		}
		rc, err := info.Open()
		if err != nil {
			continue
		}
		content, err := io.ReadAll(io.LimitReader(rc, maxArchiveFileSize+1))
		rc.Close()
		if err != nil {
			continue
		}
		files = append(files, ArchiveFile{Path: info.Name, Data: content})
		if len(files) >= maxArchiveFiles {
			break
		}
	}
	return files
}

// shouldSkip 判断归档成员是否跳过
func shouldSkip(filePath string, size int64) bool {
	for _, part := range strings.Split(filePath, "/") {
		// "./src/main.py" 这类成员名的 "." 是路径写法, 不是隐藏目录
		if part == "" || part == "." {
			continue
		}
		if strings.HasPrefix(part, ".") {
			return true
		}
		if skipDirs[part] {
			return true
		}
	}
	if skipExtensions[strings.ToLower(path.Ext(filePath))] {
		return true
	}
	if size > maxArchiveFileSize || size == 0 {
		return true
	}
	return false
}
