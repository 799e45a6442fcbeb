package secrets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// FileProvider はディレクトリ内の1ファイル1シークレットの形式で読み込む。
// Kubernetes Secretのボリュームマウントを想定している。
type FileProvider struct {
	// BaseDir はシークレットファイルを格納したディレクトリ。
	BaseDir string
}

// NewFileProvider は新しいFileProviderを生成する。
// baseDirが存在しない、またはディレクトリでない場合はエラーを返す。
func NewFileProvider(baseDir string) (*FileProvider, error) {
	info, err := os.Stat(baseDir)
	if err != nil {
		return nil, fmt.Errorf("シークレットディレクトリの確認に失敗: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("シークレットディレクトリではありません: %s", baseDir)
	}
	return &FileProvider{BaseDir: baseDir}, nil
}

// GetSecret はBaseDir/<name> の内容を前後の空白を除いて返す。
// グループやその他ユーザーに権限があるファイルは拒否する。
func (p *FileProvider) GetSecret(_ context.Context, name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("不正なシークレット名です: %q", name)
	}
	path := filepath.Join(p.BaseDir, name)

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: ファイル %s", ErrNotFound, name)
		}
		return "", fmt.Errorf("シークレットファイルの確認に失敗: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("通常ファイルではありません: %s", name)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return "", fmt.Errorf("シークレットファイルの権限が広すぎます: %s (%o)", name, perm)
	}

	data, err := os.ReadFile(path) // #nosec G304 -- nameは区切り文字を含まないことを確認済み
	if err != nil {
		return "", fmt.Errorf("シークレットファイルの読み込みに失敗: %w", err)
	}
	value := strings.TrimSpace(string(data))
	if value == "" {
		return "", fmt.Errorf("%w: ファイル %s が空です", ErrNotFound, name)
	}
	return value, nil
}

// Name はプロバイダ名を返す。
func (p *FileProvider) Name() string {
	return "file"
}
