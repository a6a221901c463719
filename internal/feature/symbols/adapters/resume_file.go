package adapters

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"stock_agent/internal/feature/symbols/usecase"
	"stock_agent/internal/shared/market"
)

const timestampLayout = "2006-01-02 15:04:05"

// ResumeFile は実行結果を銘柄単位でテキストファイルに残します。
//
//	failed_{market}_stocks.txt      "timestamp|symbol|reason"（銘柄ごとに 1 行）
//	successful_symbols_{market}.txt "symbol"
type ResumeFile struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

var _ usecase.ResumeReader = (*ResumeFile)(nil)

// NewResumeFile は dir 配下にファイルを置く ResumeFile を生成します。
func NewResumeFile(dir string) *ResumeFile {
	return &ResumeFile{dir: dir, now: time.Now}
}

func (f *ResumeFile) failedPath(m market.Market) string {
	return filepath.Join(f.dir, fmt.Sprintf("failed_%s_stocks.txt", m))
}

func (f *ResumeFile) successfulPath(m market.Market) string {
	return filepath.Join(f.dir, fmt.Sprintf("successful_symbols_%s.txt", m))
}

// RecordFailure は失敗銘柄を追記します。既に記録済みの銘柄は追記しません。
// 理由に含まれる改行と区切り文字は空白に置き換えます。
func (f *ResumeFile) RecordFailure(m market.Market, symbol, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := f.failedPath(m)
	existing, err := readColumn(path, 1)
	if err != nil {
		return err
	}
	for _, s := range existing {
		if s == symbol {
			return nil
		}
	}
	reason = strings.NewReplacer("\n", " ", "\r", " ", "|", " ").Replace(reason)
	line := fmt.Sprintf("%s|%s|%s\n", f.now().Format(timestampLayout), symbol, reason)
	return f.appendLines(path, line)
}

// RecordSuccess は取得に成功した銘柄を追記します。
func (f *ResumeFile) RecordSuccess(m market.Market, symbols ...string) error {
	if len(symbols) == 0 {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var b strings.Builder
	for _, s := range symbols {
		b.WriteString(s)
		b.WriteByte('\n')
	}
	return f.appendLines(f.successfulPath(m), b.String())
}

// ReadFailed は失敗ファイルの銘柄を記録順・重複なしで返します。ファイルがなければ空です。
func (f *ResumeFile) ReadFailed(m market.Market) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readColumn(f.failedPath(m), 1)
}

// ReadSuccessful は成功ファイルの銘柄を返します。ファイルがなければ空です。
func (f *ResumeFile) ReadSuccessful(m market.Market) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return readColumn(f.successfulPath(m), 0)
}

func (f *ResumeFile) appendLines(path, text string) error {
	if err := os.MkdirAll(f.dir, 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := file.WriteString(text); err != nil {
		_ = file.Close()
		return err
	}
	return file.Close()
}

// readColumn は "|" 区切りの col 列目を重複なしで読み込みます。
func readColumn(path string, col int) ([]string, error) {
	file, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var out []string
	seen := make(map[string]struct{})
	sc := bufio.NewScanner(file)
	for sc.Scan() {
		parts := strings.Split(strings.TrimSpace(sc.Text()), "|")
		if len(parts) <= col {
			continue
		}
		v := strings.TrimSpace(parts[col])
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out, sc.Err()
}
