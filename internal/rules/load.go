package rules

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/release-engineering/retasc/internal/domain"
)

// rulePatterns — файлы правил внутри каталога (рекурсивно).
var rulePatterns = []string{"**/*.yaml", "**/*.yml"}

// LoadResult — итог загрузки правил.
type LoadResult struct {
	// Rules — успешно разобранные правила с уникальными именами.
	Rules []*domain.Rule

	// Files — просмотренные файлы.
	Files []string

	// Errors — ошибки всех файлов (RuleLoadError).
	Errors []error
}

// OK сообщает, что ошибок загрузки нет.
func (r *LoadResult) OK() bool { return len(r.Errors) == 0 }

// Load загружает правила из файлов или каталогов.
//
// Каталог обходится рекурсивно (**/*.yaml, **/*.yml). Ошибка одного
// файла не мешает загрузке остальных. Правила с повторяющимися
// именами отклоняются (первое вхождение сохраняется).
func Load(paths ...string) (*LoadResult, error) {
	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("rules path: %w", err)
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := findRuleFiles(path)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	res := &LoadResult{Files: files}
	seen := make(map[string]string)
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			res.Errors = append(res.Errors, &RuleLoadError{File: file, Msg: err.Error(), Err: ErrInvalidRule})
			continue
		}

		rules, errs := Parse(data, file)
		res.Errors = append(res.Errors, errs...)
		for _, r := range rules {
			if prev, dup := seen[r.Name]; dup {
				res.Errors = append(res.Errors, &RuleLoadError{
					File: file, Rule: r.Name,
					Msg: fmt.Sprintf("duplicate rule name, already defined in %s", prev),
					Err: ErrInvalidRule,
				})
				continue
			}
			seen[r.Name] = file
			res.Rules = append(res.Rules, r)
		}
	}
	return res, nil
}

func findRuleFiles(dir string) ([]string, error) {
	var files []string
	for _, pattern := range rulePatterns {
		matches, err := doublestar.FilepathGlob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob error: %w", err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	return files, nil
}
