package rules

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/release-engineering/retasc/internal/domain"
	"github.com/release-engineering/retasc/internal/telemetry"
)

// DefaultDebounce — пауза после последнего изменения перед перезагрузкой.
const DefaultDebounce = 500 * time.Millisecond

// Snapshot — загруженный и проверенный набор правил.
type Snapshot struct {
	Rules    []*domain.Rule
	Files    []string
	Errors   []error
	LoadedAt time.Time
}

// Valid сообщает, что правила загружены без ошибок.
func (s *Snapshot) Valid() bool {
	return s != nil && len(s.Errors) == 0
}

// LoadAndValidate загружает правила и проверяет их.
// Ошибки загрузки и проверки собираются в Snapshot.Errors.
func LoadAndValidate(path string, opts ValidateOptions) *Snapshot {
	return LoadAndValidatePaths([]string{path}, opts)
}

// LoadAndValidatePaths — LoadAndValidate для нескольких путей
// (правила из всех путей проверяются вместе).
func LoadAndValidatePaths(paths []string, opts ValidateOptions) *Snapshot {
	snap := &Snapshot{LoadedAt: time.Now()}
	res, err := Load(paths...)
	if err != nil {
		snap.Errors = []error{err}
		return snap
	}
	snap.Rules = res.Rules
	snap.Files = res.Files
	snap.Errors = append(snap.Errors, res.Errors...)
	snap.Errors = append(snap.Errors, Validate(res.Rules, opts)...)
	return snap
}

// Watcher перезагружает правила при изменении файлов.
//
// Текущий Snapshot доступен через Current; ошибочный набор не заменяет
// последний корректный для вычисления, но возвращается из Last
// (используется для /readyz).
type Watcher struct {
	path     string
	opts     ValidateOptions
	debounce time.Duration
	logger   *slog.Logger

	fsw   *fsnotify.Watcher
	dirty atomic.Bool

	current atomic.Pointer[Snapshot]
	last    atomic.Pointer[Snapshot]

	mu       sync.Mutex
	onReload []func(*Snapshot)
}

// NewWatcher загружает правила и подготавливает наблюдение за path.
func NewWatcher(path string, opts ValidateOptions, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	w := &Watcher{
		path:     path,
		opts:     opts,
		debounce: DefaultDebounce,
		logger:   logger,
		fsw:      fsw,
	}
	w.Reload()
	return w, nil
}

// SetDebounce задаёт паузу перед перезагрузкой.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

// OnReload регистрирует обработчик, вызываемый после каждой перезагрузки.
func (w *Watcher) OnReload(fn func(*Snapshot)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onReload = append(w.onReload, fn)
}

// Current возвращает последний корректный набор правил (nil, если его нет).
func (w *Watcher) Current() *Snapshot {
	return w.current.Load()
}

// Last возвращает результат последней перезагрузки.
func (w *Watcher) Last() *Snapshot {
	return w.last.Load()
}

// Reload перечитывает правила.
func (w *Watcher) Reload() *Snapshot {
	snap := LoadAndValidate(w.path, w.opts)
	w.last.Store(snap)
	if snap.Valid() {
		w.current.Store(snap)
		telemetry.SetRulesLoaded(len(snap.Rules))
		w.logger.Info("rules loaded", "path", w.path, "rules", len(snap.Rules), "files", len(snap.Files))
	} else {
		for _, err := range snap.Errors {
			w.logger.Error("invalid rules", "path", w.path, "error", err)
		}
	}

	w.mu.Lock()
	handlers := append([]func(*Snapshot){}, w.onReload...)
	w.mu.Unlock()
	for _, fn := range handlers {
		fn(snap)
	}
	return snap
}

// Run наблюдает за файлами до отмены ctx.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	root := w.path
	if info, err := os.Stat(root); err == nil && !info.IsDir() {
		root = filepath.Dir(root)
	}
	if err := w.addRecursive(root); err != nil {
		return err
	}

	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			w.handle(event)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("rules watcher error", "error", err)

		case <-ticker.C:
			if w.dirty.Swap(false) {
				w.Reload()
			}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(event.Name); err != nil {
				w.logger.Warn("failed to watch directory", "path", event.Name, "error", err)
			}
			w.dirty.Store(true)
			return
		}
	}

	ext := strings.ToLower(filepath.Ext(event.Name))
	if ext != ".yaml" && ext != ".yml" {
		return
	}
	w.logger.Debug("rule file changed", "path", event.Name, "op", event.Op.String())
	w.dirty.Store(true)
}

func (w *Watcher) addRecursive(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if base := d.Name(); strings.HasPrefix(base, ".") && path != root {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(path); err != nil {
			w.logger.Warn("failed to watch directory", "path", path, "error", err)
		}
		return nil
	})
}
