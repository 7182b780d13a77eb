package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"storybook-server/internal/domain"
	"storybook-server/pkg/taskmanager"
)

// DefaultBookTitle название книги, если план не дал своего.
const DefaultBookTitle = "Bedtime Story"

const snapshotWriteTimeout = 3 * time.Second

// RunUpdateMessage тип сообщения WebSocket со снимком запуска.
const RunUpdateMessage = "run_update"

// RunTopic топик WebSocket для обновлений запуска.
func RunTopic(runID uuid.UUID) string {
	return "run:" + runID.String()
}

// RunGenerator выполняет один запуск генерации.
type RunGenerator interface {
	Run(ctx context.Context, runID uuid.UUID, cfg domain.StoryConfig, observe Observer) (domain.RunSnapshot, error)
}

// SnapshotStore зеркалирует снимки запусков во внешнем хранилище (Redis).
type SnapshotStore interface {
	Save(ctx context.Context, snapshot domain.RunSnapshot) error
	Get(ctx context.Context, runID uuid.UUID) (*domain.RunSnapshot, error)
}

// BookSaver сохраняет книгу.
type BookSaver interface {
	Save(ctx context.Context, payload domain.SaveBookPayload) (uuid.UUID, error)
}

// RunService запускает генерацию в фоне и отдает снимки прогресса.
type RunService struct {
	generator RunGenerator
	tasks     taskmanager.ITaskManager
	snapshots SnapshotStore // может быть nil
	books     BookSaver
	logger    *zap.Logger

	mu     sync.Mutex
	saved  map[uuid.UUID]uuid.UUID // runID -> bookID
	saving singleflight.Group      // по runID
}

// NewRunService создает сервис запусков. snapshots может быть nil.
func NewRunService(generator RunGenerator, tasks taskmanager.ITaskManager, snapshots SnapshotStore, books BookSaver, logger *zap.Logger) *RunService {
	return &RunService{
		generator: generator,
		tasks:     tasks,
		snapshots: snapshots,
		books:     books,
		logger:    logger.Named("RunService"),
		saved:     make(map[uuid.UUID]uuid.UUID),
	}
}

// Start проверяет конфигурацию и запускает генерацию в фоне.
// Запуск не зависит от контекста запроса.
func (s *RunService) Start(ctx context.Context, cfg domain.StoryConfig) (uuid.UUID, error) {
	if err := cfg.Validate(); err != nil {
		return uuid.Nil, err
	}

	runID, err := s.tasks.SubmitTask(ctx, func(taskCtx context.Context, taskID uuid.UUID, report taskmanager.ProgressFunc) (interface{}, error) {
		return s.generator.Run(taskCtx, taskID, cfg, func(snapshot domain.RunSnapshot) bool {
			return report(snapshot)
		})
	}, s.mirror)
	if err != nil {
		if errors.Is(err, taskmanager.ErrTooManyTasks) {
			return uuid.Nil, domain.ErrRunLimit
		}
		return uuid.Nil, err
	}

	s.logger.Info("Generation run submitted", zap.String("run_id", runID.String()), zap.Int("total_pages", cfg.TotalPages))
	return runID, nil
}

// Snapshot возвращает текущее состояние запуска: из памяти, затем из зеркала.
func (s *RunService) Snapshot(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, error) {
	snap, _, err := s.lookup(ctx, runID)
	return snap, err
}

// Discard прекращает наблюдение за запуском. Отправленные запросы не отменяются,
// их результаты отбрасываются.
func (s *RunService) Discard(ctx context.Context, runID uuid.UUID) error {
	if err := s.tasks.DetachTask(runID); err != nil {
		if errors.Is(err, taskmanager.ErrTaskNotFound) {
			return domain.ErrRunNotFound
		}
		return err
	}

	snap, _, err := s.lookup(ctx, runID)
	if err == nil {
		s.store(snap)
	}
	s.logger.Info("Generation run discarded", zap.String("run_id", runID.String()))
	return nil
}

// Retry начинает новый запуск с той же конфигурацией. Исходный запуск должен быть завершен.
// Частичные результаты не переиспользуются.
func (s *RunService) Retry(ctx context.Context, runID uuid.UUID) (uuid.UUID, error) {
	snap, finished, err := s.lookup(ctx, runID)
	if err != nil {
		return uuid.Nil, err
	}
	if !finished {
		return uuid.Nil, domain.ErrRunNotComplete
	}
	newID, err := s.Start(ctx, snap.Config)
	if err != nil {
		return uuid.Nil, err
	}
	s.logger.Info("Generation run retried", zap.String("run_id", runID.String()), zap.String("new_run_id", newID.String()))
	return newID, nil
}

// Save сохраняет завершенный запуск как книгу. Повторный вызов возвращает ту же книгу.
func (s *RunService) Save(ctx context.Context, runID uuid.UUID) (uuid.UUID, error) {
	// одновременные запросы на один запуск ждут общего результата
	v, err, _ := s.saving.Do(runID.String(), func() (interface{}, error) {
		return s.save(ctx, runID)
	})
	if err != nil {
		return uuid.Nil, err
	}
	return v.(uuid.UUID), nil
}

func (s *RunService) save(ctx context.Context, runID uuid.UUID) (uuid.UUID, error) {
	snap, _, err := s.lookup(ctx, runID)
	if err != nil {
		return uuid.Nil, err
	}
	if snap.SavedBookID != nil {
		return *snap.SavedBookID, nil
	}
	if !snap.Complete || snap.Discarded {
		return uuid.Nil, domain.ErrRunNotComplete
	}

	payload, err := payloadFromSnapshot(snap)
	if err != nil {
		return uuid.Nil, err
	}
	bookID, err := s.books.Save(ctx, payload)
	if err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	s.saved[runID] = bookID
	s.mu.Unlock()

	snap.SavedBookID = &bookID
	s.store(snap)
	s.logger.Info("Generation run saved", zap.String("run_id", runID.String()), zap.String("book_id", bookID.String()))
	return bookID, nil
}

// Cleanup удаляет из памяти завершенные запуски старше retention.
func (s *RunService) Cleanup(retention time.Duration) int {
	removed := s.tasks.CleanupTasks(retention)
	if removed > 0 {
		s.logger.Debug("Finished runs removed from memory", zap.Int("count", removed))
	}
	return removed
}

// lookup возвращает снимок и признак того, что запуск завершен (успешно, с ошибкой или отброшен).
func (s *RunService) lookup(ctx context.Context, runID uuid.UUID) (domain.RunSnapshot, bool, error) {
	task, err := s.tasks.GetTask(runID)
	if err == nil {
		return s.withSaved(snapshotFromTask(task)), task.Finished(), nil
	}
	if !errors.Is(err, taskmanager.ErrTaskNotFound) {
		return domain.RunSnapshot{}, false, err
	}

	if s.snapshots != nil {
		snap, err := s.snapshots.Get(ctx, runID)
		if err == nil {
			finished := snap.Complete || snap.Discarded || snap.Error != ""
			return s.withSaved(*snap), finished, nil
		}
		if !errors.Is(err, domain.ErrRunNotFound) {
			s.logger.Warn("Failed to read run snapshot mirror", zap.String("run_id", runID.String()), zap.Error(err))
		}
	}
	return domain.RunSnapshot{}, false, domain.ErrRunNotFound
}

func (s *RunService) withSaved(snap domain.RunSnapshot) domain.RunSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	if bookID, ok := s.saved[snap.RunID]; ok {
		snap.SavedBookID = &bookID
	}
	return snap
}

// mirror коллбэк задачи: сохраняет каждый снимок в зеркало.
func (s *RunService) mirror(task taskmanager.Task) {
	if task.Progress == nil && task.Result == nil {
		return
	}
	s.store(snapshotFromTask(task))
}

func (s *RunService) store(snap domain.RunSnapshot) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), snapshotWriteTimeout)
	defer cancel()
	if err := s.snapshots.Save(ctx, snap); err != nil {
		s.logger.Warn("Failed to mirror run snapshot", zap.String("run_id", snap.RunID.String()), zap.Error(err))
	}
}

// snapshotFromTask извлекает снимок из задачи. Итоговый снимок в Result
// приоритетнее последнего промежуточного.
func snapshotFromTask(task taskmanager.Task) domain.RunSnapshot {
	var snap domain.RunSnapshot
	switch {
	case task.Result != nil:
		snap, _ = task.Result.(domain.RunSnapshot)
	case task.Progress != nil:
		snap, _ = task.Progress.(domain.RunSnapshot)
	}
	if snap.Steps == nil {
		snap = domain.RunSnapshot{
			Steps:     domain.InitialSteps(),
			Outline:   []domain.OutlinePage{},
			Pages:     []domain.GeneratedPage{},
			UpdatedAt: task.UpdatedAt,
		}
	}
	snap.RunID = task.ID
	if task.Status == taskmanager.TaskStatusDetached {
		snap.Discarded = true
	}
	if task.Err != nil && snap.Error == "" {
		snap.Error = task.Err.Error()
	}
	return snap
}

// payloadFromSnapshot собирает запрос на сохранение из завершенного запуска.
func payloadFromSnapshot(snap domain.RunSnapshot) (domain.SaveBookPayload, error) {
	title := snap.Title
	if title == "" {
		title = DefaultBookTitle
	}

	characterSheet, err := json.Marshal(snap.CharacterRaw)
	if err != nil {
		return domain.SaveBookPayload{}, err
	}
	outline, err := json.Marshal(snap.Outline)
	if err != nil {
		return domain.SaveBookPayload{}, err
	}

	pages := make([]domain.SavePage, 0, len(snap.Pages))
	for _, p := range snap.Pages {
		pages = append(pages, domain.SavePage{
			PageNumber:  p.PageNumber,
			Text:        p.Text,
			ImageURL:    p.ImageURL,
			ImagePrompt: p.ImagePrompt,
		})
	}

	cfg := snap.Config
	return domain.SaveBookPayload{
		Title:          title,
		Theme:          string(cfg.Theme),
		Style:          string(cfg.Style),
		Tone:           string(cfg.Tone),
		TotalPages:     cfg.TotalPages,
		ChildName:      cfg.ChildName,
		Favorites:      cfg.Favorites,
		LessonOfTheDay: cfg.LessonOfTheDay,
		CharacterSheet: characterSheet,
		Outline:        outline,
		Pages:          pages,
	}, nil
}
