package taskmanager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrTaskNotFound = errors.New("задача не найдена")
	ErrTooManyTasks = errors.New("превышено максимальное количество активных задач")
)

// ITaskManager определяет интерфейс для управления задачами
type ITaskManager interface {
	SubmitTask(ctx context.Context, taskFunc TaskFunc, callbacks ...TaskCallback) (uuid.UUID, error)
	GetTask(taskID uuid.UUID) (Task, error)
	DetachTask(taskID uuid.UUID) error
	RegisterCallback(taskID uuid.UUID, callback TaskCallback) error
	UnregisterCallbacks(taskID uuid.UUID)
	CleanupTasks(age time.Duration) int
	ActiveTasks() int
	SetNotifier(notifier Notifier)
	Shutdown(ctx context.Context) error
}

// Notifier рассылает обновления задач подписчикам топика (WebSocket).
type Notifier interface {
	Broadcast(messageType, topic string, payload interface{})
}

// TaskStatus представляет статус задачи
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	// TaskStatusDetached задача больше никем не наблюдается. Горутина может
	// еще дожидаться ответа провайдера, но ее результаты отбрасываются.
	TaskStatusDetached TaskStatus = "detached"
)

// Task копия состояния задачи. Progress и Result непрозрачны для менеджера.
type Task struct {
	ID        uuid.UUID
	Status    TaskStatus
	Progress  interface{}
	Result    interface{}
	Err       error
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Finished true для completed, failed и detached.
func (t Task) Finished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed || t.Status == TaskStatusDetached
}

// ProgressFunc публикует промежуточное состояние. false - задача отсоединена и должна остановиться.
type ProgressFunc func(progress interface{}) bool

// TaskFunc представляет функцию, выполняемую в задаче
type TaskFunc func(ctx context.Context, taskID uuid.UUID, report ProgressFunc) (interface{}, error)

// TaskCallback вызывается после каждого обновления задачи, вне блокировки.
type TaskCallback func(task Task)

// Config содержит конфигурацию для TaskManager
type Config struct {
	MaxTasks int
	// Topic строит топик уведомлений по ID задачи. По умолчанию "task:<id>".
	Topic func(taskID uuid.UUID) string
	// MessageType тип сообщения для Notifier. По умолчанию "task_update".
	MessageType string
}

// TaskManager управляет фоновыми задачами
type TaskManager struct {
	mu        sync.RWMutex
	tasks     map[uuid.UUID]*Task
	callbacks map[uuid.UUID][]TaskCallback
	notifier  Notifier

	maxTasks    int
	topic       func(uuid.UUID) string
	messageType string

	closing   chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	cancelAll context.CancelFunc
	baseCtx   context.Context
}

var _ ITaskManager = (*TaskManager)(nil)

// New создает новый экземпляр TaskManager
func New(cfg Config) *TaskManager {
	maxTasks := cfg.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 10
	}
	topic := cfg.Topic
	if topic == nil {
		topic = func(id uuid.UUID) string { return "task:" + id.String() }
	}
	messageType := cfg.MessageType
	if messageType == "" {
		messageType = "task_update"
	}

	// Контекст задач не зависит от контекста запроса: задача переживает HTTP ответ.
	baseCtx, cancel := context.WithCancel(context.Background())
	return &TaskManager{
		tasks:       make(map[uuid.UUID]*Task),
		callbacks:   make(map[uuid.UUID][]TaskCallback),
		maxTasks:    maxTasks,
		topic:       topic,
		messageType: messageType,
		closing:     make(chan struct{}),
		baseCtx:     baseCtx,
		cancelAll:   cancel,
	}
}

// SetNotifier устанавливает нотификатор
func (tm *TaskManager) SetNotifier(notifier Notifier) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.notifier = notifier
}

// ActiveTasks количество задач в статусе pending или running.
func (tm *TaskManager) ActiveTasks() int {
	tm.mu.RLock()
	defer tm.mu.RUnlock()
	return tm.activeLocked()
}

func (tm *TaskManager) activeLocked() int {
	active := 0
	for _, task := range tm.tasks {
		if task.Status == TaskStatusPending || task.Status == TaskStatusRunning {
			active++
		}
	}
	return active
}

// SubmitTask создает и запускает новую задачу. callbacks регистрируются до старта,
// поэтому видят все обновления.
func (tm *TaskManager) SubmitTask(ctx context.Context, taskFunc TaskFunc, callbacks ...TaskCallback) (uuid.UUID, error) {
	select {
	case <-tm.closing:
		return uuid.Nil, errors.New("менеджер задач остановлен")
	default:
	}

	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.activeLocked() >= tm.maxTasks {
		return uuid.Nil, ErrTooManyTasks
	}

	taskID := uuid.New()
	now := time.Now().UTC()
	task := &Task{
		ID:        taskID,
		Status:    TaskStatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	tm.tasks[taskID] = task
	if len(callbacks) > 0 {
		tm.callbacks[taskID] = append([]TaskCallback(nil), callbacks...)
	}

	// --- Независимый контекст с логгером из запроса ---
	taskLogger := log.Ctx(ctx).With().Str("taskID", taskID.String()).Logger()
	taskCtx := taskLogger.WithContext(tm.baseCtx)

	tm.wg.Add(1)
	go func() {
		defer tm.wg.Done()
		tm.runTask(taskCtx, taskID, taskFunc)
	}()

	return taskID, nil
}

// runTask выполняет задачу и обновляет ее статус
func (tm *TaskManager) runTask(ctx context.Context, taskID uuid.UUID, taskFunc TaskFunc) {
	logger := log.Ctx(ctx)
	tm.update(taskID, func(t *Task) bool {
		t.Status = TaskStatusRunning
		return true
	})
	logger.Info().Msg("Задача запущена")

	report := func(progress interface{}) bool {
		return tm.update(taskID, func(t *Task) bool {
			if t.Status == TaskStatusDetached {
				return false
			}
			t.Progress = progress
			return true
		})
	}

	result, err := func() (result interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("паника в задаче: %v", r)
			}
		}()
		return taskFunc(ctx, taskID, report)
	}()

	applied := tm.update(taskID, func(t *Task) bool {
		if t.Status == TaskStatusDetached {
			return false
		}
		t.Result = result
		t.Err = err
		if err != nil {
			t.Status = TaskStatusFailed
		} else {
			t.Status = TaskStatusCompleted
		}
		return true
	})

	switch {
	case !applied:
		logger.Info().Msg("Задача отсоединена, результат отброшен")
	case err != nil:
		logger.Error().Err(err).Msg("Задача завершилась с ошибкой")
	default:
		logger.Info().Msg("Задача успешно выполнена")
	}
}

// update применяет mutate под блокировкой и, если изменение принято,
// уведомляет коллбэки и нотификатор уже без блокировки.
func (tm *TaskManager) update(taskID uuid.UUID, mutate func(t *Task) bool) bool {
	tm.mu.Lock()
	task, ok := tm.tasks[taskID]
	if !ok || !mutate(task) {
		tm.mu.Unlock()
		return false
	}
	task.UpdatedAt = time.Now().UTC()
	snapshot := *task
	callbacks := append([]TaskCallback(nil), tm.callbacks[taskID]...)
	notifier := tm.notifier
	tm.mu.Unlock()

	for _, callback := range callbacks {
		callback(snapshot)
	}
	if notifier != nil && snapshot.Progress != nil {
		notifier.Broadcast(tm.messageType, tm.topic(taskID), snapshot.Progress)
	}
	return true
}

// GetTask возвращает копию задачи по ID
func (tm *TaskManager) GetTask(taskID uuid.UUID) (Task, error) {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return Task{}, fmt.Errorf("задача с ID %s: %w", taskID, ErrTaskNotFound)
	}
	return *task, nil
}

// DetachTask прекращает наблюдение за задачей. Контекст задачи не отменяется:
// уже отправленный запрос завершится сам, а его результат будет отброшен.
func (tm *TaskManager) DetachTask(taskID uuid.UUID) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	task, ok := tm.tasks[taskID]
	if !ok {
		return fmt.Errorf("задача с ID %s: %w", taskID, ErrTaskNotFound)
	}
	if task.Status == TaskStatusPending || task.Status == TaskStatusRunning {
		task.Status = TaskStatusDetached
		task.UpdatedAt = time.Now().UTC()
	}
	delete(tm.callbacks, taskID)
	return nil
}

// RegisterCallback регистрирует функцию обратного вызова для задачи
func (tm *TaskManager) RegisterCallback(taskID uuid.UUID, callback TaskCallback) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if _, ok := tm.tasks[taskID]; !ok {
		return fmt.Errorf("задача с ID %s: %w", taskID, ErrTaskNotFound)
	}
	tm.callbacks[taskID] = append(tm.callbacks[taskID], callback)
	return nil
}

// UnregisterCallbacks удаляет все коллбэки для задачи
func (tm *TaskManager) UnregisterCallbacks(taskID uuid.UUID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.callbacks, taskID)
}

// CleanupTasks удаляет завершенные задачи старше age и возвращает их количество.
func (tm *TaskManager) CleanupTasks(age time.Duration) int {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	removed := 0
	now := time.Now().UTC()
	for id, task := range tm.tasks {
		if task.Finished() && now.Sub(task.UpdatedAt) > age {
			delete(tm.tasks, id)
			delete(tm.callbacks, id)
			removed++
		}
	}
	return removed
}

// Shutdown ожидает завершения всех задач. По таймауту ctx отменяет контексты задач.
func (tm *TaskManager) Shutdown(ctx context.Context) error {
	tm.closeOnce.Do(func() { close(tm.closing) })

	done := make(chan struct{})
	go func() {
		tm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		tm.cancelAll()
		return nil
	case <-ctx.Done():
		tm.cancelAll()
		return errors.New("таймаут при ожидании завершения задач")
	}
}
