package call

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Registry процессный реестр активных сессий: идентификатор звонка ->
// сессия. Единственное разделяемое между сессиями состояние; доступ
// под одним мьютексом. Жизненный цикл: создается при старте сервера,
// записи добавляются и удаляются по ходу звонков, Clear при остановке.
type Registry struct {
	mutex    sync.Mutex
	sessions map[string]*Session
	log      *logrus.Entry
}

// NewRegistry создает пустой реестр
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		log:      logrus.WithField("component", "call_registry"),
	}
}

// Add регистрирует сессию. Повторный идентификатор звонка - ошибка.
func (r *Registry) Add(s *Session) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.sessions[s.CallID()]; exists {
		return fmt.Errorf("звонок %s уже зарегистрирован", s.CallID())
	}
	r.sessions[s.CallID()] = s
	metricActiveSessions.Set(float64(len(r.sessions)))
	return nil
}

// Get возвращает сессию по идентификатору звонка
func (r *Registry) Get(callID string) (*Session, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	s, ok := r.sessions[callID]
	return s, ok
}

// Remove удаляет сессию из реестра
func (r *Registry) Remove(callID string) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.sessions, callID)
	metricActiveSessions.Set(float64(len(r.sessions)))
}

// Count возвращает количество активных сессий
func (r *Registry) Count() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.sessions)
}

// Clear завершает все сессии и очищает реестр. Вызывается при
// остановке сервера.
func (r *Registry) Clear() {
	r.mutex.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]*Session)
	metricActiveSessions.Set(0)
	r.mutex.Unlock()

	for _, s := range sessions {
		_ = s.OnHangup(CauseNormalClearance)
	}
	r.log.WithField("count", len(sessions)).Info("реестр сессий очищен")
}
