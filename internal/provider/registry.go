package provider

import (
	"sort"
	"sync"

	"github.com/mmeshcher/migpoints/internal/model"
)

// Entry связывает конфигурационную запись провайдера с его реализацией.
type Entry struct {
	Record   model.ProviderRecord
	Provider AdProvider
}

// Registry хранит упорядоченный набор провайдеров с флагами включения и
// приоритетами. Конструируется явно и передаётся зависимостям; флаги
// enabled — единственное разделяемое изменяемое состояние процесса.
type Registry struct {
	mu       sync.RWMutex
	entries  []Entry
	fallback string
}

// NewRegistry создаёт пустой реестр. fallbackName — имя провайдера,
// который нельзя отключить (гарантированный источник рекламы).
func NewRegistry(fallbackName string) *Registry {
	return &Registry{fallback: fallbackName}
}

// Register добавляет провайдера в реестр. Порядок регистрации фиксирует
// разрешение ничьих по приоритету.
func (r *Registry) Register(record model.ProviderRecord, p AdProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries = append(r.entries, Entry{Record: record, Provider: p})
}

// EnabledByPriority возвращает включённых провайдеров по убыванию
// приоритета; при равных приоритетах сохраняется порядок регистрации.
func (r *Registry) EnabledByPriority() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.Record.Enabled {
			res = append(res, e)
		}
	}

	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Record.Priority > res[j].Record.Priority
	})

	return res
}

// Enable включает провайдера по имени. Повторное включение — no-op.
func (r *Registry) Enable(name string) {
	r.setEnabled(name, true)
}

// Disable отключает провайдера по имени. Фолбэк-провайдер отключить
// нельзя: попытка игнорируется, чтобы выдача рекламы не осталась пустой.
func (r *Registry) Disable(name string) {
	if name == r.fallback {
		return
	}
	r.setEnabled(name, false)
}

func (r *Registry) setEnabled(name string, enabled bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.entries {
		if r.entries[i].Record.Name == name {
			r.entries[i].Record.Enabled = enabled
			return
		}
	}
}

// Get возвращает провайдера по имени.
func (r *Registry) Get(name string) (AdProvider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Record.Name == name {
			return e.Provider, true
		}
	}
	return nil, false
}

// Record возвращает конфигурационную запись провайдера по имени.
func (r *Registry) Record(name string) (model.ProviderRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.entries {
		if e.Record.Name == name {
			return e.Record, true
		}
	}
	return model.ProviderRecord{}, false
}

// Fallback возвращает имя защищённого фолбэк-провайдера.
func (r *Registry) Fallback() string { return r.fallback }

// Status возвращает записи всех провайдеров в порядке регистрации.
func (r *Registry) Status() []model.ProviderRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	res := make([]model.ProviderRecord, 0, len(r.entries))
	for _, e := range r.entries {
		res = append(res, e.Record)
	}
	return res
}
