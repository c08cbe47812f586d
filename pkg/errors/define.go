package errors

import (
	"fmt"
	"sync"
)

var (
	services   = make(map[int]string)
	servicesMu sync.RWMutex
)

// RegisterService claims a service code for name. Claiming the same code
// twice with the same name is a no-op, a different name panics.
//
//	func init() {
//	    errors.RegisterService(errors.ServiceRAG, "rag")
//	}
func RegisterService(code int, name string) {
	servicesMu.Lock()
	defer servicesMu.Unlock()

	if existing, ok := services[code]; ok {
		if existing != name {
			panic(fmt.Sprintf("service code %d already registered by %q, cannot register for %q", code, existing, name))
		}
		return
	}
	services[code] = name
}

// GetServiceName returns the registered name for a service code.
func GetServiceName(code int) (string, bool) {
	servicesMu.RLock()
	defer servicesMu.RUnlock()
	name, ok := services[code]
	return name, ok
}

// Define builds and registers an Errno whose HTTP status follows its category.
// It returns an error when en is empty or the code is taken.
func Define(service, category, sequence int, en, zh string) (*Errno, error) {
	if en == "" {
		return nil, fmt.Errorf("errno %d: english message is required", MakeCode(service, category, sequence))
	}
	e := &Errno{
		Code:      MakeCode(service, category, sequence),
		HTTP:      CategoryStatus(category),
		MessageEN: en,
		MessageZH: zh,
	}
	if err := register(e); err != nil {
		return nil, err
	}
	return e, nil
}

// MustDefine is Define that panics on error.
func MustDefine(service, category, sequence int, en, zh string) *Errno {
	e, err := Define(service, category, sequence, en, zh)
	if err != nil {
		panic(err)
	}
	return e
}

// NewRequestErr defines a request error (HTTP 400).
func NewRequestErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryRequest, sequence, en, zh)
}

// NewNotFoundErr defines a not found error (HTTP 404).
func NewNotFoundErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryResource, sequence, en, zh)
}

// NewConflictErr defines a conflict error (HTTP 409).
func NewConflictErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryConflict, sequence, en, zh)
}

// NewInternalErr defines an internal error (HTTP 500).
func NewInternalErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryInternal, sequence, en, zh)
}

// NewNetworkErr defines a transient upstream error (HTTP 503).
func NewNetworkErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryNetwork, sequence, en, zh)
}

// NewConfigErr defines a configuration error (HTTP 500).
func NewConfigErr(service, sequence int, en, zh string) *Errno {
	return MustDefine(service, CategoryConfig, sequence, en, zh)
}
