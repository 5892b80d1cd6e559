package tool

import (
	"sync"
)

// InvokeObservation captures one dispatcher invocation outcome.
type InvokeObservation struct {
	ToolName   string
	Kind       Kind
	RequestID  string
	DurationMS int64
	Success    bool
	Truncated  bool
	ErrorCode  string
}

// Registration outcomes reported in RegistrationObservation.
const (
	RegistrationRegistered = "registered"
	RegistrationRebuilt    = "rebuilt"
	RegistrationConflict   = "conflict"
	RegistrationRejected   = "rejected"
	RegistrationCeiling    = "ceiling"
)

// RegistrationObservation captures one registrar decision.
type RegistrationObservation struct {
	ToolName string
	Kind     Kind
	Origin   string
	Outcome  string
	Revision int
}

// RescanObservation captures one rescan pass.
type RescanObservation struct {
	Trigger    string
	Discovered int
	Added      int
	Rebuilt    int
	Failed     int
	DurationMS int64
}

// Observer receives tool-level observability events.
type Observer interface {
	ObserveInvoke(observation InvokeObservation)
	ObserveRegistration(observation RegistrationObservation)
	ObserveRescan(observation RescanObservation)
}

type noopObserver struct{}

func (noopObserver) ObserveInvoke(InvokeObservation)             {}
func (noopObserver) ObserveRegistration(RegistrationObservation) {}
func (noopObserver) ObserveRescan(RescanObservation)             {}

var (
	observerMu     sync.RWMutex
	activeObserver Observer = noopObserver{}
)

// SetObserver sets the process-wide tool observability observer.
func SetObserver(observer Observer) {
	observerMu.Lock()
	defer observerMu.Unlock()
	if observer == nil {
		activeObserver = noopObserver{}
		return
	}
	activeObserver = observer
}

func currentObserver() Observer {
	observerMu.RLock()
	defer observerMu.RUnlock()
	return activeObserver
}

func emitInvokeObservation(observation InvokeObservation) {
	currentObserver().ObserveInvoke(observation)
}

func emitRegistrationObservation(observation RegistrationObservation) {
	currentObserver().ObserveRegistration(observation)
}

// EmitRescanObservation reports a rescan pass to the active observer.
func EmitRescanObservation(observation RescanObservation) {
	currentObserver().ObserveRescan(observation)
}
