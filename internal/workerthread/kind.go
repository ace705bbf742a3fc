package workerthread

import (
	"fmt"

	"github.com/cryguy/workerhost/internal/core"
	"github.com/cryguy/workerhost/internal/eventloop"
)

// Kind is the closed set of worker flavours.
type Kind int

const (
	Dedicated Kind = iota
	Shared
	Compositor
)

func (k Kind) String() string {
	switch k {
	case Dedicated:
		return "dedicated"
	case Shared:
		return "shared"
	case Compositor:
		return "compositor"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ParseKind maps a name from configuration or flags to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "", "dedicated":
		return Dedicated, nil
	case "shared":
		return Shared, nil
	case "compositor":
		return Compositor, nil
	default:
		return 0, fmt.Errorf("unknown worker kind %q", s)
	}
}

// KindDelegate is what a controller needs from its worker kind: where the
// worker runs, how its global scope is built and how messages reach it.
type KindDelegate interface {
	Kind() Kind

	// CreateBackingThread returns the thread the worker will run on.
	CreateBackingThread(name string) *eventloop.Thread
	// ReleaseBackingThread gives the thread back at shutdown. It is called
	// on that thread and must not wait for it to exit.
	ReleaseBackingThread(t *eventloop.Thread)

	// CreateContext builds the worker global scope from the bundle.
	CreateContext(engine core.ScriptEngine, bundle *core.StartupBundle, host core.ScopeHost) (core.ExecutionContext, error)
	// ScriptEvaluated runs after the top-level script succeeded.
	ScriptEvaluated(ctx core.ExecutionContext) error
	// DeliverMessage hands a message from the creator to script.
	DeliverMessage(ctx core.ExecutionContext, data string) error
}

// NewKindDelegate returns the default delegate for k.
func NewKindDelegate(k Kind) (KindDelegate, error) {
	switch k {
	case Dedicated:
		return DedicatedKind{}, nil
	case Shared:
		return SharedKind{}, nil
	case Compositor:
		return NewCompositorKind(DefaultCompositorThread()), nil
	default:
		return nil, fmt.Errorf("unknown worker kind %v", k)
	}
}

// exclusiveThread gives every worker a thread of its own and stops it at
// shutdown.
type exclusiveThread struct{}

func (exclusiveThread) CreateBackingThread(name string) *eventloop.Thread {
	return eventloop.NewThread(name)
}

func (exclusiveThread) ReleaseBackingThread(t *eventloop.Thread) {
	t.Stop()
}
