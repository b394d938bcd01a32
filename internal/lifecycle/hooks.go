package lifecycle

import "context"

// Phase orders shutdown. Hooks of one phase run in parallel; phases run in ascending order.
type Phase int

const (
	// PhaseIntake stops accepting work: Telegram polling, the HTTP server.
	PhaseIntake Phase = iota
	// PhaseWorkers drains background processing: asynq, presence sockets.
	PhaseWorkers
	// PhaseStores closes connections: Redis, Postgres, Sentry flush.
	PhaseStores
)

func (p Phase) String() string {
	switch p {
	case PhaseIntake:
		return "intake"
	case PhaseWorkers:
		return "workers"
	case PhaseStores:
		return "stores"
	default:
		return "unknown"
	}
}

// Hook describes a named shutdown hook.
type Hook struct {
	Name  string
	Phase Phase
	Fn    func(ctx context.Context) error
}
