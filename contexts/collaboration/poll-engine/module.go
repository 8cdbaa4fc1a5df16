package pollengine

import (
	"log/slog"
	"time"

	httpadapter "quorum/contexts/collaboration/poll-engine/adapters/http"
	"quorum/contexts/collaboration/poll-engine/adapters/memory"
	"quorum/contexts/collaboration/poll-engine/application/commands"
	"quorum/contexts/collaboration/poll-engine/application/queries"
	"quorum/contexts/collaboration/poll-engine/domain/templates"
	"quorum/contexts/collaboration/poll-engine/ports"
)

type Module struct {
	Handler    httpadapter.Handler
	Recipients queries.RecipientsUseCase
	Store      *memory.Store
}

type Dependencies struct {
	Polls          ports.PollRepository
	Options        ports.OptionRepository
	Stances        ports.StanceRepository
	Communities    ports.CommunityRepository
	Directory      ports.DirectoryReader
	Members        ports.MembershipReader
	Mentions       ports.MentionResolver
	Volumes        ports.VolumeQuery
	Idempotency    ports.IdempotencyStore
	Outbox         ports.OutboxWriter
	Clock          ports.Clock
	IDGen          ports.IDGenerator
	Templates      templates.Registry
	IdempotencyTTL time.Duration
	Logger         *slog.Logger
}

func NewModule(deps Dependencies) Module {
	registry := deps.Templates
	if len(registry.Types()) == 0 {
		registry = templates.Default()
	}
	pollUseCase := commands.PollUseCase{
		Polls:          deps.Polls,
		Options:        deps.Options,
		Stances:        deps.Stances,
		Communities:    deps.Communities,
		Directory:      deps.Directory,
		Idempotency:    deps.Idempotency,
		Outbox:         deps.Outbox,
		Clock:          deps.Clock,
		IDGen:          deps.IDGen,
		Templates:      registry,
		IdempotencyTTL: deps.IdempotencyTTL,
		Logger:         deps.Logger,
	}
	resultsUseCase := queries.ResultsUseCase{
		Polls:       deps.Polls,
		Options:     deps.Options,
		Stances:     deps.Stances,
		Communities: deps.Communities,
		Members:     deps.Members,
		Directory:   deps.Directory,
		Templates:   registry,
		Clock:       deps.Clock,
		Logger:      deps.Logger,
	}
	recipientsUseCase := queries.RecipientsUseCase{
		Members:  deps.Members,
		Mentions: deps.Mentions,
		Volumes:  deps.Volumes,
		Logger:   deps.Logger,
	}
	return Module{
		Handler: httpadapter.Handler{
			Polls:   pollUseCase,
			Results: resultsUseCase,
			Logger:  deps.Logger,
		},
		Recipients: recipientsUseCase,
	}
}

func NewInMemoryModule(logger *slog.Logger) Module {
	store := memory.NewStore()
	module := NewModule(Dependencies{
		Polls:          store,
		Options:        store,
		Stances:        store,
		Communities:    store,
		Directory:      store,
		Members:        store,
		Mentions:       store,
		Volumes:        store,
		Idempotency:    store,
		Outbox:         store,
		Clock:          store,
		IDGen:          store,
		Templates:      templates.Default(),
		IdempotencyTTL: 24 * time.Hour,
		Logger:         logger,
	})
	module.Store = store
	return module
}
