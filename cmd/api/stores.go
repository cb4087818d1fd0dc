package main

import (
	"github.com/spec-kit/support-automation/internal/config"
	"github.com/spec-kit/support-automation/internal/persistence"
	"github.com/spec-kit/support-automation/internal/repository"
	"github.com/spec-kit/support-automation/internal/repository/memory"
)

type stores struct {
	keys      repository.KeyStore
	usage     repository.UsageRepository
	counter   repository.UsageCounter
	tickets   repository.TicketRepository
	responses repository.ResponseRepository
	history   repository.TicketHistoryRepository
	agents    repository.AgentRepository
	invoices  repository.InvoiceRepository
}

// openStores picks Postgres repositories when a pool is available and the
// in-memory stores otherwise. The Redis usage counter is optional either way.
func openStores(pg *persistence.Postgres, redis *persistence.Redis, usage config.UsageConfig) stores {
	var st stores
	if pg != nil {
		pool := pg.PoolHandle()
		st = stores{
			keys:      repository.NewKeyStore(pool),
			usage:     repository.NewUsageRepository(pool),
			tickets:   repository.NewTicketRepository(pool),
			responses: repository.NewResponseRepository(pool),
			history:   repository.NewTicketHistoryRepository(pool),
			agents:    repository.NewAgentRepository(pool),
			invoices:  repository.NewInvoiceRepository(pool),
		}
	} else {
		tickets := memory.NewTicketStore()
		st = stores{
			keys:      memory.NewKeyStore(),
			usage:     memory.NewUsageStore(),
			tickets:   tickets,
			responses: tickets.Responses(),
			history:   tickets.History(),
			agents:    memory.NewAgentStore(),
			invoices:  memory.NewInvoiceStore(),
		}
	}
	if redis.Available() {
		st.counter = repository.NewRedisUsageCounter(redis.Client, usage.CounterTTL)
	}
	return st
}
