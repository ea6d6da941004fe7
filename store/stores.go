package store

import "database/sql"

// Stores bundles every store over one database handle.
type Stores struct {
	Personas      *PersonaStore
	Tools         *ToolStore
	Credentials   *CredentialStore
	Events        *EventStore
	Subscriptions *SubscriptionStore
	Triggers      *TriggerStore
	Executions    *ExecutionStore
}

// New creates all stores over the given database.
func New(db *sql.DB) *Stores {
	return &Stores{
		Personas:      NewPersonaStore(db),
		Tools:         NewToolStore(db),
		Credentials:   NewCredentialStore(db),
		Events:        NewEventStore(db),
		Subscriptions: NewSubscriptionStore(db),
		Triggers:      NewTriggerStore(db),
		Executions:    NewExecutionStore(db),
	}
}
