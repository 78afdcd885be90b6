// Package repositories is the Store façade (spec §4.7): typed read/write
// operations over the schema, one repository struct per entity, following
// the teacher's internal/db/repositories aggregation shape.
package repositories

import (
	"database/sql"

	"github.com/craftastic-dev/orchestrator/internal/db"
)

type Repositories struct {
	Users        *UserRepo
	Environments *EnvironmentRepo
	Sessions     *SessionRepo
	Agents       *AgentRepo

	db db.Database // reference to database for transactions
}

func New(database db.Database) *Repositories {
	conn := database.Conn()

	return &Repositories{
		Users:        NewUserRepo(conn),
		Environments: NewEnvironmentRepo(conn),
		Sessions:     NewSessionRepo(conn),
		Agents:       NewAgentRepo(conn),
		db:           database,
	}
}

// BeginTx starts a database transaction.
func (r *Repositories) BeginTx() (*sql.Tx, error) {
	return r.db.Conn().Begin()
}
