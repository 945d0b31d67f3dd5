package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kettleside/bramble"
	"github.com/kettleside/bramble/inmem"
)

// Connector opens a store session from a Database config and the entity
// model it should manage.
type Connector func(db Database, m *bramble.Model) (bramble.Session, error)

// ConnectorRegistry holds registered connector functions for opening store
// sessions on database connections.
//
// The zero value can be immediately used and will have the built-in default
// connectors available. This can be disabled by setting DisableDefaults to
// true before attempting to use it.
type ConnectorRegistry struct {
	DisableDefaults bool
	reg             map[DBType]map[string]Connector
}

func (cr *ConnectorRegistry) initDefaults() {
	if cr.reg == nil {
		cr.reg = map[DBType]map[string]Connector{
			DatabaseInMemory: {},
			DatabaseSQLite:   {},
		}

		if !cr.DisableDefaults {
			cr.reg[DatabaseInMemory]["*"] = func(db Database, m *bramble.Model) (bramble.Session, error) {
				if db.File == "" {
					return inmem.NewStore(m), nil
				}

				if db.Dir != "" {
					if err := os.MkdirAll(db.Dir, 0770); err != nil {
						return nil, fmt.Errorf("create data dir: %w", err)
					}
				}
				return inmem.Open(m, filepath.Join(db.Dir, db.File))
			}
		}
	}
}

// Register adds a connector for the given engine under the given name. The
// name can then be specified as the connector field of any DB in config
// whose type is that engine. Use name "*" to make the connector the default
// for its engine. Re-registering a name overwrites the prior connector.
func (cr *ConnectorRegistry) Register(engine DBType, name string, connector Connector) error {
	cr.initDefaults()

	if connector == nil {
		return fmt.Errorf("connector function cannot be nil")
	}

	engineReg, ok := cr.reg[engine]
	if !ok {
		engineReg = map[string]Connector{}
		cr.reg[engine] = engineReg
	}

	engineReg[strings.ToLower(name)] = connector
	return nil
}

// Connect opens a session for the given Database config using the named
// connector, falling back to the engine's default ("*") connector when the
// config does not name one.
func (cr *ConnectorRegistry) Connect(db Database, m *bramble.Model) (bramble.Session, error) {
	cr.initDefaults()

	name := strings.ToLower(db.Connector)
	if name == "" {
		name = "*"
	}

	engineReg := cr.reg[db.Type]
	connector, ok := engineReg[name]
	if !ok {
		connector, ok = engineReg["*"]
	}
	if !ok {
		return nil, fmt.Errorf("engine %q has no connector named %q and no default connector", db.Type, db.Connector)
	}

	return connector(db, m)
}

// SessionFactory binds a Database config and model to the registry and
// returns a factory suitable for seeding a bramble.Registry: every call
// opens a brand new session.
func (cr *ConnectorRegistry) SessionFactory(db Database, m *bramble.Model) bramble.SessionFactory {
	return func(ctx context.Context) (bramble.Session, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return cr.Connect(db, m)
	}
}
