package generators

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"github.com/go-sql-driver/mysql"
	"github.com/google/shlex"
	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/archive"
	"github.com/pickup-backup/pickup/pkg/engine"
)

// AllDatabases selects every database of the server.
const AllDatabases = "*"

// mysqlSkipped are never dumped by the "*" selection. The mysql schema is
// dumped separately on every run.
var mysqlSkipped = map[string]bool{
	"information_schema": true,
	"performance_schema": true,
	"mysql":              true,
}

// MySQLConfig configures the mysql generator.
type MySQLConfig struct {
	Database         string            `mapstructure:"database" validate:"required"`
	Host             string            `mapstructure:"host"`
	Port             int               `mapstructure:"port" validate:"min=1,max=65535"`
	User             string            `mapstructure:"user"`
	Password         string            `mapstructure:"password"`
	MysqldumpParams  string            `mapstructure:"mysqldump_params"`
	ConnectionParams map[string]string `mapstructure:"connection_params"`
	Compression      string            `mapstructure:"compression"`
}

// MySQL dumps databases with mysqldump. The mysql schema holds users and
// grants, so it is always part of the backup.
type MySQL struct {
	versioned
	cfg        MySQLConfig
	dumpParams []string
	comp       archive.Compression

	dumpBin       string
	listDatabases func(ctx context.Context) ([]string, error)
}

// NewMySQL creates an uninitialized mysql generator.
func NewMySQL() engine.Plugin {
	m := &MySQL{dumpBin: "mysqldump"}
	m.listDatabases = m.queryDatabases
	return m
}

// Init decodes and checks the configuration.
func (m *MySQL) Init(_ context.Context, profile engine.ProfileConfig) error {
	cfg := MySQLConfig{Host: "localhost", Port: 3306, User: "root"}
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	params, err := shlex.Split(cfg.MysqldumpParams)
	if err != nil {
		return fmt.Errorf("mysqldump_params: %w", err)
	}
	comp, err := archive.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	m.cfg = cfg
	m.dumpParams = params
	m.comp = comp
	return nil
}

// Run dumps the selected databases into path, one compressed file each.
// A failing database does not stop the others; all failures are returned.
func (m *MySQL) Run(ctx context.Context, path string) error {
	logger := zerolog.Ctx(ctx)

	databases := []string{"mysql"}
	if m.cfg.Database == AllDatabases {
		names, err := m.listDatabases(ctx)
		if err != nil {
			return fmt.Errorf("list databases: %w", err)
		}
		for _, name := range names {
			if !mysqlSkipped[name] {
				databases = append(databases, name)
			}
		}
	} else if m.cfg.Database != "mysql" {
		databases = append(databases, m.cfg.Database)
	}

	var failed []error
	for _, db := range databases {
		logger.Info().Str("database", db).Msg("dumping")
		dest := filepath.Join(path, db+".sql"+m.comp.Extension())
		if err := runDump(ctx, m.dumpCommand(db), dest, m.comp); err != nil {
			logger.Error().Err(err).Str("database", db).Msg("dump failed")
			failed = append(failed, err)
		}
	}
	return joinFailures("mysql", failed)
}

// dumpCommand builds the mysqldump invocation for db. The password travels
// in MYSQL_PWD so it does not show up in the process list.
func (m *MySQL) dumpCommand(db string) dumpCommand {
	args := []string{
		"-P", strconv.Itoa(m.cfg.Port),
		"-h", m.cfg.Host,
		"-u", m.cfg.User,
	}
	args = append(args, m.dumpParams...)
	args = append(args, db)

	var env []string
	if m.cfg.Password != "" {
		env = append(env, "MYSQL_PWD="+m.cfg.Password)
	}
	return dumpCommand{Name: m.dumpBin, Args: args, Env: env}
}

func (m *MySQL) driverConfig() *mysql.Config {
	cfg := mysql.NewConfig()
	cfg.User = m.cfg.User
	cfg.Passwd = m.cfg.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	cfg.DBName = "mysql"
	if len(m.cfg.ConnectionParams) > 0 {
		cfg.Params = m.cfg.ConnectionParams
	}
	return cfg
}

func (m *MySQL) queryDatabases(ctx context.Context) ([]string, error) {
	connector, err := mysql.NewConnector(m.driverConfig())
	if err != nil {
		return nil, err
	}
	db := sql.OpenDB(connector)
	defer db.Close()

	rows, err := db.QueryContext(ctx, "SHOW DATABASES")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
