package generators

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/google/shlex"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/pickup-backup/pickup/pkg/archive"
	"github.com/pickup-backup/pickup/pkg/engine"
)

const listPostgresDatabases = `
	SELECT datname FROM pg_database
	WHERE datname NOT IN ('template0', 'template1', 'postgres')
	ORDER BY datname`

// PostgresConfig configures the postgres generator.
type PostgresConfig struct {
	Database        string `mapstructure:"database" validate:"required"`
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port" validate:"omitempty,min=1,max=65535"`
	User            string `mapstructure:"user"`
	PgDumpParams    string `mapstructure:"pg_dump_params"`
	PgDumpallParams string `mapstructure:"pg_dumpall_params"`
	Compression     string `mapstructure:"compression"`
}

// Postgres dumps the cluster globals with pg_dumpall -g and each selected
// database with pg_dump. Passwords come from ~/.pgpass; the tools never
// prompt.
type Postgres struct {
	versioned
	cfg           PostgresConfig
	dumpParams    []string
	dumpallParams []string
	comp          archive.Compression
	dumpBin       string
	dumpallBin    string
	listDatabases func(ctx context.Context) ([]string, error)
}

// NewPostgres creates an uninitialized postgres generator.
func NewPostgres() engine.Plugin {
	p := &Postgres{dumpBin: "pg_dump", dumpallBin: "pg_dumpall"}
	p.listDatabases = p.queryDatabases
	return p
}

// Init decodes and checks the configuration.
func (p *Postgres) Init(_ context.Context, profile engine.ProfileConfig) error {
	var cfg PostgresConfig
	if err := decode(profile, &cfg); err != nil {
		return err
	}
	dumpParams, err := shlex.Split(cfg.PgDumpParams)
	if err != nil {
		return fmt.Errorf("pg_dump_params: %w", err)
	}
	dumpallParams, err := shlex.Split(cfg.PgDumpallParams)
	if err != nil {
		return fmt.Errorf("pg_dumpall_params: %w", err)
	}
	comp, err := archive.ParseCompression(cfg.Compression)
	if err != nil {
		return err
	}
	p.cfg = cfg
	p.dumpParams = dumpParams
	p.dumpallParams = dumpallParams
	p.comp = comp
	return nil
}

// Run writes globals.sql and one file per database into path.
func (p *Postgres) Run(ctx context.Context, path string) error {
	logger := zerolog.Ctx(ctx)
	var failed []error

	logger.Info().Msg("dumping postgres globals")
	globals := dumpCommand{
		Name: p.dumpallBin,
		Args: append(append([]string{"-g"}, p.connectionArgs()...), p.dumpallParams...),
	}
	if err := runDump(ctx, globals, filepath.Join(path, "globals.sql"+p.comp.Extension()), p.comp); err != nil {
		logger.Error().Err(err).Msg("globals dump failed")
		failed = append(failed, err)
	}

	databases := []string{p.cfg.Database}
	if p.cfg.Database == AllDatabases {
		names, err := p.listDatabases(ctx)
		if err != nil {
			failed = append(failed, fmt.Errorf("list databases: %w", err))
			return joinFailures("postgres", failed)
		}
		databases = names
	}

	for _, db := range databases {
		logger.Info().Str("database", db).Msg("dumping")
		if err := runDump(ctx, p.dumpCommand(db), filepath.Join(path, db+".sql"+p.comp.Extension()), p.comp); err != nil {
			logger.Error().Err(err).Str("database", db).Msg("dump failed")
			failed = append(failed, err)
		}
	}
	return joinFailures("postgres", failed)
}

func (p *Postgres) connectionArgs() []string {
	var args []string
	if p.cfg.Port != 0 {
		args = append(args, "-p", strconv.Itoa(p.cfg.Port))
	}
	if p.cfg.Host != "" {
		args = append(args, "-h", p.cfg.Host)
	}
	if p.cfg.User != "" {
		args = append(args, "-U", p.cfg.User)
	}
	return args
}

func (p *Postgres) dumpCommand(db string) dumpCommand {
	args := append([]string{"-w"}, p.connectionArgs()...)
	args = append(args, p.dumpParams...)
	args = append(args, db)
	return dumpCommand{Name: p.dumpBin, Args: args}
}

// connConfig builds the catalogue connection. Unset fields keep libpq's
// defaults, including PG* environment variables and ~/.pgpass.
func (p *Postgres) connConfig() (*pgx.ConnConfig, error) {
	cfg, err := pgx.ParseConfig("dbname=template1")
	if err != nil {
		return nil, err
	}
	if p.cfg.Host != "" {
		cfg.Host = p.cfg.Host
	}
	if p.cfg.Port != 0 {
		cfg.Port = uint16(p.cfg.Port)
	}
	if p.cfg.User != "" {
		cfg.User = p.cfg.User
	}
	return cfg, nil
}

func (p *Postgres) queryDatabases(ctx context.Context) ([]string, error) {
	cfg, err := p.connConfig()
	if err != nil {
		return nil, err
	}
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, listPostgresDatabases)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}
