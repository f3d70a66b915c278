package providers

import (
	"github.com/pickup-backup/pickup/pkg/engine"
	"github.com/pickup-backup/pickup/pkg/generators"
	"github.com/pickup-backup/pickup/pkg/targets"
)

// NewBuiltinRegistry returns a registry holding every plugin that ships with
// pickup.
func NewBuiltinRegistry() *Registry {
	r := NewRegistry()

	r.MustRegister(engine.KindGenerator, "command", generators.NewCommand)
	r.MustRegister(engine.KindGenerator, "folder", generators.NewFolder)
	r.MustRegister(engine.KindGenerator, "mysql", generators.NewMySQL)
	r.MustRegister(engine.KindGenerator, "postgres", generators.NewPostgres)
	r.MustRegister(engine.KindGenerator, "remote_tar", generators.NewRemoteTar)

	r.MustRegister(engine.KindTarget, "dailyfolder", targets.NewDailyFolder)
	r.MustRegister(engine.KindTarget, "ftp", targets.NewFTP)
	r.MustRegister(engine.KindTarget, "sftp", targets.NewSFTP)

	return r
}
