package main

import (
	"github.com/alecthomas/kong"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type Context struct {
	Debug bool

	gorm.Dialector
	gorm.Config
}

var cli struct {
	Debug bool   `help:"Enable debug mode."`
	DSN   string `required:"" help:"Data source name."`

	Serve       ServeCmd       `cmd:"" help:"Serve the upload API."`
	AutoMigrate AutoMigrateCmd `cmd:"" help:"Create or update the database schema."`
	Sweep       SweepCmd       `cmd:"" help:"Delete expired cache uploads and dead job rows."`
}

func main() {
	ctx := kong.Parse(&cli)
	err := ctx.Run(&Context{
		Debug:     cli.Debug,
		Dialector: newDialector(cli.DSN),
		Config: gorm.Config{
			Logger: logger.Default.LogMode(logLevel(cli.Debug)),
		},
	})
	ctx.FatalIfErrorf(err)
}

func logLevel(debug bool) logger.LogLevel {
	if debug {
		return logger.Info
	}
	return logger.Warn
}
