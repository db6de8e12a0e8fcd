package storedb

import "errors"

var (
	ErrCreateDir         = errors.New("create database directory")
	ErrOpen              = errors.New("open database")
	ErrConfigure         = errors.New("configure database")
	ErrMigrationTable    = errors.New("create migration table")
	ErrMigrationVersion  = errors.New("read migration version")
	ErrApplyMigration    = errors.New("apply migration")
	ErrMigrationOrder    = errors.New("migrations out of order")
	ErrMissingModuleName = errors.New("module name required")
)
