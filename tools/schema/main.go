// Command schema prints the DDL of the engine tables for atlas.
//
//	atlas migrate diff --env gorm
package main

import (
	"fmt"
	"io"
	"os"

	"ariga.io/atlas-provider-gorm/gormschema"
	"github.com/spf13/pflag"

	"chitfund/models"
)

func main() {
	dialect := pflag.String("dialect", "postgres", "postgres or sqlite")
	pflag.Parse()

	stmts, err := gormschema.New(*dialect).Load(models.MigrateModels...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load gorm schema: %v\n", err)
		os.Exit(1)
	}
	io.WriteString(os.Stdout, stmts)
}
