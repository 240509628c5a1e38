package settings

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
)

type pragma struct {
	name  string
	value string
}

// settingsTuning is applied to every connection the store opens. Counters and
// voices are written from several goroutines, so writers wait instead of
// failing with SQLITE_BUSY.
var settingsTuning = []pragma{
	{"synchronous", "NORMAL"},
	{"busy_timeout", "5000"},
	{"temp_store", "MEMORY"},
}

// ApplySQLitePragmas sets settingsTuning on db. RIG_SQLITE_TUNING=0 skips it;
// RIG_SQLITE_TUNING=verbose logs the value read back for each pragma.
func ApplySQLitePragmas(ctx context.Context, db *sql.DB) {
	mode := os.Getenv("RIG_SQLITE_TUNING")
	if mode == "0" {
		return
	}
	for _, p := range settingsTuning {
		if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA %s=%s;", p.name, p.value)); err != nil {
			log.Printf("settings: pragma %s: %v", p.name, err)
			continue
		}
		if mode != "verbose" {
			continue
		}
		var got any
		if err := db.QueryRowContext(ctx, "PRAGMA "+p.name+";").Scan(&got); err != nil {
			log.Printf("settings: read pragma %s: %v", p.name, err)
			continue
		}
		log.Printf("settings: pragma %s = %v", p.name, got)
	}
}
