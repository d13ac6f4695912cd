// Package all registers every store backend with the factory. Blank-import
// it from binaries that should support whichever driver the config names.
package all

import (
	_ "dataprof/internal/store/mssql"
	_ "dataprof/internal/store/postgres"
	_ "dataprof/internal/store/sqlite"
)
