package poolsource

// Environment variables used by the tests. Integration tests that need a live
// database skip themselves when the matching variable is unset.
const (
	// EnvTestMySQLURL is a DSN for a MySQL server the sqlbridge integration
	// tests may connect to, e.g. "app:secret@tcp(localhost:3306)/poolsource_test".
	EnvTestMySQLURL = "POOLSOURCE_TEST_MYSQL_URL"

	// EnvTestStressFactor scales the iteration counts of the concurrency tests.
	EnvTestStressFactor = "POOLSOURCE_TEST_STRESS_FACTOR"
)
