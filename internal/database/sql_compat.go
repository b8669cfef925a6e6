package database

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// Driver returns the active database driver name.
// Tests may force a driver with TEST_DB_DRIVER.
func Driver() string {
	driver := os.Getenv("TEST_DB_DRIVER")
	if driver == "" {
		driver = os.Getenv("ZAPDESK_DATABASE_DRIVER")
	}
	if driver == "" {
		driver = "sqlite"
	}
	return strings.ToLower(driver)
}

// IsMySQL returns true if using MySQL/MariaDB.
func IsMySQL() bool {
	driver := Driver()
	return driver == "mysql" || driver == "mariadb"
}

// IsPostgreSQL returns true if using PostgreSQL.
func IsPostgreSQL() bool {
	return Driver() == "postgres"
}

// IsSQLite returns true if using SQLite.
func IsSQLite() bool {
	driver := Driver()
	return driver == "sqlite" || driver == "sqlite3"
}

var dollarPlaceholder = regexp.MustCompile(`\$\d+`)

// ConvertPlaceholders converts SQL placeholders to the format required by the
// active driver. Queries in this codebase always use ? placeholders; $N forms
// are rejected so every statement stays portable.
//   - PostgreSQL: ? becomes $1, $2, ...
//   - MySQL/SQLite: ? passes through unchanged
func ConvertPlaceholders(query string) string {
	if dollarPlaceholder.MatchString(query) {
		panic(fmt.Sprintf("ConvertPlaceholders: $N placeholders are not allowed, use ?\nQuery: %s", query))
	}

	if IsPostgreSQL() && strings.Contains(query, "?") {
		var b strings.Builder
		paramNum := 1
		for _, c := range query {
			if c == '?' {
				fmt.Fprintf(&b, "$%d", paramNum)
				paramNum++
			} else {
				b.WriteRune(c)
			}
		}
		query = b.String()
	}

	return query
}

// QuoteIdentifier quotes table/column names for the active driver.
func QuoteIdentifier(name string) string {
	if IsMySQL() {
		return fmt.Sprintf("`%s`", name)
	}
	return name
}
