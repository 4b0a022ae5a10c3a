package config

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"cmsquery/internal/sqlutil"
)

// tlsConfigName is the name used to register custom TLS configs with the MySQL driver.
const tlsConfigName = "cmsquery-custom"

// Supported values for database.driver.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DriverName returns the database/sql driver registered for Driver.
func (d *DatabaseConfig) DriverName() string {
	switch d.Driver {
	case DriverPostgres:
		return "pgx"
	case DriverSQLite:
		return "sqlite3"
	default:
		return "mysql"
	}
}

// Dialect returns the SQL dialect for Driver.
func (d *DatabaseConfig) Dialect() (sqlutil.Dialect, error) {
	return sqlutil.DialectFor(d.Driver)
}

// DSN returns the data source name for the configured driver. A configured
// ConnectionString is used as given apart from MySQL time parsing and TLS
// parameters.
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case DriverPostgres:
		return d.postgresDSN()
	case DriverSQLite:
		return d.sqliteDSN()
	default:
		return d.mysqlDSN()
	}
}

func (d *DatabaseConfig) mysqlDSN() string {
	var dsn string
	if d.ConnectionString != "" {
		dsn = d.ConnectionString
		if !strings.Contains(dsn, "parseTime") {
			if strings.Contains(dsn, "?") {
				dsn += "&parseTime=true"
			} else {
				dsn += "?parseTime=true"
			}
		}
	} else {
		dsn = fmt.Sprintf("%s:%s@tcp(%s)/%s?parseTime=true",
			d.User, d.Password, net.JoinHostPort(d.Host, strconv.Itoa(d.Port)), d.Database)
	}

	if tlsParam := d.mysqlTLSParam(); tlsParam != "" && !strings.Contains(dsn, "tls=") {
		dsn += "&tls=" + tlsParam
	}
	return dsn
}

func (d *DatabaseConfig) postgresDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(d.User, d.Password),
		Host:   net.JoinHostPort(d.Host, strconv.Itoa(d.Port)),
		Path:   "/" + d.Database,
	}
	q := url.Values{}
	if mode := d.postgresSSLMode(); mode != "" {
		q.Set("sslmode", mode)
	}
	if d.TLS.CAFile != "" {
		q.Set("sslrootcert", d.TLS.CAFile)
	}
	if d.TLS.CertFile != "" {
		q.Set("sslcert", d.TLS.CertFile)
		q.Set("sslkey", d.TLS.KeyFile)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func (d *DatabaseConfig) sqliteDSN() string {
	if d.ConnectionString != "" {
		return d.ConnectionString
	}
	return "file:" + d.Path + "?_foreign_keys=on"
}

// mysqlTLSParam returns the tls DSN parameter, or "" when none should be added.
func (d *DatabaseConfig) mysqlTLSParam() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "false"
	case "skip-verify":
		return "skip-verify"
	case "verify-ca", "verify-full":
		return tlsConfigName
	default:
		return d.TLS.Mode
	}
}

func (d *DatabaseConfig) postgresSSLMode() string {
	switch d.TLS.Mode {
	case "":
		return ""
	case "off":
		return "disable"
	case "skip-verify":
		return "require"
	default:
		return d.TLS.Mode
	}
}

// RegisterTLS registers a custom TLS configuration with the MySQL driver.
// It must run before the connection is opened in verify-ca or verify-full
// mode and is a no-op otherwise.
func (d *DatabaseConfig) RegisterTLS() error {
	if d.Driver != DriverMySQL && d.Driver != "" {
		return nil
	}
	if d.TLS.Mode != "verify-ca" && d.TLS.Mode != "verify-full" {
		return nil
	}

	tlsCfg, err := d.buildTLSConfig()
	if err != nil {
		return fmt.Errorf("failed to build TLS config: %w", err)
	}
	if err := mysql.RegisterTLSConfig(tlsConfigName, tlsCfg); err != nil {
		return fmt.Errorf("failed to register TLS config: %w", err)
	}
	return nil
}

func (d *DatabaseConfig) buildTLSConfig() (*tls.Config, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}

	if d.TLS.CAFile != "" {
		caCert, err := os.ReadFile(d.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA file %q: %w", d.TLS.CAFile, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, fmt.Errorf("failed to parse CA certificate from %q", d.TLS.CAFile)
		}
		tlsCfg.RootCAs = pool
	}

	switch {
	case d.TLS.CertFile != "" && d.TLS.KeyFile != "":
		cert, err := tls.LoadX509KeyPair(d.TLS.CertFile, d.TLS.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
	case d.TLS.CertFile != "" || d.TLS.KeyFile != "":
		return nil, fmt.Errorf("both cert_file and key_file must be specified for client certificate authentication")
	}

	if d.TLS.Mode == "verify-full" && d.TLS.ServerName != "" {
		tlsCfg.ServerName = d.TLS.ServerName
	}
	return tlsCfg, nil
}

// DatabaseName returns the database the DSN targets, from the DSN itself
// when one is configured.
func (d *DatabaseConfig) DatabaseName() (string, error) {
	dsn := strings.TrimSpace(d.ConnectionString)
	if dsn == "" {
		if d.Driver == DriverSQLite {
			return d.Path, nil
		}
		return d.Database, nil
	}
	switch d.Driver {
	case DriverPostgres:
		u, err := url.Parse(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return strings.TrimPrefix(u.Path, "/"), nil
	case DriverSQLite:
		return strings.TrimPrefix(strings.SplitN(dsn, "?", 2)[0], "file:"), nil
	default:
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("database.dsn is invalid: %w", err)
		}
		return parsed.DBName, nil
	}
}
