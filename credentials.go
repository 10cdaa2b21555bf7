package poolsource

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/jackc/pgpassfile"
	"github.com/jackc/pgservicefile"

	"github.com/poolkit/poolsource-go/tracelog"
)

// Connection property keys consulted by the credential fallback. They are read at
// open time from the frozen snapshot and are never written back or externalized.
const (
	propService     = "service"
	propServiceFile = "servicefile"
	propPassFile    = "passfile"
)

// resolveCredentials fills empty credentials from the optional service and password
// files named in the connection properties.
//
// A "service" property names a section of the service file at "servicefile"; its
// settings supply whichever of user and password are still unset. A missing or
// malformed service file is an error, since the configuration asked for it by name.
// After that, a still-empty password is looked up in the passfile at "passfile",
// keyed by the host, port and database of the connection URL together with the
// effective user. Passfile problems only cost the fallback, not the connection.
func resolveCredentials(ctx context.Context, logger tracelog.Logger, rawURL, user, password string, props map[string]string) (string, string, error) {
	if svc := props[propService]; svc != "" && (user == "" || password == "") {
		path := props[propServiceFile]
		if path == "" {
			return "", "", fmt.Errorf("service %q requested but the servicefile property is not set", svc)
		}

		sf, err := pgservicefile.ReadServicefile(path)
		if err != nil {
			return "", "", fmt.Errorf("reading servicefile %s: %w", path, err)
		}
		service, err := sf.GetService(svc)
		if err != nil {
			return "", "", fmt.Errorf("servicefile %s: %w", path, err)
		}

		if user == "" {
			user = service.Settings["user"]
		}
		if password == "" {
			password = service.Settings["password"]
		}
	}

	if password == "" {
		if path := props[propPassFile]; path != "" {
			passfile, err := pgpassfile.ReadPassfile(path)
			if err != nil {
				if logger != nil {
					logger.Log(ctx, tracelog.LogLevelDebug, "ignoring unreadable passfile",
						map[string]any{"passfile": path, "err": err})
				}
			} else {
				host, port, dbname := splitURL(rawURL)
				password = passfile.FindPassword(host, port, dbname, user)
			}
		}
	}

	return user, password, nil
}

// splitURL extracts the passfile lookup key from a connection URL. A URL that does
// not parse yields empty fields, which only match wildcard passfile lines.
func splitURL(rawURL string) (host, port, dbname string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", ""
	}
	return u.Hostname(), u.Port(), strings.TrimPrefix(u.Path, "/")
}
