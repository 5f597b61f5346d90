package store

import (
	"database/sql"
	"fmt"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanStringPair(scanner rowScanner) (string, string, error) {
	var key, value string
	err := scanner.Scan(&key, &value)
	return key, value, err
}

func scanRun(scanner rowScanner) (Run, error) {
	var (
		r          Run
		kind       string
		status     string
		startedAt  string
		finishedAt sql.NullString
	)
	if err := scanner.Scan(&r.ID, &kind, &status, &r.Message, &r.FQBN, &r.Port, &r.Variant, &startedAt, &finishedAt); err != nil {
		return Run{}, err
	}
	r.Kind = RunKind(kind)
	r.Status = RunStatus(status)

	t, err := parseTime(startedAt)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: invalid started_at %q: %w", r.ID, startedAt, err)
	}
	r.StartedAt = t
	if finishedAt.Valid {
		t, err := parseTime(finishedAt.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: invalid finished_at %q: %w", r.ID, finishedAt.String, err)
		}
		r.FinishedAt = &t
	}
	return r, nil
}

func scanResolution(scanner rowScanner) (LibraryResolution, error) {
	var (
		res       LibraryResolution
		installed int
		attempts  sql.NullString
	)
	if err := scanner.Scan(&res.Position, &res.Requirement, &installed, &res.ResolvedName, &attempts); err != nil {
		return LibraryResolution{}, err
	}
	res.Installed = installed != 0
	decoded, err := fromJSONColumn[[]ResolutionAttempt](attempts)
	if err != nil {
		return LibraryResolution{}, fmt.Errorf("decode attempts for %s: %w", res.Requirement, err)
	}
	res.Attempts = decoded
	return res, nil
}
