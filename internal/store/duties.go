package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/fentz26/dutyhub/internal/duties"
	"github.com/fentz26/dutyhub/internal/models"
)

var _ duties.Repository = (*Store)(nil)

const dutyColumns = `id, user_id, debtee_id, duty_start, duty_end, task1_start, task1_end, task2_start, task2_end, task3_start, task3_end, last_active`

func scanDuty(row scanner) (*models.Duty, error) {
	var d models.Duty
	var userID, debteeID sql.NullString
	err := row.Scan(&d.ID, &userID, &debteeID,
		&d.DutyStart, &d.DutyEnd,
		&d.Task1Start, &d.Task1End,
		&d.Task2Start, &d.Task2End,
		&d.Task3Start, &d.Task3End,
		&d.LastActive,
	)
	if err != nil {
		return nil, err
	}
	d.UserID = userID.String
	d.DebteeID = debteeID.String
	for _, t := range []*time.Time{
		&d.DutyStart, &d.DutyEnd, &d.Task1Start, &d.Task1End,
		&d.Task2Start, &d.Task2End, &d.Task3Start, &d.Task3End, &d.LastActive,
	} {
		*t = t.UTC()
	}
	return &d, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insertDuty(ctx context.Context, ex execer, d *models.Duty) error {
	_, err := ex.ExecContext(ctx,
		s.rebind(`INSERT INTO duties (`+dutyColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		d.ID, nullString(d.UserID), nullString(d.DebteeID),
		d.DutyStart, d.DutyEnd,
		d.Task1Start, d.Task1End,
		d.Task2Start, d.Task2End,
		d.Task3Start, d.Task3End,
		d.LastActive,
	)
	if err != nil {
		return fmt.Errorf("insert duty: %w", err)
	}
	return nil
}

// CreateDuty stores a duty record without making it active.
func (s *Store) CreateDuty(ctx context.Context, d *models.Duty) error {
	return s.insertDuty(ctx, s.db, d)
}

// InsertActiveDuty stores a duty and adds it to the active set in one
// transaction. On any error neither row is persisted.
func (s *Store) InsertActiveDuty(ctx context.Context, d *models.Duty) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := s.insertDuty(ctx, tx, d); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		s.rebind(`INSERT INTO duty_manager_active (manager_id, duty_id) VALUES (?, ?)`),
		managerID, d.ID,
	); err != nil {
		return fmt.Errorf("insert active duty: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// GetDuty retrieves a duty record by ID, active or not.
func (s *Store) GetDuty(ctx context.Context, id string) (*models.Duty, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`SELECT `+dutyColumns+` FROM duties WHERE id = ?`), id)
	d, err := scanDuty(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query duty: %w", err)
	}
	return d, nil
}

// UpdateDutyTimes persists the duty end and task end times of d.
func (s *Store) UpdateDutyTimes(ctx context.Context, d *models.Duty) error {
	result, err := s.db.ExecContext(ctx,
		s.rebind(`UPDATE duties SET duty_end = ?, task1_end = ?, task2_end = ?, task3_end = ? WHERE id = ?`),
		d.DutyEnd, d.Task1End, d.Task2End, d.Task3End, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update duty: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if n == 0 {
		return duties.ErrDutyNotFound
	}
	return nil
}

// CountDutiesByUser counts every duty the user has performed.
func (s *Store) CountDutiesByUser(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM duties WHERE user_id = ?`), userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count duties: %w", err)
	}
	return n, nil
}

func (s *Store) queryDuties(ctx context.Context, query string, args ...any) ([]*models.Duty, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query duties: %w", err)
	}
	defer rows.Close()

	var out []*models.Duty
	for rows.Next() {
		d, err := scanDuty(rows)
		if err != nil {
			return nil, fmt.Errorf("scan duty: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// ListActiveDuties returns the duties in the manager's active set.
func (s *Store) ListActiveDuties(ctx context.Context) ([]*models.Duty, error) {
	return s.queryDuties(ctx,
		`SELECT d.id, d.user_id, d.debtee_id, d.duty_start, d.duty_end, d.task1_start, d.task1_end,
			d.task2_start, d.task2_end, d.task3_start, d.task3_end, d.last_active
		 FROM duties d JOIN duty_manager_active a ON a.duty_id = d.id
		 WHERE a.manager_id = ?
		 ORDER BY d.duty_start, d.id`,
		managerID,
	)
}

// AddActiveDuties adds existing duties to the active set. Unknown ids fail
// the whole call; ids already active are left as they are.
func (s *Store) AddActiveDuties(ctx context.Context, ids ...string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		var n int
		if err := tx.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM duties WHERE id = ?`), id).Scan(&n); err != nil {
			return fmt.Errorf("check duty: %w", err)
		}
		if n == 0 {
			return fmt.Errorf("add active duty %s: %w", id, duties.ErrDutyNotFound)
		}
		if _, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO duty_manager_active (manager_id, duty_id) VALUES (?, ?) ON CONFLICT DO NOTHING`),
			managerID, id,
		); err != nil {
			return fmt.Errorf("insert active duty: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// RemoveActiveDuties drops duties from the active set. Records are kept.
func (s *Store) RemoveActiveDuties(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			s.rebind(`DELETE FROM duty_manager_active WHERE manager_id = ? AND duty_id = ?`),
			managerID, id,
		); err != nil {
			return fmt.Errorf("delete active duty: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ClearActiveDuties empties the active set.
func (s *Store) ClearActiveDuties(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM duty_manager_active WHERE manager_id = ?`), managerID)
	if err != nil {
		return fmt.Errorf("clear active duties: %w", err)
	}
	return nil
}

// DeleteDuty removes a duty record. Its active membership goes with it.
func (s *Store) DeleteDuty(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(`DELETE FROM duties WHERE id = ?`), id)
	if err != nil {
		return fmt.Errorf("delete duty: %w", err)
	}
	return nil
}

// DutiesOwnedBy returns every duty the user performed, newest first.
func (s *Store) DutiesOwnedBy(ctx context.Context, userID string) ([]*models.Duty, error) {
	return s.queryDuties(ctx, `SELECT `+dutyColumns+` FROM duties WHERE user_id = ? ORDER BY duty_start DESC, id`, userID)
}

// DutiesOwedBy returns every duty performed on behalf of the user, newest first.
func (s *Store) DutiesOwedBy(ctx context.Context, debteeID string) ([]*models.Duty, error) {
	return s.queryDuties(ctx, `SELECT `+dutyColumns+` FROM duties WHERE debtee_id = ? ORDER BY duty_start DESC, id`, debteeID)
}
