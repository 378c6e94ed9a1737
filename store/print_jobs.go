package store

import (
	"strings"
	"time"
)

type PrintJob struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"job_id"`
	Scope      string    `json:"scope"`
	Codes      []string  `json:"codes"`
	LabelCount int       `json:"label_count"`
	PrintedBy  string    `json:"printed_by"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (db *DB) RecordPrintJob(j *PrintJob) error {
	if j.PrintedBy == "" {
		j.PrintedBy = "system"
	}
	q := db.Q(`INSERT INTO print_jobs (job_id, scope, codes, label_count, printed_by, error) VALUES (?, ?, ?, ?, ?, ?)`)
	args := []any{j.JobID, j.Scope, strings.Join(j.Codes, ","), j.LabelCount, j.PrintedBy, j.Error}
	if db.driver == "postgres" {
		return db.QueryRow(q+" RETURNING id", args...).Scan(&j.ID)
	}
	res, err := db.Exec(q, args...)
	if err != nil {
		return err
	}
	j.ID, err = res.LastInsertId()
	return err
}

// ListPrintJobs returns the most recent jobs first.
func (db *DB) ListPrintJobs(limit int) ([]*PrintJob, error) {
	rows, err := db.Query(db.Q(`SELECT id, job_id, scope, codes, label_count, printed_by, error, created_at FROM print_jobs ORDER BY id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []*PrintJob
	for rows.Next() {
		var j PrintJob
		var codes string
		var createdAt any
		if err := rows.Scan(&j.ID, &j.JobID, &j.Scope, &codes, &j.LabelCount, &j.PrintedBy, &j.Error, &createdAt); err != nil {
			return nil, err
		}
		if codes != "" {
			j.Codes = strings.Split(codes, ",")
		}
		j.CreatedAt = parseTime(createdAt)
		jobs = append(jobs, &j)
	}
	return jobs, rows.Err()
}

func (db *DB) GetPrintJob(jobID string) (*PrintJob, error) {
	var j PrintJob
	var codes string
	var createdAt any
	err := db.QueryRow(db.Q(`SELECT id, job_id, scope, codes, label_count, printed_by, error, created_at FROM print_jobs WHERE job_id=?`), jobID).
		Scan(&j.ID, &j.JobID, &j.Scope, &codes, &j.LabelCount, &j.PrintedBy, &j.Error, &createdAt)
	if err != nil {
		return nil, notFound(err)
	}
	if codes != "" {
		j.Codes = strings.Split(codes, ",")
	}
	j.CreatedAt = parseTime(createdAt)
	return &j, nil
}
