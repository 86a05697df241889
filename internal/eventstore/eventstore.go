// Package eventstore implements the Event Store Worker (C1): an
// append-only SQLite store with three streams (runs, episodes, analysis
// reports), fed by a single durable inbound queue of tagged payloads.
// Schema creation is idempotent; a failed individual insert is logged and
// swallowed, never fatal to the worker loop.
package eventstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"carina/internal/errs"
	"carina/internal/telemetry/logging"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// Packet is the tagged payload shape the Event Store's single inbound
// queue consumes: {"type": "...", "payload": {...}}. Payload is decoded
// against the concrete type named by Type.
type Packet struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Packet type tags, matching the post-episode coordinator's and
// infrastructure analyzer's exact wire vocabulary.
const (
	TypeLogEpisode = "log_episode"
	TypeLogReport  = "log_report"
	// TypeShutdown is the over-the-wire realization of the original's
	// "put None on the queue to terminate the worker" sentinel: a
	// network-framed queue cannot carry a bare null the way an
	// in-process Close() does, so the Launcher sends this tagged
	// packet to every producer's connection on shutdown instead.
	TypeShutdown = "__shutdown__"
)

// LogEpisodePayload is the episodes-stream insert shape.
type LogEpisodePayload struct {
	RunID         int64   `json:"run_id"`
	EpisodeNumber int     `json:"episode_number"`
	TotalReward   float64 `json:"total_reward"`
}

// LogReportPayload is the analysis-reports-stream insert shape.
type LogReportPayload struct {
	RunID         int64  `json:"run_id"`
	Summary       string `json:"summary"`
	ReportContent string `json:"report_content"`
}

const schema = `
CREATE TABLE IF NOT EXISTS simulation_runs (
	run_id INTEGER PRIMARY KEY AUTOINCREMENT,
	start_time TIMESTAMP NOT NULL,
	scenario_name TEXT
);
CREATE TABLE IF NOT EXISTS episodes (
	episode_id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	episode_number INTEGER NOT NULL,
	total_reward REAL,
	end_time TIMESTAMP,
	FOREIGN KEY (run_id) REFERENCES simulation_runs (run_id)
);
CREATE TABLE IF NOT EXISTS analysis_reports (
	report_id INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id INTEGER NOT NULL,
	timestamp TIMESTAMP NOT NULL,
	summary TEXT,
	report_content TEXT,
	FOREIGN KEY (run_id) REFERENCES simulation_runs (run_id)
);`

// Store owns the SQLite connection backing the three append-only streams.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if absent) the SQLite database at path and
// idempotently applies the schema.
func Open(path string) (*Store, error) {
	db, err := sqlx.Connect("sqlite", path)
	if err != nil {
		return nil, errs.New(errs.Persistence, fmt.Sprintf("open event store %s", path), err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errs.New(errs.Persistence, "create event store schema", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.db.Close() }

// CreateSimulationRun registers a new run and returns its assigned run_id.
func (s *Store) CreateSimulationRun(ctx context.Context, scenarioName string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO simulation_runs (start_time, scenario_name) VALUES (?, ?)`,
		time.Now(), scenarioName)
	if err != nil {
		return 0, errs.New(errs.Persistence, "create simulation run", err)
	}
	return res.LastInsertId()
}

// LogEpisode inserts one completed episode's metrics.
func (s *Store) LogEpisode(ctx context.Context, p LogEpisodePayload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO episodes (run_id, episode_number, total_reward, end_time) VALUES (?, ?, ?, ?)`,
		p.RunID, p.EpisodeNumber, p.TotalReward, time.Now())
	if err != nil {
		return errs.New(errs.Persistence, fmt.Sprintf("log episode %d", p.EpisodeNumber), err)
	}
	return nil
}

// LogAnalysisReport inserts one infrastructure-analysis report.
func (s *Store) LogAnalysisReport(ctx context.Context, p LogReportPayload) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analysis_reports (run_id, timestamp, summary, report_content) VALUES (?, ?, ?, ?)`,
		p.RunID, time.Now(), p.Summary, p.ReportContent)
	if err != nil {
		return errs.New(errs.Persistence, "log analysis report", err)
	}
	return nil
}

// Source is the durable inbound queue of tagged payloads, satisfied by
// *transport.Queue[Packet]. Recv reports ok=false once the queue has been
// Close()d, which is this Go realization of the original "put None on the
// queue to terminate the worker" sentinel convention.
type Source interface {
	Recv(ctx context.Context) (Packet, bool)
}

// Run drains source until it is closed or ctx is cancelled, persisting
// each packet. A malformed or failed individual record is logged and
// swallowed; the worker never exits on a per-record error, per the
// append-only store's "failures are logged and swallowed" contract.
func (s *Store) Run(ctx context.Context, source Source, log logging.Logger) error {
	for {
		pkt, ok := source.Recv(ctx)
		if !ok || pkt.Type == TypeShutdown {
			if log != nil {
				log.InfoCtx(ctx, "event store worker received shutdown sentinel")
			}
			return nil
		}
		if err := s.dispatch(ctx, pkt); err != nil && log != nil {
			log.WarnCtx(ctx, "failed to persist event packet", "type", pkt.Type, "error", err)
		}
	}
}

func (s *Store) dispatch(ctx context.Context, pkt Packet) error {
	switch pkt.Type {
	case TypeLogEpisode:
		var p LogEpisodePayload
		if err := decodePayload(pkt.Payload, &p); err != nil {
			return err
		}
		return s.LogEpisode(ctx, p)
	case TypeLogReport:
		var p LogReportPayload
		if err := decodePayload(pkt.Payload, &p); err != nil {
			return err
		}
		return s.LogAnalysisReport(ctx, p)
	default:
		return errs.New(errs.Protocol, "dispatch event packet", fmt.Errorf("unknown event packet type %q", pkt.Type))
	}
}

// decodePayload re-marshals an untyped payload (a concrete struct if the
// packet never left this process, or a map[string]any if it crossed the
// wire through the queue's JSON framing) into dst.
func decodePayload(payload any, dst any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return errs.New(errs.Protocol, "re-encode event payload", err)
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return errs.New(errs.Protocol, "decode event payload", err)
	}
	return nil
}
